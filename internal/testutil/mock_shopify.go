// Package testutil provides testing utilities for the Shopify bulk client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// UploadPath is the path of the mock staged upload target.
const UploadPath = "/upload"

// MockResponse defines the behavior for one mock GraphQL response.
type MockResponse struct {
	StatusCode int
	// Body is written as-is if it is a string or []byte, otherwise JSON encoded.
	Body  any
	Delay time.Duration
}

// GraphQLCall is one GraphQL request received by the mock.
type GraphQLCall struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// GraphQLHandler produces the response for a GraphQL call.
type GraphQLHandler func(call GraphQLCall) MockResponse

// FormField is one text field received by the upload target, in order.
type FormField struct {
	Name  string
	Value string
}

// Upload is one multipart POST received by the upload target.
type Upload struct {
	Fields      []FormField
	FileField   string
	FileName    string
	ContentType string
	Content     []byte
}

// Field returns the value of the named text field.
func (u Upload) Field(name string) (string, bool) {
	for _, f := range u.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

type route struct {
	match   string
	handler GraphQLHandler
}

// MockShopify is a configurable mock of the Admin GraphQL endpoint, a staged
// upload target and a file host.
type MockShopify struct {
	server *httptest.Server
	mu     sync.RWMutex
	routes []route
	files  map[string][]byte

	uploadStatus int

	// Tracking
	RequestCount    int
	LastAccessToken string
	calls           []GraphQLCall
	uploads         []Upload
}

// NewMockShopify creates a new mock Shopify server.
func NewMockShopify() *MockShopify {
	mock := &MockShopify{
		files:        make(map[string][]byte),
		uploadStatus: http.StatusCreated,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/graphql.json"):
			mock.serveGraphQL(w, r)
		case r.Method == http.MethodPost && r.URL.Path == UploadPath:
			mock.serveUpload(w, r)
		case r.Method == http.MethodGet:
			mock.serveFile(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockShopify) URL() string {
	return m.server.URL
}

// UploadURL returns the URL of the staged upload target.
func (m *MockShopify) UploadURL() string {
	return m.server.URL + UploadPath
}

// Close shuts down the mock server.
func (m *MockShopify) Close() {
	m.server.Close()
}

// Reset clears all tracking state. Handlers are kept.
func (m *MockShopify) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastAccessToken = ""
	m.calls = nil
	m.uploads = nil
}

// Handle routes GraphQL calls whose query contains match to handler.
// Handlers registered later take precedence.
func (m *MockShopify) Handle(match string, handler GraphQLHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route{match: match, handler: handler})
}

// HandleData answers matching calls with {"data": data}.
func (m *MockShopify) HandleData(match string, data any) {
	m.Handle(match, func(GraphQLCall) MockResponse {
		return DataResponse(data)
	})
}

// HandleSequence answers successive matching calls with responses in order,
// repeating the last one once the sequence is used up.
func (m *MockShopify) HandleSequence(match string, responses ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.Handle(match, func(GraphQLCall) MockResponse {
		mu.Lock()
		defer mu.Unlock()
		resp := responses[next]
		if next < len(responses)-1 {
			next++
		}
		return resp
	})
}

// SetUploadStatus sets the status returned by the upload target.
func (m *MockShopify) SetUploadStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadStatus = status
}

// ServeFile makes content available at GET path and returns its URL.
func (m *MockShopify) ServeFile(path string, content []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
	return m.server.URL + path
}

// Calls returns all GraphQL calls received.
func (m *MockShopify) Calls() []GraphQLCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]GraphQLCall(nil), m.calls...)
}

// CallsMatching returns the GraphQL calls whose query contains match.
func (m *MockShopify) CallsMatching(match string) []GraphQLCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []GraphQLCall
	for _, c := range m.calls {
		if strings.Contains(c.Query, match) {
			out = append(out, c)
		}
	}
	return out
}

// Uploads returns all multipart uploads received.
func (m *MockShopify) Uploads() []Upload {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Upload(nil), m.uploads...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockShopify) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

func (m *MockShopify) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	var call GraphQLCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.LastAccessToken = r.Header.Get("X-Shopify-Access-Token")
	m.calls = append(m.calls, call)
	var handler GraphQLHandler
	for i := len(m.routes) - 1; i >= 0; i-- {
		if strings.Contains(call.Query, m.routes[i].match) {
			handler = m.routes[i].handler
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		writeResponse(w, ErrorResponse("no mock configured for query"))
		return
	}
	writeResponse(w, handler(call))
}

func (m *MockShopify) serveUpload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart body", http.StatusBadRequest)
		return
	}

	var upload Upload
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		content, err := io.ReadAll(part)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if part.FileName() != "" {
			upload.FileField = part.FormName()
			upload.FileName = part.FileName()
			upload.ContentType = part.Header.Get("Content-Type")
			upload.Content = content
			continue
		}
		upload.Fields = append(upload.Fields, FormField{Name: part.FormName(), Value: string(content)})
	}

	m.mu.Lock()
	m.uploads = append(m.uploads, upload)
	status := m.uploadStatus
	m.mu.Unlock()

	w.WriteHeader(status)
}

func (m *MockShopify) serveFile(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	content, ok := m.files[r.URL.Path]
	m.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/jsonl")
	w.Write(content)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	switch body := resp.Body.(type) {
	case nil:
	case string:
		w.Write([]byte(body))
	case []byte:
		w.Write(body)
	default:
		json.NewEncoder(w).Encode(body)
	}
}

// DataResponse creates a 200 OK response carrying data.
func DataResponse(data any) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body: map[string]any{
			"data": data,
			"extensions": map[string]any{
				"cost": map[string]any{
					"requestedQueryCost": 10,
					"actualQueryCost":    10,
					"throttleStatus": map[string]any{
						"maximumAvailable":   2000,
						"currentlyAvailable": 1990,
						"restoreRate":        100,
					},
				},
			},
		},
	}
}

// ThrottledResponse creates the 200 OK response Shopify sends when the cost bucket is empty.
func ThrottledResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body: map[string]any{
			"errors": []map[string]any{{
				"message":    "Throttled",
				"extensions": map[string]any{"code": "THROTTLED", "documentation": "https://shopify.dev/api/usage/rate-limits"},
			}},
		},
	}
}

// ErrorResponse creates a 200 OK response carrying a GraphQL error.
func ErrorResponse(message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body: map[string]any{
			"errors": []map[string]any{{"message": message}},
		},
	}
}

// StatusResponse creates a non-GraphQL HTTP error response.
func StatusResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"errors":"%s"}`, http.StatusText(status)),
	}
}

// Connection builds a connection payload with edges and pageInfo.
func Connection(nodes []any, hasNextPage bool, endCursor string) map[string]any {
	edges := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		edges = append(edges, map[string]any{"node": n})
	}
	pageInfo := map[string]any{"hasNextPage": hasNextPage, "endCursor": nil}
	if endCursor != "" {
		pageInfo["endCursor"] = endCursor
	}
	return map[string]any{"edges": edges, "pageInfo": pageInfo}
}
