package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rikpy/shopify-bulk/internal/testutil"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const updateMutation = `mutation call($input: ProductInput!) { productUpdate(input: $input) { product { id } userErrors { field message } } }`

func newTestRunner(t *testing.T, mock *testutil.MockShopify, cfg Config) *Runner {
	t.Helper()

	ccfg := client.DefaultConfig("test-shop", "token")
	ccfg.BaseURL = mock.URL()
	nop := zerolog.Nop()
	ccfg.Logger = &nop
	c, err := client.New(ccfg)
	require.NoError(t, err)

	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerSecond: 1000, BaseDelay: time.Millisecond}, zerolog.Nop())
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	return NewRunner(c, limiter, cfg).WithLogger(zerolog.Nop())
}

func runMutationResponse(id string) testutil.MockResponse {
	return testutil.DataResponse(map[string]any{
		"bulkOperationRunMutation": map[string]any{
			"bulkOperation": map[string]any{"id": id, "status": "CREATED", "type": "MUTATION"},
			"userErrors":    []any{},
		},
	})
}

func currentResponse(id, status string) testutil.MockResponse {
	if id == "" {
		return testutil.DataResponse(map[string]any{"currentBulkOperation": nil})
	}
	op := map[string]any{
		"id":          id,
		"status":      status,
		"type":        "MUTATION",
		"objectCount": "3",
		"fileSize":    nil,
		"url":         nil,
	}
	if status == "COMPLETED" {
		op["completedAt"] = "2024-02-23T10:00:00Z"
		op["url"] = "https://storage.example.com/result.jsonl"
	}
	if status == "FAILED" {
		op["errorCode"] = "INTERNAL_SERVER_ERROR"
	}
	return testutil.DataResponse(map[string]any{"currentBulkOperation": op})
}

func TestRun_Completes(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()

	mock.HandleSequence("bulkOperationRunMutation", runMutationResponse("gid://shopify/BulkOperation/1"))
	mock.HandleSequence("currentBulkOperation",
		currentResponse("gid://shopify/BulkOperation/1", "CREATED"),
		currentResponse("gid://shopify/BulkOperation/1", "RUNNING"),
		currentResponse("gid://shopify/BulkOperation/1", "COMPLETED"),
	)

	r := newTestRunner(t, mock, Config{})
	op, err := r.Run(context.Background(), updateMutation, "tmp/xyz.jsonl")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, op.Status)
	require.Equal(t, "3", op.ObjectCount)
	require.NotNil(t, op.CompletedAt)
	require.Equal(t, "https://storage.example.com/result.jsonl", op.URL)

	submit := mock.CallsMatching("bulkOperationRunMutation")
	require.Len(t, submit, 1)
	require.Equal(t, "tmp/xyz.jsonl", submit[0].Variables["stagedUploadPath"])
	require.Equal(t, updateMutation, submit[0].Variables["mutation"])

	polls := mock.CallsMatching("currentBulkOperation")
	require.Len(t, polls, 3)
	require.Contains(t, polls[0].Query, "currentBulkOperation(type: MUTATION)")
}

func TestPoll_Outcomes(t *testing.T) {
	tests := []struct {
		name          string
		responses     []testutil.MockResponse
		expectedErr   error
		expectedFinal Status
		polls         int
	}{
		{
			name: "id mismatch is fatal",
			responses: []testutil.MockResponse{
				currentResponse("gid://shopify/BulkOperation/1", "RUNNING"),
				currentResponse("gid://shopify/BulkOperation/2", "RUNNING"),
			},
			expectedErr: client.ErrOperationMismatch,
			polls:       2,
		},
		{
			name:        "no current operation",
			responses:   []testutil.MockResponse{currentResponse("", "")},
			expectedErr: client.ErrOperationMismatch,
			polls:       1,
		},
		{
			name: "failed",
			responses: []testutil.MockResponse{
				currentResponse("gid://shopify/BulkOperation/1", "RUNNING"),
				currentResponse("gid://shopify/BulkOperation/1", "FAILED"),
			},
			expectedErr:   client.ErrOperationFailed,
			expectedFinal: StatusFailed,
			polls:         2,
		},
		{
			name:          "canceled",
			responses:     []testutil.MockResponse{currentResponse("gid://shopify/BulkOperation/1", "CANCELED")},
			expectedErr:   client.ErrOperationFailed,
			expectedFinal: StatusCanceled,
			polls:         1,
		},
		{
			name:          "unrecognized status",
			responses:     []testutil.MockResponse{currentResponse("gid://shopify/BulkOperation/1", "SOMETHING_NEW")},
			expectedErr:   client.ErrOperationFailed,
			expectedFinal: Status("SOMETHING_NEW"),
			polls:         1,
		},
		{
			name: "throttled poll is retried",
			responses: []testutil.MockResponse{
				testutil.ThrottledResponse(),
				currentResponse("gid://shopify/BulkOperation/1", "COMPLETED"),
			},
			expectedFinal: StatusCompleted,
			polls:         2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockShopify()
			defer mock.Close()
			mock.HandleSequence("currentBulkOperation", tt.responses...)

			r := newTestRunner(t, mock, Config{})
			final, err := r.Poll(context.Background(), &Operation{ID: "gid://shopify/BulkOperation/1", Type: TypeMutation})

			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
			}
			if tt.expectedFinal != "" {
				require.NotNil(t, final)
				require.Equal(t, tt.expectedFinal, final.Status)
			} else {
				require.Nil(t, final)
			}
			require.Len(t, mock.CallsMatching("currentBulkOperation"), tt.polls)
		})
	}
}

func TestPoll_Timeout(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()
	mock.HandleSequence("currentBulkOperation", currentResponse("gid://shopify/BulkOperation/1", "RUNNING"))

	r := newTestRunner(t, mock, Config{PollInterval: 20 * time.Millisecond, Timeout: 100 * time.Millisecond})
	_, err := r.Poll(context.Background(), &Operation{ID: "gid://shopify/BulkOperation/1", Type: TypeMutation})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, client.ClassTimeout, client.Classify(err))
}

func TestPoll_TimeoutWithDefaultPacing(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()
	mock.HandleSequence("currentBulkOperation", currentResponse("gid://shopify/BulkOperation/1", "RUNNING"))

	ccfg := client.DefaultConfig("test-shop", "token")
	ccfg.BaseURL = mock.URL()
	nop := zerolog.Nop()
	ccfg.Logger = &nop
	c, err := client.New(ccfg)
	require.NoError(t, err)

	// At 2 req/s the second poll is due after the deadline.
	r := NewRunner(c, ratelimit.New(ratelimit.DefaultConfig(), zerolog.Nop()), Config{
		PollInterval: 10 * time.Millisecond,
		Timeout:      300 * time.Millisecond,
	}).WithLogger(zerolog.Nop())

	start := time.Now()
	_, err = r.Poll(context.Background(), &Operation{ID: "gid://shopify/BulkOperation/1", Type: TypeMutation})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, client.ClassTimeout, client.Classify(err))
	require.GreaterOrEqual(t, elapsed, 250*time.Millisecond, "poll gave up before its timeout")
	require.Len(t, mock.CallsMatching("currentBulkOperation"), 1)
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name          string
		response      testutil.MockResponse
		expectedClass client.ErrorClass
	}{
		{
			name: "user errors",
			response: testutil.DataResponse(map[string]any{
				"bulkOperationRunMutation": map[string]any{
					"bulkOperation": nil,
					"userErrors":    []map[string]any{{"field": []string{"stagedUploadPath"}, "message": "Invalid staged upload path"}},
				},
			}),
			expectedClass: client.ClassUser,
		},
		{
			name:          "graphql error",
			response:      testutil.ErrorResponse("A bulk mutation operation for this app and shop is already in progress"),
			expectedClass: client.ClassGraphQL,
		},
		{
			name:          "throttled submission is not retried",
			response:      testutil.ThrottledResponse(),
			expectedClass: client.ClassThrottled,
		},
		{
			name: "missing operation",
			response: testutil.DataResponse(map[string]any{
				"bulkOperationRunMutation": map[string]any{"bulkOperation": nil, "userErrors": []any{}},
			}),
			expectedClass: client.ClassGraphQL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockShopify()
			defer mock.Close()
			mock.Handle("bulkOperationRunMutation", func(testutil.GraphQLCall) testutil.MockResponse { return tt.response })

			r := newTestRunner(t, mock, Config{})
			op, err := r.Submit(context.Background(), updateMutation, "tmp/xyz.jsonl")
			require.Nil(t, op)
			require.Equal(t, tt.expectedClass, client.Classify(err))
			require.Len(t, mock.CallsMatching("bulkOperationRunMutation"), 1)
		})
	}
}

func TestSubmit_Validation(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()
	r := newTestRunner(t, mock, Config{})

	_, err := r.Submit(context.Background(), "", "tmp/xyz.jsonl")
	require.Error(t, err)
	_, err = r.Submit(context.Background(), updateMutation, "")
	require.Error(t, err)
	require.Equal(t, 0, mock.GetRequestCount())
}

func TestSubmit_TwiceStartsTwoOperations(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()

	var n atomic.Int32
	mock.Handle("bulkOperationRunMutation", func(testutil.GraphQLCall) testutil.MockResponse {
		return runMutationResponse(fmt.Sprintf("gid://shopify/BulkOperation/%d", n.Add(1)))
	})

	r := newTestRunner(t, mock, Config{})
	first, err := r.Submit(context.Background(), updateMutation, "tmp/xyz.jsonl")
	require.NoError(t, err)
	second, err := r.Submit(context.Background(), updateMutation, "tmp/xyz.jsonl")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestRunQuery(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()

	mock.HandleData("bulkOperationRunQuery", map[string]any{
		"bulkOperationRunQuery": map[string]any{
			"bulkOperation": map[string]any{"id": "gid://shopify/BulkOperation/9", "status": "CREATED"},
			"userErrors":    []any{},
		},
	})
	mock.HandleData("currentBulkOperation", map[string]any{
		"currentBulkOperation": map[string]any{"id": "gid://shopify/BulkOperation/9", "status": "COMPLETED", "objectCount": "0", "url": nil},
	})

	r := newTestRunner(t, mock, Config{})
	op, err := r.RunQuery(context.Background(), `{ products { edges { node { id } } } }`)
	require.NoError(t, err)
	require.Equal(t, TypeQuery, op.Type)
	require.Empty(t, op.URL)
	require.Contains(t, mock.CallsMatching("currentBulkOperation")[0].Query, "currentBulkOperation(type: QUERY)")
}

type busySlot struct{}

func (busySlot) Acquire(context.Context, string, Type) (func(), error) {
	return nil, &client.Error{Class: client.ClassOperationMismatch, Message: "busy", Err: ErrSlotBusy}
}

func TestRun_SlotBusySkipsSubmission(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()

	r := newTestRunner(t, mock, Config{}).WithSlotGuard(busySlot{})
	_, err := r.Run(context.Background(), updateMutation, "tmp/xyz.jsonl")
	require.True(t, errors.Is(err, ErrSlotBusy))
	require.Equal(t, 0, mock.GetRequestCount())
}

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusCreated, false},
		{StatusRunning, false},
		{StatusCanceling, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCanceled, true},
		{StatusExpired, true},
		{Status("NEW"), true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}
