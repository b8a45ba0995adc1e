// Package staging uploads local files to Shopify's staged upload targets.
//
// A staged upload is three steps: ask Shopify for a presigned target
// (stagedUploadsCreate), POST the file to it as multipart form data, then
// hand the resulting path or resource URL to whatever consumes it (a bulk
// mutation, or fileCreate for media). No step is retried on its own; a
// failure in any step fails the upload.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var shopifyStagedUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shopify_staged_uploads_total",
	Help: "Total staged uploads by resource and result",
}, []string{"resource", "result"})

// Resource is the StagedUploadTargetGenerateUploadResource value.
type Resource string

const (
	ResourceBulkMutationVariables Resource = "BULK_MUTATION_VARIABLES"
	ResourceFile                  Resource = "FILE"
	ResourceImage                 Resource = "IMAGE"
)

// Errors identifying the failed step. All of them also match client.ErrUploadFailed.
var (
	ErrCreateTarget     = errors.New("staged upload creation failed")
	ErrTransfer         = errors.New("upload transfer failed")
	ErrFileCreate       = errors.New("file create failed")
	ErrImageURLNotReady = errors.New("image url not available")
)

// Parameter is one presigned form field of a staged target.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Target is a staged upload destination.
type Target struct {
	UploadURL   string
	ResourceURL string
	Parameters  []Parameter

	// StagedPath is the value of the "key" parameter, "" if absent.
	StagedPath string
}

// Uploader runs staged uploads.
type Uploader struct {
	client  *client.Client
	limiter client.Pacer
	logger  zerolog.Logger

	// ImageRetries is how many times ResolveImageURL asks for the URL.
	ImageRetries int

	// ImageRetryDelay is the pause between ResolveImageURL attempts.
	ImageRetryDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewUploader creates an uploader.
func NewUploader(c *client.Client, limiter client.Pacer) *Uploader {
	return &Uploader{
		client:          c,
		limiter:         limiter,
		logger:          log.With().Str("component", "staging").Logger(),
		ImageRetries:    3,
		ImageRetryDelay: 2 * time.Second,
		sleep:           ratelimit.SleepContext,
	}
}

// WithLogger replaces the global logger as the uploader's base logger.
func (u *Uploader) WithLogger(logger zerolog.Logger) *Uploader {
	u.logger = logger.With().Str("component", "staging").Logger()
	return u
}

const stagedUploadsCreateMutation = `mutation stagedUploadsCreate($input: [StagedUploadInput!]!) {
  stagedUploadsCreate(input: $input) {
    stagedTargets {
      url
      resourceUrl
      parameters { name value }
    }
    userErrors { field message }
  }
}`

type stagedUploadsCreateData struct {
	StagedUploadsCreate struct {
		StagedTargets []struct {
			URL         string      `json:"url"`
			ResourceURL string      `json:"resourceUrl"`
			Parameters  []Parameter `json:"parameters"`
		} `json:"stagedTargets"`
		UserErrors []client.UserError `json:"userErrors"`
	} `json:"stagedUploadsCreate"`
}

// CreateTarget requests one staged upload target.
func (u *Uploader) CreateTarget(ctx context.Context, filename, mimeType string, resource Resource) (*Target, error) {
	if err := u.limiter.Wait(ctx); err != nil {
		return nil, client.WrapContext(ctx, err)
	}

	vars := map[string]any{
		"input": []map[string]any{{
			"filename":   filename,
			"mimeType":   mimeType,
			"httpMethod": "POST",
			"resource":   string(resource),
		}},
	}

	var data stagedUploadsCreateData
	if _, err := u.client.Do(ctx, client.Request{Query: stagedUploadsCreateMutation, Variables: vars}, &data); err != nil {
		return nil, u.fail(ctx, resource, ErrCreateTarget, err)
	}

	if err := client.UserErrorsToError("stagedUploadsCreate", data.StagedUploadsCreate.UserErrors); err != nil {
		return nil, u.fail(ctx, resource, ErrCreateTarget, err)
	}

	targets := data.StagedUploadsCreate.StagedTargets
	if len(targets) == 0 || targets[0].URL == "" {
		return nil, u.fail(ctx, resource, ErrCreateTarget, errors.New("no staged target returned"))
	}

	target := &Target{
		UploadURL:   targets[0].URL,
		ResourceURL: targets[0].ResourceURL,
		Parameters:  targets[0].Parameters,
	}
	for _, p := range target.Parameters {
		if p.Name == "key" {
			target.StagedPath = p.Value
			break
		}
	}

	u.logger.Debug().
		Str("filename", filename).
		Str("resource", string(resource)).
		Str("staged_path", target.StagedPath).
		Msg("Staged upload target created")

	return target, nil
}

// Transfer POSTs the file at path to the target: every parameter as a form
// field, in order, then the file under the field name "file".
func (u *Uploader) Transfer(ctx context.Context, target *Target, path, mimeType string) error {
	f, err := os.Open(path)
	if err != nil {
		return u.fail(ctx, "", ErrTransfer, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	fields := make([]client.FormField, 0, len(target.Parameters))
	for _, p := range target.Parameters {
		fields = append(fields, client.FormField{Name: p.Name, Value: p.Value})
	}

	file := client.FormFile{
		FieldName:   "file",
		FileName:    filepath.Base(path),
		ContentType: mimeType,
		Content:     f,
	}

	if err := u.client.PostForm(ctx, target.UploadURL, fields, file); err != nil {
		return u.fail(ctx, "", ErrTransfer, err)
	}
	return nil
}

// StageJSONL uploads a JSONL variables file for a bulk mutation and returns
// the staged path to pass to bulkOperationRunMutation.
func (u *Uploader) StageJSONL(ctx context.Context, path string) (string, error) {
	const mimeType = "text/jsonl"

	target, err := u.CreateTarget(ctx, filepath.Base(path), mimeType, ResourceBulkMutationVariables)
	if err != nil {
		return "", err
	}
	if target.StagedPath == "" {
		return "", u.fail(ctx, ResourceBulkMutationVariables, ErrCreateTarget, errors.New(`staged target has no "key" parameter`))
	}

	if err := u.Transfer(ctx, target, path, mimeType); err != nil {
		return "", err
	}

	shopifyStagedUploadsTotal.WithLabelValues(string(ResourceBulkMutationVariables), "success").Inc()
	u.logger.Info().
		Str("file", filepath.Base(path)).
		Str("staged_path", target.StagedPath).
		Msg("Bulk variables staged")

	return target.StagedPath, nil
}

const fileCreateMutation = `mutation fileCreate($files: [FileCreateInput!]!) {
  fileCreate(files: $files) {
    files { id alt createdAt }
    userErrors { field message }
  }
}`

type fileCreateData struct {
	FileCreate struct {
		Files []struct {
			ID  string `json:"id"`
			Alt string `json:"alt"`
		} `json:"files"`
		UserErrors []client.UserError `json:"userErrors"`
	} `json:"fileCreate"`
}

// UploadFile stages a media file and registers it with fileCreate. It returns
// the file's global id.
func (u *Uploader) UploadFile(ctx context.Context, path, alt string) (string, error) {
	name := filepath.Base(path)
	mimeType := MimeTypeForFile(path)

	target, err := u.CreateTarget(ctx, name, mimeType, ResourceFile)
	if err != nil {
		return "", err
	}
	if err := u.Transfer(ctx, target, path, mimeType); err != nil {
		return "", err
	}

	if err := u.limiter.Wait(ctx); err != nil {
		return "", client.WrapContext(ctx, err)
	}

	vars := map[string]any{
		"files": []map[string]any{{
			"alt":            alt,
			"contentType":    "IMAGE",
			"originalSource": target.ResourceURL,
		}},
	}

	var data fileCreateData
	if _, err := u.client.Do(ctx, client.Request{Query: fileCreateMutation, Variables: vars}, &data); err != nil {
		return "", u.fail(ctx, ResourceFile, ErrFileCreate, err)
	}
	if err := client.UserErrorsToError("fileCreate", data.FileCreate.UserErrors); err != nil {
		return "", u.fail(ctx, ResourceFile, ErrFileCreate, err)
	}
	if len(data.FileCreate.Files) == 0 || data.FileCreate.Files[0].ID == "" {
		return "", u.fail(ctx, ResourceFile, ErrFileCreate, errors.New("no file returned"))
	}

	shopifyStagedUploadsTotal.WithLabelValues(string(ResourceFile), "success").Inc()
	gid := data.FileCreate.Files[0].ID
	u.logger.Info().Str("file", name).Str("gid", gid).Msg("File created")
	return gid, nil
}

const imageURLQuery = `query getImageUrl($id: ID!) {
  node(id: $id) {
    ... on MediaImage {
      image { url }
    }
  }
}`

type imageURLData struct {
	Node *struct {
		Image *struct {
			URL string `json:"url"`
		} `json:"image"`
	} `json:"node"`
}

// ResolveImageURL asks for the public URL of a MediaImage. Shopify processes
// images asynchronously, so an empty answer is retried ImageRetries times
// with ImageRetryDelay in between. Returns "" with a nil error if the URL is
// still unavailable after the last attempt.
func (u *Uploader) ResolveImageURL(ctx context.Context, gid string) (string, error) {
	attempts := max(u.ImageRetries, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		var data imageURLData
		req := client.Request{Query: imageURLQuery, Variables: map[string]any{"id": gid}}
		if _, err := u.client.DoThrottled(ctx, u.limiter, req, &data); err != nil {
			return "", fmt.Errorf("resolve image url %s: %w", gid, err)
		}

		if data.Node != nil && data.Node.Image != nil && data.Node.Image.URL != "" {
			return data.Node.Image.URL, nil
		}

		u.logger.Debug().
			Str("gid", gid).
			Int("attempt", attempt).
			Msg("Image not processed yet")

		if attempt < attempts {
			if err := u.sleep(ctx, u.ImageRetryDelay); err != nil {
				return "", client.WrapContext(ctx, err)
			}
		}
	}

	u.logger.Warn().Str("gid", gid).Int("attempts", attempts).Msg("Image URL not available")
	return "", nil
}

// UploadImage uploads an image and returns its gid and public URL.
func (u *Uploader) UploadImage(ctx context.Context, path, alt string) (gid, url string, err error) {
	gid, err = u.UploadFile(ctx, path, alt)
	if err != nil {
		return "", "", err
	}

	url, err = u.ResolveImageURL(ctx, gid)
	if err != nil {
		return gid, "", err
	}
	if url == "" {
		return gid, "", &client.Error{Class: client.ClassUploadFailed, Message: "image " + gid, Err: ErrImageURLNotReady}
	}
	return gid, url, nil
}

// fail wraps cause as an upload failure for the given step.
func (u *Uploader) fail(ctx context.Context, resource Resource, step, cause error) error {
	if ctx.Err() != nil {
		return client.WrapContext(ctx, cause)
	}

	if resource != "" {
		shopifyStagedUploadsTotal.WithLabelValues(string(resource), "failure").Inc()
	}
	u.logger.Warn().Err(cause).Str("step", step.Error()).Msg("Staged upload failed")

	status := 0
	var inner *client.Error
	if errors.As(cause, &inner) {
		status = inner.StatusCode
	}
	return &client.Error{
		Class:      client.ClassUploadFailed,
		StatusCode: status,
		Message:    step.Error(),
		Err:        fmt.Errorf("%w: %w", step, cause),
	}
}
