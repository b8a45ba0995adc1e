package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
)

// FormField is one text field of a multipart form. Order is preserved.
type FormField struct {
	Name  string
	Value string
}

// FormFile is the file part of a multipart form.
type FormFile struct {
	FieldName   string
	FileName    string
	ContentType string
	Content     io.Reader
}

// DefaultAcceptedStatuses are the statuses a staged upload target returns on success.
var DefaultAcceptedStatuses = []int{http.StatusOK, http.StatusCreated, http.StatusNoContent}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// PostForm sends a multipart/form-data POST with the fields in order followed
// by the file part. The access token is not sent: staged upload targets are
// presigned. Any status outside accepted (DefaultAcceptedStatuses if empty)
// is returned as a transport error.
func (c *Client) PostForm(ctx context.Context, target string, fields []FormField, file FormFile, accepted ...int) error {
	if len(accepted) == 0 {
		accepted = DefaultAcceptedStatuses
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, f := range fields {
		if err := writer.WriteField(f.Name, f.Value); err != nil {
			return fmt.Errorf("write form field %s: %w", f.Name, err)
		}
	}

	fieldName := file.FieldName
	if fieldName == "" {
		fieldName = "file"
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(fieldName), quoteEscaper.Replace(file.FileName)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if file.Content != nil {
		if _, err := io.Copy(part, file.Content); err != nil {
			return fmt.Errorf("copy file content: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return WrapContext(ctx, err)
		}
		return c.fail(&Error{Class: ClassTransport, Message: "upload request failed", Err: err})
	}
	defer resp.Body.Close()

	if !slices.Contains(accepted, resp.StatusCode) {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().
			Int("status_code", resp.StatusCode).
			Msg("Staged upload rejected")
		return c.fail(&Error{
			Class:      ClassTransport,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("upload %s: %s", resp.Status, raw),
		})
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
