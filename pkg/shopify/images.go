package shopify

import (
	"context"
	"time"
)

// UploadedImage is an image stored in the shop's files.
type UploadedImage struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// UploadImage uploads the image at path to the shop's files and returns its
// public URL.
func (s *Service) UploadImage(ctx context.Context, path, alt string) (*UploadedImage, error) {
	start := time.Now()
	gid, url, err := s.newUploader(s.newLimiter()).UploadImage(ctx, path, alt)
	if err != nil {
		return nil, s.observe(ctx, "upload_image", start, err)
	}
	return &UploadedImage{ID: gid, URL: url}, s.observe(ctx, "upload_image", start, nil)
}
