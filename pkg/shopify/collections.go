package shopify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rikpy/shopify-bulk/pkg/bulk"
	"github.com/rikpy/shopify-bulk/pkg/cache"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
)

// ErrPublicationNotFound is returned when no publication has the requested name.
var ErrPublicationNotFound = errors.New("publication not found")

const publicationsQuery = `query publications {
  publications(first: 250) {
    edges { node { id name } }
  }
}`

// UnpublishMutation removes a product from publications. Its JSONL lines
// are {"id": productGID, "input": [{"publicationId": publicationGID}]}.
const UnpublishMutation = `mutation call($id: ID!, $input: [PublicationInput!]!) {
  publishableUnpublish(id: $id, input: $input) {
    userErrors { field message }
  }
}`

// ArchiveMutation sets a product's status. Its JSONL lines are
// {"input": {"id": productGID, "status": "ARCHIVED"}}.
const ArchiveMutation = `mutation call($input: ProductInput!) {
  productUpdate(input: $input) {
    product { id status }
    userErrors { field message }
  }
}`

type publicationInput struct {
	PublicationID string `json:"publicationId"`
}

type unpublishLine struct {
	ID    string             `json:"id"`
	Input []publicationInput `json:"input"`
}

type productStatusInput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type archiveLine struct {
	Input productStatusInput `json:"input"`
}

// PublicationID returns the id of the publication with the given name. An
// empty name means the configured publication, "Online Store" by default.
func (s *Service) PublicationID(ctx context.Context, name string) (string, error) {
	start := time.Now()
	id, err := s.publicationID(ctx, s.newLimiter(), name)
	return id, s.observe(ctx, "publication_id", start, err)
}

func (s *Service) publicationID(ctx context.Context, l *ratelimit.Limiter, name string) (string, error) {
	if name == "" {
		name = s.opts.PublicationName
	}

	data, err := s.cached(ctx, "publication", name, func(ctx context.Context) ([]byte, error) {
		var out struct {
			Publications client.Connection[struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}] `json:"publications"`
		}
		if _, err := s.client.DoThrottled(ctx, l, client.Request{Query: publicationsQuery}, &out); err != nil {
			return nil, err
		}
		for _, p := range out.Publications.Items() {
			if p.Name == name {
				return []byte(p.ID), nil
			}
		}
		return nil, &client.Error{Class: client.ClassUser, StatusCode: 200, Message: fmt.Sprintf("publication %q", name), Err: ErrPublicationNotFound}
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// cached runs load through the lookup cache when one is configured.
func (s *Service) cached(ctx context.Context, kind, id string, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if s.opts.Cache == nil {
		return load(ctx)
	}
	key := cache.Key{Shop: s.client.Shop(), Kind: kind, ID: id}
	return s.opts.Cache.GetOrLoad(ctx, key, s.opts.CacheTTL, load)
}

// UnpublishCollection removes every product of a collection from the
// configured publication with one bulk mutation.
func (s *Service) UnpublishCollection(ctx context.Context, collectionID string) (*Result, error) {
	start := time.Now()
	result, err := s.unpublishCollection(ctx, collectionID)
	return result, s.observe(ctx, "unpublish_collection", start, err)
}

func (s *Service) unpublishCollection(ctx context.Context, collectionID string) (*Result, error) {
	l := s.newLimiter()

	products, err := s.collectionProducts(ctx, l, collectionID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("collection", collectionID).Int("products", len(products)).Msg("Fetched collection products")

	if len(products) == 0 {
		return &Result{Message: fmt.Sprintf("Collection %s: no products to unpublish.", collectionID)}, nil
	}

	publicationID, err := s.publicationID(ctx, l, "")
	if err != nil {
		return nil, err
	}

	lines := make([]unpublishLine, 0, len(products))
	for _, p := range products {
		lines = append(lines, unpublishLine{
			ID:    p.ID,
			Input: []publicationInput{{PublicationID: publicationID}},
		})
	}

	op, err := runLines(ctx, s, l, "unpublish_products", UnpublishMutation, lines)
	if err != nil {
		return nil, err
	}

	return &Result{
		Message:   fmt.Sprintf("Collection %s: %d products unpublished successfully.", collectionID, len(lines)),
		Count:     len(lines),
		Operation: op,
	}, nil
}

// ArchiveCollection archives the ACTIVE products of a collection with one
// bulk mutation.
func (s *Service) ArchiveCollection(ctx context.Context, collectionID string) (*Result, error) {
	start := time.Now()
	result, err := s.archiveCollection(ctx, collectionID)
	return result, s.observe(ctx, "archive_collection", start, err)
}

func (s *Service) archiveCollection(ctx context.Context, collectionID string) (*Result, error) {
	l := s.newLimiter()

	products, err := s.collectionProducts(ctx, l, collectionID)
	if err != nil {
		return nil, err
	}

	var lines []archiveLine
	for _, p := range products {
		if !p.Active() {
			continue
		}
		lines = append(lines, archiveLine{Input: productStatusInput{ID: p.ID, Status: StatusArchived}})
	}
	s.logger.Info().
		Str("collection", collectionID).
		Int("products", len(products)).
		Int("active", len(lines)).
		Msg("Fetched collection products")

	if len(lines) == 0 {
		return &Result{Message: fmt.Sprintf("No products found in collection %s to archive.", collectionID)}, nil
	}

	op, err := runLines(ctx, s, l, "archive_products", ArchiveMutation, lines)
	if err != nil {
		return nil, err
	}

	return &Result{
		Message:   fmt.Sprintf("Collection %s: %d products archived successfully.", collectionID, len(lines)),
		Count:     len(lines),
		Operation: op,
	}, nil
}

// runLines writes lines to a temporary JSONL file, stages it and runs
// mutation over it.
func runLines[T any](ctx context.Context, s *Service, l *ratelimit.Limiter, prefix, mutation string, lines []T) (*bulk.Operation, error) {
	path, err := bulk.WriteJSONLFile(s.opts.WorkDir, prefix, lines)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	return s.runFile(ctx, l, path, mutation)
}

func (s *Service) runFile(ctx context.Context, l *ratelimit.Limiter, path, mutation string) (*bulk.Operation, error) {
	stagedPath, err := s.newUploader(l).StageJSONL(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.newRunner(l).Run(ctx, mutation, stagedPath)
}
