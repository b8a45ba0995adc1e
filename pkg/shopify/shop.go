package shopify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/pagination"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
)

// ErrInvalidToken is returned when Shopify rejects the access token.
var ErrInvalidToken = errors.New("access token rejected")

// ShopInfo identifies the shop a token belongs to.
type ShopInfo struct {
	Name            string `json:"name"`
	MyshopifyDomain string `json:"myshopifyDomain"`
	Currency        string `json:"currencyCode"`
}

const shopQuery = `query shop {
  shop { name myshopifyDomain currencyCode }
}`

// VerifyToken checks the access token with one cheap query. A rejected
// token yields ErrInvalidToken classified as a user error.
func (s *Service) VerifyToken(ctx context.Context) (*ShopInfo, error) {
	start := time.Now()
	info, err := s.verifyToken(ctx, s.newLimiter())
	return info, s.observe(ctx, "verify_token", start, err)
}

func (s *Service) verifyToken(ctx context.Context, l *ratelimit.Limiter) (*ShopInfo, error) {
	var out struct {
		Shop ShopInfo `json:"shop"`
	}
	if _, err := s.client.DoThrottled(ctx, l, client.Request{Query: shopQuery}, &out); err != nil {
		var cerr *client.Error
		if errors.As(err, &cerr) && (cerr.StatusCode == http.StatusUnauthorized || cerr.StatusCode == http.StatusForbidden) {
			return nil, &client.Error{Class: client.ClassUser, StatusCode: cerr.StatusCode, Message: "verify token for " + s.client.Shop(), Err: errors.Join(ErrInvalidToken, err)}
		}
		return nil, err
	}
	s.logger.Info().Str("shop_name", out.Shop.Name).Msg("Access token verified")
	return &out.Shop, nil
}

// Collection is a custom or smart collection.
type Collection struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Handle    string `json:"handle"`
	UpdatedAt string `json:"updatedAt"`
	// Smart is true for rule-based collections.
	Smart bool `json:"smart"`
}

const collectionsQuery = `query collections($first: Int!, $cursor: String) {
  collections(first: $first, after: $cursor) {
    edges { node { id title handle updatedAt ruleSet { appliedDisjunctively } } }
    pageInfo { hasNextPage endCursor }
  }
}`

type collectionNode struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Handle    string `json:"handle"`
	UpdatedAt string `json:"updatedAt"`
	RuleSet   *struct {
		AppliedDisjunctively bool `json:"appliedDisjunctively"`
	} `json:"ruleSet"`
}

// Collections returns every collection of the shop, smart and custom.
func (s *Service) Collections(ctx context.Context) ([]Collection, error) {
	start := time.Now()
	collections, err := s.collections(ctx, s.newLimiter())
	return collections, s.observe(ctx, "collections", start, err)
}

func (s *Service) collections(ctx context.Context, l *ratelimit.Limiter) ([]Collection, error) {
	q := &pagination.Query[collectionNode, Collection]{
		Doer:     s.client,
		Document: collectionsQuery,
		Path:     []string{"collections"},
		PageSize: s.opts.PageSize,
		Normalize: func(n collectionNode) (Collection, bool) {
			return Collection{
				ID:        n.ID,
				Title:     n.Title,
				Handle:    n.Handle,
				UpdatedAt: n.UpdatedAt,
				Smart:     n.RuleSet != nil,
			}, n.ID != ""
		},
	}
	return newPaginator[Collection](s, "collections", q, l).All(ctx)
}
