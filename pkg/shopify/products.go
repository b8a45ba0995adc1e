package shopify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/pagination"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
)

// Product is a normalized catalog record.
type Product struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	BodyHTML    string    `json:"body_html"`
	Vendor      string    `json:"vendor"`
	ProductType string    `json:"product_type"`
	Handle      string    `json:"handle"`
	Status      string    `json:"status"`
	Tags        []string  `json:"tags"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
	PublishedAt *string   `json:"published_at"`
	Variants    []Variant `json:"variants"`
	Options     []Option  `json:"options"`
	Images      []Image   `json:"images"`
}

// Active reports whether the product is live in the catalog.
func (p Product) Active() bool {
	return strings.EqualFold(p.Status, StatusActive)
}

// Variant is a normalized product variant.
type Variant struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Price             string  `json:"price"`
	CompareAtPrice    *string `json:"compare_at_price"`
	SKU               string  `json:"sku"`
	Barcode           string  `json:"barcode"`
	Position          int     `json:"position"`
	InventoryPolicy   string  `json:"inventory_policy"`
	InventoryQuantity int     `json:"inventory_quantity"`
	InventoryItemID   string  `json:"inventory_item_id"`
	Taxable           bool    `json:"taxable"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

// Option is a product option such as size or colour.
type Option struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Image is a product image.
type Image struct {
	ID      string `json:"id"`
	Src     string `json:"src"`
	AltText string `json:"alt"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Product statuses.
const (
	StatusActive   = "ACTIVE"
	StatusArchived = "ARCHIVED"
	StatusDraft    = "DRAFT"
)

const productFragment = `fragment ProductFields on Product {
  id
  title
  bodyHtml
  vendor
  productType
  handle
  status
  tags
  createdAt
  updatedAt
  publishedAt
  variants(first: 250) {
    edges {
      node {
        id
        title
        price
        compareAtPrice
        sku
        barcode
        position
        inventoryPolicy
        inventoryQuantity
        taxable
        createdAt
        updatedAt
        inventoryItem { id }
      }
    }
  }
  options { id name values }
  images(first: 250) {
    edges { node { id url altText width height } }
  }
}`

const productsQuery = `query products($first: Int!, $cursor: String) {
  products(first: $first, after: $cursor) {
    edges { node { ...ProductFields } }
    pageInfo { hasNextPage endCursor }
  }
}
` + productFragment

const collectionProductsQuery = `query collectionProducts($id: ID!, $first: Int!, $cursor: String) {
  collection(id: $id) {
    products(first: $first, after: $cursor) {
      edges { node { ...ProductFields } }
      pageInfo { hasNextPage endCursor }
    }
  }
}
` + productFragment

type productNode struct {
	ID          string                         `json:"id"`
	Title       string                         `json:"title"`
	BodyHTML    string                         `json:"bodyHtml"`
	Vendor      string                         `json:"vendor"`
	ProductType string                         `json:"productType"`
	Handle      string                         `json:"handle"`
	Status      string                         `json:"status"`
	Tags        []string                       `json:"tags"`
	CreatedAt   string                         `json:"createdAt"`
	UpdatedAt   string                         `json:"updatedAt"`
	PublishedAt *string                        `json:"publishedAt"`
	Variants    client.Connection[variantNode] `json:"variants"`
	Options     []Option                       `json:"options"`
	Images      client.Connection[imageNode]   `json:"images"`
}

type variantNode struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Price             string  `json:"price"`
	CompareAtPrice    *string `json:"compareAtPrice"`
	SKU               string  `json:"sku"`
	Barcode           string  `json:"barcode"`
	Position          int     `json:"position"`
	InventoryPolicy   string  `json:"inventoryPolicy"`
	InventoryQuantity int     `json:"inventoryQuantity"`
	Taxable           bool    `json:"taxable"`
	CreatedAt         string  `json:"createdAt"`
	UpdatedAt         string  `json:"updatedAt"`
	InventoryItem     *struct {
		ID string `json:"id"`
	} `json:"inventoryItem"`
}

type imageNode struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	AltText string `json:"altText"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

func normalizeProduct(n productNode) (Product, bool) {
	p := Product{
		ID:          n.ID,
		Title:       n.Title,
		BodyHTML:    n.BodyHTML,
		Vendor:      n.Vendor,
		ProductType: n.ProductType,
		Handle:      n.Handle,
		Status:      n.Status,
		Tags:        n.Tags,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
		PublishedAt: n.PublishedAt,
		Options:     n.Options,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}

	for _, v := range n.Variants.Items() {
		variant := Variant{
			ID:                v.ID,
			Title:             v.Title,
			Price:             v.Price,
			CompareAtPrice:    v.CompareAtPrice,
			SKU:               v.SKU,
			Barcode:           v.Barcode,
			Position:          v.Position,
			InventoryPolicy:   v.InventoryPolicy,
			InventoryQuantity: v.InventoryQuantity,
			Taxable:           v.Taxable,
			CreatedAt:         v.CreatedAt,
			UpdatedAt:         v.UpdatedAt,
		}
		if v.InventoryItem != nil {
			variant.InventoryItemID = v.InventoryItem.ID
		}
		p.Variants = append(p.Variants, variant)
	}

	for _, img := range n.Images.Items() {
		p.Images = append(p.Images, Image{
			ID:      img.ID,
			Src:     img.URL,
			AltText: img.AltText,
			Width:   img.Width,
			Height:  img.Height,
		})
	}

	return p, n.ID != ""
}

// Products returns the full catalog.
func (s *Service) Products(ctx context.Context) ([]Product, error) {
	start := time.Now()
	products, err := s.products(ctx, s.newLimiter())
	return products, s.observe(ctx, "products", start, err)
}

// CollectionProducts returns the products of a collection. collectionID is a
// numeric id or a Collection gid.
func (s *Service) CollectionProducts(ctx context.Context, collectionID string) ([]Product, error) {
	start := time.Now()
	products, err := s.collectionProducts(ctx, s.newLimiter(), collectionID)
	return products, s.observe(ctx, "collection_products", start, err)
}

func (s *Service) products(ctx context.Context, l *ratelimit.Limiter) ([]Product, error) {
	q := &pagination.Query[productNode, Product]{
		Doer:      s.client,
		Document:  productsQuery,
		Path:      []string{"products"},
		PageSize:  s.opts.PageSize,
		Normalize: normalizeProduct,
	}
	return newPaginator[Product](s, "products", q, l).All(ctx)
}

func (s *Service) collectionProducts(ctx context.Context, l *ratelimit.Limiter, collectionID string) ([]Product, error) {
	gid, err := CollectionGID(collectionID)
	if err != nil {
		return nil, err
	}
	q := &pagination.Query[productNode, Product]{
		Doer:      s.client,
		Document:  collectionProductsQuery,
		Variables: map[string]any{"id": gid},
		Path:      []string{"collection", "products"},
		PageSize:  s.opts.PageSize,
		Normalize: normalizeProduct,
	}
	products, err := newPaginator[Product](s, "collection_products", q, l).All(ctx)
	if errors.Is(err, pagination.ErrNotFound) {
		return nil, &client.Error{Class: client.ClassUser, StatusCode: 200, Message: "collection " + gid + " not found", Err: err}
	}
	return products, err
}

const gidPrefix = "gid://shopify/"

// GID builds a global id from a resource type and an id. Ids that already
// are gids of that type are returned unchanged.
func GID(resource, id string) (string, error) {
	id = strings.TrimSpace(id)
	prefix := gidPrefix + resource + "/"
	if strings.HasPrefix(id, prefix) {
		return id, nil
	}
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", &client.Error{Class: client.ClassUser, Message: fmt.Sprintf("invalid %s id %q", resource, id)}
	}
	return prefix + id, nil
}

// CollectionGID builds a Collection gid.
func CollectionGID(id string) (string, error) {
	return GID("Collection", id)
}
