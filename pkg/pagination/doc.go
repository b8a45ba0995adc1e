// Package pagination walks Shopify cursor-paginated connections.
//
// Shopify connections return pageInfo{hasNextPage, endCursor}. Pages are
// strictly sequential: the cursor for page n+1 only exists once page n has
// been read, so there is no parallel fetch here. Every request waits on the
// rate limiter, throttled pages are re-requested with the same cursor, and
// any other failure stops the walk.
//
// Example usage:
//
//	limiter := ratelimit.New(ratelimit.DefaultConfig(), logger)
//	query := &pagination.Query[productNode, Product]{
//		Doer:      shopifyClient,
//		Document:  productsQuery,
//		Path:      []string{"products"},
//		Normalize: toProduct,
//	}
//	products, err := pagination.New[Product]("products", query, limiter).All(ctx)
package pagination
