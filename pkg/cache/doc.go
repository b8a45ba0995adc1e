// Package cache provides a Redis backed lookup cache for Shopify data that
// rarely changes, such as publication ids or location ids.
//
// Lookups like "which publication is the Online Store" cost a paginated
// GraphQL call and a share of the shop's query budget on every job. The
// manager stores the answer per shop with a TTL so repeated jobs skip the
// call.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{Shop: "my-shop", Kind: "publication", ID: "Online Store"}
//	value, err := manager.GetOrLoad(ctx, key, cache.DefaultTTL, func(ctx context.Context) ([]byte, error) {
//		return lookupPublicationID(ctx)
//	})
//
// # Metrics
//
//   - shopify_cache_hits_total{kind} - Cache hits
//   - shopify_cache_misses_total{kind} - Cache misses
//   - shopify_cache_errors_total{operation} - Cache operation errors
//   - shopify_cache_size_bytes - Bytes written to the cache
package cache
