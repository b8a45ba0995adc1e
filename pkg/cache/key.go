package cache

import (
	"fmt"
	"sort"
	"strings"
)

// KeyPrefix is the prefix of every cache key.
const KeyPrefix = "shopify"

// Key identifies a cached lookup.
type Key struct {
	// Shop is the shop name. Keys of different shops never collide.
	Shop string

	// Kind is the lookup type, e.g. "publication" or "location".
	Kind string

	// ID is the lookup argument, e.g. the publication name.
	ID string

	// Params are extra lookup arguments.
	Params map[string]string
}

// String generates a deterministic cache key string.
// Format: shopify:shop:kind:id:param1=val1:param2=val2
//
// Example:
//
//	shopify:my-shop:publication:Online Store
func (k Key) String() string {
	parts := []string{KeyPrefix, strings.ToLower(strings.TrimSpace(k.Shop))}

	if k.Kind != "" {
		parts = append(parts, k.Kind)
	}
	if k.ID != "" {
		parts = append(parts, k.ID)
	}

	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params[key]))
		}
	}

	return strings.Join(parts, ":")
}

// ShopPattern returns the SCAN pattern matching every key of a shop.
func ShopPattern(shop string) string {
	return KeyPrefix + ":" + strings.ToLower(strings.TrimSpace(shop)) + ":*"
}
