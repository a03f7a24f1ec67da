// Package catalog resolves menu items against the catalog service. The
// catalog is an external collaborator: lookups are cache-fronted with a TTL
// and a miss or failure must never fail the request that asked for
// enrichment.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/config"
	"example.com/dinehub/services/orders/internal/cache"
)

// Item is a resolved catalog entry.
type Item struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	ImageURL   string `json:"image_url,omitempty"`
}

// Resolver looks up catalog items by id.
type Resolver interface {
	Resolve(ctx context.Context, itemID string) (*Item, error)
}

// Source is the upstream the cached resolver falls through to.
type Source interface {
	Lookup(ctx context.Context, itemID string) (*Item, error)
}

// CachedResolver fronts a Source with the Redis cache.
type CachedResolver struct {
	source Source
	cache  *cache.RedisCache
	ttl    time.Duration
}

// NewCachedResolver creates a cache-fronted resolver. cache may be nil.
func NewCachedResolver(source Source, redisCache *cache.RedisCache, ttl time.Duration) *CachedResolver {
	return &CachedResolver{source: source, cache: redisCache, ttl: ttl}
}

// Resolve returns the catalog item, from cache when fresh.
func (r *CachedResolver) Resolve(ctx context.Context, itemID string) (*Item, error) {
	key := cache.GetCatalogItemCacheKey(itemID)

	if r.cache != nil {
		var cached Item
		if err := r.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	item, err := r.source.Lookup(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, item, r.ttl); err != nil {
			log.Warn().Err(err).Str("item_id", itemID).Msg("Failed to cache catalog item")
		}
	}

	return item, nil
}

// HTTPSource looks items up over the catalog service's HTTP API.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates an HTTP catalog source
func NewHTTPSource(cfg config.CatalogConfig) *HTTPSource {
	return &HTTPSource{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Lookup fetches one catalog item by id.
func (s *HTTPSource) Lookup(ctx context.Context, itemID string) (*Item, error) {
	if s.baseURL == "" {
		return nil, errors.New("catalog source not configured")
	}

	url := fmt.Sprintf("%s/menu/items/%s", s.baseURL, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build catalog request")
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "catalog request failed")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("catalog returned status %d", res.StatusCode)
	}

	var item Item
	if err := json.NewDecoder(res.Body).Decode(&item); err != nil {
		return nil, errors.Wrap(err, "failed to decode catalog item")
	}
	item.ItemID = itemID

	return &item, nil
}

// StaticSource serves lookups from an in-memory map. Used in tests and when
// no upstream catalog is configured.
type StaticSource struct {
	items map[string]Item
}

// NewStaticSource creates a static catalog source
func NewStaticSource(items map[string]Item) *StaticSource {
	return &StaticSource{items: items}
}

// Lookup returns the item when present.
func (s *StaticSource) Lookup(_ context.Context, itemID string) (*Item, error) {
	item, ok := s.items[itemID]
	if !ok {
		return nil, errors.Errorf("catalog item %s not found", itemID)
	}
	return &item, nil
}
