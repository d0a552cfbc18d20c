package mapbox

import (
	"context"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/observability"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache keyed by grid
// cell. The same cell recurs on every day it has readings, so most lookups
// after the first window are hits.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lru.Cache[domain.Coordinate, domain.GeocodingResult]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[domain.Coordinate, domain.GeocodingResult](max(1, maxEntries))
	return &CachedGeocoder{
		inner:   inner,
		cache:   cache,
		metrics: metrics,
	}
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	key := domain.Coordinate{Lat: lat, Lon: lon}
	if result, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return result, err
	}
	// Empty answers are not cached so a later run can retry them.
	if result.PlaceName != "" {
		c.cache.Add(key, result)
	}
	return result, nil
}
