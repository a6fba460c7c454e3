package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"panicdispatch/request"
)

// ZoneClassifier maps a geographic point to a firm's zone label. Zones are
// reporting attribution only; allocation never consults them.
type ZoneClassifier interface {
	ClassifyZone(ctx context.Context, loc request.Location, firmID string) (string, error)
}

// GridClassifier buckets points into fixed-size cells. It stands in until a
// firm-specific zoning service is wired behind the same interface.
type GridClassifier struct {
	// CellDegrees is the cell edge length; 0 defaults to 0.05 degrees.
	CellDegrees float64
}

func (g GridClassifier) ClassifyZone(_ context.Context, loc request.Location, firmID string) (string, error) {
	cell := g.CellDegrees
	if cell <= 0 {
		cell = 0.05
	}
	latCell := int(loc.Latitude / cell)
	lonCell := int(loc.Longitude / cell)
	return fmt.Sprintf("%s:%d:%d", firmID, latCell, lonCell), nil
}

// CachedClassifier memoizes zone lookups in redis. Classification is
// deterministic per point and firm, so entries only expire to bound memory.
type CachedClassifier struct {
	next ZoneClassifier
	rdb  *redis.Client
	ttl  time.Duration
}

func NewCachedClassifier(next ZoneClassifier, rdb *redis.Client, ttl time.Duration) *CachedClassifier {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedClassifier{next: next, rdb: rdb, ttl: ttl}
}

func (c *CachedClassifier) ClassifyZone(ctx context.Context, loc request.Location, firmID string) (string, error) {
	if c.rdb == nil {
		return c.next.ClassifyZone(ctx, loc, firmID)
	}

	key := zoneCacheKey(loc, firmID)
	zone, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		return zone, nil
	}
	if !errors.Is(err, redis.Nil) {
		// Cache trouble must not block completion; fall through to the source.
		zone, srcErr := c.next.ClassifyZone(ctx, loc, firmID)
		if srcErr != nil {
			return "", srcErr
		}
		return zone, nil
	}

	zone, err = c.next.ClassifyZone(ctx, loc, firmID)
	if err != nil {
		return "", err
	}
	c.rdb.Set(ctx, key, zone, c.ttl)
	return zone, nil
}

func zoneCacheKey(loc request.Location, firmID string) string {
	return fmt.Sprintf("zone:%s:%.4f:%.4f", firmID, loc.Latitude, loc.Longitude)
}
