package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/care-match/internal/models"
)

// RedisGeo implements Index on top of Redis GEO commands. GEOSEARCH does
// the containment test inside Redis's geohash-backed sorted set, which is
// what keeps radius queries off a full provider scan.
type RedisGeo struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, timeout: 2 * time.Second}
}

func (r *RedisGeo) Upsert(ctx context.Context, id string, loc models.Coord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: loc.Lon,
		Latitude:  loc.Lat,
		Name:      id,
	}).Result()
	if err != nil {
		return fmt.Errorf("%w: geoadd %s: %v", ErrQueryFailed, id, err)
	}
	return nil
}

func (r *RedisGeo) FindWithin(ctx context.Context, center models.Coord, radiusM float64, limit int) ([]Entry, error) {
	if radiusM <= 0 || center.Lat < -90 || center.Lat > 90 || center.Lon < -180 || center.Lon > 180 {
		return nil, ErrQueryFailed
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lon,
			Latitude:   center.Lat,
			Radius:     radiusM,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: geosearch: %v", ErrQueryFailed, err)
	}
	out := make([]Entry, 0, len(res))
	for _, g := range res {
		out = append(out, Entry{
			ID:        g.Name,
			Loc:       models.Coord{Lat: g.Latitude, Lon: g.Longitude},
			DistanceM: g.Dist,
		})
	}
	return out, nil
}
