package geo

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/care-match/internal/models"
)

// ErrQueryFailed marks a spatial query that could not be executed at all,
// as opposed to one that ran and found nothing. Callers must be able to
// tell the two apart.
var ErrQueryFailed = errors.New("geospatial query failed")

// Entry is one indexed entity returned by a radius search.
type Entry struct {
	ID        string
	Loc       models.Coord
	DistanceM float64
}

// Index is the minimal spatial capability the matcher needs: find entities
// within a radius of a point, nearest first.
type Index interface {
	FindWithin(ctx context.Context, center models.Coord, radiusM float64, limit int) ([]Entry, error)
	Upsert(ctx context.Context, id string, loc models.Coord) error
}

// cellDeg is the grid bucket size for the in-memory index, roughly 5 km
// of latitude per cell.
const cellDeg = 0.045

type cell struct{ x, y int }

type gridEntry struct {
	loc     models.Coord
	updated time.Time
}

// GridIndex is an in-memory spatial index bucketed on a lat/lon grid.
// Radius queries touch only the cells overlapping the search circle, so
// lookup cost tracks local density rather than total population.
type GridIndex struct {
	mu    sync.RWMutex
	cells map[cell]map[string]gridEntry
	where map[string]cell
}

func NewGridIndex() *GridIndex {
	return &GridIndex{
		cells: make(map[cell]map[string]gridEntry),
		where: make(map[string]cell),
	}
}

func cellFor(loc models.Coord) cell {
	return cell{
		x: int(math.Floor(loc.Lon / cellDeg)),
		y: int(math.Floor(loc.Lat / cellDeg)),
	}
}

func (g *GridIndex) Upsert(_ context.Context, id string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.where[id]; ok {
		delete(g.cells[prev], id)
	}
	c := cellFor(loc)
	if g.cells[c] == nil {
		g.cells[c] = make(map[string]gridEntry)
	}
	g.cells[c][id] = gridEntry{loc: loc, updated: time.Now()}
	g.where[id] = c
	return nil
}

func (g *GridIndex) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.where[id]; ok {
		delete(g.cells[c], id)
		delete(g.where, id)
	}
}

const metersPerDegLat = 111320.0

func (g *GridIndex) FindWithin(_ context.Context, center models.Coord, radiusM float64, limit int) ([]Entry, error) {
	if radiusM <= 0 || center.Lat < -90 || center.Lat > 90 || center.Lon < -180 || center.Lon > 180 {
		return nil, ErrQueryFailed
	}
	// cells spanned by the radius; lon cells widen toward the poles
	latSpan := int(math.Ceil(radiusM/metersPerDegLat/cellDeg)) + 1
	lonSpan := latSpan
	if mPerDegLon := metersPerDegLat * math.Cos(center.Lat*math.Pi/180); mPerDegLon > 1 {
		lonSpan = int(math.Ceil(radiusM/mPerDegLon/cellDeg)) + 1
	}
	origin := cellFor(center)

	g.mu.RLock()
	out := make([]Entry, 0, 16)
	for dx := -lonSpan; dx <= lonSpan; dx++ {
		for dy := -latSpan; dy <= latSpan; dy++ {
			for id, e := range g.cells[cell{x: origin.x + dx, y: origin.y + dy}] {
				d := Haversine(center.Lat, center.Lon, e.loc.Lat, e.loc.Lon)
				if d <= radiusM {
					out = append(out, Entry{ID: id, Loc: e.loc, DistanceM: d})
				}
			}
		}
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
