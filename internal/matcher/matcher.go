package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/example/care-match/internal/geo"
	"github.com/example/care-match/internal/models"
	"github.com/example/care-match/internal/observability"
	"github.com/example/care-match/internal/storage"
)

var (
	// ErrGeoUnavailable means the spatial query itself failed. Callers must
	// treat this differently from an empty (but valid) candidate list.
	ErrGeoUnavailable = errors.New("matching subsystem unavailable")
	// ErrValidation means the match request was malformed.
	ErrValidation = errors.New("invalid match request")
)

const (
	// DefaultRadiusKm is the search radius when the caller does not override it.
	DefaultRadiusKm = 10.0
	// DefaultMaxResults caps the candidate list for display.
	DefaultMaxResults = 50
	// RoleProvider is the only role eligible for matching.
	RoleProvider = "provider"
)

// Service ranks eligible providers around a booking location. Eligibility
// is strict: provider role, active account, verified grant for the skill,
// a known position, and inside the radius (boundary inclusive). Ordering
// is trust score descending with distance as the tie-break; a more
// trusted provider slightly farther away outranks a nearby weaker one.
type Service struct {
	Geo        geo.Index
	Providers  storage.ProviderStore
	RadiusKm   float64
	MaxResults int
}

func (s *Service) Match(ctx context.Context, skillID string, loc models.Coord) ([]models.MatchCandidate, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	if skillID == "" {
		return nil, fmt.Errorf("%w: skill id required", ErrValidation)
	}
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	radiusKm := s.RadiusKm
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	limit := s.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	radiusM := radiusKm * 1000
	entries, err := s.Geo.FindWithin(ctx, loc, radiusM, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeoUnavailable, err)
	}

	// ranking uses the persisted score and raw distance; the rounded
	// values exist only for display
	type ranked struct {
		cand  models.MatchCandidate
		trust float64
		distM float64
	}
	rs := make([]ranked, 0, len(entries))
	for _, e := range entries {
		p, err := s.Providers.GetProvider(ctx, e.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// index entry with no backing record; stale, skip
				continue
			}
			return nil, fmt.Errorf("%w: provider lookup: %v", ErrGeoUnavailable, err)
		}
		if p.Role != RoleProvider || !p.Active || p.Loc == nil {
			continue
		}
		grant, ok := p.Grant(skillID)
		if !ok || !grant.Verified {
			continue
		}
		if e.DistanceM > radiusM {
			continue
		}
		rs = append(rs, ranked{
			cand: models.MatchCandidate{
				ProviderID:      p.ID,
				Name:            p.Name,
				TrustScore:      round1(grant.TrustScore),
				YearsExperience: p.YearsExperience,
				DistanceKm:      round1(e.DistanceM / 1000),
			},
			trust: grant.TrustScore,
			distM: e.DistanceM,
		})
	}

	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].trust != rs[j].trust {
			return rs[i].trust > rs[j].trust
		}
		return rs[i].distM < rs[j].distM
	})
	if len(rs) > limit {
		rs = rs[:limit]
	}
	cands := make([]models.MatchCandidate, len(rs))
	for i, r := range rs {
		cands[i] = r.cand
	}
	observability.MatchesTotal.Inc()
	return cands, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
