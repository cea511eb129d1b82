package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/example/care-match/internal/geo"
	"github.com/example/care-match/internal/models"
	"github.com/example/care-match/internal/storage"
)

type fakeGeo struct {
	entries []geo.Entry
	err     error
}

func (f *fakeGeo) FindWithin(ctx context.Context, center models.Coord, radiusM float64, limit int) ([]geo.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func (f *fakeGeo) Upsert(ctx context.Context, id string, loc models.Coord) error { return nil }

const skill = "elder-care"

func provider(id string, trust float64, verified bool) *models.Provider {
	loc := models.Coord{Lat: 6.9, Lon: 79.8}
	return &models.Provider{
		ID:     id,
		Name:   "Provider " + id,
		Role:   RoleProvider,
		Active: true,
		Loc:    &loc,
		Skills: map[string]models.SkillGrant{
			skill: {SkillID: skill, Verified: verified, TrustScore: trust},
		},
		YearsExperience: 3,
	}
}

func setup(t *testing.T, providers ...*models.Provider) (*Service, *fakeGeo) {
	t.Helper()
	store := storage.NewMemoryStore()
	for _, p := range providers {
		if err := store.SaveProvider(context.Background(), p); err != nil {
			t.Fatalf("save provider: %v", err)
		}
	}
	g := &fakeGeo{}
	return &Service{Geo: g, Providers: store}, g
}

func TestTrustOutranksDistance(t *testing.T) {
	a := provider("A", 80, true)
	b := provider("B", 85, true)
	svc, g := setup(t, a, b)
	g.entries = []geo.Entry{
		{ID: "A", Loc: *a.Loc, DistanceM: 8000},
		{ID: "B", Loc: *b.Loc, DistanceM: 9000},
	}

	out, err := svc.Match(context.Background(), skill, models.Coord{Lat: 6.9, Lon: 79.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].ProviderID != "B" || out[1].ProviderID != "A" {
		t.Fatalf("expected [B A], got %v", out)
	}
}

func TestDistanceBreaksTrustTies(t *testing.T) {
	a := provider("A", 80, true)
	b := provider("B", 80, true)
	svc, g := setup(t, a, b)
	g.entries = []geo.Entry{
		{ID: "A", Loc: *a.Loc, DistanceM: 9000},
		{ID: "B", Loc: *b.Loc, DistanceM: 3000},
	}

	out, err := svc.Match(context.Background(), skill, models.Coord{Lat: 6.9, Lon: 79.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].ProviderID != "B" {
		t.Fatalf("nearer provider must win a trust tie, got %v", out)
	}
}

func TestEligibilityFilters(t *testing.T) {
	wrongRole := provider("role", 90, true)
	wrongRole.Role = "customer"
	inactive := provider("inactive", 90, true)
	inactive.Active = false
	unverified := provider("unverified", 90, false)
	noLoc := provider("noloc", 90, true)
	noLoc.Loc = nil
	ok := provider("ok", 50, true)

	svc, g := setup(t, wrongRole, inactive, unverified, noLoc, ok)
	for _, id := range []string{"role", "inactive", "unverified", "noloc", "ok"} {
		g.entries = append(g.entries, geo.Entry{ID: id, Loc: models.Coord{Lat: 6.9, Lon: 79.8}, DistanceM: 1000})
	}

	out, err := svc.Match(context.Background(), skill, models.Coord{Lat: 6.9, Lon: 79.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].ProviderID != "ok" {
		t.Fatalf("expected only the eligible provider, got %v", out)
	}
}

func TestRadiusBoundaryInclusive(t *testing.T) {
	onEdge := provider("edge", 70, true)
	past := provider("past", 70, true)
	svc, g := setup(t, onEdge, past)
	g.entries = []geo.Entry{
		{ID: "edge", Loc: *onEdge.Loc, DistanceM: 10000},
		{ID: "past", Loc: *past.Loc, DistanceM: 10001},
	}

	out, err := svc.Match(context.Background(), skill, models.Coord{Lat: 6.9, Lon: 79.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].ProviderID != "edge" {
		t.Fatalf("10000m is in, 10001m is out; got %v", out)
	}
	if out[0].DistanceKm != 10.0 {
		t.Fatalf("expected 10.0 km, got %f", out[0].DistanceKm)
	}
}

func TestRoundingToOneDecimal(t *testing.T) {
	p := provider("p", 77.77, true)
	svc, g := setup(t, p)
	g.entries = []geo.Entry{{ID: "p", Loc: *p.Loc, DistanceM: 1234}}

	out, err := svc.Match(context.Background(), skill, models.Coord{Lat: 6.9, Lon: 79.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].TrustScore != 77.8 {
		t.Fatalf("expected trust 77.8, got %f", out[0].TrustScore)
	}
	if out[0].DistanceKm != 1.2 {
		t.Fatalf("expected distance 1.2, got %f", out[0].DistanceKm)
	}
}

func TestRankingUsesPersistedTrustNotRounded(t *testing.T) {
	// both scores display as 80.0, but the persisted values differ and
	// must decide the order even against a large distance gap
	a := provider("A", 80.04, true)
	b := provider("B", 79.96, true)
	svc, g := setup(t, a, b)
	g.entries = []geo.Entry{
		{ID: "A", Loc: *a.Loc, DistanceM: 9000},
		{ID: "B", Loc: *b.Loc, DistanceM: 1000},
	}

	out, err := svc.Match(context.Background(), skill, models.Coord{Lat: 6.9, Lon: 79.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].ProviderID != "A" || out[1].ProviderID != "B" {
		t.Fatalf("expected [A B] by persisted score, got %v", out)
	}
	if out[0].TrustScore != 80.0 || out[1].TrustScore != 80.0 {
		t.Fatalf("reported scores still round to 80.0, got %f and %f", out[0].TrustScore, out[1].TrustScore)
	}
}

func TestNoCandidatesIsNotAnError(t *testing.T) {
	svc, _ := setup(t)
	out, err := svc.Match(context.Background(), skill, models.Coord{Lat: 6.9, Lon: 79.8})
	if err != nil {
		t.Fatalf("empty result must not be an error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %v", out)
	}
}

func TestGeoFailureIsDistinctFromEmpty(t *testing.T) {
	svc, g := setup(t)
	g.err = geo.ErrQueryFailed
	_, err := svc.Match(context.Background(), skill, models.Coord{Lat: 6.9, Lon: 79.8})
	if !errors.Is(err, ErrGeoUnavailable) {
		t.Fatalf("expected ErrGeoUnavailable, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	svc, _ := setup(t)
	if _, err := svc.Match(context.Background(), "", models.Coord{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty skill, got %v", err)
	}
	if _, err := svc.Match(context.Background(), skill, models.Coord{Lat: 91}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad coords, got %v", err)
	}
}

func TestResultCap(t *testing.T) {
	store := storage.NewMemoryStore()
	g := &fakeGeo{}
	for i := 0; i < 60; i++ {
		p := provider(string(rune('a'+i%26))+string(rune('0'+i/26)), float64(i%100), true)
		if err := store.SaveProvider(context.Background(), p); err != nil {
			t.Fatal(err)
		}
		g.entries = append(g.entries, geo.Entry{ID: p.ID, Loc: *p.Loc, DistanceM: float64(100 + i)})
	}
	svc := &Service{Geo: g, Providers: store}
	out, err := svc.Match(context.Background(), skill, models.Coord{Lat: 6.9, Lon: 79.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != DefaultMaxResults {
		t.Fatalf("expected cap at %d, got %d", DefaultMaxResults, len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].TrustScore > out[i-1].TrustScore {
			t.Fatalf("not sorted by trust at %d", i)
		}
		if out[i].TrustScore == out[i-1].TrustScore && out[i].DistanceKm < out[i-1].DistanceKm {
			t.Fatalf("tie not broken by distance at %d", i)
		}
	}
}
