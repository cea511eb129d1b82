package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/care-match/internal/models"
	"github.com/example/care-match/internal/storage"
)

type fakeMatcher struct {
	cands []models.MatchCandidate
	err   error
}

func (f *fakeMatcher) Match(ctx context.Context, skillID string, loc models.Coord) ([]models.MatchCandidate, error) {
	return f.cands, f.err
}

func newService(m *fakeMatcher) (*Service, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return &Service{Store: store, Matcher: m, Providers: store}, store
}

func createCmd() CreateCommand {
	return CreateCommand{
		CustomerID:  "c1",
		SkillID:     "elder-care",
		Loc:         models.Coord{Lat: 6.9271, Lon: 79.8612},
		Address:     "12 Galle Road, Colombo",
		ScheduledAt: time.Now().Add(24 * time.Hour),
	}
}

func TestCreateMatchesImmediately(t *testing.T) {
	svc, _ := newService(&fakeMatcher{cands: []models.MatchCandidate{{ProviderID: "p1", TrustScore: 80}}})
	b, cands, err := svc.Create(context.Background(), createCmd())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != string(StatusMatched) {
		t.Fatalf("expected MATCHED, got %s", b.Status)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
}

func TestCreateStaysPendingWithoutCandidates(t *testing.T) {
	svc, _ := newService(&fakeMatcher{})
	b, cands, err := svc.Create(context.Background(), createCmd())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != string(StatusPending) {
		t.Fatalf("expected PENDING, got %s", b.Status)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no candidates")
	}
}

func TestCreateSurfacesMatcherFailure(t *testing.T) {
	svc, _ := newService(&fakeMatcher{err: errors.New("index down")})
	b, _, err := svc.Create(context.Background(), createCmd())
	if err == nil {
		t.Fatal("matcher failure must be surfaced, not hidden as zero matches")
	}
	if b == nil || b.Status != string(StatusPending) {
		t.Fatalf("booking should survive a match failure in PENDING, got %+v", b)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(&fakeMatcher{})
	cmd := createCmd()
	cmd.CustomerID = ""
	if _, _, err := svc.Create(context.Background(), cmd); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	cmd = createCmd()
	cmd.Loc.Lat = 95
	if _, _, err := svc.Create(context.Background(), cmd); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for coords, got %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	svc, _ := newService(&fakeMatcher{cands: []models.MatchCandidate{{ProviderID: "p1"}}})
	ctx := context.Background()
	b, _, err := svc.Create(ctx, createCmd())
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Accept(ctx, b.ID, "p1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := svc.Start(ctx, b.ID, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Complete(ctx, b.ID, "p1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := svc.Get(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != string(StatusCompleted) {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed booking must carry completion time")
	}
	if got.ProviderID == nil || *got.ProviderID != "p1" {
		t.Fatalf("expected provider p1, got %v", got.ProviderID)
	}
}

func fptr(v float64) *float64 { return &v }

func TestLifecycleRefreshesProviderTrust(t *testing.T) {
	svc, store := newService(&fakeMatcher{cands: []models.MatchCandidate{{ProviderID: "p1"}}})
	ctx := context.Background()

	loc := models.Coord{Lat: 6.9, Lon: 79.8}
	if err := store.SaveProvider(ctx, &models.Provider{
		ID:     "p1",
		Name:   "Provider One",
		Role:   "provider",
		Active: true,
		Loc:    &loc,
		Skills: map[string]models.SkillGrant{
			"elder-care": {SkillID: "elder-care", Verified: true, TrustScore: 10},
		},
		History: models.ProviderHistory{
			CompletedBookings: 4,
			TotalBookings:     4,
			AverageRating:     4.0,
			HasRatings:        true,
			ApprovedDocs:      4,
			TotalDocs:         4,
			ResponseMinutes:   fptr(45),
		},
	}); err != nil {
		t.Fatal(err)
	}

	b, _, err := svc.Create(ctx, createCmd())
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Accept(ctx, b.ID, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(ctx, b.ID, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Complete(ctx, b.ID, "p1"); err != nil {
		t.Fatal(err)
	}

	p, err := store.GetProvider(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.History.TotalBookings != 5 || p.History.CompletedBookings != 5 {
		t.Fatalf("history not folded in: %+v", p.History)
	}
	// 0.4*100 + 0.3*80 + 0.2*100 + 0.1*60 = 90
	got := p.Skills["elder-care"].TrustScore
	if got < 90-1e-9 || got > 90+1e-9 {
		t.Fatalf("expected recomputed trust 90, got %f", got)
	}
}

func TestInvalidTransitionsFailLoudly(t *testing.T) {
	svc, _ := newService(&fakeMatcher{cands: []models.MatchCandidate{{ProviderID: "p1"}}})
	ctx := context.Background()
	b, _, _ := svc.Create(ctx, createCmd())

	// start before accept
	if err := svc.Start(ctx, b.ID, "p1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	// complete before start
	if err := svc.Complete(ctx, b.ID, "p1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	if err := svc.Accept(ctx, b.ID, "p1"); err != nil {
		t.Fatal(err)
	}
	// second accept
	if err := svc.Accept(ctx, b.ID, "p2"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double accept, got %v", err)
	}

	got, _ := svc.Get(ctx, b.ID)
	if got.Status != string(StatusConfirmed) || *got.ProviderID != "p1" {
		t.Fatalf("failed transition must not mutate the record: %+v", got)
	}
}

func TestOnlyAssignedProviderProgresses(t *testing.T) {
	svc, _ := newService(&fakeMatcher{cands: []models.MatchCandidate{{ProviderID: "p1"}}})
	ctx := context.Background()
	b, _, _ := svc.Create(ctx, createCmd())
	_ = svc.Accept(ctx, b.ID, "p1")

	if err := svc.Start(ctx, b.ID, "p2"); !errors.Is(err, ErrValidation) {
		t.Fatalf("unassigned provider must not start the booking, got %v", err)
	}
}

func TestCancelFromTerminalFails(t *testing.T) {
	svc, _ := newService(&fakeMatcher{cands: []models.MatchCandidate{{ProviderID: "p1"}}})
	ctx := context.Background()
	b, _, _ := svc.Create(ctx, createCmd())
	_ = svc.Accept(ctx, b.ID, "p1")
	_ = svc.Start(ctx, b.ID, "p1")
	_ = svc.Complete(ctx, b.ID, "p1")

	if err := svc.Cancel(ctx, b.ID, models.PartyCustomer, "changed my mind"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCancelRecordsReason(t *testing.T) {
	svc, _ := newService(&fakeMatcher{cands: []models.MatchCandidate{{ProviderID: "p1"}}})
	ctx := context.Background()
	b, _, _ := svc.Create(ctx, createCmd())

	if err := svc.Cancel(ctx, b.ID, models.PartyProvider, "unavailable"); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Get(ctx, b.ID)
	if got.Status != string(StatusCancelled) || got.CloseReason == nil {
		t.Fatalf("expected CANCELLED with reason, got %+v", got)
	}
}

func TestDisputeOnlyFromActiveStates(t *testing.T) {
	svc, _ := newService(&fakeMatcher{})
	ctx := context.Background()
	b, _, _ := svc.Create(ctx, createCmd()) // stays PENDING

	if err := svc.Dispute(ctx, b.ID, models.PartyCustomer, "emergency"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("PENDING must not be disputable, got %v", err)
	}
}

func TestGetMissingBooking(t *testing.T) {
	svc, _ := newService(&fakeMatcher{})
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRematchStateGate(t *testing.T) {
	svc, _ := newService(&fakeMatcher{cands: []models.MatchCandidate{{ProviderID: "p1"}}})
	ctx := context.Background()
	b, _, _ := svc.Create(ctx, createCmd())
	_ = svc.Accept(ctx, b.ID, "p1")

	if _, err := svc.Rematch(ctx, b.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("CONFIRMED booking must not accept match requests, got %v", err)
	}
}
