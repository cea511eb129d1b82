package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/care-match/internal/booking"
	"github.com/example/care-match/internal/models"
	"github.com/example/care-match/internal/storage"
)

type stubMatcher struct{ cands []models.MatchCandidate }

func (m *stubMatcher) Match(ctx context.Context, skillID string, loc models.Coord) ([]models.MatchCandidate, error) {
	return m.cands, nil
}

type recordingSMS struct {
	sent []string // phone numbers
	err  error
}

func (s *recordingSMS) Send(ctx context.Context, phone, message string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, phone)
	return nil
}

type fixture struct {
	svc      *Service
	bookings *booking.Service
	store    *storage.MemoryStore
	sms      *recordingSMS
}

func setup(t *testing.T, facilities []FacilityNumber) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	bookings := &booking.Service{
		Store:   store,
		Matcher: &stubMatcher{cands: []models.MatchCandidate{{ProviderID: "p1"}}},
	}
	if err := store.SaveCustomer(context.Background(), &models.Customer{
		ID:   "c1",
		Name: "Nimal Perera",
		EmergencyContact: &models.EmergencyContact{
			Name:  "Kamala Perera",
			Phone: "+94771234567",
		},
	}); err != nil {
		t.Fatal(err)
	}
	sms := &recordingSMS{}
	return &fixture{
		svc: &Service{
			Bookings:  bookings,
			Customers: store,
			Incidents: store,
			Numbers:   NewNumberTable(facilities, ""),
			SMS:       sms,
		},
		bookings: bookings,
		store:    store,
		sms:      sms,
	}
}

func (f *fixture) matchedBooking(t *testing.T, address string) *models.Booking {
	t.Helper()
	b, _, err := f.bookings.Create(context.Background(), booking.CreateCommand{
		CustomerID:  "c1",
		SkillID:     "elder-care",
		Loc:         models.Coord{Lat: 6.9271, Lon: 79.8612},
		Address:     address,
		ScheduledAt: time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != string(booking.StatusMatched) {
		t.Fatalf("fixture booking should be MATCHED, got %s", b.Status)
	}
	return b
}

func TestTriggerFreezesAndRecords(t *testing.T) {
	f := setup(t, nil)
	b := f.matchedBooking(t, "12 Galle Road, Colombo")

	res, err := f.svc.Trigger(context.Background(), Request{BookingID: b.ID, By: models.PartyCustomer, Reason: "provider unresponsive"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.BookingFrozen || !res.ContactNotified || !res.IncidentRecorded {
		t.Fatalf("expected full protocol run, got %+v", res)
	}
	if res.EmergencyNumber != DefaultEmergencyNumber {
		t.Fatalf("expected default number %s, got %s", DefaultEmergencyNumber, res.EmergencyNumber)
	}

	got, err := f.bookings.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != string(booking.StatusDisputed) || !got.Incident {
		t.Fatalf("booking must be frozen as DISPUTED with the incident flag, got %+v", got)
	}

	incidents := f.store.Incidents()
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident record, got %d", len(incidents))
	}
	rec := incidents[0]
	if rec.BookingID != b.ID || rec.TriggeredBy != models.PartyCustomer || !rec.ContactNotified {
		t.Fatalf("incident record incomplete: %+v", rec)
	}
	if len(f.sms.sent) != 1 || f.sms.sent[0] != "+94771234567" {
		t.Fatalf("emergency contact must get the sms, got %v", f.sms.sent)
	}
}

func TestTriggerRefusedBeforeMatch(t *testing.T) {
	f := setup(t, nil)
	f.bookings.Matcher = &stubMatcher{} // no candidates, booking stays PENDING
	b, _, err := f.bookings.Create(context.Background(), booking.CreateCommand{
		CustomerID:  "c1",
		SkillID:     "elder-care",
		Loc:         models.Coord{Lat: 6.9271, Lon: 79.8612},
		Address:     "Colombo",
		ScheduledAt: time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.Trigger(context.Background(), Request{BookingID: b.ID, By: models.PartyCustomer, Reason: "panic"})
	if !errors.Is(err, booking.ErrInvalidState) {
		t.Fatalf("PENDING booking must not escalate, got %v", err)
	}
	if got := f.store.Incidents(); len(got) != 0 {
		t.Fatalf("refused escalation must leave no incident, got %d", len(got))
	}
	got, _ := f.bookings.Get(context.Background(), b.ID)
	if got.Status != string(booking.StatusPending) {
		t.Fatalf("refused escalation must not move the booking, got %s", got.Status)
	}
}

func TestFacilityNumberResolution(t *testing.T) {
	f := setup(t, []FacilityNumber{
		{Name: "Nawaloka", Number: "+94115777777"},
		{Name: "Asiri", Number: "+94114524400"},
	})
	b := f.matchedBooking(t, "Near NAWALOKA Hospital, Colombo 02")

	res, err := f.svc.Trigger(context.Background(), Request{BookingID: b.ID, By: models.PartyProvider, Reason: "medical"})
	if err != nil {
		t.Fatal(err)
	}
	if res.EmergencyNumber != "+94115777777" {
		t.Fatalf("facility match is case-insensitive substring, got %s", res.EmergencyNumber)
	}
}

func TestSMSFailureDoesNotAbort(t *testing.T) {
	f := setup(t, nil)
	f.sms.err = errors.New("carrier timeout")
	b := f.matchedBooking(t, "Colombo")

	res, err := f.svc.Trigger(context.Background(), Request{BookingID: b.ID, By: models.PartyCustomer, Reason: "panic"})
	if err != nil {
		t.Fatalf("post-freeze failures must not fail the protocol: %v", err)
	}
	if res.ContactNotified {
		t.Fatal("failed sms must be reported as not notified")
	}
	if res.EmergencyNumber == "" || !res.BookingFrozen || !res.IncidentRecorded {
		t.Fatalf("number, freeze and audit must survive the sms failure: %+v", res)
	}
}

func TestMissingEmergencyContact(t *testing.T) {
	f := setup(t, nil)
	if err := f.store.SaveCustomer(context.Background(), &models.Customer{ID: "c1", Name: "Nimal Perera"}); err != nil {
		t.Fatal(err)
	}
	b := f.matchedBooking(t, "Colombo")

	res, err := f.svc.Trigger(context.Background(), Request{BookingID: b.ID, By: models.PartyCustomer, Reason: "panic"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ContactNotified {
		t.Fatal("no registered contact means nobody was notified")
	}
	if len(f.sms.sent) != 0 {
		t.Fatalf("no sms expected, got %v", f.sms.sent)
	}
	if !res.IncidentRecorded {
		t.Fatal("incident must still be recorded")
	}
}

func TestUnknownBooking(t *testing.T) {
	f := setup(t, nil)
	_, err := f.svc.Trigger(context.Background(), Request{BookingID: "nope", By: models.PartyCustomer, Reason: "panic"})
	if !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnknownParty(t *testing.T) {
	f := setup(t, nil)
	b := f.matchedBooking(t, "Colombo")
	_, err := f.svc.Trigger(context.Background(), Request{BookingID: b.ID, By: "admin", Reason: "panic"})
	if !errors.Is(err, booking.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestNumberTableFallback(t *testing.T) {
	tbl := NewNumberTable([]FacilityNumber{{Name: "asiri", Number: "+94114524400"}}, "")
	if got := tbl.Resolve("somewhere in Kandy"); got != DefaultEmergencyNumber {
		t.Fatalf("expected fallback %s, got %s", DefaultEmergencyNumber, got)
	}
	if got := tbl.Resolve("Asiri Surgical, Colombo 05"); got != "+94114524400" {
		t.Fatalf("expected facility number, got %s", got)
	}
}

func TestNumberTablePrecedenceIsConfiguredOrder(t *testing.T) {
	// both entries substring-match the address; the first configured one
	// must win, every time
	addr := "National Hospital, Colombo 08"
	tbl := NewNumberTable([]FacilityNumber{
		{Name: "National Hospital", Number: "+94112691111"},
		{Name: "Hospital", Number: "+94119999999"},
	}, "")
	for i := 0; i < 50; i++ {
		if got := tbl.Resolve(addr); got != "+94112691111" {
			t.Fatalf("first configured entry must win, got %s", got)
		}
	}

	reversed := NewNumberTable([]FacilityNumber{
		{Name: "Hospital", Number: "+94119999999"},
		{Name: "National Hospital", Number: "+94112691111"},
	}, "")
	if got := reversed.Resolve(addr); got != "+94119999999" {
		t.Fatalf("reversed order must flip the result, got %s", got)
	}
}

func TestParseFacilityNumbers(t *testing.T) {
	got, err := ParseFacilityNumbers("Nawaloka=+94115777777, Asiri Surgical = +94114524400")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "Nawaloka" || got[1].Name != "Asiri Surgical" {
		t.Fatalf("configured order must survive parsing, got %v", got)
	}
	if got[1].Number != "+94114524400" {
		t.Fatalf("wrong number: %v", got[1])
	}
	if _, err := ParseFacilityNumbers("no-separator"); err == nil {
		t.Fatal("malformed entry must be rejected")
	}
}
