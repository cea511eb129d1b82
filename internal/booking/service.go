package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/example/care-match/internal/models"
	"github.com/example/care-match/internal/storage"
	"github.com/example/care-match/internal/trust"
)

var (
	// ErrNotFound means the referenced booking does not exist.
	ErrNotFound = errors.New("booking not found")
	// ErrInvalidState means the requested transition is not legal from
	// the booking's current status.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrConflict means a concurrent transition won the conditional write
	// first; the booking is still in a state that would permit a retry.
	ErrConflict = errors.New("booking state conflict")
	// ErrValidation means the request itself was malformed.
	ErrValidation = errors.New("invalid booking request")
)

// Matcher produces ranked candidates for a skill around a point. The
// booking service only needs it at creation time.
type Matcher interface {
	Match(ctx context.Context, skillID string, loc models.Coord) ([]models.MatchCandidate, error)
}

// Dispatcher receives best-effort booking event notifications. Failures
// are logged by implementations, never propagated into transitions.
type Dispatcher interface {
	Notify(ctx context.Context, recipientID, event string, payload any) error
}

type Service struct {
	Store     storage.BookingStore
	Matcher   Matcher
	Dispatch  Dispatcher            // optional
	Providers storage.ProviderStore // optional, enables trust recomputation
}

type CreateCommand struct {
	CustomerID  string
	SkillID     string
	Loc         models.Coord
	Address     string
	ScheduledAt time.Time
	Notes       string
}

// Create persists a new booking and immediately attempts to match it.
// With at least one eligible provider the booking lands in MATCHED;
// otherwise it stays PENDING with an empty candidate list. A matching
// subsystem failure is surfaced to the caller, but the booking is kept
// so it can be re-matched later.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*models.Booking, []models.MatchCandidate, error) {
	if cmd.CustomerID == "" || cmd.SkillID == "" {
		return nil, nil, fmt.Errorf("%w: customer and skill are required", ErrValidation)
	}
	if cmd.Loc.Lat < -90 || cmd.Loc.Lat > 90 || cmd.Loc.Lon < -180 || cmd.Loc.Lon > 180 {
		return nil, nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}

	now := time.Now()
	b := &models.Booking{
		ID:          NewID(),
		CustomerID:  cmd.CustomerID,
		SkillID:     cmd.SkillID,
		Loc:         cmd.Loc,
		Address:     cmd.Address,
		ScheduledAt: cmd.ScheduledAt,
		Notes:       cmd.Notes,
		Status:      string(StatusPending),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Store.CreateBooking(ctx, b); err != nil {
		return nil, nil, err
	}

	cands, err := s.Matcher.Match(ctx, cmd.SkillID, cmd.Loc)
	if err != nil {
		return b, nil, err
	}
	if len(cands) == 0 {
		return b, nil, nil
	}

	ok, err := s.Store.UpdateBookingStatus(ctx, b.ID, string(StatusPending), b.Version, storage.BookingMutation{Status: string(StatusMatched)})
	if err != nil {
		return b, cands, err
	}
	if ok {
		b.Status = string(StatusMatched)
		b.Version++
	}
	if s.Dispatch != nil {
		for _, c := range cands {
			_ = s.Dispatch.Notify(ctx, c.ProviderID, "booking.offer", map[string]any{"booking_id": b.ID, "skill_id": b.SkillID})
		}
	}
	return b, cands, nil
}

// Rematch re-runs matching for an existing booking. Only PENDING and
// MATCHED bookings may request candidates; anything later already has a
// committed provider or is closed.
func (s *Service) Rematch(ctx context.Context, bookingID string) ([]models.MatchCandidate, error) {
	b, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	st := Status(b.Status)
	if st != StatusPending && st != StatusMatched {
		return nil, fmt.Errorf("%w: cannot match a %s booking", ErrInvalidState, b.Status)
	}
	cands, err := s.Matcher.Match(ctx, b.SkillID, b.Loc)
	if err != nil {
		return nil, err
	}
	if st == StatusPending && len(cands) > 0 {
		// best effort; a lost race means someone else already moved it
		_, _ = s.Store.UpdateBookingStatus(ctx, b.ID, string(StatusPending), b.Version, storage.BookingMutation{Status: string(StatusMatched)})
	}
	return cands, nil
}

// Accept assigns a provider via a conditional write on MATCHED. Under two
// racing accepts exactly one wins; the loser comes back with ErrInvalidState
// (the booking already moved on) or ErrConflict (same-status version race).
func (s *Service) Accept(ctx context.Context, bookingID, providerID string) error {
	if providerID == "" {
		return fmt.Errorf("%w: provider id required", ErrValidation)
	}
	err := s.transition(ctx, bookingID, StatusMatched, StatusConfirmed, storage.BookingMutation{
		Status:     string(StatusConfirmed),
		ProviderID: &providerID,
	}, func(b *models.Booking) error { return nil })
	if err != nil {
		return err
	}
	if b, getErr := s.Get(ctx, bookingID); getErr == nil {
		s.refreshTrust(ctx, providerID, b.SkillID, false)
		if s.Dispatch != nil {
			_ = s.Dispatch.Notify(ctx, b.CustomerID, "booking.accepted", map[string]any{"booking_id": b.ID, "provider_id": providerID})
		}
	}
	return nil
}

// Start marks service begin; only the assigned provider may do it.
func (s *Service) Start(ctx context.Context, bookingID, providerID string) error {
	return s.transition(ctx, bookingID, StatusConfirmed, StatusInProgress, storage.BookingMutation{
		Status: string(StatusInProgress),
	}, assignedProvider(providerID))
}

// Complete marks service end and makes the escrow releasable. The
// provider's trust score is recomputed from the updated history.
func (s *Service) Complete(ctx context.Context, bookingID, providerID string) error {
	now := time.Now()
	err := s.transition(ctx, bookingID, StatusInProgress, StatusCompleted, storage.BookingMutation{
		Status:      string(StatusCompleted),
		CompletedAt: &now,
	}, assignedProvider(providerID))
	if err != nil {
		return err
	}
	if b, getErr := s.Get(ctx, bookingID); getErr == nil {
		s.refreshTrust(ctx, providerID, b.SkillID, true)
	}
	return nil
}

// refreshTrust folds a booking outcome into the provider's history and
// re-persists the recomputed score on the booked skill's grant. Accepting
// counts toward total bookings, completing toward completed; the write is
// best-effort and never fails the transition that triggered it.
func (s *Service) refreshTrust(ctx context.Context, providerID, skillID string, completed bool) {
	if s.Providers == nil {
		return
	}
	p, err := s.Providers.GetProvider(ctx, providerID)
	if err != nil {
		return
	}
	if completed {
		p.History.CompletedBookings++
	} else {
		p.History.TotalBookings++
	}
	score := trust.Score(trust.Inputs{
		CompletedBookings: p.History.CompletedBookings,
		TotalBookings:     p.History.TotalBookings,
		AverageRating:     p.History.AverageRating,
		HasRatings:        p.History.HasRatings,
		ApprovedDocs:      p.History.ApprovedDocs,
		TotalDocs:         p.History.TotalDocs,
		ResponseMinutes:   p.History.ResponseMinutes,
	})
	if g, ok := p.Skills[skillID]; ok {
		g.TrustScore = score
		p.Skills[skillID] = g
	}
	_ = s.Providers.SaveProvider(ctx, p)
}

// Cancel moves any non-terminal booking to CANCELLED.
func (s *Service) Cancel(ctx context.Context, bookingID string, by models.Party, reason string) error {
	b, err := s.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	from := Status(b.Status)
	if !CanTransition(from, StatusCancelled) {
		return fmt.Errorf("%w: cannot cancel from %s", ErrInvalidState, from)
	}
	r := fmt.Sprintf("%s: %s", by, reason)
	ok, err := s.Store.UpdateBookingStatus(ctx, bookingID, b.Status, b.Version, storage.BookingMutation{
		Status:      string(StatusCancelled),
		CloseReason: &r,
	})
	if err != nil {
		return mapStoreErr(err)
	}
	if !ok {
		return s.loserError(ctx, bookingID, StatusCancelled)
	}
	return nil
}

// Dispute freezes the booking pending manual review. Reserved for the
// escalation protocol; there is no automatic exit from DISPUTED here.
func (s *Service) Dispute(ctx context.Context, bookingID string, by models.Party, reason string) error {
	b, err := s.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	from := Status(b.Status)
	if !Escalatable(from) {
		return fmt.Errorf("%w: cannot dispute from %s", ErrInvalidState, from)
	}
	r := fmt.Sprintf("%s: %s", by, reason)
	ok, err := s.Store.UpdateBookingStatus(ctx, bookingID, b.Status, b.Version, storage.BookingMutation{
		Status:       string(StatusDisputed),
		CloseReason:  &r,
		MarkIncident: true,
	})
	if err != nil {
		return mapStoreErr(err)
	}
	if !ok {
		return s.loserError(ctx, bookingID, StatusDisputed)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return b, nil
}

func (s *Service) transition(ctx context.Context, bookingID string, from, to Status, mut storage.BookingMutation, check func(*models.Booking) error) error {
	b, err := s.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if Status(b.Status) != from {
		return fmt.Errorf("%w: %s -> %s not allowed from %s", ErrInvalidState, from, to, b.Status)
	}
	if err := check(b); err != nil {
		return err
	}
	ok, err := s.Store.UpdateBookingStatus(ctx, bookingID, string(from), b.Version, mut)
	if err != nil {
		return mapStoreErr(err)
	}
	if !ok {
		return s.loserError(ctx, bookingID, to)
	}
	return nil
}

// loserError rereads the record after a lost conditional write so the
// caller learns whether a retry could ever succeed.
func (s *Service) loserError(ctx context.Context, bookingID string, to Status) error {
	b, err := s.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if !CanTransition(Status(b.Status), to) {
		return fmt.Errorf("%w: booking now %s", ErrInvalidState, b.Status)
	}
	return ErrConflict
}

func assignedProvider(providerID string) func(*models.Booking) error {
	return func(b *models.Booking) error {
		if b.ProviderID == nil || *b.ProviderID != providerID {
			return fmt.Errorf("%w: provider %s is not assigned to this booking", ErrValidation, providerID)
		}
		return nil
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// NewID returns a random 16-hex-char identifier.
func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
