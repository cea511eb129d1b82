package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/care-match/internal/booking"
	"github.com/example/care-match/internal/models"
	"github.com/example/care-match/internal/observability"
	"github.com/example/care-match/internal/storage"
)

var (
	// ErrNotFound means no escrow transaction exists for the reference.
	ErrNotFound = errors.New("escrow transaction not found")
	// ErrInvalidState means the ledger does not permit the transition.
	ErrInvalidState = errors.New("invalid escrow transition")
	// ErrNotReleasable means release was attempted before the booking
	// reached COMPLETED.
	ErrNotReleasable = errors.New("escrow not releasable")
	// ErrValidation means the request was malformed.
	ErrValidation = errors.New("invalid escrow request")
	// ErrGateway means the payment gateway call failed or timed out.
	ErrGateway = errors.New("payment gateway failure")
)

// Gateway is the payment collaborator. Initiate places a manual-capture
// hold, Capture pays it out, Cancel refunds it.
type Gateway interface {
	InitiateCharge(ctx context.Context, amount models.Money, metadata map[string]string) (string, error)
	Capture(ctx context.Context, intentID string) error
	Cancel(ctx context.Context, intentID string) error
}

// Service drives the escrow ledger for bookings. Every state change is a
// conditional write; duplicate payment confirmations are detected by
// order reference and absorbed as success no-ops.
type Service struct {
	Store      storage.EscrowStore
	Bookings   storage.BookingStore
	Gateway    Gateway // optional in tests
	FeePercent int64
}

func (s *Service) feePercent() int64 {
	if s.FeePercent <= 0 {
		return DefaultFeePercent
	}
	return s.FeePercent
}

// Initiate opens a PENDING ledger entry for a booking and asks the
// gateway for a checkout hold. No funds are considered moved until the
// gateway confirms via Confirm.
func (s *Service) Initiate(ctx context.Context, bookingID, orderRef string, gross models.Money) (*models.EscrowTransaction, error) {
	if gross.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if orderRef == "" {
		return nil, fmt.Errorf("%w: order reference required", ErrValidation)
	}
	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, booking.ErrNotFound
		}
		return nil, err
	}

	var intentID string
	if s.Gateway != nil {
		intentID, err = s.Gateway.InitiateCharge(ctx, gross, map[string]string{
			"booking_id": b.ID,
			"order_ref":  orderRef,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
	}

	now := time.Now()
	tx := &models.EscrowTransaction{
		BookingID: bookingID,
		OrderRef:  orderRef,
		Gross:     gross,
		State:     string(StatePending),
		IntentID:  intentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.CreateEscrow(ctx, tx); err != nil {
		return nil, err
	}
	_ = s.Bookings.SetBookingPaymentStatus(ctx, bookingID, string(StatePending))
	return tx, nil
}

// Confirm processes a gateway payment outcome for an order reference.
// A duplicate delivery of an already-held confirmation returns the
// unchanged transaction with duplicate=true and no error; the split is
// never recomputed.
func (s *Service) Confirm(ctx context.Context, orderRef string, succeeded bool) (*models.EscrowTransaction, bool, error) {
	tx, err := s.Store.GetEscrowByOrderRef(ctx, orderRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}

	switch State(tx.State) {
	case StateHeld:
		if succeeded {
			return tx, true, nil // duplicate delivery, absorb
		}
		return nil, false, fmt.Errorf("%w: failure signal for held escrow %s", ErrInvalidState, orderRef)
	case StatePending:
		// fall through to the transition below
	default:
		return nil, false, fmt.Errorf("%w: confirmation signal in state %s", ErrInvalidState, tx.State)
	}

	if !succeeded {
		ok, err := s.Store.UpdateEscrowState(ctx, tx.BookingID, string(StatePending), tx.Version, storage.EscrowMutation{State: string(StateFailed)})
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return s.reconfirm(ctx, orderRef, succeeded)
		}
		observability.EscrowTransitionsTotal.WithLabelValues(string(StateFailed)).Inc()
		_ = s.Bookings.SetBookingPaymentStatus(ctx, tx.BookingID, string(StateFailed))
		tx.State = string(StateFailed)
		tx.Version++
		return tx, false, nil
	}

	fee, payout := SplitFee(tx.Gross, s.feePercent())
	ok, err := s.Store.UpdateEscrowState(ctx, tx.BookingID, string(StatePending), tx.Version, storage.EscrowMutation{
		State:       string(StateHeld),
		PlatformFee: &fee,
		Payout:      &payout,
	})
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// lost the write; if the other writer held it this is a duplicate
		return s.reconfirm(ctx, orderRef, succeeded)
	}
	observability.EscrowTransitionsTotal.WithLabelValues(string(StateHeld)).Inc()
	_ = s.Bookings.SetBookingPaymentStatus(ctx, tx.BookingID, string(StateHeld))
	tx.State = string(StateHeld)
	tx.PlatformFee = fee
	tx.Payout = payout
	tx.Version++
	return tx, false, nil
}

func (s *Service) reconfirm(ctx context.Context, orderRef string, succeeded bool) (*models.EscrowTransaction, bool, error) {
	tx, err := s.Store.GetEscrowByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, false, err
	}
	if succeeded && State(tx.State) == StateHeld {
		return tx, true, nil
	}
	return nil, false, fmt.Errorf("%w: confirmation raced into state %s", ErrInvalidState, tx.State)
}

// Release pays the held amount out to the provider. Only legal once the
// booking itself has completed.
func (s *Service) Release(ctx context.Context, bookingID string) (*models.EscrowTransaction, error) {
	tx, err := s.get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if State(tx.State) != StateHeld {
		return nil, fmt.Errorf("%w: release from %s", ErrInvalidState, tx.State)
	}
	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status(b.Status) != booking.StatusCompleted {
		return nil, fmt.Errorf("%w: booking is %s", ErrNotReleasable, b.Status)
	}
	if s.Gateway != nil && tx.IntentID != "" {
		if err := s.Gateway.Capture(ctx, tx.IntentID); err != nil {
			return nil, fmt.Errorf("%w: capture: %v", ErrGateway, err)
		}
	}
	if err := s.move(ctx, tx, StateHeld, StateReleased); err != nil {
		return nil, err
	}
	tx.State = string(StateReleased)
	return tx, nil
}

// Refund returns the held amount to the customer after a cancellation or
// a dispute resolution.
func (s *Service) Refund(ctx context.Context, bookingID string) (*models.EscrowTransaction, error) {
	tx, err := s.get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if State(tx.State) != StateHeld {
		return nil, fmt.Errorf("%w: refund from %s", ErrInvalidState, tx.State)
	}
	if s.Gateway != nil && tx.IntentID != "" {
		if err := s.Gateway.Cancel(ctx, tx.IntentID); err != nil {
			return nil, fmt.Errorf("%w: cancel: %v", ErrGateway, err)
		}
	}
	if err := s.move(ctx, tx, StateHeld, StateRefunded); err != nil {
		return nil, err
	}
	tx.State = string(StateRefunded)
	return tx, nil
}

// Retry re-opens a FAILED ledger entry so the charge can be attempted again.
func (s *Service) Retry(ctx context.Context, bookingID string) (*models.EscrowTransaction, error) {
	tx, err := s.get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if State(tx.State) != StateFailed {
		return nil, fmt.Errorf("%w: retry from %s", ErrInvalidState, tx.State)
	}
	if err := s.move(ctx, tx, StateFailed, StatePending); err != nil {
		return nil, err
	}
	tx.State = string(StatePending)
	return tx, nil
}

func (s *Service) Get(ctx context.Context, bookingID string) (*models.EscrowTransaction, error) {
	return s.get(ctx, bookingID)
}

func (s *Service) get(ctx context.Context, bookingID string) (*models.EscrowTransaction, error) {
	tx, err := s.Store.GetEscrowByBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Service) move(ctx context.Context, tx *models.EscrowTransaction, from, to State) error {
	ok, err := s.Store.UpdateEscrowState(ctx, tx.BookingID, string(from), tx.Version, storage.EscrowMutation{State: string(to)})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s lost to a concurrent transition", ErrInvalidState, from, to)
	}
	observability.EscrowTransitionsTotal.WithLabelValues(string(to)).Inc()
	_ = s.Bookings.SetBookingPaymentStatus(ctx, tx.BookingID, string(to))
	tx.Version++
	return nil
}
