package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/care-match/internal/models"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// BookingMutation is the set of fields a status transition may change
// alongside the status itself.
type BookingMutation struct {
	Status       string
	ProviderID   *string
	CloseReason  *string
	MarkIncident bool
	CompletedAt  *time.Time
}

// EscrowMutation is applied together with an escrow state change.
type EscrowMutation struct {
	State       string
	PlatformFee *models.Money
	Payout      *models.Money
	IntentID    string
}

// BookingStore persists bookings. UpdateBookingStatus is a conditional
// write: it applies the mutation only if the stored status and version
// still equal the expected values, and reports whether it won. Losing the
// condition is not an error; it is how concurrent transitions lose races.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id, expectStatus string, expectVersion int, mut BookingMutation) (bool, error)
	// SetBookingPaymentStatus mirrors the escrow ledger state onto the
	// booking record. Unconditional and version-neutral; the ledger stays
	// the source of truth.
	SetBookingPaymentStatus(ctx context.Context, id, state string) error
}

// ProviderStore persists providers.
type ProviderStore interface {
	GetProvider(ctx context.Context, id string) (*models.Provider, error)
	SaveProvider(ctx context.Context, p *models.Provider) error
}

// CustomerStore resolves customers, mainly for emergency contacts.
type CustomerStore interface {
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
}

// EscrowStore persists escrow transactions. Order references are unique;
// CreateEscrow with a duplicate reference fails. UpdateEscrowState has the
// same conditional-write contract as UpdateBookingStatus.
type EscrowStore interface {
	CreateEscrow(ctx context.Context, tx *models.EscrowTransaction) error
	GetEscrowByBooking(ctx context.Context, bookingID string) (*models.EscrowTransaction, error)
	GetEscrowByOrderRef(ctx context.Context, orderRef string) (*models.EscrowTransaction, error)
	UpdateEscrowState(ctx context.Context, bookingID, expectState string, expectVersion int, mut EscrowMutation) (bool, error)
}

// IncidentStore appends immutable incident records.
type IncidentStore interface {
	CreateIncident(ctx context.Context, rec *models.IncidentRecord) error
}
