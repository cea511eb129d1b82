package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/care-match/internal/booking"
	"github.com/example/care-match/internal/models"
	"github.com/example/care-match/internal/observability"
	"github.com/example/care-match/internal/storage"
)

// SMSSender delivers a text message to a phone number.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

// Notifier delivers a push notification to a registered recipient.
type Notifier interface {
	Notify(ctx context.Context, recipientID, event string, payload any) error
}

// Request is one emergency-button press.
type Request struct {
	BookingID string
	By        models.Party
	Reason    string
}

// Result is what the client device needs: the number to dial, and what
// the backend managed to do around it.
type Result struct {
	EmergencyNumber  string `json:"emergency_number"`
	BookingFrozen    bool   `json:"booking_frozen"`
	ContactNotified  bool   `json:"contact_notified"`
	IncidentRecorded bool   `json:"incident_recorded"`
}

// Service runs the one-shot escalation protocol: freeze the booking,
// resolve the number to dial, best-effort notify the customer's emergency
// contact, and write the audit incident. Once the freeze lands, later
// step failures are recorded but never roll it back or withhold the
// number from the person in distress.
type Service struct {
	Bookings  *booking.Service
	Customers storage.CustomerStore
	Incidents storage.IncidentStore
	Numbers   *NumberTable
	SMS       SMSSender // optional
	Push      Notifier  // optional
	Log       *slog.Logger
}

func (s *Service) Trigger(ctx context.Context, req Request) (*Result, error) {
	if req.By != models.PartyCustomer && req.By != models.PartyProvider {
		return nil, fmt.Errorf("%w: unknown party %q", booking.ErrValidation, req.By)
	}

	b, err := s.Bookings.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Escalatable(booking.Status(b.Status)) {
		return nil, fmt.Errorf("%w: booking is %s, not escalatable", booking.ErrInvalidState, b.Status)
	}

	// Step 1: freeze. This is the only step allowed to fail the protocol.
	if err := s.Bookings.Dispute(ctx, req.BookingID, req.By, req.Reason); err != nil {
		// a concurrent escalation may have frozen it already; anything
		// else aborts before side effects
		if !errors.Is(err, booking.ErrConflict) {
			return nil, err
		}
	}
	observability.EscalationsTotal.Inc()

	res := &Result{BookingFrozen: true}

	// Step 2: resolve the number to surface. Pure lookup, cannot fail.
	res.EmergencyNumber = s.Numbers.Resolve(b.Address)

	// Step 3: best-effort emergency contact notification.
	res.ContactNotified = s.notifyContact(ctx, b, res.EmergencyNumber)

	// Step 4: audit record.
	rec := &models.IncidentRecord{
		ID:              booking.NewID(),
		BookingID:       b.ID,
		TriggeredBy:     req.By,
		Reason:          req.Reason,
		EmergencyNumber: res.EmergencyNumber,
		ContactNotified: res.ContactNotified,
		CreatedAt:       time.Now(),
	}
	if err := s.Incidents.CreateIncident(ctx, rec); err != nil {
		s.log().Error("incident record write failed", "booking_id", b.ID, "error", err)
	} else {
		res.IncidentRecorded = true
	}
	return res, nil
}

func (s *Service) notifyContact(ctx context.Context, b *models.Booking, number string) bool {
	c, err := s.Customers.GetCustomer(ctx, b.CustomerID)
	if err != nil {
		s.log().Warn("customer lookup failed during escalation", "booking_id", b.ID, "error", err)
		return false
	}
	contact := c.EmergencyContact
	if contact == nil {
		return false
	}

	msg := fmt.Sprintf("Emergency reported on care booking %s for %s. Emergency line: %s.", b.ID, c.Name, number)
	notified := false
	if s.SMS != nil && contact.Phone != "" {
		if err := s.SMS.Send(ctx, contact.Phone, msg); err != nil {
			s.log().Warn("emergency contact sms failed", "booking_id", b.ID, "error", err)
		} else {
			notified = true
		}
	}
	if s.Push != nil && contact.RecipientID != "" {
		if err := s.Push.Notify(ctx, contact.RecipientID, "booking.emergency", map[string]any{
			"booking_id":       b.ID,
			"emergency_number": number,
		}); err != nil {
			s.log().Warn("emergency contact push failed", "booking_id", b.ID, "error", err)
		} else {
			notified = true
		}
	}
	return notified
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
