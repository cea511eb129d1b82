package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Money is an amount in the smallest currency unit (cents for LKR).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Party identifies which side of a booking performed an action.
type Party string

const (
	PartyCustomer Party = "customer"
	PartyProvider Party = "provider"
)

// SkillGrant records a provider's standing for one bookable skill.
type SkillGrant struct {
	SkillID    string  `json:"skill_id"`
	Verified   bool    `json:"verified"`
	TrustScore float64 `json:"trust_score"` // 0..100, recomputed by trust package
}

// ProviderHistory aggregates the signals the trust score is computed
// from. Booking transitions fold outcomes into it; review and document
// pipelines update their fields out of band.
type ProviderHistory struct {
	CompletedBookings int      `json:"completed_bookings"`
	TotalBookings     int      `json:"total_bookings"`
	AverageRating     float64  `json:"average_rating"`
	HasRatings        bool     `json:"has_ratings"`
	ApprovedDocs      int      `json:"approved_docs"`
	TotalDocs         int      `json:"total_docs"`
	ResponseMinutes   *float64 `json:"response_minutes,omitempty"`
}

type Provider struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Role            string                `json:"role"`
	Active          bool                  `json:"active"`
	Loc             *Coord                `json:"loc,omitempty"` // nil until first location update
	Skills          map[string]SkillGrant `json:"skills"`
	History         ProviderHistory       `json:"history"`
	YearsExperience int                   `json:"years_experience"`
	PushToken       string                `json:"push_token,omitempty"`
	Updated         time.Time             `json:"updated"`
}

// Grant returns the provider's grant for a skill, if any.
func (p *Provider) Grant(skillID string) (SkillGrant, bool) {
	g, ok := p.Skills[skillID]
	return g, ok
}

// EmergencyContact is the person a customer registered for escalations.
type EmergencyContact struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	RecipientID string `json:"recipient_id,omitempty"` // push recipient, optional
}

type Customer struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	EmergencyContact *EmergencyContact `json:"emergency_contact,omitempty"`
}

// MatchCandidate is the transient ranking projection returned to callers.
// Never persisted; produced fresh on every match request.
type MatchCandidate struct {
	ProviderID      string  `json:"provider_id"`
	Name            string  `json:"name"`
	TrustScore      float64 `json:"trust_score"` // rounded to 0.1
	YearsExperience int     `json:"years_experience"`
	DistanceKm      float64 `json:"distance_km"` // rounded to 0.1
}

type Booking struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id"`
	ProviderID  *string    `json:"provider_id,omitempty"` // nil until confirmed
	SkillID     string     `json:"skill_id"`
	Loc         Coord      `json:"loc"`
	Address     string     `json:"address"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Notes       string     `json:"notes,omitempty"`
	Status      string     `json:"status"`         // booking.Status values
	PaymentStat string     `json:"payment_status"` // escrow.State values
	Incident    bool       `json:"incident"`
	CloseReason *string    `json:"close_reason,omitempty"` // cancellation or dispute reason
	Version     int        `json:"version"`                // optimistic concurrency counter
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EscrowTransaction tracks the money held for one booking. OrderRef is the
// idempotency key for gateway confirmation signals.
type EscrowTransaction struct {
	BookingID   string    `json:"booking_id"`
	OrderRef    string    `json:"order_ref"`
	Gross       Money     `json:"gross"`
	PlatformFee Money     `json:"platform_fee"`
	Payout      Money     `json:"payout"`
	State       string    `json:"state"` // escrow.State values
	IntentID    string    `json:"intent_id,omitempty"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IncidentRecord is the immutable audit row produced by an escalation.
type IncidentRecord struct {
	ID              string    `json:"id"`
	BookingID       string    `json:"booking_id"`
	TriggeredBy     Party     `json:"triggered_by"`
	Reason          string    `json:"reason"`
	EmergencyNumber string    `json:"emergency_number"`
	ContactNotified bool      `json:"contact_notified"`
	CreatedAt       time.Time `json:"created_at"`
}
