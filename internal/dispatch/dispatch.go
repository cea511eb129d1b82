package dispatch

import "context"

// Notifier delivers a booking event to one recipient. Implementations
// are best-effort collaborators: callers decide whether a failed delivery
// matters, and in the escalation path it never does.
type Notifier interface {
	Notify(ctx context.Context, recipientID, event string, payload any) error
}

// Message is the envelope every transport sends.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}
