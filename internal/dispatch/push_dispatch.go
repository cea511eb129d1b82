package dispatch

import "context"

// FallbackNotifier tries a live WebSocket session first and falls back
// to push when the recipient is not connected.
type FallbackNotifier struct {
	WS   *WSRegistry
	Push Notifier
}

func NewFallbackNotifier(ws *WSRegistry, push Notifier) *FallbackNotifier {
	return &FallbackNotifier{WS: ws, Push: push}
}

func (f *FallbackNotifier) Notify(ctx context.Context, recipientID, event string, payload any) error {
	if f.WS != nil {
		if err := f.WS.Notify(ctx, recipientID, event, payload); err == nil {
			return nil
		}
	}
	if f.Push != nil {
		return f.Push.Notify(ctx, recipientID, event, payload)
	}
	return ErrNoSession
}
