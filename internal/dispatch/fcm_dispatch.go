package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TokenSource resolves a recipient id to a device push token. When nil
// the recipient id itself is used as the token.
type TokenSource interface {
	PushToken(ctx context.Context, recipientID string) (string, error)
}

// FCMNotifier posts JSON to the FCM HTTPv1 endpoint using a server key
// or oauth token.
type FCMNotifier struct {
	Endpoint string
	Key      string
	Tokens   TokenSource
	Client   *http.Client
}

func NewFCMNotifier(endpoint, key string, tokens TokenSource) *FCMNotifier {
	return &FCMNotifier{Endpoint: endpoint, Key: key, Tokens: tokens, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMNotifier) Notify(ctx context.Context, recipientID, event string, payload any) error {
	token := recipientID
	if f.Tokens != nil {
		t, err := f.Tokens.PushToken(ctx, recipientID)
		if err != nil {
			return err
		}
		token = t
	}
	body := map[string]any{"message": map[string]any{
		"token": token,
		"data":  Message{Event: event, Payload: payload},
	}}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm push: status %d", resp.StatusCode)
	}
	return nil
}
