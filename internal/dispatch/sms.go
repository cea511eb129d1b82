package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSMSSender posts to an SMS gateway's JSON API. The gateway is an
// external collaborator; only success or failure matters here.
type HTTPSMSSender struct {
	Endpoint string
	Key      string
	Sender   string // sender id shown to the recipient
	Client   *http.Client
}

func NewHTTPSMSSender(endpoint, key, sender string) *HTTPSMSSender {
	return &HTTPSMSSender{Endpoint: endpoint, Key: key, Sender: sender, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (s *HTTPSMSSender) Send(ctx context.Context, phone, message string) error {
	body := map[string]string{"to": phone, "from": s.Sender, "message": message}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Key != "" {
		req.Header.Set("Authorization", "Bearer "+s.Key)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway: status %d", resp.StatusCode)
	}
	return nil
}
