package dispatch

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession is one connected client app (provider or customer device).
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// WSRegistry holds live sessions keyed by recipient id and implements
// Notifier over them.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(recipientID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[recipientID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(recipientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, recipientID)
}

func (r *WSRegistry) Notify(_ context.Context, recipientID, event string, payload any) error {
	r.mu.RLock()
	s, ok := r.sessions[recipientID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(Message{Event: event, Payload: payload})
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
