package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/care-match/internal/models"
)

// MemoryStore is the in-process implementation used for local runs and
// tests. The single mutex makes every conditional write atomic, which is
// exactly the guarantee the services rely on.
type MemoryStore struct {
	mu        sync.RWMutex
	bookings  map[string]*models.Booking
	providers map[string]*models.Provider
	customers map[string]*models.Customer
	escrows   map[string]*models.EscrowTransaction // by booking id
	byRef     map[string]string                    // order ref -> booking id
	incidents []*models.IncidentRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:  make(map[string]*models.Booking),
		providers: make(map[string]*models.Provider),
		customers: make(map[string]*models.Customer),
		escrows:   make(map[string]*models.EscrowTransaction),
		byRef:     make(map[string]string),
	}
}

func (m *MemoryStore) CreateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateBookingStatus(_ context.Context, id, expectStatus string, expectVersion int, mut BookingMutation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != expectStatus || b.Version != expectVersion {
		return false, nil
	}
	b.Status = mut.Status
	if mut.ProviderID != nil {
		b.ProviderID = mut.ProviderID
	}
	if mut.CloseReason != nil {
		b.CloseReason = mut.CloseReason
	}
	if mut.MarkIncident {
		b.Incident = true
	}
	if mut.CompletedAt != nil {
		b.CompletedAt = mut.CompletedAt
	}
	b.Version++
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) SetBookingPaymentStatus(_ context.Context, id, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return ErrNotFound
	}
	b.PaymentStat = state
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetProvider(_ context.Context, id string) (*models.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) SaveProvider(_ context.Context, p *models.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Updated = time.Now()
	m.providers[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetCustomer(_ context.Context, id string) (*models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) SaveCustomer(_ context.Context, c *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.customers[c.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateEscrow(_ context.Context, tx *models.EscrowTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byRef[tx.OrderRef]; dup {
		return fmt.Errorf("escrow order ref %s already exists", tx.OrderRef)
	}
	cp := *tx
	m.escrows[tx.BookingID] = &cp
	m.byRef[tx.OrderRef] = tx.BookingID
	return nil
}

func (m *MemoryStore) GetEscrowByBooking(_ context.Context, bookingID string) (*models.EscrowTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.escrows[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) GetEscrowByOrderRef(_ context.Context, orderRef string) (*models.EscrowTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[orderRef]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.escrows[id]
	return &cp, nil
}

func (m *MemoryStore) UpdateEscrowState(_ context.Context, bookingID, expectState string, expectVersion int, mut EscrowMutation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.escrows[bookingID]
	if !ok {
		return false, ErrNotFound
	}
	if tx.State != expectState || tx.Version != expectVersion {
		return false, nil
	}
	tx.State = mut.State
	if mut.PlatformFee != nil {
		tx.PlatformFee = *mut.PlatformFee
	}
	if mut.Payout != nil {
		tx.Payout = *mut.Payout
	}
	if mut.IntentID != "" {
		tx.IntentID = mut.IntentID
	}
	tx.Version++
	tx.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) CreateIncident(_ context.Context, rec *models.IncidentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.incidents = append(m.incidents, &cp)
	return nil
}

// Incidents returns a snapshot of recorded incidents, oldest first.
func (m *MemoryStore) Incidents() []*models.IncidentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.IncidentRecord, len(m.incidents))
	copy(out, m.incidents)
	return out
}
