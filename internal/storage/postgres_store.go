package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/care-match/internal/models"
)

// PostgresStore implements every store interface on a single database.
// All transitions are status+version guarded UPDATEs; RowsAffected tells
// the caller whether the conditional write won.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(id, customer_id, provider_id, skill_id, lat, lon, address, scheduled_at, notes, status, payment_status, incident, close_reason, version, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		b.ID, b.CustomerID, b.ProviderID, b.SkillID, b.Loc.Lat, b.Loc.Lon, b.Address, b.ScheduledAt, b.Notes, b.Status, b.PaymentStat, b.Incident, b.CloseReason, b.Version, b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := p.db.QueryRowContext(ctx, `SELECT id, customer_id, provider_id, skill_id, lat, lon, address, scheduled_at, notes, status, payment_status, incident, close_reason, version, created_at, updated_at, completed_at
		FROM bookings WHERE id=$1`, id).Scan(
		&b.ID, &b.CustomerID, &b.ProviderID, &b.SkillID, &b.Loc.Lat, &b.Loc.Lon, &b.Address, &b.ScheduledAt, &b.Notes, &b.Status, &b.PaymentStat, &b.Incident, &b.CloseReason, &b.Version, &b.CreatedAt, &b.UpdatedAt, &b.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresStore) UpdateBookingStatus(ctx context.Context, id, expectStatus string, expectVersion int, mut BookingMutation) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE bookings SET
			status=$1,
			provider_id=COALESCE($2, provider_id),
			close_reason=COALESCE($3, close_reason),
			incident=incident OR $4,
			completed_at=COALESCE($5, completed_at),
			version=version+1,
			updated_at=$6
		WHERE id=$7 AND status=$8 AND version=$9`,
		mut.Status, mut.ProviderID, mut.CloseReason, mut.MarkIncident, mut.CompletedAt, time.Now(), id, expectStatus, expectVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// distinguish a lost race from a missing row
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id=$1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) SetBookingPaymentStatus(ctx context.Context, id, state string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE bookings SET payment_status=$1, updated_at=$2 WHERE id=$3`, state, time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	var (
		pr      models.Provider
		lat     sql.NullFloat64
		lon     sql.NullFloat64
		skills  []byte
		history []byte
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, name, role, active, lat, lon, skills, history, years_experience, push_token, updated_at
		FROM providers WHERE id=$1`, id).Scan(
		&pr.ID, &pr.Name, &pr.Role, &pr.Active, &lat, &lon, &skills, &history, &pr.YearsExperience, &pr.PushToken, &pr.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		pr.Loc = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &pr.Skills); err != nil {
			return nil, err
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &pr.History); err != nil {
			return nil, err
		}
	}
	return &pr, nil
}

func (p *PostgresStore) SaveProvider(ctx context.Context, pr *models.Provider) error {
	skills, err := json.Marshal(pr.Skills)
	if err != nil {
		return err
	}
	history, err := json.Marshal(pr.History)
	if err != nil {
		return err
	}
	var lat, lon interface{}
	if pr.Loc != nil {
		lat, lon = pr.Loc.Lat, pr.Loc.Lon
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO providers(id, name, role, active, lat, lon, skills, history, years_experience, push_token, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET name=$2, role=$3, active=$4, lat=$5, lon=$6, skills=$7, history=$8, years_experience=$9, push_token=$10, updated_at=$11`,
		pr.ID, pr.Name, pr.Role, pr.Active, lat, lon, skills, history, pr.YearsExperience, pr.PushToken, time.Now())
	return err
}

func (p *PostgresStore) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var (
		c       models.Customer
		contact []byte
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, name, emergency_contact FROM customers WHERE id=$1`, id).Scan(&c.ID, &c.Name, &contact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(contact) > 0 {
		if err := json.Unmarshal(contact, &c.EmergencyContact); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (p *PostgresStore) CreateEscrow(ctx context.Context, tx *models.EscrowTransaction) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO escrow_transactions(booking_id, order_ref, gross_amount, currency, platform_fee, payout, state, intent_id, version, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		tx.BookingID, tx.OrderRef, tx.Gross.Amount, tx.Gross.Currency, tx.PlatformFee.Amount, tx.Payout.Amount, tx.State, tx.IntentID, tx.Version, tx.CreatedAt, tx.UpdatedAt)
	return err
}

func (p *PostgresStore) GetEscrowByBooking(ctx context.Context, bookingID string) (*models.EscrowTransaction, error) {
	return p.scanEscrow(p.db.QueryRowContext(ctx, escrowSelect+` WHERE booking_id=$1`, bookingID))
}

func (p *PostgresStore) GetEscrowByOrderRef(ctx context.Context, orderRef string) (*models.EscrowTransaction, error) {
	return p.scanEscrow(p.db.QueryRowContext(ctx, escrowSelect+` WHERE order_ref=$1`, orderRef))
}

const escrowSelect = `SELECT booking_id, order_ref, gross_amount, currency, platform_fee, payout, state, intent_id, version, created_at, updated_at FROM escrow_transactions`

func (p *PostgresStore) scanEscrow(row *sql.Row) (*models.EscrowTransaction, error) {
	var tx models.EscrowTransaction
	err := row.Scan(&tx.BookingID, &tx.OrderRef, &tx.Gross.Amount, &tx.Gross.Currency, &tx.PlatformFee.Amount, &tx.Payout.Amount, &tx.State, &tx.IntentID, &tx.Version, &tx.CreatedAt, &tx.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tx.PlatformFee.Currency = tx.Gross.Currency
	tx.Payout.Currency = tx.Gross.Currency
	return &tx, nil
}

func (p *PostgresStore) UpdateEscrowState(ctx context.Context, bookingID, expectState string, expectVersion int, mut EscrowMutation) (bool, error) {
	var fee, payout interface{}
	if mut.PlatformFee != nil {
		fee = mut.PlatformFee.Amount
	}
	if mut.Payout != nil {
		payout = mut.Payout.Amount
	}
	res, err := p.db.ExecContext(ctx, `UPDATE escrow_transactions SET
			state=$1,
			platform_fee=COALESCE($2, platform_fee),
			payout=COALESCE($3, payout),
			intent_id=CASE WHEN $4 <> '' THEN $4 ELSE intent_id END,
			version=version+1,
			updated_at=$5
		WHERE booking_id=$6 AND state=$7 AND version=$8`,
		mut.State, fee, payout, mut.IntentID, time.Now(), bookingID, expectState, expectVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM escrow_transactions WHERE booking_id=$1)`, bookingID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) CreateIncident(ctx context.Context, rec *models.IncidentRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO incidents(id, booking_id, triggered_by, reason, emergency_number, contact_notified, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.BookingID, string(rec.TriggeredBy), rec.Reason, rec.EmergencyNumber, rec.ContactNotified, rec.CreatedAt)
	return err
}
