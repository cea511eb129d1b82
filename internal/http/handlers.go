package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/care-match/internal/booking"
	"github.com/example/care-match/internal/config"
	"github.com/example/care-match/internal/dispatch"
	"github.com/example/care-match/internal/escalation"
	"github.com/example/care-match/internal/escrow"
	"github.com/example/care-match/internal/geo"
	"github.com/example/care-match/internal/ingest"
	"github.com/example/care-match/internal/matcher"
	"github.com/example/care-match/internal/models"
	"github.com/example/care-match/internal/observability"
	"github.com/example/care-match/internal/payments"
	"github.com/example/care-match/internal/storage"
)

type Server struct {
	Geo        geo.Index
	Bookings   *booking.Service
	Matcher    *matcher.Service
	Escrow     *escrow.Service
	Escalation *escalation.Service
	Kafka      *ingest.KafkaProducer
	Verifier   payments.WebhookVerifier
	WSReg      *dispatch.WSRegistry
	Currency   string

	logger *slog.Logger
	mux    *mux.Router
}

// Stores is the persistence surface the server wires the services onto.
type Stores interface {
	storage.BookingStore
	storage.ProviderStore
	storage.CustomerStore
	storage.EscrowStore
	storage.IncidentStore
}

// NewServer wires the full service graph from config. Redis and Postgres
// are used when configured, with in-process fallbacks for local runs.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var gidx geo.Index
	if cfg.RedisAddr != "" {
		gidx = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		gidx = geo.NewGridIndex()
	}

	var stores Stores
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			stores = ps
		} else {
			logger.Error("postgres unavailable, using memory store", "error", err)
		}
	}
	if stores == nil {
		stores = storage.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	wsreg := dispatch.NewWSRegistry()
	var push dispatch.Notifier = wsreg
	if cfg.FCMEndpoint != "" {
		push = dispatch.NewFallbackNotifier(wsreg, dispatch.NewFCMNotifier(cfg.FCMEndpoint, cfg.FCMKey, nil))
	}

	m := &matcher.Service{Geo: gidx, Providers: stores, RadiusKm: cfg.MatcherRadiusKm, MaxResults: cfg.MatcherMaxResults}
	bk := &booking.Service{Store: stores, Matcher: m, Dispatch: push, Providers: stores}

	var gw escrow.Gateway
	var verifier payments.WebhookVerifier
	if cfg.StripeAPIKey != "" {
		gw = payments.NewStripeGateway(cfg.StripeAPIKey)
	}
	if cfg.StripeWebhookSecret != "" {
		verifier = &payments.StripeWebhook{Secret: cfg.StripeWebhookSecret}
	}
	es := &escrow.Service{Store: stores, Bookings: stores, Gateway: gw, FeePercent: cfg.EscrowFeePercent}

	var sms escalation.SMSSender
	if cfg.SMSEndpoint != "" {
		sms = dispatch.NewHTTPSMSSender(cfg.SMSEndpoint, cfg.SMSKey, cfg.SMSSender)
	}
	esc := &escalation.Service{
		Bookings:  bk,
		Customers: stores,
		Incidents: stores,
		Numbers:   escalation.NewNumberTable(cfg.EmergencyFacilityNumbers, cfg.EmergencyDefaultNumber),
		SMS:       sms,
		Push:      push,
		Log:       logger,
	}

	s := &Server{
		Geo:        gidx,
		Bookings:   bk,
		Matcher:    m,
		Escrow:     es,
		Escalation: esc,
		Kafka:      kp,
		Verifier:   verifier,
		WSReg:      wsreg,
		Currency:   cfg.Currency,
		logger:     logger,
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/provider/locations", s.handleProviderLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}", s.handleGetBooking).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/candidates", s.handleCandidates).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/payment", s.handleInitiatePayment).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/escrow/release", s.handleRelease).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/escrow/refund", s.handleRefund).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/escalate", s.handleEscalate).Methods("POST")
	s.mux.HandleFunc("/api/v1/payments/webhook", s.handlePaymentWebhook).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{recipient_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type locationUpdate struct {
	ProviderID string       `json:"provider_id"`
	Loc        models.Coord `json:"loc"`
}

func (s *Server) handleProviderLocation(w http.ResponseWriter, r *http.Request) {
	var u locationUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if u.ProviderID == "" || u.Loc.Lat < -90 || u.Loc.Lat > 90 || u.Loc.Lon < -180 || u.Loc.Lon > 180 {
		http.Error(w, "invalid location update", http.StatusBadRequest)
		return
	}
	// publish to kafka if configured; consumer keeps redis in sync
	if s.Kafka != nil {
		_ = s.Kafka.PublishLocation(r.Context(), ingest.LocationUpdate{ProviderID: u.ProviderID, Loc: u.Loc, ReportedAt: time.Now()})
	}
	if err := s.Geo.Upsert(r.Context(), u.ProviderID, u.Loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.ProvidersOnline.Inc()
	w.WriteHeader(http.StatusNoContent)
}

type createBookingRequest struct {
	CustomerID  string       `json:"customer_id"`
	SkillID     string       `json:"skill_id"`
	Loc         models.Coord `json:"loc"`
	Address     string       `json:"address"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	Notes       string       `json:"notes"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, cands, err := s.Bookings.Create(r.Context(), booking.CreateCommand{
		CustomerID:  req.CustomerID,
		SkillID:     req.SkillID,
		Loc:         req.Loc,
		Address:     req.Address,
		ScheduledAt: req.ScheduledAt,
		Notes:       req.Notes,
	})
	if err != nil && b == nil {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		// booking persisted but matching failed; say so explicitly
		s.writeJSON(w, http.StatusCreated, map[string]any{
			"booking":        b,
			"candidates":     []models.MatchCandidate{},
			"matching_error": "matching subsystem unavailable",
		})
		return
	}
	if cands == nil {
		cands = []models.MatchCandidate{}
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"booking": b, "candidates": cands})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.Bookings.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	cands, err := s.Bookings.Rematch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if cands == nil {
		cands = []models.MatchCandidate{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"candidates": cands})
}

type actorRequest struct {
	ProviderID string `json:"provider_id"`
	Party      string `json:"party"`
	Reason     string `json:"reason"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.providerAction(w, r, s.Bookings.Accept)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.providerAction(w, r, s.Bookings.Start)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.providerAction(w, r, s.Bookings.Complete)
}

func (s *Server) providerAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, bookingID, providerID string) error) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := fn(r.Context(), mux.Vars(r)["id"], req.ProviderID); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.Bookings.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Bookings.Cancel(r.Context(), mux.Vars(r)["id"], models.Party(req.Party), req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type initiatePaymentRequest struct {
	OrderRef string `json:"order_ref"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = s.Currency
	}
	tx, err := s.Escrow.Initiate(r.Context(), mux.Vars(r)["id"], req.OrderRef, models.Money{Amount: req.Amount, Currency: currency})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if s.Verifier == nil {
		http.Error(w, "webhook verification not configured", http.StatusServiceUnavailable)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	conf, err := s.Verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrSignatureMismatch) {
			observability.WebhookRejections.Inc()
		}
		s.writeError(w, r, err)
		return
	}
	if conf == nil {
		// event type the ledger does not track
		w.WriteHeader(http.StatusOK)
		return
	}
	tx, duplicate, err := s.Escrow.Confirm(r.Context(), conf.OrderRef, conf.Succeeded)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transaction": tx, "duplicate": duplicate})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	tx, err := s.Escrow.Release(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	tx, err := s.Escrow.Refund(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.Escalation.Trigger(r.Context(), escalation.Request{
		BookingID: mux.Vars(r)["id"],
		By:        models.Party(req.Party),
		Reason:    req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["recipient_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the service error taxonomy onto HTTP statuses so
// callers can tell "not found" from "wrong state" from "upstream broken".
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, escrow.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, booking.ErrInvalidState), errors.Is(err, escrow.ErrInvalidState), errors.Is(err, escrow.ErrNotReleasable), errors.Is(err, booking.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, booking.ErrValidation), errors.Is(err, escrow.ErrValidation), errors.Is(err, matcher.ErrValidation), errors.Is(err, payments.ErrSignatureMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, matcher.ErrGeoUnavailable), errors.Is(err, escrow.ErrGateway), errors.Is(err, geo.ErrQueryFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	http.Error(w, err.Error(), status)
}
