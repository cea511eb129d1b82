package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/care-match/internal/escalation"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	MatcherRadiusKm   float64
	MatcherMaxResults int

	EscrowFeePercent int64
	Currency         string

	StripeAPIKey        string
	StripeWebhookSecret string

	FCMEndpoint string
	FCMKey      string

	SMSEndpoint string
	SMSKey      string
	SMSSender   string

	EmergencyDefaultNumber   string
	EmergencyFacilityNumbers []escalation.FacilityNumber // configured order is precedence

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:               ":8080",
		ReadTimeout:            5 * time.Second,
		WriteTimeout:           10 * time.Second,
		IdleTimeout:            120 * time.Second,
		ShutdownTimeout:        15 * time.Second,
		RedisGeoKey:            "providers_geo",
		KafkaTopic:             "provider-locations",
		MatcherRadiusKm:        10,
		MatcherMaxResults:      50,
		EscrowFeePercent:       10,
		Currency:               "LKR",
		EmergencyDefaultNumber: "1990",
		LogLevel:               "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.MatcherRadiusKm, "MATCHER_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.MatcherMaxResults, "MATCHER_MAX_RESULTS", &errs)
	setInt64FromEnv(&cfg.EscrowFeePercent, "ESCROW_FEE_PERCENT", &errs)
	setStringFromEnv(&cfg.Currency, "CURRENCY")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")

	setStringFromEnv(&cfg.FCMEndpoint, "FCM_ENDPOINT")
	cfg.FCMKey = os.Getenv("FCM_KEY")

	setStringFromEnv(&cfg.SMSEndpoint, "SMS_ENDPOINT")
	cfg.SMSKey = os.Getenv("SMS_KEY")
	setStringFromEnv(&cfg.SMSSender, "SMS_SENDER")

	setStringFromEnv(&cfg.EmergencyDefaultNumber, "EMERGENCY_DEFAULT_NUMBER")
	if v := os.Getenv("EMERGENCY_FACILITY_NUMBERS"); v != "" {
		table, err := escalation.ParseFacilityNumbers(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid EMERGENCY_FACILITY_NUMBERS: %w", err))
		}
		cfg.EmergencyFacilityNumbers = table
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MatcherMaxResults <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_MAX_RESULTS must be > 0"))
	}
	if cfg.MatcherRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_RADIUS_KM must be > 0"))
	}
	if cfg.EscrowFeePercent < 0 || cfg.EscrowFeePercent > 100 {
		errs = append(errs, fmt.Errorf("ESCROW_FEE_PERCENT must be in [0,100]"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
