package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// API es la configuración del servidor de ingesta + pool de anclaje.
type API struct {
	Port string `env:"PORT" envDefault:"8080"`

	// Vacío => repos in-memory (modo dev).
	DBDSN string `env:"DB_DSN"`

	// Vacío => contadores in-memory (un solo proceso).
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Vacío => modo dev (X-Debug-User-ID).
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER"`

	// Introspección contra un IdP externo; solo si no hay JWT_SECRET.
	IDPURL    string `env:"IDP_URL"`
	IDPAPIKey string `env:"IDP_API_KEY"`

	// Vacío => ledger in-process.
	LedgerGatewayURL string        `env:"LEDGER_GATEWAY_URL"`
	LedgerAPIKey     string        `env:"LEDGER_API_KEY"`
	LedgerChaincode  string        `env:"LEDGER_CHAINCODE" envDefault:"herbtrace"`
	LedgerFunction   string        `env:"LEDGER_FUNCTION" envDefault:"RecordCollectionEvent"`
	LedgerTimeout    time.Duration `env:"LEDGER_TIMEOUT" envDefault:"30s"`
	LedgerRPS        float64       `env:"LEDGER_RPS" envDefault:"20"`

	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	WorkerPollEvery   time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
	JobMaxAttempts    int           `env:"JOB_MAX_ATTEMPTS" envDefault:"3"`
	JobBackoff        time.Duration `env:"JOB_BACKOFF" envDefault:"5s"`
	StallInterval     time.Duration `env:"STALL_INTERVAL" envDefault:"30s"`
	MaxStalls         int           `env:"MAX_STALLS" envDefault:"1"`

	RetrySweepMax      int           `env:"RETRY_SWEEP_MAX" envDefault:"10"`
	RetrySweepInterval time.Duration `env:"RETRY_SWEEP_INTERVAL" envDefault:"0s"`

	RateAPIMax     int64         `env:"RATE_API_MAX" envDefault:"100"`
	RateAPIWindow  time.Duration `env:"RATE_API_WINDOW" envDefault:"15m"`
	RateAuthMax    int64         `env:"RATE_AUTH_MAX" envDefault:"10"`
	RateAuthWindow time.Duration `env:"RATE_AUTH_WINDOW" envDefault:"15m"`
	RateSMSMax     int64         `env:"RATE_SMS_MAX" envDefault:"20"`
	RateSMSWindow  time.Duration `env:"RATE_SMS_WINDOW" envDefault:"1m"`

	// YAML opcional con geocercas/temporadas; vacío => reglas por defecto.
	RulesFile string `env:"RULES_FILE"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Collector es la configuración del dispositivo de campo.
type Collector struct {
	DBPath       string        `env:"COLLECTOR_DB" envDefault:"collector.db"`
	APIURL       string        `env:"COLLECTOR_API_URL" envDefault:"http://localhost:8080"`
	Token        string        `env:"COLLECTOR_TOKEN"`
	DebugUserID  string        `env:"COLLECTOR_DEBUG_USER"`
	SubmitterID  string        `env:"COLLECTOR_SUBMITTER"`
	SyncInterval time.Duration `env:"COLLECTOR_SYNC_INTERVAL" envDefault:"15m"`
	HTTPTimeout  time.Duration `env:"COLLECTOR_HTTP_TIMEOUT" envDefault:"20s"`
	RulesFile    string        `env:"RULES_FILE"`
}

// ParseEnv carga target desde variables de entorno.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func LoadAPI() (API, error) {
	var cfg API
	if err := ParseEnv(&cfg); err != nil {
		return API{}, err
	}
	if cfg.WorkerConcurrency <= 0 {
		return API{}, fmt.Errorf("WORKER_CONCURRENCY must be > 0, got %d", cfg.WorkerConcurrency)
	}
	if cfg.JobMaxAttempts <= 0 {
		return API{}, fmt.Errorf("JOB_MAX_ATTEMPTS must be > 0, got %d", cfg.JobMaxAttempts)
	}
	return cfg, nil
}

func LoadCollector() (Collector, error) {
	var cfg Collector
	if err := ParseEnv(&cfg); err != nil {
		return Collector{}, err
	}
	return cfg, nil
}
