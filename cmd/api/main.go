// @title herb-trace API
// @version 1.0
// @description Ingesta de recolecciones de campo (API y SMS), validación, quality score y anclaje en ledger.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"herb-trace/internal/adapters/auth/idp"
	"herb-trace/internal/adapters/auth/jwtauth"
	"herb-trace/internal/adapters/ledger/memledger"
	"herb-trace/internal/adapters/ledger/restgw"
	pg "herb-trace/internal/adapters/storage/postgres"
	rds "herb-trace/internal/adapters/storage/redis"
	"herb-trace/internal/domain/anchoring"
	"herb-trace/internal/domain/audit"
	"herb-trace/internal/domain/ratelimit"
	"herb-trace/internal/domain/validation"
	"herb-trace/internal/platform/config"
	"herb-trace/internal/platform/logger"
	"herb-trace/internal/ports/auth"
	"herb-trace/internal/ports/ledger"
	"herb-trace/internal/router"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	log := logger.NewFromEnv().With(map[string]any{"component": "api"})
	if err := run(log); err != nil {
		log.Error("fatal", map[string]any{"error": err})
		os.Exit(1)
	}
}

func run(log logger.Logger) error {
	cfg, err := config.LoadAPI()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DBDSN != "" {
		db, err = pg.Open(cfg.DBDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := pg.Migrate(ctx, db); err != nil {
			return err
		}
		log.Info("using postgres storage", nil)
	} else {
		log.Warn("DB_DSN not set, using in-memory storage", nil)
	}

	var rdb goredis.UniversalClient
	if cfg.RedisAddr != "" {
		client := rds.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer client.Close()
		// Sin Redis el governor admite igual (fail-open); solo avisamos.
		if err := rds.NewCounterStore(client, "").Ping(ctx); err != nil {
			log.Warn("redis unreachable at startup", map[string]any{"addr": cfg.RedisAddr, "error": err})
		}
		rdb = client
	}

	var verifier auth.AuthVerifier
	switch {
	case cfg.JWTSecret != "":
		verifier = jwtauth.NewVerifier(jwtauth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	case cfg.IDPURL != "":
		v, err := idp.NewVerifier(idp.Config{BaseURL: cfg.IDPURL, APIKey: cfg.IDPAPIKey})
		if err != nil {
			return err
		}
		verifier = v
	default:
		log.Warn("no JWT_SECRET or IDP_URL, running in dev auth mode (X-Debug-User-ID)", nil)
	}

	engine := validation.NewEngine(validation.DefaultRules())
	if cfg.RulesFile != "" {
		rules, err := validation.LoadRules(cfg.RulesFile)
		if err != nil {
			return err
		}
		engine = validation.NewEngine(rules)
	}

	gateway, err := newGateway(cfg)
	if err != nil {
		return err
	}

	stores := router.NewStores(db, rdb)
	retry := anchoring.RetryPolicy{MaxAttempts: cfg.JobMaxAttempts, Backoff: cfg.JobBackoff}

	handler := router.NewRouter(router.Options{
		AuthVerifier: verifier,
		Stores:       &stores,
		Logger:       log,
		Engine:       engine,
		Policies: ratelimit.Policies{
			ratelimit.RouteAPI:  {Max: cfg.RateAPIMax, Window: cfg.RateAPIWindow},
			ratelimit.RouteAuth: {Max: cfg.RateAuthMax, Window: cfg.RateAuthWindow},
			ratelimit.RouteSMS:  {Max: cfg.RateSMSMax, Window: cfg.RateSMSWindow},
		},
		RetryPolicy:       retry,
		DefaultMaxRetries: cfg.RetrySweepMax,
	})

	recorder := audit.NewRecorder(stores.Audit)
	pool := anchoring.NewPool(anchoring.PoolConfig{
		Concurrency:   cfg.WorkerConcurrency,
		PollInterval:  cfg.WorkerPollEvery,
		SubmitTimeout: cfg.LedgerTimeout,
		SubmitRPS:     cfg.LedgerRPS,
		StallInterval: cfg.StallInterval,
		MaxStalls:     cfg.MaxStalls,
		Chaincode:     cfg.LedgerChaincode,
		Function:      cfg.LedgerFunction,
	}, anchoring.PoolDeps{
		Queue:   stores.Queue,
		Events:  stores.Events,
		Gateway: gateway,
		Audit:   recorder,
		Logger:  log,
	})
	// El pool no hereda ctx: se detiene explícitamente después del server.
	if err := pool.Start(context.Background()); err != nil {
		return err
	}

	if cfg.RetrySweepInterval > 0 {
		sweeper := anchoring.NewSweeper(stores.Events, anchoring.NewScheduler(stores.Queue, retry), recorder, log)
		go sweeper.Run(ctx, cfg.RetrySweepInterval, cfg.RetrySweepMax)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested", nil)
	case err := <-errCh:
		if err != nil {
			log.Error("server error", map[string]any{"error": err})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Primero dejamos de aceptar requests, después drenamos el pool.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", map[string]any{"error": err})
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		return err
	}
	log.Info("bye", nil)
	return nil
}

func newGateway(cfg config.API) (ledger.Gateway, error) {
	if cfg.LedgerGatewayURL == "" {
		return memledger.New(), nil
	}
	c, err := restgw.NewClient(restgw.Config{
		BaseURL: cfg.LedgerGatewayURL,
		APIKey:  cfg.LedgerAPIKey,
		Timeout: cfg.LedgerTimeout,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
