package router

import (
	"database/sql"
	"net/http"

	mem "herb-trace/internal/adapters/storage/memory"
	pg "herb-trace/internal/adapters/storage/postgres"
	rds "herb-trace/internal/adapters/storage/redis"
	"herb-trace/internal/domain/anchoring"
	"herb-trace/internal/domain/audit"
	"herb-trace/internal/domain/collections"
	"herb-trace/internal/domain/ratelimit"
	"herb-trace/internal/domain/validation"
	"herb-trace/internal/middleware"
	"herb-trace/internal/platform/logger"
	"herb-trace/internal/ports/auth"

	_ "herb-trace/docs"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Stores agrupa la persistencia. main la comparte con el pool de anclaje.
type Stores struct {
	Events   collections.Repository
	Audit    audit.Repository
	Queue    anchoring.Queue
	Counters ratelimit.CounterStore
}

// NewStores: Postgres si hay db, Redis si hay cliente; si no, in-memory.
func NewStores(db *sql.DB, rdb goredis.UniversalClient) Stores {
	var s Stores
	if db != nil {
		s.Events = pg.NewCollectionsRepo(db)
		s.Audit = pg.NewAuditRepo(db)
		s.Queue = pg.NewJobQueue(db)
	} else {
		s.Events = mem.NewCollectionRepo()
		s.Audit = mem.NewAuditRepo()
		s.Queue = mem.NewJobQueue()
	}
	if rdb != nil {
		s.Counters = rds.NewCounterStore(rdb, "herb-trace:")
	} else {
		s.Counters = mem.NewCounterStore()
	}
	return s
}

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: si viene, se usa tal cual. Si no, se arma con DB/Redis.
	Stores *Stores
	DB     *sql.DB
	Redis  goredis.UniversalClient

	Logger      logger.Logger
	Engine      *validation.Engine    // nil => reglas por defecto
	Policies    ratelimit.Policies    // nil => DefaultPolicies
	RetryPolicy anchoring.RetryPolicy // cero => DefaultRetryPolicy

	// maxRetries de POST /admin/retry-failed cuando el body no lo trae.
	DefaultMaxRetries int
}

func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(log))
	r.Use(middleware.RequestLog(log))

	r.Use(middleware.AuthContext(opts.AuthVerifier))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	stores := opts.Stores
	if stores == nil {
		s := NewStores(opts.DB, opts.Redis)
		stores = &s
	}

	// Services por módulo
	recorder := audit.NewRecorder(stores.Audit)
	scheduler := anchoring.NewScheduler(stores.Queue, opts.RetryPolicy)
	collectionsSvc := collections.NewService(
		stores.Events,
		collections.NewNormalizer(opts.Engine),
		scheduler,
		recorder,
		log,
	)
	sweeper := anchoring.NewSweeper(stores.Events, scheduler, recorder, log)
	governor := ratelimit.NewGovernor(stores.Counters, opts.Policies, log)

	maxRetries := opts.DefaultMaxRetries
	if maxRetries <= 0 {
		maxRetries = anchoring.DefaultSweepMaxRetries
	}

	// Rutas por módulo, cada grupo con su ventana de rate limit
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(governor, ratelimit.RouteAPI))
		collections.RegisterRoutes(r, collectionsSvc)
		anchoring.RegisterAdminRoutes(r, &anchoring.Admin{
			Sweeper:           sweeper,
			Scheduler:         scheduler,
			Events:            stores.Events,
			Audit:             recorder,
			DefaultMaxRetries: maxRetries,
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(governor, ratelimit.RouteSMS))
		collections.RegisterSMSRoutes(r, collectionsSvc)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(governor, ratelimit.RouteAuth))
		r.Post("/auth/verify", verifyTokenHandler(opts.AuthVerifier))
	})

	return r
}
