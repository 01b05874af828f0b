package anchoring

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"herb-trace/internal/domain/audit"
	"herb-trace/internal/domain/collections"
	"herb-trace/internal/platform/apperr"
	"herb-trace/internal/platform/logger"
	"herb-trace/internal/ports/ledger"
)

var ErrPoolRunning = errors.New("worker pool already running")

type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration

	// Cada submit al ledger corre con este timeout; vencido = falla transitoria.
	SubmitTimeout time.Duration
	// 0 = sin throttle.
	SubmitRPS float64

	StallInterval     time.Duration
	HeartbeatInterval time.Duration
	MaxStalls         int

	Chaincode string
	Function  string
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.StallInterval <= 0 {
		c.StallInterval = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.StallInterval {
		c.HeartbeatInterval = c.StallInterval / 3
	}
	if c.MaxStalls < 0 {
		c.MaxStalls = 0
	}
	if c.Chaincode == "" {
		c.Chaincode = "herbtrace"
	}
	if c.Function == "" {
		c.Function = "RecordCollectionEvent"
	}
	return c
}

type PoolDeps struct {
	Queue   Queue
	Events  collections.Repository
	Gateway ledger.Gateway
	Audit   collections.AuditRecorder
	Logger  logger.Logger
}

// Pool: N workers que reclaman jobs, anclan el evento y deciden retry/terminal.
type Pool struct {
	cfg      PoolConfig
	instance string
	queue    Queue
	events   collections.Repository
	gateway  ledger.Gateway
	audit    collections.AuditRecorder
	limiter  *rate.Limiter
	log      logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(cfg PoolConfig, deps PoolDeps) *Pool {
	cfg = cfg.withDefaults()
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	p := &Pool{
		cfg:      cfg,
		instance: uuid.NewString()[:8],
		queue:    deps.Queue,
		events:   deps.Events,
		gateway:  deps.Gateway,
		audit:    deps.Audit,
		log:      log.With(map[string]any{"component": "anchoring-pool"}),
		now:      time.Now,
	}
	if cfg.SubmitRPS > 0 {
		burst := int(cfg.SubmitRPS)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRPS), burst)
	}
	return p
}

// WithClock se usa en tests.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.now = now
	return p
}

// Start conecta el gateway y lanza los workers + el reaper de stalls.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrPoolRunning
	}

	if err := p.gateway.Connect(ctx); err != nil {
		return &apperr.TransientLedgerError{Op: "connect", Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := p.workerName(i)
		p.wg.Add(1)
		go p.work(runCtx, workerID)
	}
	p.wg.Add(1)
	go p.reap(runCtx)

	p.log.Info("worker pool started", map[string]any{
		"concurrency":   p.cfg.Concurrency,
		"stallInterval": p.cfg.StallInterval.String(),
	})
	return nil
}

// Stop deja de reclamar jobs, espera a que terminen los activos y recién
// ahí libera la conexión al ledger. Si ctx vence antes, no desconecta:
// los jobs activos quedan para el reaper de otro proceso.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.log.Error("drain timed out, active jobs left for stall recovery", map[string]any{"error": ctx.Err()})
		return fmt.Errorf("drain worker pool: %w", ctx.Err())
	}

	if err := p.gateway.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect ledger: %w", err)
	}
	p.log.Info("worker pool stopped", nil)
	return nil
}

func (p *Pool) work(ctx context.Context, workerID string) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.ProcessOne(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			p.log.Warn("claim failed", map[string]any{"workerId": workerID, "error": err})
		}
		if processed {
			continue
		}
		t := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (p *Pool) reap(ctx context.Context) {
	defer p.wg.Done()

	t := time.NewTicker(p.cfg.StallInterval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.RecoverStalled(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("stall recovery failed", map[string]any{"error": err})
			}
		}
	}
}

// ProcessOne reclama y procesa un job. false si no había ninguno listo.
// El procesamiento no se corta al cancelar ctx (drain).
func (p *Pool) ProcessOne(ctx context.Context, workerID string) (bool, error) {
	job, err := p.queue.Claim(ctx, workerID, p.now().UTC())
	if errors.Is(err, ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	jobCtx := context.WithoutCancel(ctx)
	stop := p.heartbeat(jobCtx, job.ID, workerID)
	defer stop()

	p.process(jobCtx, job, workerID)
	return true, nil
}

func (p *Pool) heartbeat(ctx context.Context, jobID, workerID string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(p.cfg.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := p.queue.Heartbeat(ctx, jobID, workerID, p.now().UTC()); err != nil {
					p.log.Warn("heartbeat failed", map[string]any{"jobId": jobID, "workerId": workerID, "error": err})
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (p *Pool) process(ctx context.Context, job Job, workerID string) {
	log := p.log.With(map[string]any{
		"jobId":    job.ID,
		"workerId": workerID,
		"attempt":  job.Attempts + 1,
	})

	payload, ok := job.Payload.(AnchorEventPayload)
	if !ok {
		p.settle(log, p.queue.Bury(ctx, job.ID, workerID, "unsupported payload", p.now().UTC()))
		return
	}

	ev, err := p.events.GetByID(ctx, payload.EventID)
	switch {
	case errors.Is(err, collections.ErrNotFound):
		log.Error("event not found, burying job", nil)
		p.settle(log, p.queue.Bury(ctx, job.ID, workerID, "event not found", p.now().UTC()))
		return
	case err != nil:
		p.retryOrFail(ctx, log, job, workerID, fmt.Errorf("load event: %w", err))
		return
	}

	// Ya anclado: no-op idempotente.
	if ev.Status == collections.StatusSynced {
		log.Debug("event already synced, completing job", nil)
		p.settle(log, p.queue.Complete(ctx, job.ID, workerID, p.now().UTC()))
		return
	}

	if err := ev.CheckAnchorable(); err != nil {
		p.reject(ctx, log, job, workerID, ev, err)
		return
	}
	args, err := BuildArgs(ev)
	if err != nil {
		p.reject(ctx, log, job, workerID, ev, err)
		return
	}

	if err := ev.MarkUploading(p.now().UTC()); err != nil {
		p.settle(log, p.queue.Complete(ctx, job.ID, workerID, p.now().UTC()))
		return
	}
	if !p.owns(ctx, log, job, workerID) {
		return
	}
	if err := p.events.Update(ctx, ev); err != nil {
		if errors.Is(err, collections.ErrAlreadySynced) {
			p.completeSynced(ctx, log, job, workerID)
			return
		}
		p.retryOrFail(ctx, log, job, workerID, fmt.Errorf("mark uploading: %w", err))
		return
	}

	res, err := p.submit(ctx, args)
	if err != nil {
		if !p.owns(ctx, log, job, workerID) {
			return
		}
		ev.MarkFailed(err.Error(), p.now().UTC())
		uerr := p.events.Update(ctx, ev)
		switch {
		case errors.Is(uerr, collections.ErrAlreadySynced):
			p.completeSynced(ctx, log, job, workerID)
			return
		case uerr != nil:
			log.Error("could not record failed attempt on event", map[string]any{"error": uerr})
		}
		p.record(ctx, ev.ID, audit.ActionSyncFailed,
			"attempt "+strconv.Itoa(job.Attempts+1)+"/"+strconv.Itoa(job.MaxAttempts)+": "+err.Error())
		p.retryOrFail(ctx, log, job, workerID, err)
		return
	}

	if err := ev.MarkSynced(res.TxID, res.BlockHash, p.now().UTC()); err != nil {
		p.retryOrFail(ctx, log, job, workerID, err)
		return
	}
	if !p.owns(ctx, log, job, workerID) {
		return
	}
	if err := p.events.Update(ctx, ev); err != nil {
		if errors.Is(err, collections.ErrAlreadySynced) {
			p.completeSynced(ctx, log, job, workerID)
			return
		}
		// El ledger ya tiene la tx; el chaincode usa eventId como clave.
		p.retryOrFail(ctx, log, job, workerID, fmt.Errorf("mark synced: %w", err))
		return
	}
	p.record(ctx, ev.ID, audit.ActionSynced, "txId="+res.TxID)
	p.settle(log, p.queue.Complete(ctx, job.ID, workerID, p.now().UTC()))
	log.Info("event anchored", map[string]any{"eventId": ev.ID, "txId": res.TxID})
}

func (p *Pool) submit(ctx context.Context, args []string) (ledger.SubmitResult, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return ledger.SubmitResult{}, &apperr.TransientLedgerError{Op: "throttle", Err: err}
		}
	}

	subCtx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
	defer cancel()

	res, err := p.gateway.SubmitTransaction(subCtx, p.cfg.Chaincode, p.cfg.Function, args)
	if err == nil && strings.TrimSpace(res.TxID) == "" {
		err = errors.New("gateway returned empty tx id")
	}
	if err != nil {
		return ledger.SubmitResult{}, &apperr.TransientLedgerError{Op: "submit", Err: err}
	}
	return res, nil
}

// retryOrFail aplica la política del job: backoff o terminal.
func (p *Pool) retryOrFail(ctx context.Context, log logger.Logger, job Job, workerID string, cause error) {
	now := p.now().UTC()
	failures := job.Attempts + 1

	if job.Exhausted() {
		term := &apperr.TerminalAnchoringError{EventID: job.ID, Attempts: failures, Err: cause}
		p.settle(log, p.queue.Fail(ctx, job.ID, workerID, cause.Error(), now))
		p.record(ctx, job.ID, audit.ActionRetryExhausted, term.Error())
		log.Error("anchoring failed terminally", map[string]any{"error": term})
		return
	}

	policy := RetryPolicy{MaxAttempts: job.MaxAttempts, Backoff: job.Backoff}.normalized()
	delay := policy.Delay(failures)
	p.settle(log, p.queue.Retry(ctx, job.ID, workerID, cause.Error(), now.Add(delay)))
	log.Warn("anchoring attempt failed, will retry", map[string]any{
		"retryIn": delay.String(),
		"error":   cause,
	})
}

// reject: el evento no es anclable. Terminal, sin consumir intentos.
func (p *Pool) reject(ctx context.Context, log logger.Logger, job Job, workerID string, ev collections.Event, cause error) {
	if !p.owns(ctx, log, job, workerID) {
		return
	}
	ev.MarkFailedWithoutRetry("rejected: "+cause.Error(), p.now().UTC())
	if err := p.events.Update(ctx, ev); err != nil {
		if errors.Is(err, collections.ErrAlreadySynced) {
			p.completeSynced(ctx, log, job, workerID)
			return
		}
		log.Error("could not record rejection on event", map[string]any{"error": err})
	}
	term := &apperr.TerminalAnchoringError{EventID: ev.ID, Attempts: job.Attempts, Err: cause}
	p.record(ctx, ev.ID, audit.ActionRejected, cause.Error())
	p.settle(log, p.queue.Bury(ctx, job.ID, workerID, cause.Error(), p.now().UTC()))
	log.Error("event rejected at anchoring time", map[string]any{"error": term})
}

// RecoverStalled devuelve a waiting los jobs sin heartbeat reciente.
// Los que superan MaxStalls quedan terminales y el evento pasa a failed.
func (p *Pool) RecoverStalled(ctx context.Context) (int, error) {
	now := p.now().UTC()
	jobs, err := p.queue.RecoverStalled(ctx, now.Add(-p.cfg.StallInterval), p.cfg.MaxStalls, now)
	if err != nil {
		return 0, err
	}

	for _, j := range jobs {
		fields := map[string]any{"jobId": j.ID, "stallCount": j.StallCount}
		if j.State != StateFailed {
			p.log.Warn("stalled job returned to waiting", fields)
			p.record(ctx, j.ID, audit.ActionStalled, "stall "+strconv.Itoa(j.StallCount))
			continue
		}

		p.log.Error("stalled job exceeded max stalls", fields)
		p.record(ctx, j.ID, audit.ActionRetryExhausted, "stalled "+strconv.Itoa(j.StallCount)+" time(s)")
		if ap, ok := j.Payload.(AnchorEventPayload); ok {
			p.failStalledEvent(ctx, ap.EventID, now)
		}
	}
	return len(jobs), nil
}

func (p *Pool) failStalledEvent(ctx context.Context, eventID string, now time.Time) {
	ev, err := p.events.GetByID(ctx, eventID)
	if err != nil || ev.Status == collections.StatusSynced {
		return
	}
	ev.MarkFailedWithoutRetry("worker stalled", now)
	if err := p.events.Update(ctx, ev); err != nil {
		p.log.Error("could not mark stalled event failed", map[string]any{"eventId": eventID, "error": err})
	}
}

// owns renueva el lock antes de escribir el evento. Si el reaper le pasó el
// job a otro worker, la escritura se descarta: el dueño actual decide.
func (p *Pool) owns(ctx context.Context, log logger.Logger, job Job, workerID string) bool {
	err := p.queue.Heartbeat(ctx, job.ID, workerID, p.now().UTC())
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrJobLost):
		log.Warn("job lost to stall recovery, dropping event write", nil)
		return false
	default:
		// Update igual rechaza pisar un synced.
		log.Warn("ownership check failed", map[string]any{"error": err})
		return true
	}
}

// completeSynced: otro intento ya ancló el evento; el job termina sin tocarlo.
func (p *Pool) completeSynced(ctx context.Context, log logger.Logger, job Job, workerID string) {
	log.Warn("event synced by another attempt, dropping stale write", nil)
	p.settle(log, p.queue.Complete(ctx, job.ID, workerID, p.now().UTC()))
}

func (p *Pool) settle(log logger.Logger, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrJobLost):
		log.Warn("job lost to stall recovery", nil)
	default:
		log.Error("queue update failed", map[string]any{"error": err})
	}
}

func (p *Pool) record(ctx context.Context, eventID string, action audit.Action, detail string) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Record(ctx, eventID, action, audit.ActorWorker, detail); err != nil {
		p.log.Warn("audit append failed", map[string]any{"eventId": eventID, "action": string(action), "error": err})
	}
}

// workerName es único entre procesos: el lock del job se valida contra él.
func (p *Pool) workerName(i int) string {
	return p.instance + "-worker-" + strconv.Itoa(i+1)
}
