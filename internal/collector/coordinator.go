// Package collector es la máquina de sync offline-first del dispositivo de campo.
// Todo evento se guarda local antes de tocar la red; la sincronización
// corre en ciclos single-flight y nunca pierde un evento capturado.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"herb-trace/internal/domain/collections"
	"herb-trace/internal/platform/logger"
)

const DefaultSyncInterval = 15 * time.Minute

var (
	ErrOffline  = errors.New("device is offline")
	ErrInFlight = errors.New("event push already in flight")
	ErrNotRetry = errors.New("only failed or pending events can be retried")
)

// Motivos por los que un ciclo no corrió.
const (
	SkipInProgress = "in_progress"
	SkipOffline    = "offline"
)

type SyncReport struct {
	Attempted int    `json:"attempted"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Skipped   string `json:"skipped,omitempty"`
}

type Options struct {
	Store        LocalStore
	Pusher       Pusher
	Connectivity Connectivity
	// nil => reglas por defecto. Se corre local para mostrar el score sin red.
	Normalizer *collections.Normalizer
	Interval   time.Duration
	Logger     logger.Logger
}

// Coordinator guarda el estado de sync de un dispositivo. No hay estado global:
// dos coordinators (p.ej. en tests) no se pisan.
type Coordinator struct {
	store      LocalStore
	pusher     Pusher
	conn       Connectivity
	normalizer *collections.Normalizer
	interval   time.Duration
	log        logger.Logger
	now        func() time.Time

	syncing  atomic.Bool
	inflight sync.Map // eventId -> struct{}
}

func New(opts Options) *Coordinator {
	if opts.Normalizer == nil {
		opts.Normalizer = collections.NewNormalizer(nil)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultSyncInterval
	}
	if opts.Connectivity == nil {
		opts.Connectivity = NewStaticConnectivity(true)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		store:      opts.Store,
		pusher:     opts.Pusher,
		conn:       opts.Connectivity,
		normalizer: opts.Normalizer,
		interval:   opts.Interval,
		log:        log.With(map[string]any{"component": "sync-coordinator"}),
		now:        time.Now,
	}
}

// WithClock se usa en tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Capture valida, guarda local como pending y, si hay red, intenta subirlo.
// Una falla de push no es error de Capture: el evento ya quedó guardado.
func (c *Coordinator) Capture(ctx context.Context, sub collections.Submission) (collections.Event, error) {
	ev, err := c.normalizer.FromAPI(sub)
	if err != nil {
		return collections.Event{}, err
	}
	if err := c.store.Save(ctx, ev); err != nil {
		return collections.Event{}, fmt.Errorf("save local event: %w", err)
	}
	c.log.Info("event captured", map[string]any{"eventId": ev.ID, "qualityScore": ev.QualityScore})

	if !c.conn.Online(ctx) {
		return ev, nil
	}
	// Si el push falla el evento queda failed y el próximo ciclo lo levanta.
	pushed, err := c.PushEvent(ctx, ev.ID)
	if err != nil && pushed.ID == "" {
		return ev, nil
	}
	return pushed, nil
}

// PushEvent sube un evento: pending|failed -> uploading -> synced|failed.
// Synced es terminal; pushear uno synced no hace nada.
func (c *Coordinator) PushEvent(ctx context.Context, eventID string) (collections.Event, error) {
	if _, busy := c.inflight.LoadOrStore(eventID, struct{}{}); busy {
		return collections.Event{}, ErrInFlight
	}
	defer c.inflight.Delete(eventID)

	ev, err := c.store.Get(ctx, eventID)
	if err != nil {
		return collections.Event{}, err
	}
	if ev.Status == collections.StatusSynced {
		return ev, nil
	}

	if err := ev.MarkUploading(c.now().UTC()); err != nil {
		return ev, err
	}
	if err := c.store.Save(ctx, ev); err != nil {
		return ev, fmt.Errorf("save local event: %w", err)
	}

	res, err := c.pusher.Push(ctx, ev)
	if err != nil {
		ev.MarkFailed(err.Error(), c.now().UTC())
		if serr := c.store.Save(ctx, ev); serr != nil {
			return ev, errors.Join(err, fmt.Errorf("save local event: %w", serr))
		}
		fields := map[string]any{"eventId": ev.ID, "retryCount": ev.RetryCount, "error": err}
		if permanent(err) {
			c.log.Warn("server rejected event", fields)
		} else {
			c.log.Info("push failed, will retry next cycle", fields)
		}
		return ev, err
	}

	tx := strings.TrimSpace(res.LedgerTxID)
	if tx == "" {
		tx = PendingAnchor
	}
	if err := ev.MarkSynced(tx, res.LedgerBlockHash, c.now().UTC()); err != nil {
		return ev, err
	}
	if err := c.store.Save(ctx, ev); err != nil {
		return ev, fmt.Errorf("save local event: %w", err)
	}
	return ev, nil
}

// RetryEvent es el reintento manual de un evento failed (o pending).
func (c *Coordinator) RetryEvent(ctx context.Context, eventID string) (collections.Event, error) {
	ev, err := c.store.Get(ctx, eventID)
	if err != nil {
		return collections.Event{}, err
	}
	if ev.Status != collections.StatusFailed && ev.Status != collections.StatusPending {
		return ev, ErrNotRetry
	}
	if !c.conn.Online(ctx) {
		return ev, ErrOffline
	}
	return c.PushEvent(ctx, eventID)
}

// SyncOnce sube todo lo pending/failed. Los uploading que quedaron de un
// crash a mitad de push también se reenvían: el servidor es idempotente
// por eventId. Un ciclo superpuesto no hace nada.
func (c *Coordinator) SyncOnce(ctx context.Context) (SyncReport, error) {
	if !c.syncing.CompareAndSwap(false, true) {
		return SyncReport{Skipped: SkipInProgress}, nil
	}
	defer c.syncing.Store(false)

	if !c.conn.Online(ctx) {
		c.log.Debug("offline, skipping sync cycle", nil)
		return SyncReport{Skipped: SkipOffline}, nil
	}

	evs, err := c.store.List(ctx, collections.StatusPending, collections.StatusFailed, collections.StatusUploading)
	if err != nil {
		return SyncReport{}, err
	}

	var rep SyncReport
	for _, ev := range evs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if _, busy := c.inflight.Load(ev.ID); busy {
			continue
		}
		rep.Attempted++
		if _, err := c.PushEvent(ctx, ev.ID); err != nil {
			if errors.Is(err, ErrInFlight) {
				rep.Attempted--
				continue
			}
			rep.Failed++
			continue
		}
		rep.Synced++
	}

	c.log.Info("sync cycle finished", map[string]any{
		"attempted": rep.Attempted,
		"synced":    rep.Synced,
		"failed":    rep.Failed,
	})
	return rep, nil
}

// Run corre un ciclo al arrancar y después cada interval, hasta que ctx se cancele.
func (c *Coordinator) Run(ctx context.Context) {
	c.runCycle(ctx)

	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.runCycle(ctx)
		}
	}
}

func (c *Coordinator) runCycle(ctx context.Context) {
	if _, err := c.SyncOnce(ctx); err != nil && ctx.Err() == nil {
		c.log.Warn("sync cycle failed", map[string]any{"error": err})
	}
}

// RefreshAnchors consulta al servidor los eventos synced con el marcador
// pending-anchor y guarda la tx real cuando ya existe.
func (c *Coordinator) RefreshAnchors(ctx context.Context) (int, error) {
	if !c.conn.Online(ctx) {
		return 0, ErrOffline
	}
	evs, err := c.store.List(ctx, collections.StatusSynced)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, ev := range evs {
		if ev.LedgerTxID != PendingAnchor {
			continue
		}
		remote, err := c.pusher.Fetch(ctx, ev.ID)
		if err != nil {
			c.log.Warn("could not refresh anchor", map[string]any{"eventId": ev.ID, "error": err})
			continue
		}
		if remote.Status != collections.StatusSynced || strings.TrimSpace(remote.LedgerTxID) == "" {
			continue
		}
		ev.LedgerTxID = remote.LedgerTxID
		ev.LedgerBlockHash = remote.LedgerBlockHash
		ev.UpdatedAt = c.now().UTC()
		if err := c.store.Save(ctx, ev); err != nil {
			return updated, fmt.Errorf("save local event: %w", err)
		}
		updated++
	}
	return updated, nil
}

// List expone la copia local (CLI).
func (c *Coordinator) List(ctx context.Context, statuses ...collections.Status) ([]collections.Event, error) {
	return c.store.List(ctx, statuses...)
}
