// Package poller asks the coordinator for work while this host is registered
// and hands each work item to the dispatcher on its own goroutine.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"andyhost/internal/membership"
	"andyhost/internal/metrics"
	"andyhost/internal/pool"
	"andyhost/internal/retry"
	"andyhost/pkg/types"
)

// Defaults applied when Config fields are unset.
const (
	DefaultPollInterval = time.Second
	DefaultIdleInterval = 5 * time.Second
)

// Membership exposes the identity snapshot and the 404 signal.
type Membership interface {
	Snapshot() membership.Snapshot
	Invalidate(hostID string)
}

// Catalog lists the enabled model names.
type Catalog interface {
	Names(ctx context.Context) []string
}

// Source polls the coordinator; a nil item means no work.
type Source interface {
	PollWork(ctx context.Context, hostID string, models []string) (*types.WorkItem, error)
}

// Handler executes and reports one work item.
type Handler interface {
	Handle(ctx context.Context, item types.WorkItem) types.WorkResult
}

// Config tunes the poll loop.
type Config struct {
	// PollInterval is the minimum spacing between two polls.
	PollInterval time.Duration
	// IdleInterval is the sleep while unregistered or without models.
	IdleInterval time.Duration
	// Backoff supplies the delay after consecutive poll errors.
	Backoff retry.Policy
}

// Poller is the work polling loop.
type Poller struct {
	members Membership
	catalog Catalog
	source  Source
	handler Handler
	cfg     Config
	limiter *rate.Limiter
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// New builds a poller.
func New(m Membership, cat Catalog, src Source, h Handler, cfg Config, log zerolog.Logger) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.Backoff.Delay <= 0 {
		cfg.Backoff = retry.Exponential(0, cfg.PollInterval, 30*time.Second)
	}
	return &Poller{
		members: m,
		catalog: cat,
		source:  src,
		handler: h,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		log:     log.With().Str("component", "poller").Logger(),
	}
}

// Run polls until ctx is canceled. Dispatched work keeps running after Run
// returns; use Wait to drain it.
func (p *Poller) Run(ctx context.Context) error {
	var failures uint
	for ctx.Err() == nil {
		snap := p.members.Snapshot()
		if !snap.Active() {
			sleep(ctx, p.cfg.IdleInterval)
			continue
		}
		models := p.catalog.Names(ctx)
		if len(models) == 0 {
			p.log.Debug().Msg("no enabled models, idling")
			sleep(ctx, p.cfg.IdleInterval)
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			break
		}
		// the catalog fetch and the limiter can outlast the identity
		if cur := p.members.Snapshot(); !cur.Active() || cur.HostID != snap.HostID {
			p.log.Debug().Str("host_id", snap.HostID).Msg("identity changed before poll, skipping")
			continue
		}

		item, err := p.source.PollWork(ctx, snap.HostID, models)
		switch {
		case err == nil && item == nil:
			failures = 0
			metrics.Poll("empty")
		case err == nil:
			failures = 0
			metrics.Poll("work")
			p.dispatch(ctx, *item)
		case ctx.Err() != nil:
		case pool.IsHostUnknown(err):
			failures = 0
			metrics.Poll("unknown")
			p.log.Warn().Str("host_id", snap.HostID).Msg("coordinator rejected poll, invalidating host id")
			p.members.Invalidate(snap.HostID)
		default:
			metrics.Poll("error")
			delay := p.cfg.Backoff.DelayFor(failures)
			failures++
			p.log.Warn().Err(err).Uint("failures", failures).Dur("backoff", delay).Msg("poll failed")
			sleep(ctx, delay)
		}
	}
	return nil
}

func (p *Poller) dispatch(ctx context.Context, item types.WorkItem) {
	p.log.Info().Str("work_id", item.WorkID).Str("task_type", string(item.Kind())).Str("model", item.Model).Msg("work received")
	// in-flight work outlives shutdown and is bounded by its own timeouts
	wctx := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.handler.Handle(wctx, item)
	}()
}

// Wait blocks until dispatched work finishes or timeout elapses. It reports
// whether everything finished.
func (p *Poller) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
