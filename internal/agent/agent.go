// Package agent wires the catalog, membership, poller and dispatcher into one
// running host client and owns its lifecycle.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"andyhost/internal/backend"
	"andyhost/internal/catalog"
	"andyhost/internal/config"
	"andyhost/internal/dispatch"
	"andyhost/internal/history"
	"andyhost/internal/membership"
	"andyhost/internal/poller"
	"andyhost/internal/pool"
	"andyhost/internal/retry"
	"andyhost/pkg/types"
)

// Agent is one pool host client. Every component hangs off the agent; there
// is no package-level identity or URL state.
type Agent struct {
	cfg     config.Config
	log     zerolog.Logger
	backend *backend.Client
	pool    *pool.Client
	catalog *catalog.Cache
	members *membership.Manager
	disp    *dispatch.Dispatcher
	poller  *poller.Poller
	history history.Recorder
	started time.Time
	// paused stops the registration loop from rejoining after a disconnect.
	paused atomic.Bool
}

// Option customizes an Agent.
type Option func(*options)

type options struct {
	publisher membership.EventPublisher
}

// WithPublisher receives membership events.
func WithPublisher(p membership.EventPublisher) Option {
	return func(o *options) { o.publisher = p }
}

// New builds an agent from cfg. Defaults are applied here.
func New(cfg config.Config, log zerolog.Logger, opts ...Option) (*Agent, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	rec, err := history.OpenOrNop(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	be := backend.New(cfg.BackendURL, backend.Options{
		TagsTimeout:  cfg.TagsTimeout.D(),
		ChatTimeout:  cfg.ChatTimeout.D(),
		EmbedTimeout: cfg.EmbedTimeout.D(),
	})
	pc := pool.New(cfg.PoolURL, pool.PollMode(cfg.PollMode), pool.Timeouts{
		Join:   cfg.JoinTimeout.D(),
		Ping:   cfg.PingTimeout.D(),
		Leave:  cfg.LeaveTimeout.D(),
		Poll:   cfg.PollTimeout.D(),
		Submit: cfg.SubmitTimeout.D(),
	})
	cat := catalog.New(be, catalog.Config{
		TTL:           cfg.ModelsTTL.D(),
		Allowed:       cfg.AllowedModels,
		AutoEnable:    cfg.Enabled(),
		MaxConcurrent: cfg.MaxConcurrent,
	}, log)
	disp := dispatch.New(be, cat, pc, dispatch.Config{
		AdmissionWait: cfg.AdmissionWait.D(),
		History:       rec,
	}, log)
	members := membership.New(pc, cat, membership.Config{
		Endpoint:     cfg.BackendURL,
		Name:         cfg.HostName,
		Capabilities: cfg.Capabilities,
		VRAMTotalGB:  cfg.VRAMTotalGB,
		Verify:       retry.Fixed(uint(cfg.VerifyAttempts), cfg.VerifyDelay.D()),
		Confirm:      retry.Fixed(uint(cfg.ConfirmAttempts), cfg.ConfirmDelay.D()),
		Load:         disp.InFlight,
		Publisher:    o.publisher,
	}, log)
	pl := poller.New(members, cat, pc, disp, poller.Config{
		PollInterval: cfg.PollInterval.D(),
		IdleInterval: cfg.IdleInterval.D(),
		Backoff:      retry.Exponential(0, cfg.PollInterval.D(), 30*time.Second),
	}, log)

	return &Agent{
		cfg:     cfg,
		log:     log.With().Str("component", "agent").Logger(),
		backend: be,
		pool:    pc,
		catalog: cat,
		members: members,
		disp:    disp,
		poller:  pl,
		history: rec,
		started: time.Now(),
	}, nil
}

// Run drives registration and polling until ctx is canceled, then waits for
// in-flight work up to shutdown_timeout and leaves the pool.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info().Str("pool_url", a.cfg.PoolURL).Str("backend_url", a.cfg.BackendURL).Str("poll_mode", a.cfg.PollMode).Msg("host client starting")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.registrationLoop(gctx) })
	g.Go(func() error { return a.poller.Run(gctx) })
	err := g.Wait()
	a.shutdown()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (a *Agent) registrationLoop(ctx context.Context) error {
	for {
		if !a.paused.Load() {
			a.members.Tick(ctx)
		}
		t := time.NewTimer(a.tickInterval())
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-a.members.Wake():
			t.Stop()
		case <-t.C:
		}
	}
}

// tickInterval is the configured heartbeat interval, shortened to the
// coordinator's ping_interval when it asks for more frequent pings.
func (a *Agent) tickInterval() time.Duration {
	d := a.cfg.HeartbeatInterval.D()
	if pi := a.members.Snapshot().PingInterval; pi > 0 && pi < d {
		d = pi
	}
	return d
}

func (a *Agent) shutdown() {
	if !a.poller.Wait(a.cfg.ShutdownTimeout.D()) {
		a.log.Warn().Int("inflight", a.disp.InFlight()).Msg("in-flight work still running at shutdown")
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.LeaveTimeout.D())
	defer cancel()
	a.members.Leave(ctx)
	a.log.Info().Msg("host client stopped")
}

// Close releases the history store.
func (a *Agent) Close() error { return a.history.Close() }

// JoinOnce joins and verifies membership once without starting the loops.
func (a *Agent) JoinOnce(ctx context.Context) (membership.Snapshot, error) {
	if !a.members.Join(ctx) {
		return a.members.Snapshot(), errors.New("join failed")
	}
	if !a.members.Verify(ctx) {
		return a.members.Snapshot(), errors.New("join could not be verified")
	}
	return a.members.Snapshot(), nil
}

// LeaveHost tells the coordinator that hostID is leaving.
func (a *Agent) LeaveHost(ctx context.Context, hostID string) error {
	return a.pool.Leave(ctx, hostID)
}

// PoolStatus returns the coordinator's pool status document.
func (a *Agent) PoolStatus(ctx context.Context) (json.RawMessage, error) {
	return a.pool.PoolStatus(ctx)
}

// Status reports membership, load and catalog state without touching the network.
func (a *Agent) Status() types.StatusResponse {
	snap := a.members.Snapshot()
	enabled := []string{}
	for _, m := range a.catalog.Snapshot().Models {
		if m.Enabled {
			enabled = append(enabled, m.Name)
		}
	}
	return types.StatusResponse{
		State:             string(snap.State),
		HostID:            snap.HostID,
		StateSinceUnix:    unix(snap.Since),
		LastHeartbeatUnix: unix(snap.LastHeartbeat),
		PoolSize:          snap.PoolSize,
		Inflight:          a.disp.InFlight(),
		EnabledModels:     enabled,
		PoolURL:           a.cfg.PoolURL,
		BackendURL:        a.cfg.BackendURL,
		UptimeSeconds:     int64(time.Since(a.started).Seconds()),
		Paused:            a.paused.Load(),
	}
}

// Models returns every discovered model, enabled or not.
func (a *Agent) Models(ctx context.Context) []types.ModelDescriptor {
	return a.catalog.All(ctx)
}

// RefreshModels drops the cached catalog and rediscovers the backend's models.
func (a *Agent) RefreshModels(ctx context.Context) []types.ModelDescriptor {
	models := a.catalog.Refresh(ctx)
	a.log.Info().Int("models", len(models)).Msg("model catalog refreshed on request")
	return models
}

// UpdateModel applies per-model overrides. The coordinator sees them on the
// next join; admission limits apply to the next work item.
func (a *Agent) UpdateModel(u types.ModelUpdate) (types.ModelDescriptor, bool) {
	desc, ok := a.catalog.Update(u)
	if ok {
		a.log.Info().Str("model", desc.Name).Int("max_concurrent", desc.MaxConcurrent).Int("context_length", desc.ContextLength).Msg("model updated")
	}
	return desc, ok
}

// History returns up to limit recent requests, newest first.
func (a *Agent) History(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	entries, err := a.history.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.HistoryEntry{
			ID:                  e.ID,
			WorkID:              e.WorkID,
			TimestampUnix:       unix(e.Timestamp),
			Model:               e.Model,
			RequestType:         e.RequestType,
			Tokens:              e.Tokens,
			ResponseTimeSeconds: e.ResponseTime.Seconds(),
			Success:             e.Success,
			Error:               e.Error,
		})
	}
	return out, nil
}

// Connect joins unless already a member and resumes the registration loop.
func (a *Agent) Connect(ctx context.Context) (types.ConnectionResponse, error) {
	// keep the loop from starting a competing join meanwhile
	a.paused.Store(true)
	var err error
	if !a.members.Snapshot().Active() {
		if _, err = a.JoinOnce(ctx); err != nil && a.awaitJoin(ctx) {
			err = nil
		}
	}
	a.paused.Store(false)
	return a.connection(), err
}

// awaitJoin waits out a join the registration loop already had in flight and
// reports whether it left the host registered.
func (a *Agent) awaitJoin(ctx context.Context) bool {
	verify := time.Duration(a.cfg.VerifyAttempts) * (a.cfg.PingTimeout.D() + a.cfg.VerifyDelay.D())
	ctx, cancel := context.WithTimeout(ctx, a.cfg.JoinTimeout.D()+verify)
	defer cancel()
	for {
		switch a.members.Snapshot().State {
		case membership.Registering, membership.Verifying:
		default:
			return a.members.Snapshot().Active()
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Disconnect leaves the pool and pauses registration until Connect.
func (a *Agent) Disconnect(ctx context.Context) types.ConnectionResponse {
	a.paused.Store(true)
	a.members.Leave(ctx)
	a.log.Info().Msg("disconnected from pool, registration paused")
	return a.connection()
}

func (a *Agent) connection() types.ConnectionResponse {
	snap := a.members.Snapshot()
	return types.ConnectionResponse{
		Connected: snap.Active(),
		State:     string(snap.State),
		HostID:    snap.HostID,
		Paused:    a.paused.Load(),
	}
}

// ToggleModel flips whether a model is offered to the pool.
func (a *Agent) ToggleModel(name string) (enabled bool, ok bool) {
	enabled, ok = a.catalog.Toggle(name)
	if ok {
		a.log.Info().Str("model", name).Bool("enabled", enabled).Msg("model toggled")
	}
	return enabled, ok
}

// Stats aggregates the request history.
func (a *Agent) Stats(ctx context.Context) (types.StatsResponse, error) {
	return a.history.Stats(ctx)
}

// Ready reports whether the host is a verified pool member.
func (a *Agent) Ready() bool { return a.members.Snapshot().Active() }

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
