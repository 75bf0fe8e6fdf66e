// Package membership owns this host's registration with the pool coordinator:
// join, verification, heartbeats, degraded confirmation and leave.
package membership

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"andyhost/internal/catalog"
	"andyhost/internal/metrics"
	"andyhost/internal/pool"
	"andyhost/internal/retry"
	"andyhost/pkg/types"
)

// Catalog supplies the enabled models advertised on join.
type Catalog interface {
	Models(ctx context.Context) []types.ModelDescriptor
}

// Coordinator is the subset of the pool client the manager uses.
type Coordinator interface {
	Join(ctx context.Context, info types.HostInfo) (types.JoinResponse, error)
	Ping(ctx context.Context, req types.PingRequest) error
	Leave(ctx context.Context, hostID string) error
}

// Config tunes the manager.
type Config struct {
	// Endpoint is the backend URL advertised to the coordinator.
	Endpoint string
	// Name is the host name advertised; defaults to os.Hostname.
	Name string
	// Capabilities are appended to the derived capability tags.
	Capabilities []string
	VRAMTotalGB  float64
	// Verify is the heartbeat policy used right after a join.
	Verify retry.Policy
	// Confirm is the heartbeat policy used while degraded.
	Confirm retry.Policy
	// Load reports the current number of in-flight work items.
	Load      func() int
	Publisher EventPublisher
}

// Manager is the registration state machine. A single mutex guards the host
// id and state; it is never held across a network call.
type Manager struct {
	pool Coordinator
	cat  Catalog
	cfg  Config
	log  zerolog.Logger
	pub  EventPublisher
	now  func() time.Time
	wake chan struct{}

	mu           sync.RWMutex
	hostID       string
	state        State
	since        time.Time
	lastBeat     time.Time
	poolSize     int
	pingInterval time.Duration
}

// New builds a manager in the Unregistered state.
func New(p Coordinator, cat Catalog, cfg Config, log zerolog.Logger) *Manager {
	if cfg.Verify.Attempts == 0 {
		cfg.Verify = retry.Fixed(3, 2*time.Second)
	}
	if cfg.Confirm.Attempts == 0 {
		cfg.Confirm = retry.Fixed(5, 2*time.Second)
	}
	if cfg.Load == nil {
		cfg.Load = func() int { return 0 }
	}
	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	m := &Manager{
		pool:  p,
		cat:   cat,
		cfg:   cfg,
		log:   log.With().Str("component", "membership").Logger(),
		pub:   pub,
		now:   time.Now,
		wake:  make(chan struct{}, 1),
		state: Unregistered,
	}
	m.since = m.now()
	metrics.SetMembershipState(string(Unregistered))
	return m
}

// Snapshot returns the current membership state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		HostID:        m.hostID,
		State:         m.state,
		Since:         m.since,
		LastHeartbeat: m.lastBeat,
		PoolSize:      m.poolSize,
		PingInterval:  m.pingInterval,
	}
}

// Wake is signalled when the registration loop should tick early.
func (m *Manager) Wake() <-chan struct{} { return m.wake }

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Tick performs one registration step for the current state.
func (m *Manager) Tick(ctx context.Context) {
	switch m.Snapshot().State {
	case Unregistered:
		if m.Join(ctx) {
			m.Verify(ctx)
		}
	case Verifying:
		m.Verify(ctx)
	case Registered:
		if m.Heartbeat(ctx) == HeartbeatUnknown {
			m.Confirm(ctx)
		}
	case Degraded:
		m.Confirm(ctx)
	}
}

// Join registers with the coordinator. It requires at least one enabled model;
// without one it returns false and changes nothing. On success the host id is
// recorded and the state becomes Verifying.
func (m *Manager) Join(ctx context.Context) bool {
	models := m.cat.Models(ctx)
	if len(models) == 0 {
		m.log.Warn().Msg("no enabled models, not joining")
		return false
	}

	m.mu.Lock()
	if m.state != Unregistered {
		m.mu.Unlock()
		return false
	}
	from := m.setLocked(Registering)
	m.mu.Unlock()
	m.emit(from, Registering, "")

	resp, err := m.pool.Join(ctx, m.hostInfo(models))
	if err == nil && resp.HostID == "" {
		err = errors.New("join response without host_id")
	}
	if err != nil {
		m.log.Warn().Err(err).Int("status", pool.StatusCode(err)).Msg("join failed")
		m.pub.Publish(Event{Name: EventJoinRejected, Fields: map[string]any{"error": err.Error()}})
		m.compareAndSet(Registering, "", Unregistered, false)
		return false
	}

	m.mu.Lock()
	if m.state != Registering {
		m.mu.Unlock()
		// a leave or invalidate won the race; the coordinator still holds this id
		m.log.Info().Str("host_id", resp.HostID).Msg("join superseded, releasing host id")
		if err := m.pool.Leave(context.WithoutCancel(ctx), resp.HostID); err != nil {
			m.log.Warn().Err(err).Str("host_id", resp.HostID).Msg("release of superseded host id failed")
		}
		return false
	}
	m.hostID = resp.HostID
	m.poolSize = resp.PoolSize
	m.pingInterval = time.Duration(resp.PingInterval) * time.Second
	from = m.setLocked(Verifying)
	m.mu.Unlock()
	m.emit(from, Verifying, resp.HostID)
	m.log.Info().Str("host_id", resp.HostID).Int("pool_size", resp.PoolSize).Strs("models", modelNames(models)).Msg("joined pool")
	return true
}

// Verify confirms a fresh join with repeated heartbeats. It ends Registered
// on the first ack, or Unregistered with the host id cleared when every
// attempt fails.
func (m *Manager) Verify(ctx context.Context) bool {
	snap := m.Snapshot()
	if snap.State != Verifying {
		return false
	}
	err := m.pingUntilAck(ctx, m.cfg.Verify, snap.HostID, Verifying)
	if err != nil {
		m.log.Warn().Err(err).Str("host_id", snap.HostID).Msg("join not verified, resetting")
		if m.compareAndSet(Verifying, snap.HostID, Unregistered, true) {
			m.signal()
		}
		return false
	}
	ok := m.compareAndSet(Verifying, snap.HostID, Registered, false)
	if ok {
		m.log.Info().Str("host_id", snap.HostID).Msg("membership verified")
	}
	return ok
}

// Heartbeat reports liveness and load. A 404 moves Registered to Degraded;
// any other failure leaves the state unchanged.
func (m *Manager) Heartbeat(ctx context.Context) HeartbeatResult {
	snap := m.Snapshot()
	if snap.State != Registered {
		return HeartbeatSkipped
	}
	err := m.ping(ctx, snap.HostID)
	switch {
	case err == nil:
		metrics.Heartbeat("ack")
		m.touch(snap.HostID)
		return HeartbeatAck
	case pool.IsHostUnknown(err):
		metrics.Heartbeat("unknown")
		m.log.Warn().Str("host_id", snap.HostID).Msg("coordinator does not know this host, confirming")
		m.compareAndSet(Registered, snap.HostID, Degraded, false)
		return HeartbeatUnknown
	default:
		metrics.Heartbeat("error")
		m.log.Warn().Err(err).Str("host_id", snap.HostID).Msg("heartbeat failed")
		return HeartbeatTransient
	}
}

// Confirm retries heartbeats while Degraded. An ack restores Registered with
// the same host id; if every attempt fails the identity is dropped.
func (m *Manager) Confirm(ctx context.Context) bool {
	snap := m.Snapshot()
	if snap.State != Degraded {
		return false
	}
	err := m.pingUntilAck(ctx, m.cfg.Confirm, snap.HostID, Degraded)
	if err != nil {
		m.log.Warn().Err(err).Str("host_id", snap.HostID).Msg("host evicted, will rejoin")
		m.compareAndSet(Degraded, snap.HostID, Unregistered, true)
		m.signal()
		return false
	}
	ok := m.compareAndSet(Degraded, snap.HostID, Registered, false)
	if ok {
		m.log.Info().Str("host_id", snap.HostID).Msg("membership confirmed")
	}
	return ok
}

// Leave resets to Unregistered and notifies the coordinator. The reset
// happens even when the notification fails.
func (m *Manager) Leave(ctx context.Context) {
	m.mu.Lock()
	hostID := m.hostID
	from := m.state
	m.hostID = ""
	m.poolSize = 0
	m.pingInterval = 0
	if from != Unregistered {
		m.setLocked(Unregistered)
	}
	m.mu.Unlock()
	if from != Unregistered {
		m.emit(from, Unregistered, hostID)
	}
	if hostID == "" {
		return
	}
	if err := m.pool.Leave(ctx, hostID); err != nil {
		m.log.Warn().Err(err).Str("host_id", hostID).Msg("leave notification failed")
	} else {
		m.log.Info().Str("host_id", hostID).Msg("left pool")
	}
	m.pub.Publish(Event{Name: EventLeft, HostID: hostID})
}

// Invalidate drops hostID after the coordinator reported it unknown elsewhere
// (a poll 404) and wakes the registration loop. Stale ids are ignored.
func (m *Manager) Invalidate(hostID string) {
	m.mu.Lock()
	if hostID == "" || m.hostID != hostID {
		m.mu.Unlock()
		return
	}
	from := m.setLocked(Unregistered)
	m.hostID = ""
	m.poolSize = 0
	m.pingInterval = 0
	m.mu.Unlock()
	m.emit(from, Unregistered, hostID)
	m.log.Warn().Str("host_id", hostID).Msg("host id invalidated, will rejoin")
	m.signal()
}

func (m *Manager) pingUntilAck(ctx context.Context, p retry.Policy, hostID string, expect State) error {
	return p.Do(ctx, func(ctx context.Context) error {
		snap := m.Snapshot()
		if snap.HostID != hostID || snap.State != expect {
			return retry.Abort(errors.New("membership changed"))
		}
		err := m.ping(ctx, hostID)
		if err == nil {
			metrics.Heartbeat("ack")
			m.touch(hostID)
			return nil
		}
		if pool.IsHostUnknown(err) {
			metrics.Heartbeat("unknown")
		} else {
			metrics.Heartbeat("error")
		}
		return err
	}, func(attempt uint, err error) {
		m.log.Debug().Err(err).Uint("attempt", attempt+1).Str("host_id", hostID).Str("state", string(expect)).Msg("heartbeat attempt failed")
	})
}

func (m *Manager) ping(ctx context.Context, hostID string) error {
	return m.pool.Ping(ctx, types.PingRequest{
		HostID:      hostID,
		CurrentLoad: m.cfg.Load(),
		Status:      "active",
	})
}

func (m *Manager) touch(hostID string) {
	m.mu.Lock()
	if m.hostID == hostID {
		m.lastBeat = m.now()
	}
	m.mu.Unlock()
}

// compareAndSet moves from -> to only if the state and host id are unchanged
// since the caller's snapshot. clear drops the host id.
func (m *Manager) compareAndSet(from State, hostID string, to State, clear bool) bool {
	m.mu.Lock()
	if m.state != from || m.hostID != hostID {
		m.mu.Unlock()
		return false
	}
	m.setLocked(to)
	if clear {
		m.hostID = ""
		m.poolSize = 0
		m.pingInterval = 0
	}
	m.mu.Unlock()
	m.emit(from, to, hostID)
	return true
}

func (m *Manager) setLocked(to State) State {
	from := m.state
	m.state = to
	m.since = m.now()
	return from
}

func (m *Manager) emit(from, to State, hostID string) {
	metrics.Transition(string(from), string(to))
	metrics.SetMembershipState(string(to))
	m.log.Debug().Str("from", string(from)).Str("state", string(to)).Str("host_id", hostID).Msg("membership transition")
	m.pub.Publish(Event{
		Name:   EventTransition,
		HostID: hostID,
		Fields: map[string]any{"from": from, "to": to},
	})
}

func (m *Manager) hostInfo(models []types.ModelDescriptor) types.HostInfo {
	maxClients := 0
	for _, d := range models {
		maxClients += d.MaxConcurrent
	}
	caps := catalog.CapabilityTags(models)
	seen := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		seen[c] = struct{}{}
	}
	for _, c := range m.cfg.Capabilities {
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		caps = append(caps, c)
	}
	return types.HostInfo{
		Models:       models,
		MaxClients:   maxClients,
		Endpoint:     m.cfg.Endpoint,
		Capabilities: caps,
		Name:         m.cfg.Name,
		CPUCores:     runtime.NumCPU(),
		VRAMTotalGB:  m.cfg.VRAMTotalGB,
	}
}

func modelNames(models []types.ModelDescriptor) []string {
	names := make([]string, 0, len(models))
	for _, d := range models {
		names = append(names, d.Name)
	}
	return names
}
