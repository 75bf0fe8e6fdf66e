package membership

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"andyhost/internal/pool"
	"andyhost/internal/pool/pooltest"
	"andyhost/internal/retry"
	"andyhost/pkg/types"
)

type staticCatalog []types.ModelDescriptor

func (c staticCatalog) Models(context.Context) []types.ModelDescriptor { return c }

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type fixture struct {
	fake *pooltest.Coordinator
	pub  *MemoryPublisher
	m    *Manager
}

func newFixture(t *testing.T, cat Catalog, mutate func(*Config)) fixture {
	t.Helper()
	fake := pooltest.New()
	t.Cleanup(fake.Close)
	pub := NewMemoryPublisher()
	cfg := Config{
		Endpoint:  "http://127.0.0.1:11434",
		Name:      "test-host",
		Verify:    retry.Fixed(3, time.Millisecond),
		Confirm:   retry.Fixed(5, time.Millisecond),
		Publisher: pub,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client := pool.New(fake.URL, pool.PollShort, pool.Timeouts{})
	return fixture{fake: fake, pub: pub, m: New(client, cat, cfg, zerolog.Nop())}
}

var m1 = staticCatalog{{Name: "m1", MaxConcurrent: 2, Enabled: true}}

func TestJoin_GatedOnModels(t *testing.T) {
	f := newFixture(t, staticCatalog{}, nil)
	if f.m.Join(testCtx(t)) {
		t.Fatalf("join succeeded without models")
	}
	snap := f.m.Snapshot()
	if snap.State != Unregistered || snap.HostID != "" {
		t.Fatalf("state mutated: %+v", snap)
	}
	if n := len(f.fake.Joins()); n != 0 {
		t.Fatalf("coordinator contacted %d times", n)
	}
	if ev := f.pub.Events(); len(ev) != 0 {
		t.Fatalf("events published: %+v", ev)
	}
}

func TestJoin_PayloadAndVerifyOnSecondAttempt(t *testing.T) {
	f := newFixture(t, m1, func(c *Config) {
		c.Capabilities = []string{"text", "gpu"}
		c.VRAMTotalGB = 24
		c.Load = func() int { return 1 }
	})
	f.fake.Script(func(c *pooltest.Coordinator) {
		c.JoinHostIDs = []string{"h1"}
		c.PingQueue = []int{http.StatusInternalServerError, http.StatusOK}
	})
	f.m.Tick(testCtx(t))

	snap := f.m.Snapshot()
	if snap.State != Registered || snap.HostID != "h1" {
		t.Fatalf("expected registered h1, got %+v", snap)
	}
	if snap.PoolSize != 1 || snap.PingInterval != 30*time.Second || snap.LastHeartbeat.IsZero() {
		t.Fatalf("join metadata not recorded: %+v", snap)
	}
	joins := f.fake.Joins()
	if len(joins) != 1 {
		t.Fatalf("joins = %d", len(joins))
	}
	info := joins[0].Info
	if len(info.Models) != 1 || info.Models[0].Name != "m1" || info.MaxClients != 2 || info.Endpoint != "http://127.0.0.1:11434" {
		t.Fatalf("join payload: %+v", info)
	}
	if len(info.Capabilities) != 2 || info.Capabilities[0] != "text" || info.Capabilities[1] != "gpu" {
		t.Fatalf("capabilities: %v", info.Capabilities)
	}
	if info.Name != "test-host" || info.VRAMTotalGB != 24 || info.CPUCores == 0 {
		t.Fatalf("host info: %+v", info)
	}
	pings := f.fake.Pings()
	if len(pings) != 2 {
		t.Fatalf("expected 2 verification pings, got %d", len(pings))
	}
	if pings[1].HostID != "h1" || pings[1].Status != "active" || pings[1].CurrentLoad != 1 {
		t.Fatalf("ping payload: %+v", pings[1])
	}
	want := []State{Registering, Verifying, Registered}
	got := f.pub.Transitions()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v", got)
		}
	}
}

func TestVerify_AllAttemptsFail(t *testing.T) {
	f := newFixture(t, m1, nil)
	f.fake.Script(func(c *pooltest.Coordinator) { c.PingDefault = http.StatusNotFound })
	f.m.Tick(testCtx(t))
	snap := f.m.Snapshot()
	if snap.State != Unregistered || snap.HostID != "" {
		t.Fatalf("expected reset, got %+v", snap)
	}
	if n := len(f.fake.Pings()); n != 3 {
		t.Fatalf("expected 3 verification attempts, got %d", n)
	}
	select {
	case <-f.m.Wake():
	default:
		t.Fatalf("failed verification did not wake the registration loop")
	}
}

func TestJoin_Rejected(t *testing.T) {
	f := newFixture(t, m1, nil)
	f.fake.Script(func(c *pooltest.Coordinator) { c.JoinStatus = http.StatusServiceUnavailable })
	if f.m.Join(testCtx(t)) {
		t.Fatalf("join should fail")
	}
	if snap := f.m.Snapshot(); snap.State != Unregistered || snap.HostID != "" {
		t.Fatalf("snapshot %+v", snap)
	}
	got := f.pub.Transitions()
	if len(got) != 2 || got[0] != Registering || got[1] != Unregistered {
		t.Fatalf("transitions = %v", got)
	}
	var rejected bool
	for _, e := range f.pub.Events() {
		rejected = rejected || e.Name == EventJoinRejected
	}
	if !rejected {
		t.Fatalf("join_rejected event missing")
	}
}

func register(t *testing.T, f fixture) {
	t.Helper()
	f.m.Tick(testCtx(t))
	if snap := f.m.Snapshot(); snap.State != Registered || snap.HostID != "h1" {
		t.Fatalf("setup: not registered: %+v", snap)
	}
}

func TestDegraded_RecoversWithSameHostID(t *testing.T) {
	f := newFixture(t, m1, nil)
	register(t, f)
	f.fake.Script(func(c *pooltest.Coordinator) {
		c.PingQueue = []int{http.StatusNotFound, http.StatusOK}
	})
	if r := f.m.Heartbeat(testCtx(t)); r != HeartbeatUnknown {
		t.Fatalf("heartbeat = %v", r)
	}
	if s := f.m.Snapshot().State; s != Degraded {
		t.Fatalf("state after 404 = %s", s)
	}
	if !f.m.Confirm(testCtx(t)) {
		t.Fatalf("confirm failed")
	}
	snap := f.m.Snapshot()
	if snap.State != Registered || snap.HostID != "h1" {
		t.Fatalf("expected registered h1, got %+v", snap)
	}
	if n := len(f.fake.Joins()); n != 1 {
		t.Fatalf("rejoined during recovery: %d joins", n)
	}
}

func TestDegraded_EvictionAfterFiveFailedConfirmations(t *testing.T) {
	f := newFixture(t, m1, nil)
	register(t, f)
	before := len(f.fake.Pings())
	f.fake.Script(func(c *pooltest.Coordinator) { c.PingDefault = http.StatusNotFound })

	f.m.Tick(testCtx(t))

	snap := f.m.Snapshot()
	if snap.State != Unregistered || snap.HostID != "" {
		t.Fatalf("expected eviction, got %+v", snap)
	}
	if n := len(f.fake.Pings()) - before; n != 6 {
		t.Fatalf("expected 1 heartbeat + 5 confirmations, got %d pings", n)
	}
	select {
	case <-f.m.Wake():
	default:
		t.Fatalf("registration loop not woken after eviction")
	}
}

func TestHeartbeat_TransientKeepsState(t *testing.T) {
	f := newFixture(t, m1, nil)
	register(t, f)
	f.fake.Script(func(c *pooltest.Coordinator) { c.PingQueue = []int{http.StatusBadGateway} })
	if r := f.m.Heartbeat(testCtx(t)); r != HeartbeatTransient {
		t.Fatalf("heartbeat = %v", r)
	}
	if snap := f.m.Snapshot(); snap.State != Registered || snap.HostID != "h1" {
		t.Fatalf("transient failure changed state: %+v", snap)
	}
	if r := f.m.Heartbeat(testCtx(t)); r != HeartbeatAck {
		t.Fatalf("heartbeat = %v", r)
	}
}

func TestHeartbeat_SkippedWhenUnregistered(t *testing.T) {
	f := newFixture(t, m1, nil)
	if r := f.m.Heartbeat(testCtx(t)); r != HeartbeatSkipped {
		t.Fatalf("heartbeat = %v", r)
	}
	if n := len(f.fake.Pings()); n != 0 {
		t.Fatalf("pinged while unregistered")
	}
}

func TestLeave_ResetsEvenWhenNotifyFails(t *testing.T) {
	f := newFixture(t, m1, nil)
	register(t, f)
	f.fake.Close()
	f.m.Leave(testCtx(t))
	if snap := f.m.Snapshot(); snap.State != Unregistered || snap.HostID != "" || snap.PoolSize != 0 {
		t.Fatalf("leave did not reset: %+v", snap)
	}
}

func TestLeave_NotifiesCoordinator(t *testing.T) {
	f := newFixture(t, m1, nil)
	register(t, f)
	f.m.Leave(testCtx(t))
	leaves := f.fake.Leaves()
	if len(leaves) != 1 || leaves[0].HostID != "h1" {
		t.Fatalf("leaves = %+v", leaves)
	}
	// leaving twice is a no-op
	f.m.Leave(testCtx(t))
	if n := len(f.fake.Leaves()); n != 1 {
		t.Fatalf("second leave notified coordinator")
	}
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t, m1, nil)
	register(t, f)
	f.m.Invalidate("stale")
	if snap := f.m.Snapshot(); snap.State != Registered {
		t.Fatalf("stale id invalidated membership: %+v", snap)
	}
	f.m.Invalidate("h1")
	if snap := f.m.Snapshot(); snap.State != Unregistered || snap.HostID != "" {
		t.Fatalf("invalidate did not reset: %+v", snap)
	}
	select {
	case <-f.m.Wake():
	default:
		t.Fatalf("wake not signalled")
	}
}

type blockingCoordinator struct {
	Coordinator
	release chan struct{}
	joins   atomic.Int32

	mu     sync.Mutex
	leaves []string
}

func (b *blockingCoordinator) Leave(_ context.Context, hostID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaves = append(b.leaves, hostID)
	return nil
}

func (b *blockingCoordinator) Join(ctx context.Context, info types.HostInfo) (types.JoinResponse, error) {
	b.joins.Add(1)
	<-b.release
	return types.JoinResponse{HostID: "h2"}, nil
}

func TestJoin_LeaveDuringJoinWins(t *testing.T) {
	bc := &blockingCoordinator{release: make(chan struct{})}
	m := New(bc, m1, Config{Name: "x"}, zerolog.Nop())
	done := make(chan bool)
	go func() { done <- m.Join(context.Background()) }()
	for m.Snapshot().State != Registering {
		time.Sleep(time.Millisecond)
	}
	if m.Join(context.Background()) {
		t.Fatalf("concurrent join accepted")
	}
	m.Leave(context.Background())
	close(bc.release)
	if <-done {
		t.Fatalf("join completed after leave")
	}
	if snap := m.Snapshot(); snap.State != Unregistered || snap.HostID != "" {
		t.Fatalf("leave overridden by late join: %+v", snap)
	}
	if bc.joins.Load() != 1 {
		t.Fatalf("joins = %d", bc.joins.Load())
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if len(bc.leaves) != 1 || bc.leaves[0] != "h2" {
		t.Fatalf("superseded host id not released: %v", bc.leaves)
	}
}
