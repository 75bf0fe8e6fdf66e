package poller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"andyhost/internal/membership"
	"andyhost/internal/pool"
	"andyhost/internal/pool/pooltest"
	"andyhost/internal/retry"
	"andyhost/pkg/types"
)

type fakeMembers struct {
	mu          sync.Mutex
	snap        membership.Snapshot
	invalidated []string
}

func registered(hostID string) *fakeMembers {
	return &fakeMembers{snap: membership.Snapshot{HostID: hostID, State: membership.Registered}}
}

func (f *fakeMembers) Snapshot() membership.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeMembers) Invalidate(hostID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, hostID)
	if f.snap.HostID == hostID {
		f.snap = membership.Snapshot{State: membership.Unregistered}
	}
}

type names []string

func (n names) Names(context.Context) []string { return n }

type scriptedSource struct {
	mu      sync.Mutex
	replies []reply
	calls   []call
}

type reply struct {
	item *types.WorkItem
	err  error
}

type call struct {
	hostID string
	models []string
}

func (s *scriptedSource) PollWork(_ context.Context, hostID string, models []string) (*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{hostID, models})
	if len(s.replies) == 0 {
		return nil, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.item, r.err
}

func (s *scriptedSource) Calls() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

type recordingHandler struct {
	mu      sync.Mutex
	items   []types.WorkItem
	release chan struct{}
	ctxErrs []error
}

func (h *recordingHandler) Handle(ctx context.Context, item types.WorkItem) types.WorkResult {
	if h.release != nil {
		<-h.release
	}
	h.mu.Lock()
	h.items = append(h.items, item)
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
	h.mu.Unlock()
	return types.Success(item.WorkID, nil)
}

func (h *recordingHandler) Items() []types.WorkItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.WorkItem(nil), h.items...)
}

func fastConfig() Config {
	return Config{PollInterval: 5 * time.Millisecond, IdleInterval: 5 * time.Millisecond, Backoff: retry.Fixed(0, 5*time.Millisecond)}
}

func runFor(t *testing.T, p *Poller, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRun_IdleWhileUnregistered(t *testing.T) {
	src := &scriptedSource{}
	members := &fakeMembers{snap: membership.Snapshot{State: membership.Degraded, HostID: "h1"}}
	p := New(members, names{"m1"}, src, &recordingHandler{}, fastConfig(), zerolog.Nop())
	runFor(t, p, 50*time.Millisecond)
	if n := len(src.Calls()); n != 0 {
		t.Fatalf("polled %d times while not registered", n)
	}
}

func TestRun_IdleWithoutModels(t *testing.T) {
	src := &scriptedSource{}
	p := New(registered("h1"), names{}, src, &recordingHandler{}, fastConfig(), zerolog.Nop())
	runFor(t, p, 50*time.Millisecond)
	if n := len(src.Calls()); n != 0 {
		t.Fatalf("polled %d times without models", n)
	}
}

func TestRun_DispatchesWork(t *testing.T) {
	src := &scriptedSource{replies: []reply{
		{item: nil},
		{item: &types.WorkItem{WorkID: "w1", Model: "m1"}},
		{item: &types.WorkItem{WorkID: "w2", Model: "m2"}},
	}}
	h := &recordingHandler{}
	p := New(registered("h1"), names{"m1", "m2"}, src, h, fastConfig(), zerolog.Nop())
	runFor(t, p, 80*time.Millisecond)
	if !p.Wait(time.Second) {
		t.Fatalf("dispatched work did not finish")
	}
	if items := h.Items(); len(items) != 2 {
		t.Fatalf("handled %d items", len(items))
	}
	calls := src.Calls()
	if calls[0].hostID != "h1" || len(calls[0].models) != 2 {
		t.Fatalf("poll scope = %+v", calls[0])
	}
}

func TestRun_SlowWorkDoesNotBlockPolling(t *testing.T) {
	src := &scriptedSource{replies: []reply{{item: &types.WorkItem{WorkID: "slow"}}}}
	h := &recordingHandler{release: make(chan struct{})}
	p := New(registered("h1"), names{"m1"}, src, h, fastConfig(), zerolog.Nop())
	runFor(t, p, 60*time.Millisecond)
	if n := len(src.Calls()); n < 3 {
		t.Fatalf("polling stalled behind slow work: %d polls", n)
	}
	if p.Wait(10 * time.Millisecond) {
		t.Fatalf("wait returned before work finished")
	}
	close(h.release)
	if !p.Wait(time.Second) {
		t.Fatalf("work never finished")
	}
	if err := h.ctxErrs[0]; err != nil {
		t.Fatalf("work context canceled by shutdown: %v", err)
	}
}

func TestRun_HostUnknownInvalidates(t *testing.T) {
	fake := pooltest.New()
	defer fake.Close()
	fake.Script(func(c *pooltest.Coordinator) { c.PollDefault = http.StatusNotFound })
	members := registered("h1")
	src := pool.New(fake.URL, pool.PollShort, pool.Timeouts{})
	p := New(members, names{"m1"}, src, &recordingHandler{}, fastConfig(), zerolog.Nop())
	runFor(t, p, 50*time.Millisecond)

	members.mu.Lock()
	defer members.mu.Unlock()
	if len(members.invalidated) != 1 || members.invalidated[0] != "h1" {
		t.Fatalf("invalidated = %v", members.invalidated)
	}
	if n := len(fake.Polls()); n != 1 {
		t.Fatalf("kept polling with an invalidated id: %d polls", n)
	}
	if n := len(fake.Joins()); n != 0 {
		t.Fatalf("poller joined on its own")
	}
}

func TestRun_RateLimited(t *testing.T) {
	src := &scriptedSource{}
	cfg := fastConfig()
	cfg.PollInterval = 40 * time.Millisecond
	p := New(registered("h1"), names{"m1"}, src, &recordingHandler{}, cfg, zerolog.Nop())
	runFor(t, p, 150*time.Millisecond)
	n := len(src.Calls())
	if n < 2 || n > 5 {
		t.Fatalf("expected polls paced at the poll interval, got %d", n)
	}
}

func TestRun_ErrorBackoff(t *testing.T) {
	var replies []reply
	for i := 0; i < 100; i++ {
		replies = append(replies, reply{err: errors.New("connection refused")})
	}
	src := &scriptedSource{replies: replies}
	cfg := fastConfig()
	cfg.PollInterval = time.Millisecond
	cfg.Backoff = retry.Fixed(0, 40*time.Millisecond)
	p := New(registered("h1"), names{"m1"}, src, &recordingHandler{}, cfg, zerolog.Nop())
	runFor(t, p, 150*time.Millisecond)
	n := len(src.Calls())
	if n < 2 || n > 5 {
		t.Fatalf("expected backoff between failed polls, got %d polls", n)
	}
}

// rotatingCatalog changes the membership identity during the first catalog fetch.
type rotatingCatalog struct {
	members *fakeMembers
	next    membership.Snapshot
	once    sync.Once
}

func (c *rotatingCatalog) Names(context.Context) []string {
	c.once.Do(func() {
		c.members.mu.Lock()
		c.members.snap = c.next
		c.members.mu.Unlock()
	})
	return []string{"m1"}
}

func TestRun_InvalidatedDuringCatalogFetch(t *testing.T) {
	members := registered("h1")
	cat := &rotatingCatalog{members: members, next: membership.Snapshot{State: membership.Unregistered}}
	src := &scriptedSource{}
	p := New(members, cat, src, &recordingHandler{}, fastConfig(), zerolog.Nop())
	runFor(t, p, 50*time.Millisecond)
	if calls := src.Calls(); len(calls) != 0 {
		t.Fatalf("polled after the identity was dropped: %+v", calls)
	}
}

func TestRun_RejoinedDuringCatalogFetchUsesNewIdentity(t *testing.T) {
	members := registered("h1")
	cat := &rotatingCatalog{members: members, next: membership.Snapshot{HostID: "h2", State: membership.Registered}}
	src := &scriptedSource{}
	p := New(members, cat, src, &recordingHandler{}, fastConfig(), zerolog.Nop())
	runFor(t, p, 50*time.Millisecond)
	calls := src.Calls()
	if len(calls) == 0 {
		t.Fatalf("never polled with the new identity")
	}
	for _, c := range calls {
		if c.hostID != "h2" {
			t.Fatalf("polled with stale host_id %q", c.hostID)
		}
	}
}
