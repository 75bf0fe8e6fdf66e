// Package catalog caches the local backend's model list for a bounded TTL.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"andyhost/internal/backend"
	"andyhost/internal/metrics"
	"andyhost/pkg/types"
)

// Defaults applied when the corresponding Config fields are unset.
const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxConcurrent = 2
	DefaultContextLength = 4096
)

// Lister lists the models installed in the backend.
type Lister interface {
	ListModels(ctx context.Context) ([]backend.TagModel, error)
}

// Config tunes the cache.
type Config struct {
	TTL time.Duration
	// Allowed restricts the catalog to these names when non-empty.
	Allowed []string
	// AutoEnable offers newly discovered models to the pool without a toggle.
	AutoEnable    bool
	MaxConcurrent int
	ContextLength int
}

// Cache memoizes the backend model list. Only one refresh runs at a time;
// concurrent callers wait for it and share its result.
type Cache struct {
	src   Lister
	cfg   Config
	allow map[string]struct{}
	log   zerolog.Logger
	now   func() time.Time
	group singleflight.Group

	mu        sync.RWMutex
	snap      types.CatalogSnapshot
	enabled   map[string]bool
	overrides map[string]types.ModelUpdate
}

// New constructs a cache over src.
func New(src Lister, cfg Config, log zerolog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = DefaultContextLength
	}
	c := &Cache{
		src:       src,
		cfg:       cfg,
		log:       log.With().Str("component", "catalog").Logger(),
		now:       time.Now,
		enabled:   make(map[string]bool),
		overrides: make(map[string]types.ModelUpdate),
	}
	if len(cfg.Allowed) > 0 {
		c.allow = make(map[string]struct{}, len(cfg.Allowed))
		for _, n := range cfg.Allowed {
			c.allow[n] = struct{}{}
		}
	}
	return c
}

// Models returns the enabled models. It never fails: when the backend is
// unreachable the error is logged and the result is empty.
func (c *Cache) Models(ctx context.Context) []types.ModelDescriptor {
	all := c.All(ctx)
	out := all[:0]
	for _, m := range all {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// All returns every discovered model (after allow-list filtering), enabled or not.
func (c *Cache) All(ctx context.Context) []types.ModelDescriptor {
	snap, err := c.load(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("model discovery failed")
		return []types.ModelDescriptor{}
	}
	return c.view(snap.Models)
}

// Names returns the names of the enabled models.
func (c *Cache) Names(ctx context.Context) []string {
	models := c.Models(ctx)
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names
}

// Lookup finds an enabled model by name.
func (c *Cache) Lookup(ctx context.Context, name string) (types.ModelDescriptor, bool) {
	for _, m := range c.Models(ctx) {
		if m.Name == name {
			return m, true
		}
	}
	return types.ModelDescriptor{}, false
}

// Snapshot returns the cached snapshot without fetching; it may be stale or empty.
func (c *Cache) Snapshot() types.CatalogSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snap
	s.Models = c.viewLocked(s.Models)
	return s
}

// Invalidate forces the next call to refetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap.FetchedAt = time.Time{}
	c.mu.Unlock()
}

// Update applies per-model overrides on top of the discovered settings and
// returns the resulting descriptor. It reports false for unknown names.
func (c *Cache) Update(u types.ModelUpdate) (types.ModelDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	desc, ok := c.findLocked(u.ModelName)
	if !ok {
		return types.ModelDescriptor{}, false
	}
	if u.Enabled != nil {
		c.enabled[u.ModelName] = *u.Enabled
	}
	c.overrides[u.ModelName] = mergeUpdate(c.overrides[u.ModelName], u)
	desc = applyUpdate(desc, c.overrides[u.ModelName])
	desc.Enabled = c.isEnabledLocked(desc.Name)
	return desc, true
}

// Refresh drops the cached list and fetches it again.
func (c *Cache) Refresh(ctx context.Context) []types.ModelDescriptor {
	c.Invalidate()
	return c.All(ctx)
}

// Toggle flips a model's enabled flag and returns the new value.
func (c *Cache) Toggle(name string) (enabled bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.findLocked(name); !ok {
		return false, false
	}
	on := !c.isEnabledLocked(name)
	c.enabled[name] = on
	return on, true
}

func (c *Cache) load(ctx context.Context) (types.CatalogSnapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap.Fresh(c.now(), c.cfg.TTL) {
		return snap, nil
	}
	// Detach from the first caller's cancellation so it cannot fail the
	// callers sharing this flight; the backend call has its own timeout.
	fctx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do("models", func() (any, error) {
		c.mu.RLock()
		cur := c.snap
		c.mu.RUnlock()
		if cur.Fresh(c.now(), c.cfg.TTL) {
			return cur, nil
		}
		return c.refresh(fctx)
	})
	if err != nil {
		return types.CatalogSnapshot{}, err
	}
	return v.(types.CatalogSnapshot), nil
}

func (c *Cache) refresh(ctx context.Context) (types.CatalogSnapshot, error) {
	tags, err := c.src.ListModels(ctx)
	if err != nil {
		metrics.CatalogFetch(false)
		return types.CatalogSnapshot{}, err
	}
	metrics.CatalogFetch(true)
	seen := make(map[string]struct{}, len(tags))
	models := make([]types.ModelDescriptor, 0, len(tags))
	for _, t := range tags {
		if t.Name == "" {
			continue
		}
		seen[t.Name] = struct{}{}
		if c.allow != nil {
			if _, ok := c.allow[t.Name]; !ok {
				continue
			}
		}
		models = append(models, describe(t, c.cfg.MaxConcurrent, c.cfg.ContextLength))
	}
	if c.allow != nil {
		var missing []string
		for name := range c.allow {
			if _, ok := seen[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			c.log.Warn().Strs("missing", missing).Msg("allowed models not available in backend")
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	snap := types.CatalogSnapshot{Models: models, FetchedAt: c.now()}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.log.Debug().Int("models", len(models)).Msg("model catalog refreshed")
	return snap, nil
}

func (c *Cache) view(models []types.ModelDescriptor) []types.ModelDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewLocked(models)
}

func (c *Cache) viewLocked(models []types.ModelDescriptor) []types.ModelDescriptor {
	out := make([]types.ModelDescriptor, len(models))
	for i, m := range models {
		if u, ok := c.overrides[m.Name]; ok {
			m = applyUpdate(m, u)
		}
		m.Enabled = c.isEnabledLocked(m.Name)
		out[i] = m
	}
	return out
}

func (c *Cache) isEnabledLocked(name string) bool {
	if on, ok := c.enabled[name]; ok {
		return on
	}
	return c.cfg.AutoEnable
}

func (c *Cache) findLocked(name string) (types.ModelDescriptor, bool) {
	for _, m := range c.snap.Models {
		if m.Name == name {
			return m, true
		}
	}
	return types.ModelDescriptor{}, false
}
