package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	"tracksync.app/sync-server/common/id"
	"tracksync.app/sync-server/common/logger"
	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
	"tracksync.app/sync-server/internal/translate"
)

var ErrUnknownProfile = errors.New("unknown sync profile")

// Clients is the per-worker pair of remote connections. The underlying
// client libraries are not guaranteed safe for concurrent use, so a Clients
// value is checked out exclusively for the duration of one dispatch.
type Clients struct {
	Records remote.RecordStore
	Tracker remote.IssueTracker
}

// ClientFactory creates a fresh connection pair for a worker.
type ClientFactory func(ctx context.Context) (*Clients, error)

// clientPool hands out connection pairs, creating them lazily and caching
// released ones for the next worker.
type clientPool struct {
	factory ClientFactory

	mu   gosync.Mutex
	free []*Clients
}

func (p *clientPool) get(ctx context.Context) (*Clients, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()
	return p.factory(ctx)
}

func (p *clientPool) put(c *Clients) {
	p.mu.Lock()
	p.free = append(p.free, c)
	p.mu.Unlock()
}

type profileRuntime struct {
	compiled   *compiled
	translator translate.Translator
	pool       *clientPool
}

// Bridge owns the named synchronization profiles and dispatches inbound
// events to the right engine. It is the only component callers talk to.
type Bridge struct {
	profiles map[string]*profileRuntime
}

func NewBridge() *Bridge {
	return &Bridge{profiles: map[string]*profileRuntime{}}
}

// AddProfile validates and compiles a profile eagerly; configuration errors
// are returned here and must prevent startup. One connection pair is created
// up front for validation and then seeds the worker pool.
func (b *Bridge) AddProfile(ctx context.Context, p Profile, translator translate.Translator, factory ClientFactory) error {
	if p.Name == "" {
		return fmt.Errorf("profile needs a name")
	}
	if _, dup := b.profiles[p.Name]; dup {
		return fmt.Errorf("duplicate profile %q", p.Name)
	}

	clients, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("profile %q: connecting: %w", p.Name, err)
	}
	c, err := compile(ctx, p, clients.Records, clients.Tracker)
	if err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}

	pool := &clientPool{factory: factory}
	pool.put(clients)
	b.profiles[p.Name] = &profileRuntime{compiled: c, translator: translator, pool: pool}

	slog.InfoContext(ctx, "sync profile registered", "profile", p.Name, "mappings", len(p.Mappings))
	return nil
}

// Profiles lists the registered profile names.
func (b *Bridge) Profiles() []string {
	names := make([]string, 0, len(b.profiles))
	for name := range b.profiles {
		names = append(names, name)
	}
	return names
}

// ProcessChange runs a record-store change event through the acceptance and
// processing pipelines of the named profile. A rejection is a normal
// not-synced result; only transport failures return an error.
func (b *Bridge) ProcessChange(ctx context.Context, profile string, ev model.ChangeEvent) (*Result, error) {
	engine, release, err := b.engineFor(ctx, profile)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx = withDispatchID(ctx)
	ok, err := engine.AcceptChange(ctx, ev)
	if err != nil || !ok {
		return &Result{Synced: false}, err
	}
	return engine.ProcessChange(ctx, ev)
}

// ProcessWebhook runs a tracker webhook through the reverse pipelines.
func (b *Bridge) ProcessWebhook(ctx context.Context, profile string, ev model.WebhookEvent) (*Result, error) {
	engine, release, err := b.engineFor(ctx, profile)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx = withDispatchID(ctx)
	ok, err := engine.AcceptWebhook(ctx, ev)
	if err != nil || !ok {
		return &Result{Synced: false}, err
	}
	return engine.ProcessWebhook(ctx, ev)
}

func (b *Bridge) engineFor(ctx context.Context, profile string) (*Engine, func(), error) {
	rt, ok := b.profiles[profile]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	clients, err := rt.pool.get(ctx)
	if err != nil {
		return nil, nil, err
	}
	engine := &Engine{
		p:          rt.compiled,
		records:    clients.Records,
		tracker:    clients.Tracker,
		translator: rt.translator,
	}
	return engine, func() { rt.pool.put(clients) }, nil
}

type dispatchIDKey struct{}

func withDispatchID(ctx context.Context) context.Context {
	dispatchID := id.New()
	ctx = logger.WithLogFields(ctx, logger.LogFields{DispatchID: logger.Ptr(dispatchID)})
	return context.WithValue(ctx, dispatchIDKey{}, dispatchID)
}

// DispatchID returns the correlation ID of the current dispatch, 0 outside
// one.
func DispatchID(ctx context.Context) int64 {
	v, _ := ctx.Value(dispatchIDKey{}).(int64)
	return v
}
