// Package usecase is the fetch-cache-reconcile pipeline: each use case binds
// one remote request to a local scope and a merge function, executes the
// request, and atomically merges the decoded response into the entity store.
package usecase

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"coursecache/pkg/api"
	"coursecache/pkg/cache"
	"coursecache/pkg/events"
	"coursecache/pkg/store"
)

// Engine carries the collaborators every use case needs. Fetch policies
// (immediate, paginated exhaust, TTL-gated) are plain functions over specs
// rather than a type hierarchy.
type Engine struct {
	API   *api.Client
	Store *store.EntityStore
	Gate  *cache.Gate
	Bus   events.Bus
	Log   *slog.Logger
	// TTL is the freshness window used when a spec does not set its own;
	// zero falls through to the gate's default.
	TTL time.Duration

	flight singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithGate enables TTL gating for keyed fetches.
func WithGate(g *cache.Gate) Option { return func(e *Engine) { e.Gate = g } }

// WithBus enables cross-cutting event publication.
func WithBus(b events.Bus) Option { return func(e *Engine) { e.Bus = b } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.Log = l } }

// WithTTL overrides the engine-wide freshness window.
func WithTTL(d time.Duration) Option { return func(e *Engine) { e.TTL = d } }

func New(client *api.Client, entityStore *store.EntityStore, opts ...Option) *Engine {
	e := &Engine{API: client, Store: entityStore, Log: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.Bus == nil {
		return
	}
	// Fire-and-forget: a dead bus must never fail the pipeline.
	if err := e.Bus.Publish(ctx, ev); err != nil {
		e.Log.Warn("event publish failed", "event", ev.Name, "error", err)
	}
}

func (e *Engine) fresh(ctx context.Context, key string) bool {
	return e.Gate != nil && key != "" && e.Gate.Fresh(ctx, key)
}

func (e *Engine) touch(ctx context.Context, key string, ttl time.Duration) {
	if e.Gate == nil || key == "" {
		return
	}
	if ttl <= 0 {
		ttl = e.TTL
	}
	if err := e.Gate.Touch(ctx, key, ttl); err != nil {
		e.Log.Warn("ttl touch failed", "key", key, "error", err)
	}
}

// FetchSpec describes one keyed fetch: the request, an optional prune step
// run before the merge (collection-replacement semantics), and the merge
// itself. Key doubles as the TTL cache key and the request-coalescing key.
type FetchSpec[R any] struct {
	Key     string
	TTL     time.Duration
	Force   bool
	Request api.Request
	// Reset prunes rows before Write; nil means merge-only (the default: a
	// page is a subset, absence from it deletes nothing).
	Reset func(tx *gorm.DB) error
	Write func(tx *gorm.DB, resp R, meta *api.Meta) error
}

type fetchResult[R any] struct {
	resp R
	meta *api.Meta
}

// FetchOne executes a single-request fetch. Inside the TTL window with
// Force unset it returns the zero response without touching the network;
// callers read the merged state from the store, not from the return value.
// Identical concurrent fetches coalesce onto one network call.
func FetchOne[R any](ctx context.Context, e *Engine, spec FetchSpec[R]) (R, *api.Meta, error) {
	var zero R
	if !spec.Force && e.fresh(ctx, spec.Key) {
		return zero, nil, nil
	}
	run := func() (any, error) {
		resp, meta, err := api.Do[R](ctx, e.API, spec.Request)
		if err != nil {
			return nil, err
		}
		if err := writeResponse(ctx, e, spec, resp, meta); err != nil {
			return nil, err
		}
		e.touch(ctx, spec.Key, spec.TTL)
		return fetchResult[R]{resp: resp, meta: meta}, nil
	}
	if spec.Key == "" {
		out, err := run()
		if err != nil {
			return zero, nil, err
		}
		res := out.(fetchResult[R])
		return res.resp, res.meta, nil
	}
	out, err, _ := e.flight.Do(spec.Key, run)
	if err != nil {
		return zero, nil, err
	}
	res := out.(fetchResult[R])
	return res.resp, res.meta, nil
}

// FetchAll exhausts a paginated collection: every page is merged as it
// arrives, and fetching continues along the next-page cursor until none
// remains or keepGoing declines. Reset, when present, runs only before the
// first page.
func FetchAll[R any](ctx context.Context, e *Engine, spec FetchSpec[R], keepGoing func(resp R, meta *api.Meta) bool) error {
	if !spec.Force && e.fresh(ctx, spec.Key) {
		return nil
	}
	req := spec.Request
	first := true
	for {
		resp, meta, err := api.Do[R](ctx, e.API, req)
		if err != nil {
			return err
		}
		pageSpec := spec
		if !first {
			pageSpec.Reset = nil
		}
		if err := writeResponse(ctx, e, pageSpec, resp, meta); err != nil {
			return err
		}
		first = false
		if meta.Next == "" {
			break
		}
		if keepGoing != nil && !keepGoing(resp, meta) {
			break
		}
		req = api.Request{Method: req.Method, Path: meta.Next}
	}
	e.touch(ctx, spec.Key, spec.TTL)
	return nil
}

func writeResponse[R any](ctx context.Context, e *Engine, spec FetchSpec[R], resp R, meta *api.Meta) error {
	if spec.Write == nil && spec.Reset == nil {
		return nil
	}
	return e.Store.Write(ctx, func(tx *gorm.DB) error {
		if spec.Reset != nil {
			if err := spec.Reset(tx); err != nil {
				return err
			}
		}
		if spec.Write == nil {
			return nil
		}
		return spec.Write(tx, resp, meta)
	})
}

// Optimistic applies the local mutation first for responsiveness, then
// issues the request. On failure the optimistic value is left as-is — the
// caller decides whether to surface the error and re-fetch to correct it.
func Optimistic(ctx context.Context, e *Engine, req api.Request, local func(tx *gorm.DB) error) error {
	if err := e.Store.Write(ctx, local); err != nil {
		return err
	}
	_, _, err := api.Do[struct{}](ctx, e.API, req)
	return err
}

// Mutate issues a mutation request and, on success, applies write. A nil
// response body (204-style endpoints) still reaches write so status-gated
// local updates can run; on request failure no store mutation occurs.
func Mutate[R any](ctx context.Context, e *Engine, req api.Request, write func(tx *gorm.DB, resp R, meta *api.Meta) error) (R, *api.Meta, error) {
	var zero R
	resp, meta, err := api.Do[R](ctx, e.API, req)
	if err != nil {
		return zero, meta, err
	}
	if write != nil {
		if err := e.Store.Write(ctx, func(tx *gorm.DB) error {
			return write(tx, resp, meta)
		}); err != nil {
			return resp, meta, err
		}
	}
	return resp, meta, nil
}
