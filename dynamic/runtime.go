// Package dynamic runs plugin code in sandboxed Yaegi interpreters.
package dynamic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/sitebuilder/sdk"
	"github.com/GoCodeAlone/sitebuilder/store"
)

// Observer receives the outcome of every entrypoint run.
type Observer func(pluginID, entry string, d time.Duration, err error)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLimits sets the entrypoint limits.
func WithLimits(l ResourceLimits) Option {
	return func(r *Runtime) { r.limits = l }
}

// WithLogger sets the runtime logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithObserver adds a callback run after every entrypoint.
func WithObserver(o Observer) Option {
	return func(r *Runtime) { r.observers = append(r.observers, o) }
}

// WithGoPath sets the GOPATH handed to interpreters.
func WithGoPath(p string) Option {
	return func(r *Runtime) { r.pool = NewInterpreterPool(p) }
}

// Runtime compiles plugin code and calls its entrypoints. A fresh program is
// compiled for every run.
type Runtime struct {
	pool      *InterpreterPool
	limits    ResourceLimits
	loads     *LoadRegistry
	logger    *slog.Logger
	observers []Observer
}

// NewRuntime creates a runtime with default limits.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		pool:   NewInterpreterPool(""),
		limits: DefaultResourceLimits(),
		loads:  NewLoadRegistry(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Loads returns the registry of entrypoint runs.
func (r *Runtime) Loads() *LoadRegistry { return r.loads }

// RunBuilder compiles p and calls its Builder entrypoint, if declared.
func (r *Runtime) RunBuilder(ctx context.Context, p *store.Plugin, api sdk.Builder) error {
	return r.run(ctx, p, EntryBuilder, func(prog *Program) func() {
		if !prog.HasBuilder() {
			return nil
		}
		return func() { prog.builder(api) }
	})
}

// RunDashboard compiles p and calls its Dashboard entrypoint, if declared.
func (r *Runtime) RunDashboard(ctx context.Context, p *store.Plugin, api sdk.Dashboard) error {
	return r.run(ctx, p, EntryDashboard, func(prog *Program) func() {
		if !prog.HasDashboard() {
			return nil
		}
		return func() { prog.dashboard(api) }
	})
}

func (r *Runtime) run(ctx context.Context, p *store.Plugin, entry string, pick func(*Program) func()) error {
	start := time.Now()
	err := r.exec(ctx, p, entry, pick)
	d := time.Since(start)

	r.loads.Record(p.ID, entry, d, err)
	for _, o := range r.observers {
		o(p.ID, entry, d, err)
	}
	if err != nil {
		r.logger.Warn("plugin entrypoint failed", "plugin", p.ID, "entrypoint", entry, "duration", d, "error", err)
	} else {
		r.logger.Debug("plugin entrypoint ran", "plugin", p.ID, "entrypoint", entry, "duration", d)
	}
	return err
}

func (r *Runtime) exec(ctx context.Context, p *store.Plugin, entry string, pick func(*Program) func()) error {
	prog, err := Compile(r.pool, p.ID, p.Code)
	if err != nil {
		return err
	}
	fn := pick(prog)
	if fn == nil {
		return nil
	}
	return executeWithLimits(ctx, fmt.Sprintf("%s.%s", p.ID, entry), r.limits, fn)
}
