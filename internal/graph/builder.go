package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/program"
)

// ErrStaleGraph is returned when an analysis is requested from a Builder whose
// module has been mutated since Build.
var ErrStaleGraph = errors.New("graph is stale: module changed since build")

// Builder owns the CFG and call graph of one module version and caches the
// analyses derived from them.
type Builder struct {
	module   *program.Module
	version  uint64
	resolver CallResolver

	cfg *CFG
	cg  *CallGraph

	mu        sync.Mutex
	distances map[string]*DistanceMap
}

type options struct {
	resolver CallResolver
}

// Option configures Build.
type Option func(*options)

// WithResolver replaces the default SignatureResolver.
func WithResolver(r CallResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// Build constructs the CFG and call graph of a module.
func Build(ctx context.Context, m *program.Module, opts ...Option) (*Builder, error) {
	logger := ctxlog.FromContext(ctx)
	if m == nil {
		return nil, errors.New("graph: nil module")
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("graph: invalid module: %w", err)
	}
	o := options{resolver: SignatureResolver{}}
	for _, opt := range opts {
		opt(&o)
	}

	logger.Debug("Build: Starting graph construction.", "module", m.Name, "functions", len(m.Functions))
	b := &Builder{
		module:    m,
		version:   m.Version(),
		resolver:  o.resolver,
		cfg:       newCFG(),
		cg:        newCallGraph(),
		distances: make(map[string]*DistanceMap),
	}

	// First pass: control flow, one function at a time.
	for _, f := range m.Functions {
		b.cfg.buildFunction(f)
	}
	logger.Debug("Build: CFG construction complete.")

	// Second pass: direct calls.
	for _, in := range m.Instructions() {
		if !in.IsCall() {
			continue
		}
		b.cg.sites = append(b.cg.sites, in)
		if in.Callee != nil {
			b.cg.addDefinite(in, in.Callee)
		}
	}
	logger.Debug("Build: Definite call edges complete.", "call_sites", len(b.cg.sites))

	// Third pass: indirect calls through the resolver.
	for _, site := range b.cg.sites {
		if site.Callee != nil {
			continue
		}
		targets := b.resolver.Resolve(site, m.Functions)
		if len(targets) == 0 {
			b.cg.unresolved = append(b.cg.unresolved, site)
			logger.Warn("Call site has no resolved callee.", "site", site.String(), "loc", site.Loc.String())
			continue
		}
		for _, f := range targets {
			b.cg.addPossible(site, f)
		}
	}
	logger.Debug("Build: Possible call edges complete.", "unresolved", len(b.cg.unresolved))

	for _, f := range b.Uncalled() {
		logger.Debug("Function has no callers.", "function", f.Name)
	}

	logger.Debug("Build: Graph construction successful.")
	return b, nil
}

// Module returns the module the builder indexes.
func (b *Builder) Module() *program.Module {
	return b.module
}

// CFG returns the control-flow graph.
func (b *Builder) CFG() *CFG {
	return b.cfg
}

// CallGraph returns the call graph.
func (b *Builder) CallGraph() *CallGraph {
	return b.cg
}

// Valid reports whether the module is unchanged since Build.
func (b *Builder) Valid() bool {
	return b.module.Version() == b.version
}

// Check returns ErrStaleGraph if the builder is no longer valid.
func (b *Builder) Check() error {
	if !b.Valid() {
		return ErrStaleGraph
	}
	return nil
}

// Uncalled returns the defined functions without any possible caller.
func (b *Builder) Uncalled() []*program.Function {
	var out []*program.Function
	for _, f := range b.module.Functions {
		if f.HasBody() && len(b.cg.PossibleCallers(f)) == 0 {
			out = append(out, f)
		}
	}
	return out
}
