package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/vk/symsteer/internal/backoff"
	"github.com/vk/symsteer/internal/config"
	"github.com/vk/symsteer/internal/corpus"
	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/emit"
	"github.com/vk/symsteer/internal/engine"
	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/filter"
	"github.com/vk/symsteer/internal/graph"
	"github.com/vk/symsteer/internal/joint"
	"github.com/vk/symsteer/internal/path"
	"github.com/vk/symsteer/internal/program"
	"github.com/vk/symsteer/internal/program/ssaload"
	"github.com/vk/symsteer/internal/scheduler"
	"github.com/vk/symsteer/internal/solver"
	"github.com/vk/symsteer/internal/utility"
	"github.com/vk/symsteer/internal/workers"
)

// ErrNoEntry is returned when the entry function cannot be found.
var ErrNoEntry = errors.New("entry function not found")

// defaultEntry selects the main function of the explored program.
const defaultEntry = "main"

// analysis holds everything derived from the program that every
// exploration run shares.
type analysis struct {
	graph     *graph.Builder
	entry     *program.Function
	utilities []gatedUtility
	output    emit.Filter
}

type gatedUtility struct {
	u    utility.StateUtility
	gate bool
}

// Run executes the exploration described by the run configuration.
//
// Without an input corpus the program is explored standalone. With one, a
// path id selects a single sender path; otherwise every sender path is
// explored in turn, in worker processes when more than one worker is
// configured.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.cfg.HealthcheckPort > 0 {
		a.startHealthcheckServer(a.cfg.HealthcheckPort)
		defer a.closeHealthcheckServer()
	}

	j := a.model.Joint
	if j.InPaths != "" && j.PathID == config.NoPathID && a.model.Workers > 1 {
		return a.coordinate(ctx)
	}

	an, err := a.analyze(ctx)
	if err != nil {
		return err
	}
	out, err := corpus.Append(a.model.Output.Path)
	if err != nil {
		return err
	}
	defer out.Close()

	if j.InPaths == "" {
		return a.explore(ctx, an, out, nil, config.NoPathID)
	}

	src, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	if j.PathID != config.NoPathID {
		return a.explore(ctx, an, out, src, j.PathID)
	}
	for id := 0; ; id++ {
		if _, err := src.Get(ctx, id, j.Follow); err != nil {
			if errors.Is(err, corpus.ErrOutOfBounds) {
				a.logger.Info("Sender corpus exhausted.", "paths", id)
				return nil
			}
			return err
		}
		if err := a.explore(ctx, an, out, src, id); err != nil {
			return err
		}
	}
}

// coordinate hands every sender path to a worker process.
func (a *App) coordinate(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	src, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	pool := workers.NewPool(a.model.Workers, a.spawner)
	dispatched := 0
	var dispatchErr error
	for id := 0; ; id++ {
		if _, err := src.Get(ctx, id, a.model.Joint.Follow); err != nil {
			if !errors.Is(err, corpus.ErrOutOfBounds) {
				dispatchErr = err
			}
			break
		}
		pid, err := pool.Fork(ctx, workerArgs(a.cfg.Args, id)...)
		if err != nil {
			dispatchErr = fmt.Errorf("path %d: %w", id, err)
			break
		}
		logger.Info("Worker started.", ctxlog.KeyPathID, id, "pid", pid)
		dispatched++
	}
	logger.Info("Waiting for workers.", "dispatched", dispatched, "alive", len(pool.Alive()))
	waitErr := pool.Wait()
	logger.Info("Workers finished.", "exited", pool.Exited(), "failed", pool.Failed())
	return errors.Join(dispatchErr, waitErr)
}

// openSource opens the sender corpus. In follow mode a corpus that does not
// exist yet is waited for.
func (a *App) openSource(ctx context.Context) (*corpus.Catalog, error) {
	j := a.model.Joint
	waiter := a.pollWaiter()
	var cat *corpus.Catalog
	err := backoff.Retry(ctx, waiter, func(attempt int) (bool, error) {
		c, err := corpus.OpenCatalog(j.InPaths, waiter)
		if err == nil {
			cat = c
			return true, nil
		}
		if j.Follow && errors.Is(err, fs.ErrNotExist) {
			ctxlog.FromContext(ctx).Debug("Waiting for sender corpus.", "path", j.InPaths, "attempt", attempt)
			return false, nil
		}
		return false, err
	})
	return cat, err
}

// analyze loads the program and computes the analyses every run shares.
func (a *App) analyze(ctx context.Context) (*analysis, error) {
	logger := ctxlog.FromContext(ctx)
	m := a.module
	if m == nil {
		var err error
		m, err = ssaload.Load(ctx, a.model.Program.Dir, a.model.Program.Packages...)
		if err != nil {
			return nil, err
		}
	}
	g, err := graph.Build(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("failed to build graphs: %w", err)
	}
	entry, err := findEntry(m, a.model.Program.Entry)
	if err != nil {
		return nil, err
	}
	an := &analysis{graph: g, entry: entry}
	an.utilities = append(an.utilities, gatedUtility{u: utility.Filtered{}, gate: true})

	if a.model.Recover.PathID != config.NoPathID {
		trace, err := a.recoverTrace(ctx)
		if err != nil {
			return nil, err
		}
		an.utilities = append(an.utilities, gatedUtility{u: utility.RecoverState{Trace: trace}})
	}

	var avoid *filter.Whitelist
	if len(a.model.AwayFrom) > 0 {
		ins, err := m.ResolveAll(a.model.AwayFrom)
		if err != nil {
			return nil, fmt.Errorf("away from: %w", err)
		}
		avoid = filter.NewWhitelist(ins...)
		an.utilities = append(an.utilities, gatedUtility{u: utility.Avoid{Filter: avoid}, gate: true})
	}
	if len(a.model.Toward) > 0 {
		targets, err := m.ResolveAll(a.model.Toward)
		if err != nil {
			return nil, fmt.Errorf("toward: %w", err)
		}
		warnUnreachable(ctx, g, entry, targets)
		dm, err := g.Distances(ctx, targets)
		if err != nil {
			return nil, err
		}
		var region filter.InstructionFilter = filter.CFGBackward(g, targets)
		if avoid != nil {
			region = filter.Intersection{region, filter.Not(avoid)}
		}
		var rank utility.StateUtility = utility.TargetDistance{Map: dm}
		if a.model.Search == config.SearchAstar {
			rank = utility.Astar{Map: dm}
		}
		an.utilities = append(an.utilities,
			gatedUtility{u: utility.FilterUtility{Filter: region}, gate: true},
			gatedUtility{u: rank},
		)
		logger.Debug("Targets resolved.", "codepoints", len(a.model.Toward), "instructions", len(targets), "search", a.model.Search)
	}
	for _, w := range a.model.Waypoints {
		u := &utility.Waypoint{Name: w.Name, Mandatory: w.Mandatory}
		for _, cp := range w.Codepoints {
			ins, err := m.Resolve(cp)
			if err != nil {
				return nil, fmt.Errorf("waypoint %s: %w", w.Name, err)
			}
			u.Points = append(u.Points, ins[0])
		}
		an.utilities = append(an.utilities, gatedUtility{u: u})
	}
	an.utilities = append(an.utilities, gatedUtility{u: utility.Depth{}})

	an.output = emit.Filter{Terminal: a.model.Output.Terminal, Early: a.model.Output.Early}
	if len(a.model.Output.At) > 0 {
		at, err := m.ResolveAll(a.model.Output.At)
		if err != nil {
			return nil, fmt.Errorf("output at: %w", err)
		}
		an.output.At = filter.NewWhitelist(at...)
	}
	logger.Info("Program analyzed.", "functions", len(m.Functions), "instructions", m.NumInstructions(), "entry", entry.Name)
	return an, nil
}

// pollWaiter paces reads of a corpus that has not caught up yet.
func (a *App) pollWaiter() backoff.Waiter {
	j := a.model.Joint
	if j.PollMax > j.Poll {
		return backoff.NewExponential(backoff.Config{
			InitialDelay: j.Poll,
			MaxDelay:     j.PollMax,
			Multiplier:   2,
			Jitter:       true,
		}, rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	return backoff.Fixed(j.Poll)
}

// recoverTrace reads the branch trace this participant left in the
// recovered path.
func (a *App) recoverTrace(ctx context.Context) ([]path.Branch, error) {
	id := a.model.Recover.PathID
	cat, err := corpus.OpenCatalog(a.model.RecoverPaths(), a.pollWaiter())
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	defer cat.Close()
	p, err := cat.Get(ctx, id, false)
	if err != nil {
		return nil, fmt.Errorf("recover path %d: %w", id, err)
	}
	trace, ok := p.ExploredPath[a.model.Participant]
	if !ok {
		return nil, fmt.Errorf("recover path %d has no branch trace for %s", id, a.model.Participant)
	}
	ctxlog.FromContext(ctx).Info("Recovering recorded path.", "path_id", id, "path", p.UUID, "branches", len(trace))
	return trace, nil
}

// warnUnreachable reports targets the entry function can never get to.
func warnUnreachable(ctx context.Context, g *graph.Builder, entry *program.Function, targets []*program.Instruction) {
	reach := filter.CFGForward(g, []*program.Instruction{entry.Entry()})
	for _, in := range targets {
		if filter.TriOf(reach, in) != filter.Reaching {
			ctxlog.FromContext(ctx).Warn("Target is not reachable from the entry function.", "target", in.String(), "loc", in.Loc.String())
		}
	}
}

// explore runs one exploration from the entry function. A nil src or a
// negative pathID explores standalone.
func (a *App) explore(ctx context.Context, an *analysis, out *corpus.Writer, src joint.Source, pathID int) error {
	ctx = ctxlog.WithPathID(ctx, pathID)
	logger := ctxlog.FromContext(ctx)

	sched := scheduler.New()
	for _, g := range an.utilities {
		sched.Add(g.u, g.gate)
	}
	slv := solver.NewLocal()
	walker := &engine.Walker{
		Graph:       an.graph,
		Solver:      slv,
		Participant: a.model.Participant,
		PathID:      pathID,
	}
	arena := path.NewArena()
	if src != nil && pathID >= 0 {
		walker.Seeder = joint.New(joint.Config{
			Participant: a.model.Participant,
			AutoConnect: a.model.Joint.AutoConnect,
			Follow:      a.model.Joint.Follow,
			Mapping:     joint.SeedMapping(a.model.Joint.Connect),
		}, src, arena, slv)
	}

	eng := engine.New(walker, sched,
		engine.WithOutput(&emit.Builder{Participant: a.model.Participant, Solver: slv}, an.output, out),
		engine.WithStepLimit(a.model.StepLimit),
	)
	walker.IDs = eng
	a.track(eng)

	if err := eng.Run(ctx, execstate.New(eng.NextID(), an.entry)); err != nil {
		return fmt.Errorf("exploration failed: %w", err)
	}
	if n := arena.Len(); n > 0 {
		logger.Warn("Sender paths still referenced after exploration.", "paths", n)
	}
	return nil
}

// findEntry looks name up exactly, then as the unique function whose
// qualified name ends in it.
func findEntry(m *program.Module, name string) (*program.Function, error) {
	if name == "" {
		name = defaultEntry
	}
	if f, ok := m.Function(name); ok && f.HasBody() {
		return f, nil
	}
	var found []*program.Function
	for _, f := range m.Functions {
		if f.HasBody() && (strings.HasSuffix(f.Name, "."+name) || strings.HasSuffix(f.Name, "/"+name)) {
			found = append(found, f)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%q: %w", name, ErrNoEntry)
	case 1:
		return found[0], nil
	}
	names := make([]string, len(found))
	for i, f := range found {
		names[i] = f.Name
	}
	return nil, fmt.Errorf("entry %q is ambiguous: %s", name, strings.Join(names, ", "))
}

// workerArgs replays the command line for the worker exploring path id.
// Flags that only make sense in the coordinator are dropped.
func workerArgs(args []string, id int) []string {
	out := []string{"--path-id", strconv.Itoa(id), "--workers", "1"}
	for i := 0; i < len(args); i++ {
		name, inline := flagName(args[i])
		switch name {
		case "path-id", "workers", "healthcheck-port":
			if !inline {
				i++
			}
			continue
		}
		out = append(out, args[i])
	}
	return out
}

// flagName returns the name of a flag argument and whether its value is
// given inline with '='.
func flagName(arg string) (string, bool) {
	if arg == "-" || arg == "--" || !strings.HasPrefix(arg, "-") {
		return "", false
	}
	name, _, inline := strings.Cut(strings.TrimLeft(arg, "-"), "=")
	return name, inline
}
