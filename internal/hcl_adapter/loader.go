package hcl_adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/symsteer/internal/config"
	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	// Participant is visible to expressions as `participant` unless a file
	// sets the attribute itself.
	Participant string
	// Environ feeds the `env` object. Nil uses os.Environ.
	Environ func() []string
}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under paths, in lexical order, into one model.
// Repeated list blocks accumulate; singleton blocks may appear only once
// across all files.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	model := config.NewModel()
	model.Participant = l.Participant
	seen := make(map[string]string)
	parser := hclparse.NewParser()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var head participantOnly
		if diags := gohcl.DecodeBody(hclFile.Body, l.evalContext(model.Participant), &head); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		if head.Participant != "" {
			model.Participant = head.Participant
		}

		evalCtx := l.evalContext(model.Participant)
		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, evalCtx, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		warnUnknown(ctx, file, root.Remain)

		if err := l.translate(ctx, file, &root, evalCtx, model, seen); err != nil {
			return nil, err
		}
	}

	logger.Debug("HCL loading complete.",
		"participant", model.Participant, "packages", len(model.Program.Packages),
		"toward", len(model.Toward), "away_from", len(model.AwayFrom), "waypoints", len(model.Waypoints))
	return model, nil
}

// evalContext exposes the environment and the participant name.
func (l *Loader) evalContext(participant string) *hcl.EvalContext {
	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	env := make(map[string]cty.Value)
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env":         cty.ObjectVal(env),
			"participant": cty.StringVal(participant),
		},
	}
}

func (l *Loader) translate(ctx context.Context, file string, root *fileRoot, evalCtx *hcl.EvalContext, m *config.Model, seen map[string]string) error {
	once := func(block string, present bool) error {
		if !present {
			return nil
		}
		if prev, ok := seen[block]; ok {
			return fmt.Errorf("%s: duplicate %s block, first defined in %s", file, block, prev)
		}
		seen[block] = file
		return nil
	}
	if err := once("program", root.Program != nil); err != nil {
		return err
	}
	if err := once("joint", root.Joint != nil); err != nil {
		return err
	}
	if err := once("output", root.Output != nil); err != nil {
		return err
	}
	if err := once("run", root.Run != nil); err != nil {
		return err
	}

	if p := root.Program; p != nil {
		m.Program = config.Program{Dir: p.Dir, Packages: p.Packages, Entry: p.Entry}
	}
	for _, c := range root.Toward {
		m.Toward = append(m.Toward, c.Codepoints...)
	}
	for _, c := range root.AwayFrom {
		m.AwayFrom = append(m.AwayFrom, c.Codepoints...)
	}
	for _, w := range root.Waypoints {
		m.Waypoints = append(m.Waypoints, config.Waypoint{Name: w.Name, Codepoints: w.Codepoints, Mandatory: w.Mandatory})
	}

	if j := root.Joint; j != nil {
		m.Joint.InPaths = j.InPaths
		m.Joint.Follow = j.Follow
		m.Joint.AutoConnect = j.AutoConnect
		m.Joint.Connect = j.Connect
		if isExprDefined(ctx, j.PathID, "path_id") {
			if err := decodeExpr(j.PathID, evalCtx, &m.Joint.PathID); err != nil {
				return fmt.Errorf("%s: joint.path_id: %w", file, err)
			}
		}
		if j.Poll != "" {
			d, err := time.ParseDuration(j.Poll)
			if err != nil {
				return fmt.Errorf("%s: joint.poll: %w", file, err)
			}
			m.Joint.Poll = d
		}
		if j.PollMax != "" {
			d, err := time.ParseDuration(j.PollMax)
			if err != nil {
				return fmt.Errorf("%s: joint.poll_max: %w", file, err)
			}
			m.Joint.PollMax = d
		}
	}

	if o := root.Output; o != nil {
		m.Output.Path = o.Path
		m.Output.Early = o.Early
		m.Output.At = o.At
		if isExprDefined(ctx, o.Terminal, "terminal") {
			if err := decodeExpr(o.Terminal, evalCtx, &m.Output.Terminal); err != nil {
				return fmt.Errorf("%s: output.terminal: %w", file, err)
			}
		}
	}

	if r := root.Run; r != nil {
		if r.Workers != 0 {
			m.Workers = r.Workers
		}
		m.StepLimit = r.StepLimit
		if r.Search != "" {
			m.Search = r.Search
		}
		if rc := r.Recover; rc != nil {
			m.Recover.Paths = rc.Paths
			if err := decodeExpr(rc.PathID, evalCtx, &m.Recover.PathID); err != nil {
				return fmt.Errorf("%s: run.recover.path_id: %w", file, err)
			}
		}
	}
	return nil
}

// decodeExpr evaluates expr into the Go value pointed to by target.
func decodeExpr(expr hcl.Expression, evalCtx *hcl.EvalContext, target any) error {
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return diags
	}
	return gocty.FromCtyValue(val, target)
}

// warnUnknown logs attributes and blocks the schema does not know about.
func warnUnknown(ctx context.Context, file string, remain hcl.Body) {
	if remain == nil {
		return
	}
	attrs, diags := remain.JustAttributes()
	if diags.HasErrors() {
		ctxlog.FromContext(ctx).Warn("Configuration file has unknown blocks.", "file", file, "detail", diags.Error())
		return
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ctxlog.FromContext(ctx).Warn("Ignoring unknown configuration attribute.", "file", file, "attribute", name)
	}
}

// findAllHCLFiles walks all given paths and returns a sorted list of all .hcl
// files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if info.IsDir() {
			found, err := fsutil.FindFiles(path, ".hcl")
			if err != nil {
				return nil, err
			}
			for _, f := range found {
				add(f)
			}
		} else if filepath.Ext(path) == ".hcl" {
			add(path)
		} else {
			return nil, fmt.Errorf("%s is not an .hcl file", path)
		}
	}
	sort.Strings(allFiles)
	return allFiles, nil
}
