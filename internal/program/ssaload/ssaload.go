// Package ssaload builds a program.Module from Go packages using the
// golang.org/x/tools SSA form. Each SSA basic block becomes one block, each
// SSA instruction one program point.
package ssaload

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"go/types"
	"sort"

	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/program"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

const loadMode = packages.NeedName | packages.NeedFiles | packages.NeedSyntax |
	packages.NeedTypes | packages.NeedTypesInfo | packages.NeedDeps | packages.NeedImports

// Load type-checks the packages matching patterns, builds their SSA form and
// converts every function with a body into a program.Module.
func Load(ctx context.Context, dir string, patterns ...string) (*program.Module, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading Go packages.", "dir", dir, "patterns", patterns)

	cfg := &packages.Config{Context: ctx, Mode: loadMode, Dir: dir}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, errors.New("packages contain errors")
	}

	prog, _ := ssautil.AllPackages(pkgs, ssa.InstantiateGenerics)
	prog.Build()
	logger.Debug("SSA program built.", "package_count", len(pkgs))

	return FromSSA("ssa", prog), nil
}

// FromSSA converts an already built SSA program.
func FromSSA(name string, prog *ssa.Program) *program.Module {
	fns := make([]*ssa.Function, 0)
	for fn := range ssautil.AllFunctions(prog) {
		fns = append(fns, fn)
	}
	// Map iteration order must not leak into instruction ids.
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })

	c := &converter{
		prog:  prog,
		mod:   program.NewModule(name),
		funcs: make(map[*ssa.Function]*program.Function, len(fns)),
	}
	for _, fn := range fns {
		c.declare(fn)
	}
	for _, fn := range fns {
		c.define(fn)
	}
	return c.mod
}

type converter struct {
	prog  *ssa.Program
	mod   *program.Module
	funcs map[*ssa.Function]*program.Function
}

func (c *converter) declare(fn *ssa.Function) *program.Function {
	if f, ok := c.funcs[fn]; ok {
		return f
	}
	params := make([]string, 0, len(fn.Params))
	for _, p := range fn.Params {
		params = append(params, types.TypeString(p.Type(), nil))
	}
	f := c.mod.NewFunction(fn.String(), params...)
	c.funcs[fn] = f
	return f
}

func (c *converter) define(fn *ssa.Function) {
	if len(fn.Blocks) == 0 {
		return
	}
	f := c.funcs[fn]
	blocks := make([]*program.Block, len(fn.Blocks))
	for i, bb := range fn.Blocks {
		blocks[i] = f.NewBlock(fmt.Sprintf("%d.%s", bb.Index, bb.Comment))
	}
	for i, bb := range fn.Blocks {
		b := blocks[i]
		for _, instr := range bb.Instrs {
			b.Append(c.convert(instr))
		}
		if len(bb.Succs) > 0 {
			succs := make([]*program.Block, 0, len(bb.Succs))
			for _, s := range bb.Succs {
				succs = append(succs, blocks[s.Index])
			}
			b.Link(succs...)
		}
	}
}

func (c *converter) convert(instr ssa.Instruction) *program.Instruction {
	in := &program.Instruction{
		Op:   program.OpPlain,
		Loc:  c.location(instr.Pos()),
		Text: instr.String(),
	}
	switch v := instr.(type) {
	case ssa.CallInstruction:
		in.Op = program.OpCall
		common := v.Common()
		if callee := common.StaticCallee(); callee != nil {
			in.Callee = c.declare(callee)
		}
		in.ArgTypes = argTypes(common)
	case *ssa.If, *ssa.Jump:
		in.Op = program.OpBranch
	case *ssa.Return:
		in.Op = program.OpReturn
	case *ssa.Panic:
		in.Op = program.OpUnreachable
	}
	return in
}

func (c *converter) location(pos token.Pos) program.Location {
	if !pos.IsValid() {
		return program.Location{}
	}
	p := c.prog.Fset.Position(pos)
	return program.Location{File: p.Filename, Line: p.Line}
}

// argTypes lists the types of the values passed at the call site, rendered
// the same way declare renders parameters. Interface receivers of invoke-mode
// calls are not part of Args and are not listed.
func argTypes(common *ssa.CallCommon) []string {
	out := make([]string, 0, len(common.Args))
	for _, a := range common.Args {
		out = append(out, types.TypeString(a.Type(), nil))
	}
	return out
}
