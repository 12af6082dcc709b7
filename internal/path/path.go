// Package path holds the durable record of one finished or checkpointed
// execution and its append-only text format.
//
// A Path is built once and never mutated afterwards, so it can be shared
// between any number of execution states and goroutines. Sharing goes
// through an Arena that hands out reference-counted Handles.
package path

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/vk/symsteer/internal/expr"
	"github.com/vk/symsteer/internal/symbol"
)

// Well-known tag names.
const (
	TagOutcome     = "Outcome"
	TagHandlerType = "HandlerType"
)

// Branch is one step of an explored path: a source location and whether the
// branch was taken.
type Branch struct {
	Loc   string
	Taken bool
}

// Coverage maps lines and functions to whether they were executed.
// Coverage is dense: every line and function of a visited module is present.
type Coverage struct {
	Lines     map[string]map[int]bool
	Functions map[string]bool
}

// NewCoverage returns an empty coverage map.
func NewCoverage() Coverage {
	return Coverage{Lines: make(map[string]map[int]bool), Functions: make(map[string]bool)}
}

// Empty reports whether the map holds nothing.
func (c Coverage) Empty() bool {
	return len(c.Lines) == 0 && len(c.Functions) == 0
}

// SetLine records a line, never downgrading a covered line.
func (c Coverage) SetLine(file string, line int, covered bool) {
	m, ok := c.Lines[file]
	if !ok {
		m = make(map[int]bool)
		c.Lines[file] = m
	}
	m[line] = m[line] || covered
}

// SetFunction records a function, never downgrading a covered one.
func (c Coverage) SetFunction(name string, covered bool) {
	c.Functions[name] = c.Functions[name] || covered
}

// Merge folds other into c.
func (c Coverage) Merge(other Coverage) {
	for file, lines := range other.Lines {
		for line, cov := range lines {
			c.SetLine(file, line, cov)
		}
	}
	for fn, cov := range other.Functions {
		c.SetFunction(fn, cov)
	}
}

// Path is the record of one execution.
type Path struct {
	UUID         uuid.UUID
	Participants []string
	// SymbolLog lists the symbols in the order they were created.
	SymbolLog []*symbol.Symbol
	Tags      map[string]string
	// Constraints is the conjunctive path condition.
	Constraints  []expr.Expr
	Explored     Coverage
	ExploredPath map[string][]Branch
	TestInputs   map[string][]byte
	TestCoverage Coverage

	byName map[string]*symbol.Symbol
}

// New returns an empty path with a fresh UUID.
func New() *Path {
	return &Path{
		UUID:         uuid.New(),
		Tags:         make(map[string]string),
		Explored:     NewCoverage(),
		ExploredPath: make(map[string][]Branch),
		TestInputs:   make(map[string][]byte),
		TestCoverage: NewCoverage(),
	}
}

// Append adds a symbol to the log. Names must be unique within a path.
func (p *Path) Append(s *symbol.Symbol) error {
	if p.byName == nil {
		p.index()
	}
	if _, dup := p.byName[s.Name]; dup {
		return fmt.Errorf("path %s: duplicate symbol %q", p.UUID, s.Name)
	}
	p.SymbolLog = append(p.SymbolLog, s)
	p.byName[s.Name] = s
	return nil
}

func (p *Path) index() {
	p.byName = make(map[string]*symbol.Symbol, len(p.SymbolLog))
	for _, s := range p.SymbolLog {
		p.byName[s.Name] = s
	}
}

// Symbol looks a symbol up by name.
func (p *Path) Symbol(name string) (*symbol.Symbol, bool) {
	if p.byName == nil {
		p.index()
	}
	s, ok := p.byName[name]
	return s, ok
}

// HasParticipant reports whether name took part in the path.
func (p *Path) HasParticipant(name string) bool {
	for _, n := range p.Participants {
		if n == name {
			return true
		}
	}
	return false
}

// Inputs returns the input symbols in log order.
func (p *Path) Inputs() []*symbol.Symbol {
	var out []*symbol.Symbol
	for _, s := range p.SymbolLog {
		if s.IsInput() {
			out = append(out, s)
		}
	}
	return out
}

// Outputs returns the output symbols in log order.
func (p *Path) Outputs() []*symbol.Symbol {
	var out []*symbol.Symbol
	for _, s := range p.SymbolLog {
		if !s.IsInput() {
			out = append(out, s)
		}
	}
	return out
}

// Arrays returns the arrays of the input symbols in log order.
func (p *Path) Arrays() []*expr.Array {
	var out []*expr.Array
	for _, s := range p.Inputs() {
		out = append(out, s.Array)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
