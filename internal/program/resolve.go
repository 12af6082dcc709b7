// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package program

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrNoMatch is returned when a codepoint selects no instruction.
	ErrNoMatch = errors.New("codepoint matches no instruction")
	// ErrAmbiguousCodepoint is returned when a codepoint selects instructions
	// in two unrelated source files. Callers treat it as fatal.
	ErrAmbiguousCodepoint = errors.New("codepoint is ambiguous")
)

// Resolve maps a codepoint to instructions. A codepoint is either
// "file:line", where file may be any path suffix on a separator boundary, or
// a function name, which selects the entry instruction of that function.
func (m *Module) Resolve(codepoint string) ([]*Instruction, error) {
	codepoint = strings.TrimSpace(codepoint)
	if codepoint == "" {
		return nil, fmt.Errorf("empty codepoint: %w", ErrNoMatch)
	}

	if file, line, ok := splitFileLine(codepoint); ok {
		return m.resolveLine(codepoint, file, line)
	}

	f, ok := m.byName[codepoint]
	if !ok || !f.HasBody() {
		return nil, fmt.Errorf("function %q: %w", codepoint, ErrNoMatch)
	}
	return []*Instruction{f.Entry()}, nil
}

// ResolveAll resolves every codepoint and returns the union of the matches in
// id order.
func (m *Module) ResolveAll(codepoints []string) ([]*Instruction, error) {
	seen := make(map[InstrID]*Instruction)
	for _, cp := range codepoints {
		ins, err := m.Resolve(cp)
		if err != nil {
			return nil, err
		}
		for _, in := range ins {
			seen[in.ID] = in
		}
	}
	out := make([]*Instruction, 0, len(seen))
	for _, in := range seen {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Module) resolveLine(codepoint, file string, line int) ([]*Instruction, error) {
	var out []*Instruction
	files := make(map[string]struct{})
	for _, in := range m.instrs {
		if in.Loc.Line != line || !matchesFile(in.Loc.File, file) {
			continue
		}
		out = append(out, in)
		files[in.Loc.File] = struct{}{}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", codepoint, ErrNoMatch)
	}
	if len(files) > 1 {
		names := make([]string, 0, len(files))
		for f := range files {
			names = append(names, f)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%s matches %s: %w", codepoint, strings.Join(names, ", "), ErrAmbiguousCodepoint)
	}
	return out, nil
}

func splitFileLine(cp string) (string, int, bool) {
	idx := strings.LastIndexByte(cp, ':')
	if idx <= 0 || idx == len(cp)-1 {
		return "", 0, false
	}
	line, err := strconv.Atoi(cp[idx+1:])
	if err != nil || line <= 0 {
		return "", 0, false
	}
	return cp[:idx], line, true
}

// matchesFile reports whether have ends with want on a path separator
// boundary.
func matchesFile(have, want string) bool {
	have = filepath.ToSlash(have)
	want = filepath.ToSlash(want)
	if have == want {
		return true
	}
	return strings.HasSuffix(have, "/"+want)
}
