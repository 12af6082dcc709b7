package path

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/vk/symsteer/internal/kquery"
	"github.com/vk/symsteer/internal/symbol"
)

// Block delimiters.
const (
	StartMarker = "--- PATH START ---"
	EndMarker   = "--- PATH END ---"
)

// Section names, in the order they are written.
const (
	sectionUUID         = "UUID"
	sectionOutputs      = "OUTPUTS"
	sectionTags         = "TAGS"
	sectionKQuery       = "KQUERY"
	sectionSymbolLog    = "SYMBOL LOG"
	sectionExplored     = "EXPLORED COVERAGE"
	sectionParticipants = "PARTICIPANTS"
	sectionExploredPath = "EXPLORED PATH"
	sectionTestInputs   = "TEST INPUTS"
	sectionTestCoverage = "TEST COVERAGE"
)

func sectionStart(name string) string { return "--- " + name + " START ---" }
func sectionEnd(name string) string   { return "--- " + name + " END ---" }

// ParseError reports a malformed block.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("path: line %d: %s", e.Line, e.Msg)
}

var escaper = strings.NewReplacer("\\", "\\\\", "\t", "\\t", "\n", "\\n")
var unescaper = strings.NewReplacer("\\\\", "\\", "\\t", "\t", "\\n", "\n")

// Write serializes p as one block.
func Write(w io.Writer, p *Path) error {
	_, err := w.Write(Marshal(p))
	return err
}

// Marshal renders p as one block.
func Marshal(p *Path) []byte {
	var b bytes.Buffer
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	section := func(name string, body func()) {
		line("%s", sectionStart(name))
		body()
		line("%s", sectionEnd(name))
	}

	line("%s", StartMarker)
	section(sectionUUID, func() { line("%s", p.UUID) })

	outputs := p.Outputs()
	section(sectionOutputs, func() {
		for _, s := range outputs {
			line("%s\t%d", s.Name, len(s.Values))
		}
	})
	section(sectionTags, func() {
		for _, k := range sortedKeys(p.Tags) {
			line("%s\t%s", k, escaper.Replace(p.Tags[k]))
		}
	})

	q := &kquery.Query{Arrays: p.Arrays(), Constraints: p.Constraints}
	for _, s := range outputs {
		q.Values = append(q.Values, s.Values...)
	}
	section(sectionKQuery, func() { b.WriteString(kquery.Print(q)) })

	if len(p.SymbolLog) > 0 {
		section(sectionSymbolLog, func() {
			for _, s := range p.SymbolLog {
				line("%s", s.Name)
			}
		})
	}
	if !p.Explored.Empty() {
		section(sectionExplored, func() { writeCoverage(&b, p.Explored) })
	}
	if len(p.Participants) > 0 {
		section(sectionParticipants, func() {
			for _, n := range p.Participants {
				line("%s", n)
			}
		})
	}
	if len(p.ExploredPath) > 0 {
		section(sectionExploredPath, func() {
			for _, module := range sortedKeys(p.ExploredPath) {
				line("%s", module)
				for _, br := range p.ExploredPath[module] {
					line("%s %t", br.Loc, br.Taken)
				}
			}
		})
	}
	section(sectionTestInputs, func() {
		for _, name := range sortedKeys(p.TestInputs) {
			b.WriteString(name)
			for _, c := range p.TestInputs[name] {
				fmt.Fprintf(&b, " %02x", c)
			}
			b.WriteByte('\n')
		}
	})
	if !p.TestCoverage.Empty() {
		section(sectionTestCoverage, func() { writeCoverage(&b, p.TestCoverage) })
	}
	line("%s", EndMarker)
	return b.Bytes()
}

func writeCoverage(b *bytes.Buffer, c Coverage) {
	for _, file := range sortedKeys(c.Lines) {
		lines := c.Lines[file]
		if len(lines) == 0 {
			continue
		}
		nums := make([]int, 0, len(lines))
		for n := range lines {
			nums = append(nums, n)
		}
		sort.Ints(nums)
		b.WriteString(file)
		for _, n := range nums {
			if lines[n] {
				fmt.Fprintf(b, "\t%d", n)
			} else {
				fmt.Fprintf(b, "\t!%d", n)
			}
		}
		b.WriteByte('\n')
	}
	for _, fn := range sortedKeys(c.Functions) {
		if !c.Functions[fn] {
			b.WriteByte('!')
		}
		b.WriteString(fn)
		b.WriteByte('\n')
	}
}

type rawLine struct {
	n    int
	text string
}

// Parse reads exactly one block. Unknown sections are skipped and absent
// optional sections are left empty.
func Parse(block []byte) (*Path, error) {
	return ParseAt(block, 1)
}

// ParseAt is Parse for a block starting at the given line of a larger file;
// it only affects error positions.
func ParseAt(block []byte, firstLine int) (*Path, error) {
	sc := bufio.NewScanner(bytes.NewReader(block))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var lines []rawLine
	for n := firstLine; sc.Scan(); n++ {
		lines = append(lines, rawLine{n: n, text: sc.Text()})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for len(lines) > 0 && lines[len(lines)-1].text == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 2 || lines[0].text != StartMarker {
		return nil, &ParseError{Line: firstLine, Msg: "missing " + StartMarker}
	}
	last := lines[len(lines)-1]
	if last.text != EndMarker {
		return nil, &ParseError{Line: last.n, Msg: "missing " + EndMarker}
	}

	sections := make(map[string][]rawLine)
	body := lines[1 : len(lines)-1]
	for i := 0; i < len(body); {
		l := body[i]
		name, ok := strings.CutPrefix(l.text, "--- ")
		name, ok2 := strings.CutSuffix(name, " START ---")
		if !ok || !ok2 {
			return nil, &ParseError{Line: l.n, Msg: fmt.Sprintf("expected section start, got %q", l.text)}
		}
		end := sectionEnd(name)
		j := i + 1
		for j < len(body) && body[j].text != end {
			j++
		}
		if j == len(body) {
			return nil, &ParseError{Line: l.n, Msg: "unterminated section " + name}
		}
		sections[name] = body[i+1 : j]
		i = j + 1
	}
	return decode(sections, firstLine)
}

func decode(sections map[string][]rawLine, firstLine int) (*Path, error) {
	p := New()
	p.UUID = uuid.Nil

	if ls := sections[sectionUUID]; len(ls) > 0 {
		id, err := uuid.Parse(ls[0].text)
		if err != nil {
			return nil, &ParseError{Line: ls[0].n, Msg: err.Error()}
		}
		p.UUID = id
	}

	type outDecl struct {
		name string
		size int
	}
	var outs []outDecl
	for _, l := range sections[sectionOutputs] {
		name, size, ok := strings.Cut(l.text, "\t")
		n, err := strconv.Atoi(size)
		if !ok || err != nil || n < 0 {
			return nil, &ParseError{Line: l.n, Msg: fmt.Sprintf("bad output %q", l.text)}
		}
		outs = append(outs, outDecl{name, n})
	}

	for _, l := range sections[sectionTags] {
		k, v, ok := strings.Cut(l.text, "\t")
		if !ok {
			return nil, &ParseError{Line: l.n, Msg: fmt.Sprintf("bad tag %q", l.text)}
		}
		p.Tags[k] = unescaper.Replace(v)
	}

	var q *kquery.Query
	if ls, ok := sections[sectionKQuery]; ok {
		var sb strings.Builder
		for _, l := range ls {
			sb.WriteString(l.text)
			sb.WriteByte('\n')
		}
		var err error
		if q, err = kquery.Parse(sb.String()); err != nil {
			line := firstLine
			if len(ls) > 0 {
				line = ls[0].n
			}
			return nil, &ParseError{Line: line, Msg: err.Error()}
		}
	} else {
		q = &kquery.Query{}
	}
	p.Constraints = q.Constraints

	// Rebuild the symbols, then order them by the log if one was written.
	byName := make(map[string]*symbol.Symbol)
	var natural []*symbol.Symbol
	for _, a := range q.Arrays {
		s := symbol.NewInput(a)
		byName[s.Name] = s
		natural = append(natural, s)
	}
	values := q.Values
	for _, o := range outs {
		if o.size > len(values) {
			return nil, &ParseError{Line: firstLine, Msg: fmt.Sprintf("output %s needs %d values, %d left", o.name, o.size, len(values))}
		}
		s := symbol.NewOutput(o.name, values[:o.size:o.size])
		values = values[o.size:]
		byName[s.Name] = s
		natural = append(natural, s)
	}
	if ls, ok := sections[sectionSymbolLog]; ok {
		for _, l := range ls {
			s, found := byName[l.text]
			if !found {
				return nil, &ParseError{Line: l.n, Msg: fmt.Sprintf("symbol log names unknown symbol %q", l.text)}
			}
			if err := p.Append(s); err != nil {
				return nil, &ParseError{Line: l.n, Msg: err.Error()}
			}
		}
	} else {
		for _, s := range natural {
			if err := p.Append(s); err != nil {
				return nil, &ParseError{Line: firstLine, Msg: err.Error()}
			}
		}
	}

	var err error
	if p.Explored, err = parseCoverage(sections[sectionExplored]); err != nil {
		return nil, err
	}
	if p.TestCoverage, err = parseCoverage(sections[sectionTestCoverage]); err != nil {
		return nil, err
	}
	for _, l := range sections[sectionParticipants] {
		p.Participants = append(p.Participants, l.text)
	}

	module := ""
	for _, l := range sections[sectionExploredPath] {
		// Locations may contain spaces; the flag is always the last field.
		if i := strings.LastIndexByte(l.text, ' '); i >= 0 {
			if t, err := strconv.ParseBool(l.text[i+1:]); err == nil {
				p.ExploredPath[module] = append(p.ExploredPath[module], Branch{Loc: l.text[:i], Taken: t})
				continue
			}
		}
		module = l.text
		p.ExploredPath[module] = []Branch{}
	}

	for _, l := range sections[sectionTestInputs] {
		fields := strings.Fields(l.text)
		if len(fields) == 0 {
			continue
		}
		data := make([]byte, 0, len(fields)-1)
		for _, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 16, 8)
			if err != nil {
				return nil, &ParseError{Line: l.n, Msg: fmt.Sprintf("bad test input byte %q", f)}
			}
			data = append(data, byte(v))
		}
		p.TestInputs[fields[0]] = data
	}
	return p, nil
}

func parseCoverage(ls []rawLine) (Coverage, error) {
	c := NewCoverage()
	for _, l := range ls {
		if !strings.Contains(l.text, "\t") {
			name, missed := strings.CutPrefix(l.text, "!")
			c.SetFunction(name, !missed)
			continue
		}
		fields := strings.Split(l.text, "\t")
		file := fields[0]
		for _, f := range fields[1:] {
			num, missed := strings.CutPrefix(f, "!")
			n, err := strconv.Atoi(num)
			if err != nil {
				return Coverage{}, &ParseError{Line: l.n, Msg: fmt.Sprintf("bad line number %q", f)}
			}
			c.SetLine(file, n, !missed)
		}
	}
	return c, nil
}
