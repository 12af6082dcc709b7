// Package symbol classifies the named values recorded along an execution.
//
// Names follow a prefix grammar that doubles as the wire format of corpus
// files:
//
//	spa_in_api_<local>[_<participant>_<seq>]     input,  api
//	spa_out_api_<local>[_<participant>_<seq>]    output, api
//	spa_in_msg_<endpoint>[_<participant>_<seq>]  input,  message
//	spa_out_msg_<endpoint>[_<participant>_<seq>] output, message
//	spa_msgsrc_<participant>                     message source address
//	spa_tag_<name>                               tag
//
// The grammar is parsed exactly once, when a Symbol is created; everything
// downstream switches on Kind.
package symbol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vk/symsteer/internal/expr"
)

// Name prefixes.
const (
	PrefixInAPI     = "spa_in_api_"
	PrefixOutAPI    = "spa_out_api_"
	PrefixInMsg     = "spa_in_msg_"
	PrefixOutMsg    = "spa_out_msg_"
	PrefixMsgSource = "spa_msgsrc_"
	PrefixTag       = "spa_tag_"
)

// Kind is the classification of a symbol.
type Kind int

const (
	KindOther Kind = iota
	KindInAPI
	KindOutAPI
	KindInMsg
	KindOutMsg
	KindMsgSource
	KindTag
)

var kindNames = [...]string{"other", "in_api", "out_api", "in_msg", "out_msg", "msgsrc", "tag"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsInput reports whether values of this kind are unbound symbolic arrays.
func (k Kind) IsInput() bool { return k == KindInAPI || k == KindInMsg }

// IsOutput reports whether values of this kind are recorded expressions.
func (k Kind) IsOutput() bool { return k == KindOutAPI || k == KindOutMsg || k == KindMsgSource }

// IsMessage reports whether the symbol carries network traffic.
func (k Kind) IsMessage() bool { return k == KindInMsg || k == KindOutMsg }

var prefixes = []struct {
	prefix string
	kind   Kind
}{
	{PrefixInAPI, KindInAPI},
	{PrefixOutAPI, KindOutAPI},
	{PrefixInMsg, KindInMsg},
	{PrefixOutMsg, KindOutMsg},
	{PrefixMsgSource, KindMsgSource},
	{PrefixTag, KindTag},
}

// Info is the parsed form of a symbol name.
type Info struct {
	Kind Kind
	// Prefix is the grammar prefix, empty for KindOther.
	Prefix string
	// Local is the local name, the endpoint text of message symbols, the
	// participant of a message source or the tag name.
	Local string
	// Participant and Seq are set when the name carries an owner suffix.
	Participant string
	Seq         int
	Owned       bool
}

// Parse classifies a name.
func Parse(name string) Info {
	for _, p := range prefixes {
		if !strings.HasPrefix(name, p.prefix) {
			continue
		}
		info := Info{Kind: p.kind, Prefix: p.prefix, Local: name[len(p.prefix):]}
		if p.kind == KindMsgSource || p.kind == KindTag {
			return info
		}
		toks := strings.Split(info.Local, "_")
		if n := len(toks); n >= 3 {
			if seq, err := strconv.Atoi(toks[n-1]); err == nil && seq >= 0 && toks[n-2] != "" {
				info.Local = strings.Join(toks[:n-2], "_")
				info.Participant = toks[n-2]
				info.Seq = seq
				info.Owned = true
			}
		}
		return info
	}
	return Info{Kind: KindOther, Local: name}
}

// Base returns the name without its owner suffix.
func (i Info) Base() string {
	return i.Prefix + i.Local
}

// Format builds an owned symbol name.
func Format(prefix, local, participant string, seq int) string {
	return fmt.Sprintf("%s%s_%s_%d", prefix, local, participant, seq)
}

// Symbol is a named value recorded along an execution. Inputs carry the
// symbolic array, outputs the byte expressions computed for them.
type Symbol struct {
	Name   string
	Kind   Kind
	Array  *expr.Array
	Values []expr.Expr
}

// NewInput creates an input symbol named after its array.
func NewInput(a *expr.Array) *Symbol {
	return &Symbol{Name: a.Name, Kind: Parse(a.Name).Kind, Array: a}
}

// NewOutput creates an output symbol from its byte expressions.
func NewOutput(name string, values []expr.Expr) *Symbol {
	return &Symbol{Name: name, Kind: Parse(name).Kind, Values: values}
}

// Info parses the symbol name.
func (s *Symbol) Info() Info {
	return Parse(s.Name)
}

// IsInput reports whether the symbol is an unbound array.
func (s *Symbol) IsInput() bool {
	return s.Array != nil
}

// Size returns the number of bytes of the symbol.
func (s *Symbol) Size() int {
	if s.Array != nil {
		return s.Array.Size
	}
	return len(s.Values)
}

// Exprs returns the byte expressions of the symbol: the recorded values of
// an output, or one read per byte of an input.
func (s *Symbol) Exprs() []expr.Expr {
	if s.Array != nil {
		return expr.ReadBytes(s.Array)
	}
	return s.Values
}
