package execstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/symsteer/internal/expr"
	"github.com/vk/symsteer/internal/path"
	"github.com/vk/symsteer/internal/program"
	"github.com/vk/symsteer/internal/symbol"
)

func loc(line int) program.Location { return program.Location{File: "main.go", Line: line} }

func newModule() (main, helper *program.Function, call *program.Instruction) {
	m := program.NewModule("m")
	helper = m.NewFunction("helper")
	hb := helper.NewBlock("entry")
	hb.Plain(loc(10))
	hb.Return(loc(11))

	main = m.NewFunction("main")
	mb := main.NewBlock("entry")
	call = mb.Call(helper, loc(20))
	mb.Return(loc(21))
	return main, helper, call
}

func TestState_CallStack(t *testing.T) {
	main, helper, call := newModule()
	st := New(0, main)
	assert.Equal(t, []*program.Instruction{call}, st.CallStack())

	st.Push(helper)
	assert.Equal(t, helper.Entry(), st.PC)
	assert.Equal(t, []*program.Instruction{helper.Entry(), call}, st.CallStack())
	assert.True(t, st.Covered[helper.Entry().ID])

	assert.Equal(t, call, st.Pop())
	assert.Len(t, st.Stack, 1)
	assert.Nil(t, st.Pop(), "the root frame has no caller")
}

func TestState_ForkIsolation(t *testing.T) {
	main, helper, _ := newModule()
	arena := path.NewArena()
	sender := path.New()

	st := New(0, main)
	st.AddConstraint(expr.True)
	st.Tags["Outcome"] = 1
	l := st.Link(3)
	l.Phase = PhaseBound
	l.Sender = arena.Acquire(sender)
	l.LogPos = 2

	c := st.Fork(1)
	assert.Equal(t, 2, arena.Refs(sender.UUID))

	c.Push(helper)
	c.AddConstraint(expr.False)
	c.Tags["x"] = 2
	c.Link(3).LogPos = 5
	c.Branch(true)

	assert.Len(t, st.Stack, 1)
	assert.Len(t, st.Constraints, 1)
	assert.NotContains(t, st.Tags, "x")
	assert.Equal(t, 2, st.Link(3).LogPos)
	assert.Equal(t, 0, st.Depth)
	assert.Empty(t, st.Trace)
	assert.Equal(t, []path.Branch{{Loc: "main.go:10", Taken: true}}, c.Trace)

	c.Release()
	assert.Equal(t, 1, arena.Refs(sender.UUID))
	st.Release()
	assert.Equal(t, 0, arena.Refs(sender.UUID))
}

func TestState_Terminate(t *testing.T) {
	main, _, _ := newModule()
	st := New(0, main)
	assert.False(t, st.Done())
	st.Terminate(OutcomeIncompatible, "path id out of bounds")
	st.Terminate(OutcomeExit, "later")
	assert.True(t, st.Done())
	assert.Equal(t, OutcomeIncompatible, st.Outcome)
	assert.Equal(t, "path id out of bounds", st.Reason)
	assert.Equal(t, "incompatible", st.Outcome.String())
}

func TestState_SymbolsAndSeq(t *testing.T) {
	main, _, _ := newModule()
	st := New(0, main)
	assert.Equal(t, 0, st.NextSeq("x"))
	assert.Equal(t, 1, st.NextSeq("x"))
	assert.Equal(t, 0, st.NextSeq("y"))

	st.AddSymbol(symbol.NewInput(expr.NewArray("spa_in_api_a", 1)))
	st.AddSymbol(symbol.NewOutput("spa_out_api_b", []expr.Expr{expr.NewConst(1, expr.Byte)}))
	st.AddSymbol(symbol.NewOutput("spa_out_msg_c", []expr.Expr{expr.NewConst(1, expr.Byte)}))
	assert.Equal(t, 2, st.OwnOutputs())
}

func TestMapMemory_ReadCString(t *testing.T) {
	ctx := context.Background()
	mem := &MapMemory{Regions: map[uint64][]byte{
		0x1000: []byte("hello\x00world"),
		0x2000: []byte("abcdef"),
		0x2004: []byte("zz"),
	}}

	got, err := mem.ReadCString(ctx, 0x1000, 64)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = mem.ReadCString(ctx, 0x1006, 64)
	require.NoError(t, err)
	assert.Equal(t, "world", got)

	got, err = mem.ReadCString(ctx, 0x2000, 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = mem.ReadCString(ctx, 0x2004, 8)
	assert.ErrorIs(t, err, ErrAmbiguousResolution)

	_, err = mem.ReadCString(ctx, 0x3000, 8)
	assert.Error(t, err)
}
