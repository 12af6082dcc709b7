package joint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/symsteer/internal/corpus"
	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/expr"
	"github.com/vk/symsteer/internal/path"
	"github.com/vk/symsteer/internal/program"
	"github.com/vk/symsteer/internal/solver"
	"github.com/vk/symsteer/internal/symbol"
)

// memSource is an in-memory sender corpus.
type memSource struct {
	paths []*path.Path
	lens  int
}

func (m *memSource) Len() (int, error) {
	m.lens++
	return len(m.paths), nil
}

func (m *memSource) Get(_ context.Context, id int, _ bool) (*path.Path, error) {
	if id < 0 || id >= len(m.paths) {
		return nil, corpus.ErrOutOfBounds
	}
	return m.paths[id], nil
}

func newState(t *testing.T) *execstate.State {
	t.Helper()
	m := program.NewModule("m")
	f := m.NewFunction("main")
	f.NewBlock("entry").Return(program.Location{File: "main.go", Line: 1})
	return execstate.New(0, f)
}

func consts(s string) []expr.Expr {
	out := make([]expr.Expr, len(s))
	for i := range s {
		out[i] = expr.NewConst(uint64(s[i]), expr.Byte)
	}
	return out
}

func senderPath(t *testing.T, syms ...*symbol.Symbol) *path.Path {
	t.Helper()
	p := path.New()
	p.Participants = []string{"client"}
	for _, s := range syms {
		require.NoError(t, p.Append(s))
	}
	return p
}

func solve(t *testing.T, st *execstate.State, arr *expr.Array) string {
	t.Helper()
	sol, err := solver.NewLocal().Solve(context.Background(), st.Constraints, []*expr.Array{arr})
	require.NoError(t, err)
	return string(sol[0])
}

func TestCheck_OutOfBounds(t *testing.T) {
	src := &memSource{paths: make([]*path.Path, 3)}
	s := New(Config{Participant: "server"}, src, path.NewArena(), solver.NewLocal())
	st := newState(t)
	ctx := context.Background()

	ok, err := s.Check(ctx, st, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Check(ctx, st, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, execstate.OutcomeIncompatible, st.Outcome)
	assert.Equal(t, execstate.PhaseIncompatible, st.Joint[5].Phase)
	assert.Equal(t, 2, src.lens)

	ok, err = s.Check(ctx, st, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, src.lens, "a known incompatible id does not touch the corpus again")

	var ie *IncompatibleError
	assert.ErrorAs(t, s.Bind(ctx, st, 5), &ie)
}

func TestCheck_NoCorpusAndFollow(t *testing.T) {
	ctx := context.Background()
	st := newState(t)

	ok, err := New(Config{}, nil, path.NewArena(), solver.NewLocal()).Check(ctx, st, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	src := &memSource{}
	ok, err = New(Config{Follow: true}, src, path.NewArena(), solver.NewLocal()).Check(ctx, st, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, src.lens)
	assert.False(t, st.Done())
}

func TestResolve_AutoConnect(t *testing.T) {
	ctx := context.Background()
	out := symbol.NewOutput("spa_out_msg_10.0.0.9.80.tcp.1.2.3.4.5555_client_0", consts("hi"))
	arena := path.NewArena()

	tests := []struct {
		name      string
		recv      string
		sender    []*symbol.Symbol
		wantMatch bool
	}{
		{
			name:      "wildcard connect fields",
			recv:      "spa_in_msg_*.*.tcp.10.0.0.9.80_server_0",
			sender:    []*symbol.Symbol{out},
			wantMatch: true,
		},
		{
			name:      "exact tuple",
			recv:      "spa_in_msg_1.2.3.4.5555.tcp.10.0.0.9.80_server_0",
			sender:    []*symbol.Symbol{out},
			wantMatch: true,
		},
		{
			name: "unbound receiver learns its address",
			recv: "spa_in_msg_*.*.tcp.0.0.0.0.80_server_0",
			sender: []*symbol.Symbol{
				symbol.NewOutput("spa_msgsrc_server", consts("10.0.0.9.80\x00")),
				out,
			},
			wantMatch: true,
		},
		{
			name:   "wrong port",
			recv:   "spa_in_msg_*.*.tcp.10.0.0.9.81_server_0",
			sender: []*symbol.Symbol{out},
		},
		{
			name:   "wildcards are not honoured on the bind side",
			recv:   "spa_in_msg_*.*.tcp.*.80_server_0",
			sender: []*symbol.Symbol{out},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &memSource{paths: []*path.Path{senderPath(t, tt.sender...)}}
			s := New(Config{Participant: "server", AutoConnect: true}, src, arena, solver.NewLocal())
			st := newState(t)
			require.NoError(t, s.Bind(ctx, st, 0))
			defer st.Release()

			arr := expr.NewArray(tt.recv, 2)
			ok, err := s.Resolve(ctx, st, 0, symbol.NewInput(arr))
			if !tt.wantMatch {
				var ie *IncompatibleError
				assert.ErrorAs(t, err, &ie)
				assert.False(t, ok)
				assert.Equal(t, execstate.OutcomeIncompatible, st.Outcome)
				return
			}
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "hi", solve(t, st, arr))
			assert.Equal(t, execstate.PhaseSatisfied, st.Joint[0].Phase)
		})
	}
	assert.Zero(t, arena.Len())
}

func TestResolve_ExplicitMapping(t *testing.T) {
	ctx := context.Background()
	sendIn := symbol.NewInput(expr.NewArray("spa_in_api_seed_client_0", 1))
	p := senderPath(t,
		sendIn,
		symbol.NewOutput("spa_out_api_req_client_1", consts("a")),
		symbol.NewOutput("spa_out_api_req_client_2", consts("b")),
	)
	p.Constraints = []expr.Expr{expr.Eq(expr.Read{Array: sendIn.Array, Index: 0}, expr.NewConst('z', expr.Byte))}

	s := New(Config{
		Participant: "server",
		Mapping: SeedMapping{
			"spa_in_api_req":  "spa_out_api_req",
			"spa_in_api_seed": "spa_in_api_seed",
		},
	}, &memSource{paths: []*path.Path{p}}, path.NewArena(), solver.NewLocal())
	st := newState(t)
	require.NoError(t, s.Bind(ctx, st, 0))
	assert.Equal(t, 0, st.Joint[0].LogPos)

	seed := expr.NewArray("spa_in_api_seed_server_0", 1)
	ok, err := s.Seed(ctx, st, symbol.NewInput(seed))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "z", solve(t, st, seed), "an input entry binds to the sender's own array")

	first := expr.NewArray("spa_in_api_req_server_1", 1)
	second := expr.NewArray("spa_in_api_req_server_2", 1)
	for _, a := range []*expr.Array{first, second} {
		ok, err := s.Seed(ctx, st, symbol.NewInput(a))
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, "a", solve(t, st, first))
	assert.Equal(t, "b", solve(t, st, second))
	assert.Equal(t, execstate.PhaseSatisfied, st.Joint[0].Phase)

	unmapped := expr.NewArray("spa_in_api_other_server_0", 1)
	ok, err = s.Seed(ctx, st, symbol.NewInput(unmapped))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, st.Done())

	extra := expr.NewArray("spa_in_api_req_server_3", 1)
	ok, err = s.Seed(ctx, st, symbol.NewInput(extra))
	var ie *IncompatibleError
	require.ErrorAs(t, err, &ie)
	assert.False(t, ok)
	assert.Contains(t, ie.Reason, "no sender entry left")
	assert.Equal(t, execstate.OutcomeIncompatible, st.Outcome)
	assert.Equal(t, execstate.PhaseIncompatible, st.Joint[0].Phase)
}

func TestSeed_PrefersLinksWithEntriesLeft(t *testing.T) {
	ctx := context.Background()
	done := senderPath(t, symbol.NewOutput("spa_out_api_req_client_0", consts("a")))
	open := senderPath(t,
		symbol.NewOutput("spa_out_api_req_client_0", consts("x")),
		symbol.NewOutput("spa_out_api_req_client_1", consts("y")),
	)
	s := New(Config{Participant: "server", Mapping: SeedMapping{"spa_in_api_req": "spa_out_api_req"}},
		&memSource{paths: []*path.Path{done, open}}, path.NewArena(), solver.NewLocal())
	st := newState(t)
	defer st.Release()
	require.NoError(t, s.Bind(ctx, st, 0))
	require.NoError(t, s.Bind(ctx, st, 1))

	first := expr.NewArray("spa_in_api_req_server_0", 1)
	ok, err := s.Seed(ctx, st, symbol.NewInput(first))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", solve(t, st, first))
	assert.Equal(t, execstate.PhaseSatisfied, st.Joint[0].Phase)

	second := expr.NewArray("spa_in_api_req_server_1", 1)
	ok, err = s.Seed(ctx, st, symbol.NewInput(second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", solve(t, st, second))
	assert.False(t, st.Done())
}

// failingSolver fails every satisfiability check.
type failingSolver struct{ solver.Solver }

func (failingSolver) MayBeTrue(context.Context, []expr.Expr) (bool, error) {
	return false, errors.New("solver crashed")
}

func TestBind_SolverErrorLeavesStateUntouched(t *testing.T) {
	in := symbol.NewInput(expr.NewArray("spa_in_api_seed_client_0", 1))
	p := senderPath(t, in)
	p.Constraints = []expr.Expr{expr.Eq(expr.Read{Array: in.Array}, expr.NewConst(1, expr.Byte))}
	arena := path.NewArena()
	s := New(Config{Participant: "server"}, &memSource{paths: []*path.Path{p}}, arena, failingSolver{solver.NewLocal()})
	st := newState(t)
	own := expr.Eq(expr.Read{Array: expr.NewArray("spa_in_api_x", 1)}, expr.NewConst(2, expr.Byte))
	st.AddConstraint(own)

	err := s.Bind(context.Background(), st, 0)
	require.ErrorContains(t, err, "solver crashed")
	assert.Equal(t, []expr.Expr{own}, st.Constraints)
	assert.Equal(t, execstate.PhaseUnbound, st.Joint[0].Phase)
	assert.Nil(t, st.Joint[0].Sender)
	assert.Zero(t, arena.Len())
	assert.False(t, st.Done())
}

func TestBind_Causality(t *testing.T) {
	ctx := context.Background()
	p := senderPath(t,
		symbol.NewOutput("spa_out_api_ping_client_0", consts("p")),
		symbol.NewInput(expr.NewArray("spa_in_api_hello_client_1", 1)),
		symbol.NewOutput("spa_out_api_hello_server_0", consts("h")),
		symbol.NewOutput("spa_out_api_ack_client_2", consts("k")),
	)
	s := New(Config{Participant: "server", Mapping: SeedMapping{"spa_in_api_ack": "spa_out_api_ack", "spa_in_api_ping": "spa_out_api_ping"}},
		&memSource{paths: []*path.Path{p}}, path.NewArena(), solver.NewLocal())

	t.Run("receiver has not produced what the sender consumed", func(t *testing.T) {
		st := newState(t)
		var ie *IncompatibleError
		require.ErrorAs(t, s.Bind(ctx, st, 0), &ie)
		assert.Contains(t, ie.Reason, "consumed 1 outputs")
		assert.Equal(t, execstate.OutcomeIncompatible, st.Outcome)
	})

	t.Run("cursor starts after the receiver's own entry", func(t *testing.T) {
		st := newState(t)
		st.AddSymbol(symbol.NewOutput("spa_out_api_hello_server_0", consts("h")))
		require.NoError(t, s.Bind(ctx, st, 0))
		assert.Equal(t, 3, st.Joint[0].LogPos)

		ack := expr.NewArray("spa_in_api_ack_server_1", 1)
		ok, err := s.Resolve(ctx, st, 0, symbol.NewInput(ack))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "k", solve(t, st, ack))
	})

	t.Run("entries before the cursor are never bound", func(t *testing.T) {
		st := newState(t)
		st.AddSymbol(symbol.NewOutput("spa_out_api_hello_server_0", consts("h")))
		require.NoError(t, s.Bind(ctx, st, 0))

		ping := expr.NewArray("spa_in_api_ping_server_1", 1)
		ok, err := s.Resolve(ctx, st, 0, symbol.NewInput(ping))
		var ie *IncompatibleError
		assert.ErrorAs(t, err, &ie)
		assert.False(t, ok)
	})
}

func TestBind_ConflictingConstraints(t *testing.T) {
	ctx := context.Background()
	in := symbol.NewInput(expr.NewArray("spa_in_api_x", 1))
	p := senderPath(t, in)
	p.Constraints = []expr.Expr{expr.Eq(expr.Read{Array: in.Array, Index: 0}, expr.NewConst(1, expr.Byte))}
	s := New(Config{Participant: "server"}, &memSource{paths: []*path.Path{p}}, path.NewArena(), solver.NewLocal())

	st := newState(t)
	st.AddConstraint(expr.False)
	var ie *IncompatibleError
	require.ErrorAs(t, s.Bind(ctx, st, 0), &ie)
	assert.Equal(t, "sender constraints conflict with state", ie.Reason)
}

func TestResolve_SizeMismatch(t *testing.T) {
	ctx := context.Background()
	p := senderPath(t, symbol.NewOutput("spa_out_api_v_client_0", consts("abc")))
	s := New(Config{Participant: "server", Mapping: SeedMapping{"spa_in_api_v": "spa_out_api_v"}},
		&memSource{paths: []*path.Path{p}}, path.NewArena(), solver.NewLocal())
	st := newState(t)
	require.NoError(t, s.Bind(ctx, st, 0))

	_, err := s.Resolve(ctx, st, 0, symbol.NewInput(expr.NewArray("spa_in_api_v_server_0", 2)))
	var ie *IncompatibleError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Reason, "2 bytes")
}
