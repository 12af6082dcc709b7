package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/program"
	"github.com/vk/symsteer/internal/utility"
)

func newStates(n int) []*execstate.State {
	m := program.NewModule("m")
	f := m.NewFunction("main")
	f.NewBlock("entry").Return(program.Location{File: "main.go", Line: 1})
	out := make([]*execstate.State, n)
	for i := range out {
		out[i] = execstate.New(i, f)
	}
	return out
}

// table returns a utility that looks states up by id.
func table(vals map[int]float64) utility.StateUtility {
	return utility.Func(func(st *execstate.State) float64 {
		return vals[st.ID]
	})
}

func popIDs(s *Scheduler) []int {
	var ids []int
	for {
		st, ok := s.Pop()
		if !ok {
			return ids
		}
		ids = append(ids, st.ID)
	}
}

func TestScheduler_Ordering(t *testing.T) {
	tests := []struct {
		name  string
		utils []map[int]float64
		want  []int
	}{
		{
			name:  "higher first",
			utils: []map[int]float64{{0: 1, 1: 3, 2: 2}},
			want:  []int{1, 2, 0},
		},
		{
			name:  "LIFO on ties",
			utils: []map[int]float64{{0: 5, 1: 5, 2: 5}},
			want:  []int{2, 1, 0},
		},
		{
			name:  "lexicographic",
			utils: []map[int]float64{{0: 1, 1: 1, 2: 0}, {0: 1, 1: 2, 2: 9}},
			want:  []int{1, 0, 2},
		},
		{
			name: "process first beats any score",
			utils: []map[int]float64{
				{0: 1e9, 1: 0, 2: 0},
				{0: 0, 1: utility.ProcessFirst, 2: 0},
			},
			want: []int{1, 0, 2},
		},
		{
			name:  "process last after every finite score",
			utils: []map[int]float64{{0: utility.ProcessLast, 1: -1e9, 2: 0}},
			want:  []int{2, 1, 0},
		},
		{
			name: "process first wins over an earlier process last",
			utils: []map[int]float64{
				{0: utility.ProcessLast, 1: 0},
				{0: utility.ProcessFirst, 1: 0},
			},
			want: []int{0, 1},
		},
		{
			name: "process first wins over a later process last",
			utils: []map[int]float64{
				{0: utility.ProcessFirst, 1: 0, 2: 5},
				{0: utility.ProcessLast, 1: 0, 2: 0},
			},
			want: []int{0, 2, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			n := 0
			for _, u := range tt.utils {
				s.Add(table(u), false)
				n = max(n, len(u))
			}
			s.Push(newStates(n)...)
			assert.Equal(t, tt.want, popIDs(s))
		})
	}
}

func TestScheduler_FilterOutIsNeverSelected(t *testing.T) {
	s := New()
	s.Add(table(map[int]float64{0: utility.ProcessFirst, 1: 0, 2: utility.ProcessLast}), false)
	s.Add(table(map[int]float64{0: utility.FilterOut, 1: 0, 2: 0}), false)
	sts := newStates(3)
	s.Push(sts...)

	st, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, st.ID, "filtered state stays behind even with ProcessFirst")

	dropped := s.Prune()
	require.Len(t, dropped, 1)
	assert.Same(t, sts[0], dropped[0])
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []int{2}, popIDs(s))
}

func TestScheduler_GateUtilitiesDoNotRank(t *testing.T) {
	s := New()
	s.Add(table(map[int]float64{0: 10, 1: 1}), true)
	s.Add(table(map[int]float64{0: 1, 1: 2}), false)
	s.Push(newStates(2)...)
	assert.Equal(t, []int{1, 0}, popIDs(s))

	s = New()
	s.Add(table(map[int]float64{0: utility.FilterOut, 1: 1}), true)
	s.Push(newStates(2)...)
	assert.Equal(t, []int{1}, popIDs(s))
	assert.Len(t, s.Prune(), 1)
}

type colored struct{ utility.Depth }

func TestScheduler_ObserveAndColor(t *testing.T) {
	sts := newStates(1)
	w := &utility.Waypoint{Name: "w", Points: []*program.Instruction{sts[0].PC}}
	s := New()
	s.Add(w, false)
	s.Add(colored{}, false)
	s.Observe(sts[0])
	assert.Equal(t, 1, sts[0].Progress["waypoint:w"])
	assert.Equal(t, "#000000", s.Color(sts[0]))
}
