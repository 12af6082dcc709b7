package scheduler

import (
	"github.com/vk/symsteer/internal/execstate"
	"github.com/vk/symsteer/internal/utility"
)

type tier int

const (
	tierLast tier = iota
	tierNormal
	tierFirst
	tierFiltered
)

type entry struct {
	u utility.StateUtility
	// gate utilities only filter; they take no part in the ranking.
	gate bool
}

type item struct {
	st  *execstate.State
	seq uint64
}

type score struct {
	tier tier
	rank []float64
}

// Scheduler is a frontier of live states. It is not safe for concurrent use.
type Scheduler struct {
	entries []entry
	items   []item
	seq     uint64
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Add appends a utility. A gate utility is consulted for FilterOut only.
func (s *Scheduler) Add(u utility.StateUtility, gate bool) {
	s.entries = append(s.entries, entry{u: u, gate: gate})
}

// Push adds states to the frontier.
func (s *Scheduler) Push(sts ...*execstate.State) {
	for _, st := range sts {
		s.seq++
		s.items = append(s.items, item{st: st, seq: s.seq})
	}
}

// Len returns the number of states in the frontier.
func (s *Scheduler) Len() int {
	return len(s.items)
}

// Observe forwards a state move to the utilities that track progress.
func (s *Scheduler) Observe(st *execstate.State) {
	for _, e := range s.entries {
		if o, ok := e.u.(utility.Observer); ok {
			o.Observe(st)
		}
	}
}

// Color returns the rendering of the first utility that provides one.
func (s *Scheduler) Color(st *execstate.State) string {
	for _, e := range s.entries {
		if c, ok := e.u.(utility.Colorer); ok {
			return c.Color(st)
		}
	}
	return ""
}

func (s *Scheduler) score(st *execstate.State) score {
	sc := score{tier: tierNormal}
	first, last := false, false
	for _, e := range s.entries {
		v := e.u.Utility(st)
		if utility.IsFilterOut(v) {
			return score{tier: tierFiltered}
		}
		switch v {
		case utility.ProcessFirst:
			first = true
		case utility.ProcessLast:
			last = true
		}
		if !e.gate {
			sc.rank = append(sc.rank, v)
		}
	}
	switch {
	case first:
		sc.tier = tierFirst
	case last:
		sc.tier = tierLast
	}
	return sc
}

// better compares two rank vectors lexicographically.
func better(a, b []float64) int {
	for i := range a {
		switch {
		case a[i] > b[i]:
			return 1
		case a[i] < b[i]:
			return -1
		}
	}
	return 0
}

// Prune removes and returns every state scored FilterOut.
func (s *Scheduler) Prune() []*execstate.State {
	var dropped []*execstate.State
	kept := s.items[:0]
	for _, it := range s.items {
		if s.score(it.st).tier == tierFiltered {
			dropped = append(dropped, it.st)
			continue
		}
		kept = append(kept, it)
	}
	clear(s.items[len(kept):])
	s.items = kept
	return dropped
}

// Pop removes and returns the best state. States scored FilterOut are
// skipped and stay in the frontier until Prune.
func (s *Scheduler) Pop() (*execstate.State, bool) {
	best := -1
	var bestScore score
	for i, it := range s.items {
		sc := s.score(it.st)
		if sc.tier == tierFiltered {
			continue
		}
		if best < 0 || sc.tier > bestScore.tier {
			best, bestScore = i, sc
			continue
		}
		if sc.tier < bestScore.tier {
			continue
		}
		c := better(sc.rank, bestScore.rank)
		if c > 0 || (c == 0 && it.seq > s.items[best].seq) {
			best, bestScore = i, sc
		}
	}
	if best < 0 {
		return nil, false
	}
	st := s.items[best].st
	s.items = append(s.items[:best], s.items[best+1:]...)
	return st, true
}
