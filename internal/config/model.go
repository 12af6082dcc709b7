package config

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// NoPathID selects every sender path instead of a single one.
const NoPathID = -1

// DefaultPoll is the interval between attempts to read a sender path that
// has not been written yet.
const DefaultPoll = 100 * time.Millisecond

// Search strategies used to rank states when targets are given.
const (
	// SearchDistance ranks by the remaining distance to the targets.
	SearchDistance = "distance"
	// SearchAstar also charges the depth already travelled.
	SearchAstar = "astar"
)

// Model is the unified run configuration of one participant.
type Model struct {
	Participant string
	Program     Program
	// Toward and AwayFrom are codepoints, "file:line" or a function name.
	Toward    []string
	AwayFrom  []string
	Waypoints []Waypoint
	// Search selects how Toward targets rank states.
	Search    string
	Recover   Recover
	Joint     Joint
	Output    Output
	Workers   int
	StepLimit int64
}

// Recover replays the branch trace this participant left in a recorded path
// before exploring anything else.
type Recover struct {
	// Paths is the corpus holding the path. Empty uses the joint input corpus.
	Paths  string
	PathID int
}

// Program selects the code under exploration.
type Program struct {
	Dir      string
	Packages []string
	// Entry is the function exploration starts from.
	Entry string
}

// Waypoint is an ordered list of codepoints states should pass through.
type Waypoint struct {
	Name       string
	Codepoints []string
	Mandatory  bool
}

// Joint configures seeding from another participant's corpus.
type Joint struct {
	InPaths     string
	PathID      int
	Follow      bool
	AutoConnect bool
	// Connect maps a receiver input base name to a sender symbol base name.
	Connect map[string]string
	Poll    time.Duration
	// PollMax, when above Poll, makes the poll interval grow up to it.
	PollMax time.Duration
}

// Output configures which paths are written and where.
type Output struct {
	Path     string
	Terminal bool
	Early    bool
	At       []string
}

// NewModel returns a model with defaults applied.
func NewModel() *Model {
	return &Model{
		Search:  SearchDistance,
		Recover: Recover{PathID: NoPathID},
		Joint:   Joint{PathID: NoPathID, Poll: DefaultPoll},
		Output:  Output{Terminal: true},
		Workers: 1,
	}
}

// Merge applies the set fields of o on top of m. Strings, slices and maps
// replace when non-empty, numbers when they differ from the NewModel
// default, and booleans only switch on.
func (m *Model) Merge(o *Model) {
	if o == nil {
		return
	}
	def := NewModel()
	setString(&m.Participant, o.Participant)
	setString(&m.Program.Dir, o.Program.Dir)
	setString(&m.Program.Entry, o.Program.Entry)
	setSlice(&m.Program.Packages, o.Program.Packages)
	setSlice(&m.Toward, o.Toward)
	setSlice(&m.AwayFrom, o.AwayFrom)
	setSlice(&m.Waypoints, o.Waypoints)
	if o.Search != "" && o.Search != def.Search {
		m.Search = o.Search
	}
	setString(&m.Recover.Paths, o.Recover.Paths)
	if o.Recover.PathID != def.Recover.PathID {
		m.Recover.PathID = o.Recover.PathID
	}

	setString(&m.Joint.InPaths, o.Joint.InPaths)
	if o.Joint.PathID != def.Joint.PathID {
		m.Joint.PathID = o.Joint.PathID
	}
	m.Joint.Follow = m.Joint.Follow || o.Joint.Follow
	m.Joint.AutoConnect = m.Joint.AutoConnect || o.Joint.AutoConnect
	if len(o.Joint.Connect) > 0 {
		if m.Joint.Connect == nil {
			m.Joint.Connect = make(map[string]string, len(o.Joint.Connect))
		}
		maps.Copy(m.Joint.Connect, o.Joint.Connect)
	}
	if o.Joint.Poll != def.Joint.Poll && o.Joint.Poll > 0 {
		m.Joint.Poll = o.Joint.Poll
	}
	if o.Joint.PollMax > 0 {
		m.Joint.PollMax = o.Joint.PollMax
	}

	setString(&m.Output.Path, o.Output.Path)
	m.Output.Early = m.Output.Early || o.Output.Early
	setSlice(&m.Output.At, o.Output.At)
	if o.Workers != def.Workers && o.Workers > 0 {
		m.Workers = o.Workers
	}
	if o.StepLimit > 0 {
		m.StepLimit = o.StepLimit
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setSlice[T any](dst *[]T, v []T) {
	if len(v) > 0 {
		*dst = v
	}
}

// Validate checks that the model describes a runnable exploration.
func (m *Model) Validate() error {
	var errs []error
	if m.Participant == "" {
		errs = append(errs, errors.New("participant is required"))
	}
	if len(m.Program.Packages) == 0 {
		errs = append(errs, errors.New("at least one package pattern is required"))
	}
	if m.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", m.Workers))
	}
	if m.Joint.PathID < NoPathID {
		errs = append(errs, fmt.Errorf("invalid path id %d", m.Joint.PathID))
	}
	if m.Joint.PathID != NoPathID && m.Joint.InPaths == "" {
		errs = append(errs, errors.New("a path id needs an input corpus"))
	}
	if m.Joint.Follow && m.Joint.InPaths == "" {
		errs = append(errs, errors.New("follow mode needs an input corpus"))
	}
	if m.Joint.PollMax > 0 && m.Joint.PollMax < m.Joint.Poll {
		errs = append(errs, fmt.Errorf("poll max %s is below poll %s", m.Joint.PollMax, m.Joint.Poll))
	}
	switch m.Search {
	case SearchDistance, SearchAstar:
	default:
		errs = append(errs, fmt.Errorf("unknown search %q: must be %q or %q", m.Search, SearchDistance, SearchAstar))
	}
	if m.Recover.PathID < NoPathID {
		errs = append(errs, fmt.Errorf("invalid recover path id %d", m.Recover.PathID))
	}
	if m.Recover.PathID != NoPathID && m.RecoverPaths() == "" {
		errs = append(errs, errors.New("recovering a path needs a corpus"))
	}
	if !m.Output.Terminal && !m.Output.Early && len(m.Output.At) == 0 {
		errs = append(errs, errors.New("no output mode selected"))
	}
	for _, w := range m.Waypoints {
		if len(w.Codepoints) == 0 {
			errs = append(errs, fmt.Errorf("waypoint %q has no codepoints", w.Name))
		}
	}
	return errors.Join(errs...)
}

// RecoverPaths returns the corpus a recovered path is read from.
func (m *Model) RecoverPaths() string {
	if m.Recover.Paths != "" {
		return m.Recover.Paths
	}
	return m.Joint.InPaths
}
