package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	base := NewModel()
	base.Participant = "server"
	base.Program.Packages = []string{"./cmd/server"}
	base.Joint.InPaths = "client.paths"
	base.Joint.Connect = map[string]string{"a": "b"}
	base.Workers = 4

	over := NewModel()
	over.Toward = []string{"server.go:10"}
	over.Joint.PathID = 3
	over.Joint.Follow = true
	over.Joint.Connect = map[string]string{"c": "d"}
	over.Joint.Poll = time.Second
	over.Joint.PollMax = 4 * time.Second
	over.Search = SearchAstar
	over.Recover.PathID = 1

	base.Merge(over)

	want := NewModel()
	want.Participant = "server"
	want.Program.Packages = []string{"./cmd/server"}
	want.Toward = []string{"server.go:10"}
	want.Joint = Joint{
		InPaths: "client.paths",
		PathID:  3,
		Follow:  true,
		Connect: map[string]string{"a": "b", "c": "d"},
		Poll:    time.Second,
		PollMax: 4 * time.Second,
	}
	want.Search = SearchAstar
	want.Recover = Recover{PathID: 1}
	want.Workers = 4
	if diff := cmp.Diff(want, base); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_DefaultsDoNotOverride(t *testing.T) {
	base := NewModel()
	base.Joint.PathID = 2
	base.Workers = 8
	base.Search = SearchAstar
	base.Recover = Recover{Paths: "old.paths", PathID: 0}
	base.Merge(NewModel())
	assert.Equal(t, 2, base.Joint.PathID)
	assert.Equal(t, 8, base.Workers)
	assert.Equal(t, SearchAstar, base.Search)
	assert.Equal(t, Recover{Paths: "old.paths", PathID: 0}, base.Recover)
	base.Merge(nil)
}

func TestValidate(t *testing.T) {
	valid := func() *Model {
		m := NewModel()
		m.Participant = "p"
		m.Program.Packages = []string{"."}
		return m
	}
	tests := []struct {
		name    string
		mutate  func(*Model)
		wantErr string
	}{
		{name: "valid", mutate: func(*Model) {}},
		{name: "no participant", mutate: func(m *Model) { m.Participant = "" }, wantErr: "participant is required"},
		{name: "no packages", mutate: func(m *Model) { m.Program.Packages = nil }, wantErr: "package pattern"},
		{name: "path id without corpus", mutate: func(m *Model) { m.Joint.PathID = 0 }, wantErr: "needs an input corpus"},
		{name: "follow without corpus", mutate: func(m *Model) { m.Joint.Follow = true }, wantErr: "follow mode"},
		{name: "no output", mutate: func(m *Model) { m.Output.Terminal = false }, wantErr: "no output mode"},
		{name: "empty waypoint", mutate: func(m *Model) { m.Waypoints = []Waypoint{{Name: "w"}} }, wantErr: `waypoint "w"`},
		{name: "zero workers", mutate: func(m *Model) { m.Workers = 0 }, wantErr: "workers must be positive"},
		{name: "astar search", mutate: func(m *Model) { m.Search = SearchAstar }},
		{name: "unknown search", mutate: func(m *Model) { m.Search = "bfs" }, wantErr: `unknown search "bfs"`},
		{name: "recover without corpus", mutate: func(m *Model) { m.Recover.PathID = 0 }, wantErr: "recovering a path needs a corpus"},
		{name: "recover from input corpus", mutate: func(m *Model) { m.Recover.PathID = 0; m.Joint.InPaths = "c.paths" }},
		{name: "recover from own corpus", mutate: func(m *Model) { m.Recover = Recover{Paths: "s.paths", PathID: 2} }},
		{name: "poll max below poll", mutate: func(m *Model) { m.Joint.PollMax = time.Millisecond }, wantErr: "poll max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
