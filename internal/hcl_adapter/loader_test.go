package hcl_adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/symsteer/internal/config"
	"github.com/vk/symsteer/internal/testutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func newTestLoader() *Loader {
	return &Loader{Environ: func() []string { return []string{"OUT=/tmp/out", "BROKEN"} }}
}

func TestLoad_FullFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "server.hcl", `
participant = "server"

program {
  dir      = "./testdata"
  packages = ["./cmd/server"]
  entry    = "main.main"
}

toward { codepoints = ["server.go:42"] }
toward { codepoints = ["handle"] }
away_from { codepoints = ["server.go:99"] }

waypoint "handshake" {
  codepoints = ["server.go:10", "server.go:20"]
  mandatory  = true
}

joint {
  in_paths     = "client.paths"
  path_id      = 2
  follow       = true
  auto_connect = true
  poll         = "250ms"
  poll_max     = "2s"
  connect = {
    spa_in_api_req = "spa_out_api_req"
  }
}

output {
  path     = "${env.OUT}/${participant}.paths"
  terminal = false
  early    = true
  at       = ["server.go:80"]
}

run {
  workers    = 4
  step_limit = 1000
  search     = "astar"

  recover {
    paths   = "${participant}.paths"
    path_id = 7
  }
}
`)

	m, err := newTestLoader().Load(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "server", m.Participant)
	assert.Equal(t, config.Program{Dir: "./testdata", Packages: []string{"./cmd/server"}, Entry: "main.main"}, m.Program)
	assert.Equal(t, []string{"server.go:42", "handle"}, m.Toward)
	assert.Equal(t, []string{"server.go:99"}, m.AwayFrom)
	assert.Equal(t, []config.Waypoint{{Name: "handshake", Codepoints: []string{"server.go:10", "server.go:20"}, Mandatory: true}}, m.Waypoints)
	assert.Equal(t, config.Joint{
		InPaths:     "client.paths",
		PathID:      2,
		Follow:      true,
		AutoConnect: true,
		Connect:     map[string]string{"spa_in_api_req": "spa_out_api_req"},
		Poll:        250 * time.Millisecond,
		PollMax:     2 * time.Second,
	}, m.Joint)
	assert.Equal(t, config.Output{Path: "/tmp/out/server.paths", Terminal: false, Early: true, At: []string{"server.go:80"}}, m.Output)
	assert.Equal(t, 4, m.Workers)
	assert.Equal(t, int64(1000), m.StepLimit)
	assert.Equal(t, config.SearchAstar, m.Search)
	assert.Equal(t, config.Recover{Paths: "server.paths", PathID: 7}, m.Recover)
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "min.hcl", `
program { packages = ["."] }
joint { in_paths = "x.paths" }
output { path = "${participant}.paths" }
`)
	l := newTestLoader()
	l.Participant = "client"
	m, err := l.Load(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, "client", m.Participant)
	assert.Equal(t, config.NoPathID, m.Joint.PathID)
	assert.Equal(t, config.DefaultPoll, m.Joint.Poll)
	assert.True(t, m.Output.Terminal)
	assert.Equal(t, "client.paths", m.Output.Path)
	assert.Equal(t, 1, m.Workers)
	assert.Equal(t, config.SearchDistance, m.Search)
	assert.Equal(t, config.NoPathID, m.Recover.PathID)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "syntax",
			files:   map[string]string{"a.hcl": `program {`},
			wantErr: "failed to parse",
		},
		{
			name:    "missing required attribute",
			files:   map[string]string{"a.hcl": `program {}`},
			wantErr: "failed to decode",
		},
		{
			name: "duplicate singleton across files",
			files: map[string]string{
				"a.hcl":     `program { packages = ["a"] }`,
				"sub/b.hcl": `program { packages = ["b"] }`,
			},
			wantErr: "duplicate program block",
		},
		{
			name:    "bad poll",
			files:   map[string]string{"a.hcl": "joint {\n  in_paths = \"x\"\n  poll = \"soon\"\n}\n"},
			wantErr: "joint.poll",
		},
		{
			name:    "bad path id type",
			files:   map[string]string{"a.hcl": "joint {\n  in_paths = \"x\"\n  path_id = \"first\"\n}\n"},
			wantErr: "joint.path_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, dir, name, content)
			}
			_, err := newTestLoader().Load(context.Background(), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_NotHCL(t *testing.T) {
	f := writeFile(t, t.TempDir(), "a.yaml", "x: 1")
	_, err := newTestLoader().Load(context.Background(), f)
	assert.ErrorContains(t, err, "not an .hcl file")
}

func TestLoad_DirectoryAndUnknownAttributes(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"a/base.hcl": `
			participant = "client"
			colour      = "blue"
			program {
			  packages = ["./cmd/client"]
			}
		`,
		"b/out.hcl": `
			output {
			  path = "${participant}.paths"
			}
		`,
		"b/notes.txt":   "not configuration",
		".hidden/x.hcl": "participant = \"ignored\"",
	})
	ctx, logs := testutil.Context(t)

	m, err := newTestLoader().Load(ctx, dir)
	require.NoError(t, err)

	assert.Equal(t, "client", m.Participant)
	assert.Equal(t, "client.paths", m.Output.Path)
	assert.Contains(t, logs.String(), "Ignoring unknown configuration attribute.")
	assert.Contains(t, logs.String(), "attribute=colour")
}
