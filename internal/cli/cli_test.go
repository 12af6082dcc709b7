package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/symsteer/internal/config"
)

func TestParse(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{
		"--participant", "server",
		"--toward", "server.go:10", "--toward", "handle",
		"--away-from", "panic", "--search", "AStar",
		"--recover", "1", "--recover-paths", "server.paths", "--poll-max", "3s",
		"--in-paths", "client.paths", "--path-id", "3", "--follow", "--auto-connect",
		"--connect", "spa_in_api_a=spa_out_api_b",
		"--out-paths", "server.paths", "--output-terminal=false", "--output-early",
		"--output-at", "server.go:20",
		"--workers", "4", "--step-limit", "500",
		"--log-level", "DEBUG", "--log-format", "text",
		"./cmd/server", "./internal/...",
	}, &out)
	require.NoError(t, err)
	require.False(t, exit)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	m := cfg.Flags
	assert.Equal(t, "server", m.Participant)
	assert.Equal(t, []string{"./cmd/server", "./internal/..."}, m.Program.Packages)
	assert.Equal(t, []string{"server.go:10", "handle"}, m.Toward)
	assert.Equal(t, []string{"panic"}, m.AwayFrom)
	assert.Equal(t, 3, m.Joint.PathID)
	assert.True(t, m.Joint.Follow)
	assert.True(t, m.Joint.AutoConnect)
	assert.Equal(t, map[string]string{"spa_in_api_a": "spa_out_api_b"}, m.Joint.Connect)
	assert.Equal(t, config.DefaultPoll, m.Joint.Poll)
	assert.Equal(t, 3*time.Second, m.Joint.PollMax)
	assert.Equal(t, config.SearchAstar, m.Search)
	assert.Equal(t, config.Recover{Paths: "server.paths", PathID: 1}, m.Recover)
	assert.Equal(t, "server.paths", m.Output.Path)
	assert.True(t, m.Output.Early)
	assert.Equal(t, []string{"server.go:20"}, m.Output.At)
	require.NotNil(t, cfg.OutputTerminal)
	assert.False(t, *cfg.OutputTerminal)
	assert.Equal(t, 4, m.Workers)
	assert.Equal(t, int64(500), m.StepLimit)
}

func TestParse_Exits(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantExit bool
		wantCode int
		wantMsg  string
	}{
		{name: "help", args: []string{"-h"}, wantExit: true},
		{name: "nothing to do", args: nil, wantExit: true},
		{name: "unknown flag", args: []string{"--nope"}, wantCode: 2, wantMsg: "flag provided but not defined"},
		{name: "bad log format", args: []string{"--log-format", "xml", "."}, wantCode: 2, wantMsg: "invalid log-format"},
		{name: "bad log level", args: []string{"--log-level", "loud", "."}, wantCode: 2, wantMsg: "invalid log-level"},
		{name: "bad connect", args: []string{"--connect", "novalue", "."}, wantCode: 2, wantMsg: "receiver=sender"},
		{name: "bad port", args: []string{"--healthcheck-port", "70000", "."}, wantCode: 2, wantMsg: "healthcheck port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cfg, exit, err := Parse(tt.args, &out)
			if tt.wantExit {
				require.NoError(t, err)
				assert.True(t, exit)
				assert.Nil(t, cfg)
				assert.Contains(t, out.String(), "Usage:")
				return
			}
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, tt.wantCode, exitErr.Code)
			assert.Contains(t, exitErr.Message, tt.wantMsg)
		})
	}
}

func TestParse_ConfigOnly(t *testing.T) {
	cfg, exit, err := Parse([]string{"--config", "run.hcl"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, "run.hcl", cfg.ConfigPath)
	assert.Nil(t, cfg.OutputTerminal)
	assert.Empty(t, cfg.Flags.Program.Packages)
}
