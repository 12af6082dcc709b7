package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/symsteer/internal/cli"
	"github.com/vk/symsteer/internal/corpus"
	"github.com/vk/symsteer/internal/path"
)

func writeCorpus(t *testing.T, name string, outcomes ...string) []*path.Path {
	t.Helper()
	w, err := corpus.Append(name)
	require.NoError(t, err)
	defer w.Close()
	var out []*path.Path
	for _, o := range outcomes {
		p := path.New()
		p.Participants = []string{"client"}
		p.Tags[path.TagOutcome] = o
		require.NoError(t, w.WritePath(p))
		out = append(out, p)
	}
	return out
}

func runTool(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, args)
	return out.String(), err
}

func TestSplitJoinCount(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.paths")
	a, b, joined := filepath.Join(dir, "a.paths"), filepath.Join(dir, "b.paths"), filepath.Join(dir, "joined.paths")
	writeCorpus(t, in, "exit", "filtered", "exit")

	_, err := runTool(t, "split", in, a, b)
	require.NoError(t, err)

	out, err := runTool(t, "count", a)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
	out, err = runTool(t, "count", b)
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = runTool(t, "join", joined, a, b)
	require.NoError(t, err)
	out, err = runTool(t, "count", joined)
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}

func TestCat(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.paths")
	paths := writeCorpus(t, in, "exit", "incompatible")

	t.Run("summary", func(t *testing.T) {
		out, err := runTool(t, "cat", "--summary", in)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "0\t"+paths[0].UUID.String()+"\texit\tclient", lines[0])
		assert.Equal(t, "1\t"+paths[1].UUID.String()+"\tincompatible\tclient", lines[1])
	})

	t.Run("by id", func(t *testing.T) {
		out, err := runTool(t, "cat", in, "1")
		require.NoError(t, err)
		p, err := path.Parse([]byte(out))
		require.NoError(t, err)
		assert.Equal(t, paths[1].UUID, p.UUID)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := runTool(t, "cat", in, "5")
		assert.ErrorIs(t, err, corpus.ErrOutOfBounds)
	})
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown command", args: []string{"frobnicate"}},
		{name: "split without outputs", args: []string{"split", "in.paths"}},
		{name: "count with two inputs", args: []string{"count", "a", "b"}},
		{name: "bad id", args: []string{"cat", "in.paths", "x"}},
		{name: "bad log level", args: []string{"count", "--log-level", "loud", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runTool(t, tt.args...)
			var exitErr *cli.ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
		})
	}
}

func TestRun_Help(t *testing.T) {
	out, err := runTool(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
}
