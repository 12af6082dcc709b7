package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/symsteer/internal/config"
	"github.com/vk/symsteer/internal/corpus"
	"github.com/vk/symsteer/internal/hcl_adapter"
	"github.com/vk/symsteer/internal/path"
	"github.com/vk/symsteer/internal/testutil"
	"github.com/vk/symsteer/internal/workers"
)

// SetupAppTest creates a new app instance for system testing.
func SetupAppTest(t *testing.T, cfg *Config, opts ...Option) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	cfg.LogFormat = "text"
	testApp, err := NewApp(logBuffer, cfg, hcl_adapter.NewLoader(), opts...)
	testutil.DumpLogs(t, logBuffer)
	require.NoError(t, err)
	return testApp, logBuffer
}

// serverFlags is a minimal valid run configuration writing into dir.
func serverFlags(dir string) *config.Model {
	m := config.NewModel()
	m.Participant = "server"
	m.Program.Packages = []string{"./server"}
	m.Output.Path = filepath.Join(dir, "server.paths")
	return m
}

func writeCorpus(t *testing.T, name string, paths ...*path.Path) {
	t.Helper()
	w, err := corpus.Append(name)
	require.NoError(t, err)
	for _, p := range paths {
		require.NoError(t, w.WritePath(p))
	}
	require.NoError(t, w.Close())
}

func readCorpus(t *testing.T, name string) []*path.Path {
	t.Helper()
	cat, err := corpus.OpenCatalog(name, nil)
	require.NoError(t, err)
	defer cat.Close()
	n, err := cat.Len()
	require.NoError(t, err)
	out := make([]*path.Path, n)
	for i := range out {
		out[i], err = cat.Get(context.Background(), i, false)
		require.NoError(t, err)
	}
	return out
}

// fakeSpawner records the argument lists of spawned workers.
type fakeSpawner struct {
	mu    sync.Mutex
	calls [][]string
}

type doneProc int

func (p doneProc) Pid() int    { return int(p) }
func (p doneProc) Wait() error { return nil }

func (s *fakeSpawner) Spawn(_ context.Context, args []string) (workers.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, args)
	return doneProc(1000 + len(s.calls)), nil
}
