package workers

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProc exits when its channel yields.
type fakeProc struct {
	pid  int
	exit chan error
}

func (p *fakeProc) Pid() int    { return p.pid }
func (p *fakeProc) Wait() error { return <-p.exit }

type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProc
	args  [][]string
	err   error
}

func (s *fakeSpawner) Spawn(_ context.Context, args []string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := &fakeProc{pid: 100 + len(s.procs), exit: make(chan error, 1)}
	s.procs = append(s.procs, p)
	s.args = append(s.args, args)
	return p, nil
}

func (s *fakeSpawner) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func TestPool_ForkBlocksWhenFull(t *testing.T) {
	ctx := context.Background()
	sp := &fakeSpawner{}
	pool := NewPool(4, sp)

	for i := 0; i < 4; i++ {
		pid, err := pool.Fork(ctx, "--path-id", "x")
		require.NoError(t, err)
		assert.Equal(t, 100+i, pid)
	}
	assert.Len(t, pool.Alive(), 4)

	type result struct {
		pid int
		err error
	}
	fifth := make(chan result, 1)
	go func() {
		pid, err := pool.Fork(ctx, "--path-id", "y")
		fifth <- result{pid, err}
	}()

	select {
	case r := <-fifth:
		t.Fatalf("fifth fork returned %d while the pool was full", r.pid)
	case <-time.After(50 * time.Millisecond):
	}

	sp.proc(2).exit <- nil

	select {
	case r := <-fifth:
		require.NoError(t, r.err)
		assert.Equal(t, 104, r.pid)
	case <-time.After(2 * time.Second):
		t.Fatal("fifth fork did not return after a worker exited")
	}
	assert.NotContains(t, pool.Alive(), 102)
	assert.Equal(t, []string{"--path-id", "y"}, sp.args[4])

	for _, i := range []int{0, 1, 3, 4} {
		sp.proc(i).exit <- nil
	}
	require.NoError(t, pool.Wait())
	assert.Empty(t, pool.Alive())
}

func TestPool_ForkCancelled(t *testing.T) {
	sp := &fakeSpawner{}
	pool := NewPool(1, sp)
	_, err := pool.Fork(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Fork(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	sp.proc(0).exit <- nil
	require.NoError(t, pool.Wait())
}

func TestPool_WaitReportsFailure(t *testing.T) {
	sp := &fakeSpawner{}
	pool := NewPool(2, sp)
	for i := 0; i < 2; i++ {
		_, err := pool.Fork(context.Background())
		require.NoError(t, err)
	}
	sp.proc(0).exit <- errors.New("exit status 3")
	sp.proc(1).exit <- nil

	err := pool.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 100")
	assert.Equal(t, 2, pool.Exited())
	assert.Equal(t, 1, pool.Failed())
}

func TestPool_FailedWorkerFreesSlot(t *testing.T) {
	sp := &fakeSpawner{}
	pool := NewPool(1, sp)
	_, err := pool.Fork(context.Background())
	require.NoError(t, err)
	sp.proc(0).exit <- errors.New("exit status 1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = pool.Fork(ctx)
	require.NoError(t, err, "the slot of a failed worker is reused")
	sp.proc(1).exit <- nil

	require.Error(t, pool.Wait())
	assert.Equal(t, 2, pool.Exited())
	assert.Equal(t, 1, pool.Failed())
	assert.Empty(t, pool.Alive())
}

func TestPool_SpawnErrorFreesSlot(t *testing.T) {
	sp := &fakeSpawner{err: errors.New("no fork for you")}
	pool := NewPool(1, sp)
	_, err := pool.Fork(context.Background())
	require.Error(t, err)

	sp.err = nil
	_, err = pool.Fork(context.Background())
	require.NoError(t, err, "a failed spawn must not hold the slot")
	sp.proc(0).exit <- nil
	require.NoError(t, pool.Wait())
}

func TestExecSpawner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	ctx := context.Background()
	pool := NewPool(2, ExecSpawner{Path: "/bin/sh", Args: []string{"-c"}})

	_, err := pool.Fork(ctx, "read line; exit 0")
	require.NoError(t, err)
	require.NoError(t, pool.Wait(), "the child sees EOF on stdin")

	_, err = pool.Fork(ctx, "exit 3")
	require.NoError(t, err)
	err = pool.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
}
