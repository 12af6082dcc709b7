package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/vk/symsteer/internal/ctxlog"
)

// LogsEnv makes test helpers print the captured logs of every test.
const LogsEnv = "SYMSTEER_TEST_LOGS"

// Context returns a context carrying a debug logger that writes into the
// returned buffer. The buffer is dumped when LogsEnv is "true".
func Context(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	DumpLogs(t, buf)
	return ctxlog.WithLogger(context.Background(), logger), buf
}

// DumpLogs registers a cleanup that prints buf when LogsEnv is "true".
func DumpLogs(t *testing.T, buf *SafeBuffer) {
	t.Helper()
	t.Cleanup(func() {
		if os.Getenv(LogsEnv) == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})
}
