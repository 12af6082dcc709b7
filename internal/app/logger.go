package app

import (
	"io"
	"log/slog"

	"github.com/vk/symsteer/internal/ctxlog"
)

// newLogger builds the process logger writing text or JSON records to outW.
// Unknown levels fall back to info.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(outW, opts))
	}
	return slog.New(slog.NewTextHandler(outW, opts))
}

// participantLogger tags every record with the explored participant, so the
// interleaved output of a coordinator and its workers stays attributable.
func participantLogger(logger *slog.Logger, participant string) *slog.Logger {
	if participant == "" {
		return logger
	}
	return logger.With(ctxlog.KeyParticipant, participant)
}
