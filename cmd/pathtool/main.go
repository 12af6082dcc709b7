// Command pathtool splits, joins, counts and prints corpus files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vk/symsteer/internal/backoff"
	"github.com/vk/symsteer/internal/cli"
	"github.com/vk/symsteer/internal/corpus"
	"github.com/vk/symsteer/internal/ctxlog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	stream  corpus.StreamOptions
	summary bool
}

type command struct {
	usage string
	run   func(ctx context.Context, outW io.Writer, args []string, opts options) error
}

var commands = map[string]command{
	"split": {usage: "split [options] IN OUT...", run: split},
	"join":  {usage: "join [options] OUT IN...", run: join},
	"count": {usage: "count IN", run: count},
	"cat":   {usage: "cat [options] IN [ID...]", run: cat},
}

func usage(w io.Writer) {
	fmt.Fprint(w, `
pathtool - work with path corpus files.

Usage:
  pathtool COMMAND [options] ARGS...

Commands:
  split   distribute the paths of IN round-robin over every OUT
  join    append the paths of every IN to OUT
  count   print the number of complete paths in IN
  cat     print the paths of IN, or only the paths with the given ids
`)
}

// run dispatches one command. Diagnostics go to errW.
func run(ctx context.Context, outW, errW io.Writer, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage(outW)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(errW)
		return &cli.ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", args[0])}
	}

	fs := flag.NewFlagSet("pathtool "+args[0], flag.ContinueOnError)
	fs.SetOutput(errW)
	fs.Usage = func() {
		fmt.Fprintf(errW, "Usage:\n  pathtool %s\n\nOptions:\n", cmd.usage)
		fs.PrintDefaults()
	}
	follow := fs.Bool("follow", false, "Keep reading as inputs grow until interrupted.")
	poll := fs.Duration("poll", 100*time.Millisecond, "Interval between reads in follow mode.")
	logLevel := fs.String("log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	summary := fs.Bool("summary", false, "cat: print one line per path instead of the full record.")
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &cli.ExitError{Code: 2, Message: err.Error()}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return &cli.ExitError{Code: 2, Message: "invalid log-level: " + err.Error()}
	}
	logger := slog.New(slog.NewTextHandler(errW, &slog.HandlerOptions{Level: level}))
	ctx = ctxlog.WithLogger(ctx, logger)

	opts := options{
		stream:  corpus.StreamOptions{Follow: *follow, Waiter: backoff.Fixed(*poll)},
		summary: *summary,
	}
	return cmd.run(ctx, outW, fs.Args(), opts)
}
