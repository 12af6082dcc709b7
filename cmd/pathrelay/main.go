// Command pathrelay publishes a local corpus to a socket.io broker or
// subscribes a local corpus to one.
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
	"github.com/vk/symsteer/internal/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:], dial); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dialer connects to the broker. The returned func disconnects.
type dialer func(ctx context.Context, o relay.Options) (relay.Conn, func(), error)

func dial(ctx context.Context, o relay.Options) (relay.Conn, func(), error) {
	s, err := relay.Dial(ctx, o)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Disconnect() }, nil
}

func usage(w io.Writer) {
	fmt.Fprint(w, `
pathrelay - relay path corpora between hosts.

Usage:
  pathrelay publish [options] TOPIC CORPUS
  pathrelay subscribe [options] TOPIC CORPUS

publish streams every path of CORPUS to TOPIC; with --follow it keeps
streaming paths as they are appended. subscribe appends every path
published on TOPIC to CORPUS until interrupted.

Options:
`)
}

func run(ctx context.Context, outW, errW io.Writer, args []string, connect dialer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage(outW)
		return nil
	}
	mode := args[0]
	if mode != "publish" && mode != "subscribe" {
		usage(errW)
		return &cli.ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", mode)}
	}

	fs := flag.NewFlagSet("pathrelay "+mode, flag.ContinueOnError)
	fs.SetOutput(errW)
	fs.Usage = func() {
		usage(errW)
		fs.PrintDefaults()
	}
	urlFlag := fs.String("url", "http://localhost:3000", "Broker URL.")
	nsFlag := fs.String("namespace", "/", "Socket.io namespace.")
	insecure := fs.Bool("insecure", false, "Skip TLS certificate verification.")
	timeout := fs.Duration("connect-timeout", relay.DefaultConnectTimeout, "Time to wait for the broker connection.")
	follow := fs.Bool("follow", false, "publish: keep streaming as the corpus grows.")
	poll := fs.Duration("poll", 100*time.Millisecond, "Interval between reads in follow mode.")
	logLevel := fs.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &cli.ExitError{Code: 2, Message: err.Error()}
	}
	if fs.NArg() != 2 {
		return &cli.ExitError{Code: 2, Message: mode + " needs a topic and a corpus"}
	}
	topic, name := fs.Arg(0), fs.Arg(1)

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return &cli.ExitError{Code: 2, Message: "invalid log-level: " + err.Error()}
	}
	logger := slog.New(slog.NewTextHandler(errW, &slog.HandlerOptions{Level: level}))
	ctx = ctxlog.WithLogger(ctx, logger)

	conn, disconnect, err := connect(ctx, relay.Options{
		URL:                *urlFlag,
		Namespace:          *nsFlag,
		InsecureSkipVerify: *insecure,
		ConnectTimeout:     *timeout,
	})
	if err != nil {
		return err
	}
	defer disconnect()

	var n int
	switch mode {
	case "publish":
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := corpus.StreamOptions{Follow: *follow, Waiter: backoff.Fixed(*poll)}
		n, err = relay.Publish(ctx, conn, topic, corpus.NewReader(f, corpus.Start), opts)
		if err != nil {
			return err
		}
	case "subscribe":
		w, err := corpus.Append(name)
		if err != nil {
			return err
		}
		defer w.Close()
		n, err = relay.Subscribe(ctx, conn, topic, w)
		if err != nil {
			return err
		}
	}
	logger.Info("Relay finished.", "mode", mode, "topic", topic, "paths", n)
	return nil
}
