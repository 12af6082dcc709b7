package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/symsteer/internal/app"
	"github.com/vk/symsteer/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// mapFlag collects repeatable name=value pairs.
type mapFlag map[string]string

func (m mapFlag) String() string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (m mapFlag) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" || val == "" {
		return fmt.Errorf("expected receiver=sender, got %q", v)
	}
	m[k] = val
	return nil
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("symsteer", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
symsteer - guided, joint symbolic exploration of Go programs.

Usage:
  symsteer [options] PACKAGE...

Arguments:
  PACKAGE
    Go package patterns to explore, e.g. ./cmd/server.

Options:
`)
		flagSet.PrintDefaults()
	}

	var (
		toward, awayFrom, outputAt listFlag
		connect                    = mapFlag{}
	)
	configFlag := flagSet.String("config", "", "Path to an .hcl configuration file or directory.")
	participantFlag := flagSet.String("participant", "", "Name of the explored participant, e.g. client or server.")
	dirFlag := flagSet.String("dir", "", "Directory the package patterns are resolved in.")
	entryFlag := flagSet.String("entry", "", "Function exploration starts from. Defaults to the program's main function.")
	flagSet.Var(&toward, "toward", "Codepoint (file:line or function) to steer toward. Repeatable.")
	flagSet.Var(&awayFrom, "away-from", "Codepoint to steer away from. Repeatable.")
	searchFlag := flagSet.String("search", config.SearchDistance, "How --toward ranks states. Options: 'distance' or 'astar'.")
	recoverFlag := flagSet.Int("recover", config.NoPathID, "Replay the branch trace of this recorded path first. -1 disables.")
	recoverPathsFlag := flagSet.String("recover-paths", "", "Corpus holding the recovered path. Defaults to --in-paths.")

	inPathsFlag := flagSet.String("in-paths", "", "Corpus of another participant to seed inputs from.")
	pathIDFlag := flagSet.Int("path-id", config.NoPathID, "Seed from this sender path only. -1 explores every sender path.")
	followFlag := flagSet.Bool("follow", false, "Wait for sender paths that have not been written yet.")
	autoConnectFlag := flagSet.Bool("auto-connect", false, "Match message symbols by their socket addresses.")
	flagSet.Var(connect, "connect", "Bind receiver input base name to sender symbol base name, receiver=sender. Repeatable.")
	pollFlag := flagSet.Duration("poll", config.DefaultPoll, "Interval between reads of a followed corpus.")
	pollMaxFlag := flagSet.Duration("poll-max", 0, "Grow the poll interval exponentially up to this value. 0 keeps it fixed.")

	outPathsFlag := flagSet.String("out-paths", "", "Corpus file the explored paths are appended to.")
	outputTerminalFlag := flagSet.Bool("output-terminal", true, "Write paths that exited normally.")
	outputEarlyFlag := flagSet.Bool("output-early", false, "Write paths that ended any other way.")
	flagSet.Var(&outputAt, "output-at", "Write a snapshot whenever a state reaches this codepoint. Repeatable.")

	workersFlag := flagSet.Int("workers", 1, "Number of worker processes, one sender path each.")
	stepLimitFlag := flagSet.Int64("step-limit", 0, "Stop after this many steps. 0 is unlimited.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 && *configFlag == "" {
		slog.Debug("Neither packages nor a config file given, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	if *pollFlag <= 0 {
		*pollFlag = config.DefaultPoll
	}
	slog.Debug("CLI parameter validation complete.")

	flags := config.NewModel()
	flags.Participant = *participantFlag
	flags.Program = config.Program{Dir: *dirFlag, Packages: flagSet.Args(), Entry: *entryFlag}
	flags.Toward = toward
	flags.AwayFrom = awayFrom
	flags.Search = strings.ToLower(*searchFlag)
	flags.Recover = config.Recover{Paths: *recoverPathsFlag, PathID: *recoverFlag}
	flags.Joint = config.Joint{
		InPaths:     *inPathsFlag,
		PathID:      *pathIDFlag,
		Follow:      *followFlag,
		AutoConnect: *autoConnectFlag,
		Connect:     connect,
		Poll:        *pollFlag,
		PollMax:     *pollMaxFlag,
	}
	flags.Output = config.Output{Path: *outPathsFlag, Early: *outputEarlyFlag, At: outputAt}
	flags.Workers = *workersFlag
	flags.StepLimit = *stepLimitFlag

	cfg := app.Config{
		ConfigPath:      *configFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
		Flags:           flags,
		Args:            args,
	}
	flagSet.Visit(func(f *flag.Flag) {
		if f.Name == "output-terminal" {
			v := *outputTerminalFlag
			cfg.OutputTerminal = &v
		}
	})

	appConfig, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", appConfig)
	return appConfig, false, nil
}
