package app

import (
	"fmt"

	"github.com/vk/symsteer/internal/config"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ConfigPath string // hcl file or directory, optional

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	// Flags are merged over the file configuration.
	Flags *config.Model
	// OutputTerminal overrides output.terminal when the flag was given.
	OutputTerminal *bool
	// Args are the command-line arguments, replayed for worker processes.
	Args []string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d: must be between 0 and 65535", cfg.HealthcheckPort)
	}
	if cfg.Flags == nil {
		cfg.Flags = config.NewModel()
	}
	return &cfg, nil
}
