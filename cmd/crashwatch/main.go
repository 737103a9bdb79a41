package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/vburojevic/crashwatch/internal/cli"
	"github.com/vburojevic/crashwatch/internal/config"
)

const quickStart = `crashwatch - heartbeat crash detector

Quick start:
  crashwatch supervise --root-dir /tmp/cw --stall-after 12s   Watch a session and provoke a crash
  crashwatch records list                                     Crash records of the last session
  crashwatch serve                                            Run a detector on stdin/stdout

For help:
  crashwatch --help                                           All commands and flags
  crashwatch schema                                           Protocol and output schemas
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config values become flag defaults; explicit flags still win
	vars := kong.Vars{
		"config_format":        cfg.Format,
		"config_level":         cfg.Level,
		"config_interval":      cfg.Detector.HeartbeatInterval,
		"config_parent_poll":   cfg.Detector.ParentPollInterval,
		"config_backend":       cfg.Store.Backend,
		"config_record_format": cfg.Store.RecordFormat,
		"config_metrics_addr":  cfg.Metrics.Addr,
	}

	ctx := kong.Parse(&c,
		kong.Name("crashwatch"),
		kong.Description("crashwatch: detect stalled sessions from missed heartbeats and report them after the fact"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	if err := ctx.Run(globals); err != nil {
		os.Exit(1)
	}
}
