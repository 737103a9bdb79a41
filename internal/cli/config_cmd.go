package cli

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/crashwatch/internal/config"
	"github.com/vburojevic/crashwatch/internal/output"
	"gopkg.in/yaml.v3"
)

// ConfigCmd groups configuration commands
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"withargs" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is loaded"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample config file"`
}

// ConfigShowCmd prints the effective configuration
type ConfigShowCmd struct{}

type configOutput struct {
	Type          string                `json:"type"`
	SchemaVersion int                   `json:"schemaVersion"`
	Format        string                `json:"format"`
	Level         string                `json:"level"`
	Quiet         bool                  `json:"quiet"`
	Verbose       bool                  `json:"verbose"`
	Detector      config.DetectorConfig `json:"detector"`
	Store         config.StoreConfig    `json:"store"`
	Metrics       config.MetricsConfig  `json:"metrics"`
}

// Run executes the config show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if cfg == nil {
		cfg = config.Default()
	}

	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).WriteValue(&configOutput{
			Type:          "config",
			SchemaVersion: output.SchemaVersion,
			Format:        cfg.Format,
			Level:         cfg.Level,
			Quiet:         cfg.Quiet,
			Verbose:       cfg.Verbose,
			Detector:      cfg.Detector,
			Store:         cfg.Store,
			Metrics:       cfg.Metrics,
		})
	}

	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(globals.Stdout, heading(globals, "Current Configuration:"))
	fmt.Fprint(globals.Stdout, string(b))
	return nil
}

// ConfigPathCmd prints the config file in use
type ConfigPathCmd struct{}

// Run executes the config path command
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]interface{}{
			"type":          "config_path",
			"schemaVersion": output.SchemaVersion,
			"path":          path,
		})
	}

	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found")
		fmt.Fprintln(globals.Stdout, muted(globals, "Searched for crashwatch.yaml, .crashwatch.yaml, .crashwatch.yml and .crashwatchrc"))
		return nil
	}
	fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return nil
}

// ConfigGenerateCmd prints a config file with default values
type ConfigGenerateCmd struct{}

// Run executes the config generate command
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	b, err := yaml.Marshal(config.Default())
	if err != nil {
		return err
	}
	fmt.Fprintln(globals.Stdout, "# crashwatch configuration file")
	fmt.Fprintln(globals.Stdout, "# Save as crashwatch.yaml, ~/.crashwatch.yaml or /etc/crashwatch/crashwatch.yaml")
	fmt.Fprintln(globals.Stdout, "# Every key can be overridden with CRASHWATCH_<SECTION>_<KEY>")
	fmt.Fprint(globals.Stdout, string(b))
	return nil
}
