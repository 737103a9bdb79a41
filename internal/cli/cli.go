// Package cli implements the crashwatch command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/vburojevic/crashwatch/internal/config"
)

// Build information, set with -ldflags
var (
	Version = "dev"
	Commit  = "none"
)

// CLI is the root command
type CLI struct {
	Format  string `short:"f" default:"${config_format}" enum:"ndjson,text" help:"Output format (ndjson, text)"`
	Level   string `default:"${config_level}" enum:"debug,info,warn,error" help:"Diagnostic log level on stderr"`
	Quiet   bool   `short:"q" help:"Only log warnings and errors"`
	Verbose bool   `short:"v" help:"Debug logging (overrides --level)"`

	Serve      ServeCmd      `cmd:"" help:"Run the crash detector on stdin/stdout"`
	Supervise  SuperviseCmd  `cmd:"" help:"Start a detector, keep a session alive and print crash notifications"`
	Records    RecordsCmd    `cmd:"" help:"Inspect or consume crash records"`
	Config     ConfigCmd     `cmd:"" help:"Show configuration"`
	Schema     SchemaCmd     `cmd:"" help:"Print JSON Schema for protocol payloads and NDJSON output"`
	Completion CompletionCmd `cmd:"" help:"Generate shell completions"`
	Version    VersionCmd    `cmd:"" help:"Show version information"`
}

// Globals carries flags and streams shared by every command
type Globals struct {
	Format  string
	Level   string
	Quiet   bool
	Verbose bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Config *config.Config
}

// NewGlobalsWithConfig builds Globals from parsed flags and the loaded config
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Globals{
		Format:  c.Format,
		Level:   c.Level,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
}

// Debug prints a diagnostic line to stderr in verbose mode
func (g *Globals) Debug(format string, args ...interface{}) {
	if g == nil || !g.Verbose || g.Stderr == nil {
		return
	}
	fmt.Fprintf(g.Stderr, "[DEBUG] "+format+"\n", args...)
}
