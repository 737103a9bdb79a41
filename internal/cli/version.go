package cli

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/crashwatch/internal/output"
)

const goInstallCmd = "go install github.com/vburojevic/crashwatch/cmd/crashwatch@latest"

// VersionOutput is the NDJSON form of the version command
type VersionOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	Install       string `json:"install"`
}

// VersionCmd shows version information
type VersionCmd struct{}

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(VersionOutput{
			Type:          "version",
			SchemaVersion: output.SchemaVersion,
			Version:       Version,
			Commit:        Commit,
			Install:       goInstallCmd,
		})
	}

	fmt.Fprintf(globals.Stdout, "crashwatch version %s (%s)\n", Version, Commit)
	fmt.Fprintln(globals.Stdout)
	fmt.Fprintln(globals.Stdout, "To upgrade:")
	fmt.Fprintf(globals.Stdout, "  %s\n", goInstallCmd)
	return nil
}
