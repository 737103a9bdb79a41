package cli

import (
	"errors"
	"fmt"

	"github.com/vburojevic/crashwatch/internal/output"
)

// Error codes shared by commands
const (
	codeInvalidFlags = "INVALID_FLAGS"
	codeStoreOpen    = "STORE_OPEN"
	codeStoreIO      = "STORE_IO"
	codeDetector     = "DETECTOR"
	codeConfig       = "CONFIG"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so scripts always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Format == "ndjson" {
		_ = output.NewNDJSONWriter(globals.Stdout).WriteError(code, message, hint...)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "%s [%s]: %s", errorLabel(globals), code, message)
		if len(hint) > 0 && hint[0] != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", hint[0])
		}
		fmt.Fprintln(globals.Stderr)
	}
	return errors.New(message)
}
