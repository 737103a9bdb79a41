package cli

import (
	"fmt"
	"time"

	"github.com/vburojevic/crashwatch/internal/crashstore"
)

// validateFlags centralizes common flag combinations to keep behavior consistent.
func validateFlags(globals *Globals) error {
	// quiet + text leaves nothing but the result; steer to ndjson
	if globals != nil && globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, codeInvalidFlags, "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	return nil
}

// validateStoreFlags rejects settings the chosen backend ignores
func validateStoreFlags(globals *Globals, backend, recordFormat string) error {
	if backend == crashstore.BackendSQLite && recordFormat != "" && recordFormat != crashstore.FormatJSON {
		return outputErrorCommon(globals, codeInvalidFlags,
			fmt.Sprintf("--record-format %s only applies to the file backend", recordFormat),
			"drop --record-format or use --backend file")
	}
	return nil
}

// validateInterval rejects non-positive durations
func validateInterval(globals *Globals, flag string, d time.Duration) error {
	if d <= 0 {
		return outputErrorCommon(globals, codeInvalidFlags,
			fmt.Sprintf("--%s must be positive, got %s", flag, d),
			"use a duration like 5s or 500ms")
	}
	return nil
}
