package cli

import (
	"encoding/json"
	"strings"

	"github.com/vburojevic/crashwatch/internal/protocol"
)

// SchemaCmd outputs JSON Schema for protocol payloads, the stored crash
// record and NDJSON output lines
type SchemaCmd struct {
	Type []string `short:"t" help:"Types to include (start,heartbeat,telemetry,crash_record,crash,record,drain_summary,error). Default: all"`
}

var schemaTypes = []string{"start", "heartbeat", "telemetry", "crash_record", "crash", "record", "drain_summary", "error"}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	schemas := map[string]interface{}{
		"start":         startSchema(),
		"heartbeat":     heartbeatSchema(),
		"telemetry":     telemetrySchema(),
		"crash_record":  crashRecordSchema(),
		"crash":         crashSchema(),
		"record":        recordSchema(),
		"drain_summary": drainSummarySchema(),
		"error":         errorSchema(),
	}

	typesToOutput := c.Type
	if len(typesToOutput) == 0 {
		typesToOutput = schemaTypes
	}

	out := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "crashwatch Schemas",
		"description": "JSON Schema definitions for crash protocol payloads and crashwatch NDJSON output",
		"definitions": map[string]interface{}{},
	}

	defs := out["definitions"].(map[string]interface{})
	for _, t := range typesToOutput {
		t = strings.ToLower(strings.TrimSpace(t))
		if schema, ok := schemas[t]; ok {
			defs[t] = schema
		}
	}

	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func constProp(value string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "const": value}
}

func startSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Start",
		"description": "Params of " + protocol.MethodStart + ": begin watching a session",
		"properties": map[string]interface{}{
			"sessionId":   prop("string", "Session id; no path separators, must not start with a dot"),
			"rootDir":     prop("string", "Root directory for crash records"),
			"extensionId": prop("string", "Directory below rootDir that holds crashedSessions"),
		},
		"required": []string{"sessionId", "rootDir", "extensionId"},
	}
}

func heartbeatSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Heartbeat",
		"description": "Optional params of " + protocol.MethodHeartbeat + "; " + protocol.MethodStop + " carries no params",
		"properties": map[string]interface{}{
			"sessionId": prop("string", "Session to refresh; defaults to the session started on the connection"),
		},
	}
}

func telemetrySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Crash Telemetry",
		"description": "Params of " + protocol.MethodTelemetry + ", sent by the detector for every drained crash record",
		"properties": map[string]interface{}{
			"sessionId":     prop("string", "Crashed session"),
			"lastHeartbeat": prop("integer", "Last heartbeat before the crash, epoch milliseconds"),
		},
		"required": []string{"sessionId", "lastHeartbeat"},
	}
}

func crashRecordSchema() map[string]interface{} {
	schema := telemetrySchema()
	schema["title"] = "Crash Record"
	schema["description"] = "Document stored at rootDir/extensionId/crashedSessions/<sessionId> (JSON or XML plist)"
	return schema
}

func crashSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Crash",
		"description": "NDJSON line printed by supervise for each crash notification",
		"properties": map[string]interface{}{
			"type":           constProp("crash"),
			"schemaVersion":  prop("integer", "Output schema version"),
			"session_id":     prop("string", "Crashed session"),
			"last_heartbeat": prop("integer", "Epoch milliseconds"),
			"last_seen": map[string]interface{}{
				"type":   "string",
				"format": "date-time",
			},
		},
		"required": []string{"type", "schemaVersion", "session_id", "last_heartbeat"},
	}
}

func recordSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Record",
		"description": "NDJSON line printed by records list and records drain",
		"properties": map[string]interface{}{
			"type":           constProp("record"),
			"schemaVersion":  prop("integer", "Output schema version"),
			"location":       prop("string", "rootDir/extensionId"),
			"session_id":     prop("string", "Crashed session"),
			"last_heartbeat": prop("integer", "Epoch milliseconds"),
			"last_seen": map[string]interface{}{
				"type":   "string",
				"format": "date-time",
			},
			"drained": prop("boolean", "True when the record was consumed"),
		},
		"required": []string{"type", "schemaVersion", "location", "session_id", "last_heartbeat"},
	}
}

func drainSummarySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":  "object",
		"title": "Drain Summary",
		"properties": map[string]interface{}{
			"type":          constProp("drain_summary"),
			"schemaVersion": prop("integer", "Output schema version"),
			"location":      prop("string", "rootDir/extensionId"),
			"drained":       prop("integer", "Records consumed"),
			"malformed":     prop("integer", "Entries that could not be parsed"),
			"skipped":       prop("integer", "Records consumed concurrently by another drainer"),
		},
		"required": []string{"type", "drained", "malformed", "skipped"},
	}
}

func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":  "object",
		"title": "Error",
		"properties": map[string]interface{}{
			"type":          constProp("error"),
			"schemaVersion": prop("integer", "Output schema version"),
			"code": map[string]interface{}{
				"type": "string",
				"enum": []string{codeInvalidFlags, codeStoreOpen, codeStoreIO, codeDetector, codeConfig},
			},
			"message": prop("string", "Human readable message"),
			"hint":    prop("string", "Suggested fix"),
		},
		"required": []string{"type", "code", "message"},
	}
}
