package cli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/output"
)

// lastSession remembers where supervise last ran so records commands can
// default to that crash directory
type lastSession struct {
	Type          string `json:"type"` // "last_session"
	SchemaVersion int    `json:"schemaVersion"`
	SessionID     string `json:"session_id"`
	RootDir       string `json:"root_dir"`
	ExtensionID   string `json:"extension_id"`
	StartedAt     string `json:"started_at,omitempty"`
}

func (s *lastSession) Location() domain.Location {
	return domain.Location{RootDir: s.RootDir, ExtensionID: s.ExtensionID}
}

func newLastSession(sessionID string, loc domain.Location, startedAt time.Time) *lastSession {
	return &lastSession{
		Type:          "last_session",
		SchemaVersion: output.SchemaVersion,
		SessionID:     sessionID,
		RootDir:       loc.RootDir,
		ExtensionID:   loc.ExtensionID,
		StartedAt:     startedAt.UTC().Format(time.RFC3339Nano),
	}
}

func defaultLastSessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".crashwatch", "last_session.json"), nil
}

func loadLastSession(path string) (*lastSession, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("last session path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var st lastSession
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func saveLastSession(path string, st *lastSession) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("last session path is required")
	}
	if st == nil {
		return errors.New("last session is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}
