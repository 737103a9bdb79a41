package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/vburojevic/crashwatch/internal/crashstore"
	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/protocol"
)

var (
	crashStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// TextWriter writes human readable lines. Styles apply only when styled is
// set, so piped output stays plain.
type TextWriter struct {
	mu     sync.Mutex
	w      io.Writer
	styled bool
}

// NewTextWriter creates a text writer on w
func NewTextWriter(w io.Writer, styled bool) *TextWriter {
	return &TextWriter{w: w, styled: styled}
}

func (t *TextWriter) render(style lipgloss.Style, s string) string {
	if !t.styled {
		return s
	}
	return style.Render(s)
}

// WriteCrash writes a received crash notification
func (t *TextWriter) WriteCrash(p protocol.TelemetryParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "%s %s %s\n",
		t.render(crashStyle, "CRASH"),
		p.SessionID,
		t.render(dimStyle, "last heartbeat "+formatMillis(p.LastHeartbeat)))
	return err
}

// WriteReady announces a watched session
func (t *TextWriter) WriteReady(ts time.Time, sessionID string, loc domain.Location, interval time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "%s watching %s in %s (heartbeat every %s)\n",
		t.render(okStyle, "READY"), sessionID, loc, interval)
	return err
}

// WriteInfo writes a status line
func (t *TextWriter) WriteInfo(message, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sessionID != "" {
		message = fmt.Sprintf("%s [%s]", message, sessionID)
	}
	_, err := fmt.Fprintln(t.w, t.render(dimStyle, message))
	return err
}

// WriteDrainSummary writes the totals of a drain
func (t *TextWriter) WriteDrainSummary(loc domain.Location, stats crashstore.ScanStats) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "%s: drained %d, malformed %d, skipped %d\n",
		loc, stats.Yielded, stats.Malformed, stats.Skipped)
	return err
}
