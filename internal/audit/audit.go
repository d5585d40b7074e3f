// Package audit emits the alarm audit trail: exactly one line per rule
// evaluation, whatever the outcome.
package audit

import (
	"fmt"
	"io"
	"sync"
	"time"

	"dcwatch/internal/model"
)

// Log is the audit sink contract rules write to.
type Log interface {
	// Record emits one audit line. tag is the 8-character-aligned status
	// tag, values the human-readable topic=value list.
	Record(tag, ruleName, values string)
}

// Tag builds the status tag for a transition: RESOLVED, UNKNOWN, or
// <status>/<first letter of severity> such as ACTIVE/C.
func Tag(t model.Transition) string {
	switch t.Status {
	case model.StatusResolved:
		return string(model.StatusResolved)
	case model.StatusUnknown:
		return string(model.StatusUnknown)
	}
	if t.Severity == "" {
		return string(t.Status)
	}
	return string(t.Status) + "/" + t.Severity[:1]
}

// Writer is the default Log backed by an io.Writer, one timestamped line
// per record.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out, now: time.Now}
}

func (w *Writer) Record(tag, ruleName, values string) {
	if w == nil || w.out == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ts := w.now().UTC().Format(time.RFC3339)
	fmt.Fprintf(w.out, "%s %8s %s (%s)\n", ts, tag, ruleName, values)
}

// Discard drops every record. Used where no audit trail is configured.
type Discard struct{}

func (Discard) Record(string, string, string) {}
