// Package session defines the read-only boundary to the host editing session.
// The observer core only ever observes through this interface; it never
// mutates editor state.
package session

import (
	"errors"
	"fmt"
)

// ErrNoSession indicates there is no active file/buffer to observe.
// Cycles hitting this skip silently.
var ErrNoSession = errors.New("no active editing session")

// Severity classifies a diagnostic. Ordering matters: lower values sort
// first, so errors precede warnings.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Diagnostic is one compiler/linter finding reported by the host.
type Diagnostic struct {
	Severity Severity
	Message  string
	Line     int
}

// FileInfo identifies the file under the cursor.
type FileInfo struct {
	Path     string
	Language string
}

// Cursor is the caret position (1-based line).
type Cursor struct {
	Line   int
	Column int
}

// Session is the narrow read-only collaborator interface to the host editor.
// Hosts adapt their native state to this vocabulary.
type Session interface {
	// CurrentFile returns the focused file, or ErrNoSession.
	CurrentFile() (FileInfo, error)

	// Cursor returns the caret position in the current file.
	Cursor() Cursor

	// TextWindow returns the text of lines [startLine, endLine], 1-based
	// inclusive, clipped to file bounds.
	TextWindow(startLine, endLine int) (string, error)

	// Diagnostics returns the current findings for the focused file.
	Diagnostics() []Diagnostic

	// GitStatus returns a one-line repository status summary.
	GitStatus() string
}
