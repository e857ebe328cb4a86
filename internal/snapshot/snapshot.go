// Package snapshot builds bounded, deterministic observations of the editing
// session. An Observation is created fresh per cycle, is read-only
// thereafter, and carries a stable fingerprint for cache lookups and
// duplicate suppression.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"codewatch/internal/config"
	"codewatch/internal/logging"
	"codewatch/internal/session"
)

// TruncationMarker is appended to the code window when lines were dropped to
// satisfy the character cap.
const TruncationMarker = "// ... (truncated)"

// Observation is one size-bounded snapshot of session state.
type Observation struct {
	FilePath     string
	Language     string
	CursorLine   int
	CursorColumn int
	CodeWindow   string
	Imports      string
	Diagnostics  []session.Diagnostic
	GitStatus    string
	Fingerprint  string
}

// Collect samples the session into an Observation honoring the configured
// context limits. Returns session.ErrNoSession when nothing is focused.
func Collect(sess session.Session, st config.Settings) (*Observation, error) {
	timer := logging.StartTimer(logging.CategorySnapshot, "snapshot.Collect")
	defer timer.StopWithThreshold(200 * time.Millisecond)

	file, err := sess.CurrentFile()
	if err != nil {
		return nil, err
	}
	cursor := sess.Cursor()

	start := cursor.Line - st.ContextLimits.LinesBefore
	if start < 1 {
		start = 1
	}
	end := cursor.Line + st.ContextLimits.LinesAfter

	window, err := sess.TextWindow(start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sample text window: %w", err)
	}

	obs := &Observation{
		FilePath:     file.Path,
		Language:     file.Language,
		CursorLine:   cursor.Line,
		CursorColumn: cursor.Column,
		GitStatus:    sess.GitStatus(),
	}

	if st.ContextLimits.IncludeDiagnostics {
		obs.Diagnostics = filterDiagnostics(sess.Diagnostics(), start, end)
	}

	// The file head is only sampled when the window does not already show it.
	if st.ContextLimits.IncludeImports && start > 1 {
		obs.Imports = collectImports(sess, file.Language)
	}

	obs.CodeWindow = boundWindow(window, start, cursor.Line, st.ContextCharLimit-obs.overheadChars())
	obs.Fingerprint = fingerprint(obs)

	logging.SnapshotDebug("collected %s:%d window=%d chars, %d diagnostics, git=%q",
		obs.FilePath, obs.CursorLine, len(obs.CodeWindow), len(obs.Diagnostics), obs.GitStatus)
	return obs, nil
}

// filterDiagnostics keeps findings intersecting [start, end], ordered by
// line then severity (errors before warnings).
func filterDiagnostics(diags []session.Diagnostic, start, end int) []session.Diagnostic {
	kept := make([]session.Diagnostic, 0, len(diags))
	for _, d := range diags {
		if d.Line >= start && d.Line <= end {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Line != kept[j].Line {
			return kept[i].Line < kept[j].Line
		}
		return kept[i].Severity < kept[j].Severity
	})
	return kept
}

// boundWindow trims the code window to the character budget by dropping the
// lines farthest from the cursor first. Nearest-to-cursor lines are never
// dropped; a truncation marker is appended when anything was cut.
func boundWindow(window string, firstLine, cursorLine, budget int) string {
	if budget <= 0 {
		budget = len(TruncationMarker) + 1
	}
	if len(window) <= budget {
		return window
	}

	lines := strings.Split(window, "\n")
	lo, hi := 0, len(lines)-1 // remaining slice bounds
	total := len(window)
	reserve := len(TruncationMarker) + 1

	for lo < hi && total+reserve > budget {
		distTop := cursorLine - (firstLine + lo)
		distBottom := (firstLine + hi) - cursorLine
		if distTop < 0 {
			distTop = -distTop
		}
		if distBottom < 0 {
			distBottom = -distBottom
		}
		if distTop > distBottom {
			total -= len(lines[lo]) + 1
			lo++
		} else {
			total -= len(lines[hi]) + 1
			hi--
		}
	}

	return strings.Join(lines[lo:hi+1], "\n") + "\n" + TruncationMarker
}

// overheadChars counts the serialized size of everything except the code
// window, so the window budget accounts for the whole context.
func (o *Observation) overheadChars() int {
	n := len(o.FilePath) + len(o.Language) + len(o.GitStatus) + len(o.Imports)
	for _, d := range o.Diagnostics {
		n += len(d.Message) + len(d.Severity.String()) + 16
	}
	return n
}

// importScanLines bounds how far into the file the import section is looked
// for. Import blocks past this depth are ignored.
const importScanLines = 50

func collectImports(sess session.Session, language string) string {
	head, err := sess.TextWindow(1, importScanLines)
	if err != nil {
		return ""
	}
	return extractImports(head, language)
}

// extractImports pulls the import/include lines out of a file head. Purely
// lexical; unknown languages yield nothing rather than guessing.
func extractImports(head, language string) string {
	lines := strings.Split(head, "\n")
	var kept []string

	switch language {
	case "go":
		inBlock := false
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			switch {
			case inBlock:
				kept = append(kept, line)
				if trimmed == ")" {
					inBlock = false
				}
			case strings.HasPrefix(trimmed, "import ("):
				inBlock = true
				kept = append(kept, line)
			case strings.HasPrefix(trimmed, "import "):
				kept = append(kept, line)
			}
		}
	case "python":
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
				kept = append(kept, line)
			}
		}
	case "javascript", "typescript":
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "import ") || strings.Contains(trimmed, "require(") {
				kept = append(kept, line)
			}
		}
	case "rust":
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "use ") || strings.HasPrefix(trimmed, "extern crate ") {
				kept = append(kept, line)
			}
		}
	case "c", "cpp":
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "#include") {
				kept = append(kept, line)
			}
		}
	}

	return strings.Join(kept, "\n")
}

// fingerprint hashes the normalized observation fields. Order- and
// whitespace-sensitive on purpose: cosmetically similar but distinct
// contexts must not collide.
func fingerprint(o *Observation) string {
	h := sha256.New()
	fmt.Fprintf(h, "file:%s\x00lang:%s\x00", o.FilePath, o.Language)
	fmt.Fprintf(h, "imports:%s\x00", o.Imports)
	fmt.Fprintf(h, "code:%s\x00", o.CodeWindow)
	for _, d := range o.Diagnostics {
		fmt.Fprintf(h, "diag:%s|%d|%s\x00", d.Severity, d.Line, d.Message)
	}
	fmt.Fprintf(h, "git:%s", o.GitStatus)
	return hex.EncodeToString(h.Sum(nil))
}

// DescribeDiagnostics renders the findings as prompt-ready lines.
func (o *Observation) DescribeDiagnostics() string {
	if len(o.Diagnostics) == 0 {
		return "none"
	}
	var b strings.Builder
	for i, d := range o.Diagnostics {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- line %d [%s]: %s", d.Line, d.Severity, d.Message)
	}
	return b.String()
}
