package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codewatch/internal/logging"
)

// LocalSession is a filesystem-backed Session for headless use: the focused
// file and cursor are pushed in by the host adapter (or the CLI), file text
// is read from disk, and git state comes from the workspace repository.
type LocalSession struct {
	mu          sync.RWMutex
	workspace   string
	file        FileInfo
	cursor      Cursor
	diagnostics []Diagnostic

	// git status is sampled at most once per gitTTL
	gitSummary   string
	gitConflicts bool
	gitSampledAt time.Time
	gitTTL       time.Duration
}

// NewLocalSession creates a session rooted at the given workspace directory.
func NewLocalSession(workspace string) *LocalSession {
	return &LocalSession{
		workspace: workspace,
		gitTTL:    5 * time.Second,
	}
}

// SetFocus points the session at a file and cursor position. An empty path
// clears the focus (CurrentFile then returns ErrNoSession).
func (s *LocalSession) SetFocus(path string, line, column int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = FileInfo{Path: path, Language: detectLanguage(path)}
	s.cursor = Cursor{Line: line, Column: column}
}

// SetDiagnostics replaces the current findings. The host adapter pushes
// these whenever its own diagnostics change.
func (s *LocalSession) SetDiagnostics(diags []Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnostics = append([]Diagnostic(nil), diags...)
}

// CurrentFile implements Session.
func (s *LocalSession) CurrentFile() (FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file.Path == "" {
		return FileInfo{}, ErrNoSession
	}
	return s.file, nil
}

// Cursor implements Session.
func (s *LocalSession) Cursor() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// TextWindow implements Session. Lines are 1-based inclusive and clipped to
// file bounds.
func (s *LocalSession) TextWindow(startLine, endLine int) (string, error) {
	s.mu.RLock()
	path := s.file.Path
	s.mu.RUnlock()
	if path == "" {
		return "", ErrNoSession
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > endLine {
		return "", nil
	}
	return strings.Join(lines[startLine-1:endLine], "\n"), nil
}

// Diagnostics implements Session.
func (s *LocalSession) Diagnostics() []Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Diagnostic(nil), s.diagnostics...)
}

// GitStatus implements Session. The porcelain output is summarized to a
// single line; results are cached briefly so repeated cycles do not hammer
// the git binary.
func (s *LocalSession) GitStatus() string {
	s.mu.RLock()
	fresh := time.Since(s.gitSampledAt) < s.gitTTL
	summary := s.gitSummary
	s.mu.RUnlock()
	if fresh {
		return summary
	}

	summary, conflicts := s.sampleGit()

	s.mu.Lock()
	s.gitSummary = summary
	s.gitConflicts = conflicts
	s.gitSampledAt = time.Now()
	s.mu.Unlock()
	return summary
}

// HasConflicts reports whether the last git sample saw unmerged paths.
// Host adapters use this to raise OnGitConflict triggers.
func (s *LocalSession) HasConflicts() bool {
	s.GitStatus() // refresh if stale
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gitConflicts
}

func (s *LocalSession) sampleGit() (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = s.workspace
	output, err := cmd.Output()
	if err != nil {
		// Not a repo or git missing: not an error, just no summary.
		logging.SnapshotDebug("git status unavailable: %v", err)
		return "", false
	}

	var modified, untracked, conflicted int
	for _, line := range strings.Split(string(output), "\n") {
		if len(line) < 2 {
			continue
		}
		code := line[:2]
		switch {
		case code == "UU" || code == "AA" || code == "DD":
			conflicted++
		case strings.HasPrefix(code, "??"):
			untracked++
		default:
			modified++
		}
	}

	if modified == 0 && untracked == 0 && conflicted == 0 {
		return "clean", false
	}
	return fmt.Sprintf("%d modified, %d untracked, %d conflicted", modified, untracked, conflicted), conflicted > 0
}

func detectLanguage(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".java":
		return "java"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".hpp":
		return "cpp"
	case ".rb":
		return "ruby"
	case ".md":
		return "markdown"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case "":
		return ""
	default:
		return strings.TrimPrefix(filepath.Ext(path), ".")
	}
}
