package snapshot

import (
	"strings"

	"codewatch/internal/session"
)

// fakeSession is a scripted Session for aggregator tests.
type fakeSession struct {
	file        session.FileInfo
	fileErr     error
	cursor      session.Cursor
	lines       []string
	diagnostics []session.Diagnostic
	gitStatus   string
}

func (f *fakeSession) CurrentFile() (session.FileInfo, error) {
	if f.fileErr != nil {
		return session.FileInfo{}, f.fileErr
	}
	return f.file, nil
}

func (f *fakeSession) Cursor() session.Cursor { return f.cursor }

func (f *fakeSession) TextWindow(startLine, endLine int) (string, error) {
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(f.lines) {
		endLine = len(f.lines)
	}
	if startLine > endLine {
		return "", nil
	}
	return strings.Join(f.lines[startLine-1:endLine], "\n"), nil
}

func (f *fakeSession) Diagnostics() []session.Diagnostic { return f.diagnostics }

func (f *fakeSession) GitStatus() string { return f.gitStatus }

func numberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "line " + string(rune('0'+(i+1)%10)) + " some code here"
	}
	return lines
}
