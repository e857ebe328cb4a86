package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codewatch/internal/dispatch"
	"codewatch/internal/session"
)

// fakeSession is an in-memory session whose state tests mutate directly.
type fakeSession struct {
	mu          sync.Mutex
	file        session.FileInfo
	cursor      session.Cursor
	lines       []string
	diagnostics []session.Diagnostic
	gitStatus   string
	noSession   bool
}

func newFakeSession() *fakeSession {
	lines := []string{
		"package main",
		"",
		"func handle(r *Request) {",
		"\tname := r.User.Name",
		"\t_ = name",
		"}",
	}
	return &fakeSession{
		file:      session.FileInfo{Path: "/work/handler.go", Language: "go"},
		cursor:    session.Cursor{Line: 4, Column: 10},
		lines:     lines,
		gitStatus: "clean",
	}
}

func (f *fakeSession) CurrentFile() (session.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noSession {
		return session.FileInfo{}, session.ErrNoSession
	}
	return f.file, nil
}

func (f *fakeSession) Cursor() session.Cursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

func (f *fakeSession) TextWindow(startLine, endLine int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *fakeSession) Diagnostics() []session.Diagnostic {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Diagnostic, len(f.diagnostics))
	copy(out, f.diagnostics)
	return out
}

func (f *fakeSession) GitStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gitStatus
}

func fakeDiag() session.Diagnostic {
	return session.Diagnostic{
		Severity: session.SeverityError,
		Message:  "invalid memory address or nil pointer dereference",
		Line:     4,
	}
}

func (f *fakeSession) editLine(n int, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines[n-1] = text
}

// scriptedProvider returns a fixed response and tracks call concurrency.
type scriptedProvider struct {
	response string
	err      error
	delay    time.Duration

	calls          atomic.Int64
	inFlight       atomic.Int64
	maxObserved    atomic.Int64
	responseByCall func(n int64) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (p *scriptedProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

func (p *scriptedProvider) Submit(ctx context.Context, prompt, modelID string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	n := p.calls.Add(1)
	cur := p.inFlight.Add(1)
	for {
		max := p.maxObserved.Load()
		if cur <= max || p.maxObserved.CompareAndSwap(max, cur) {
			break
		}
	}
	defer p.inFlight.Add(-1)

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.responseByCall != nil {
		return p.responseByCall(n)
	}
	return p.response, p.err
}

const speakResponse = `{"shouldSpeak": true, "confidence": 0.9, "suggestion": "add a null check before dereferencing r.User", "reasoning": "r.User may be nil"}`

const silentResponse = `{"shouldSpeak": false, "confidence": 0.2, "suggestion": "", "reasoning": ""}`

// recordingSink captures dispatched output.
type recordingSink struct {
	mu            sync.Mutex
	notifications []dispatch.Notification
	spoken        []string
}

func (s *recordingSink) Notify(_ context.Context, n dispatch.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *recordingSink) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications) + len(s.spoken)
}
