package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"codewatch/internal/logging"
)

// ExecSink renders through desktop tooling: notify-send (or the platform
// equivalent) for notifications and say/espeak for speech. Commands run
// under a short timeout so a wedged helper never stalls a cycle.
type ExecSink struct {
	notifyBin []string
	speakBin  []string
	timeout   time.Duration
}

// NewExecSink creates a sink using the platform's default helpers.
func NewExecSink() *ExecSink {
	s := &ExecSink{timeout: 10 * time.Second}
	switch runtime.GOOS {
	case "darwin":
		s.notifyBin = []string{"osascript", "-e"}
		s.speakBin = []string{"say"}
	default:
		s.notifyBin = []string{"notify-send"}
		s.speakBin = []string{"espeak"}
	}
	return s
}

// Notify implements Sink.
func (s *ExecSink) Notify(ctx context.Context, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf("display notification %q with title %q", n.Message, n.Title)
		cmd = exec.CommandContext(ctx, s.notifyBin[0], s.notifyBin[1], script)
	} else {
		cmd = exec.CommandContext(ctx, s.notifyBin[0], n.Title, n.Message)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("notification helper failed: %w", err)
	}
	return nil
}

// Speak implements Sink.
func (s *ExecSink) Speak(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.speakBin[0], text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("speech helper failed: %w", err)
	}
	return nil
}

// ConsoleSink writes suggestions to stderr. Used by the CLI's `once` mode
// and wherever no desktop notifier is available.
type ConsoleSink struct{}

// Notify implements Sink.
func (ConsoleSink) Notify(_ context.Context, n Notification) error {
	_, err := fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", n.Severity, n.Title, n.Message)
	return err
}

// Speak implements Sink. Console output stands in for speech.
func (ConsoleSink) Speak(_ context.Context, text string) error {
	logging.DispatchDebug("console speak: %s", text)
	_, err := fmt.Fprintf(os.Stderr, "[voice] %s\n", text)
	return err
}
