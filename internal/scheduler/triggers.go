package scheduler

import "fmt"

// TriggerKind identifies what woke the observer. Triggers carry no payload:
// the scheduler always samples fresh context when acting on one.
type TriggerKind int

const (
	// TriggerTimer is the periodic observation trigger.
	TriggerTimer TriggerKind = iota
	// TriggerOnError fires when the host reports a new error diagnostic.
	TriggerOnError
	// TriggerOnWarning fires when the host reports a new warning.
	TriggerOnWarning
	// TriggerOnGitConflict fires when the repository enters a conflicted state.
	TriggerOnGitConflict
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerTimer:
		return "timer"
	case TriggerOnError:
		return "on_error"
	case TriggerOnWarning:
		return "on_warning"
	case TriggerOnGitConflict:
		return "on_git_conflict"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Priority reports whether the trigger may bypass the interval wait.
// Priority triggers are rate-limited separately to prevent storms.
func (k TriggerKind) Priority() bool {
	return k == TriggerOnError || k == TriggerOnGitConflict
}
