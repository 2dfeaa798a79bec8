package loop

import "fmt"

// TurnState is the coordinator's current position in the turn cycle.
// Transitions are driven only by the coordinator; watchers observe and
// alert but never change state.
type TurnState int

const (
	// Idle means no turn is in progress.
	Idle TurnState = iota

	// Listening means a recording session is running.
	Listening

	// Transcribing means a captured utterance is at the STT backend.
	Transcribing

	// Thinking means the chat completion is in flight.
	Thinking

	// Speaking means the reply is being synthesized and played.
	Speaking

	// Cooldown means the turn is done and the coordinator is waiting for
	// playback to settle before reopening the microphone.
	Cooldown

	// Silenced means the parental gate forbids conversation right now.
	Silenced

	// ShuttingDown means the stop flag is set and the loop is winding down.
	ShuttingDown
)

// String returns the state name.
func (s TurnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Transcribing:
		return "transcribing"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	case Cooldown:
		return "cooldown"
	case Silenced:
		return "silenced"
	case ShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
