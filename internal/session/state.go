package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/example/face-access/internal/verifier"
)

// State is a phase of the capture/verify cycle.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateVerifying State = "verifying"
	StateSuccess   State = "success"
	StateFailure   State = "failure"
)

// Working reports whether a burst or a verification call is in flight.
func (s State) Working() bool {
	return s == StateCapturing || s == StateVerifying
}

// View is everything a presenter needs to draw the current state.
type View struct {
	SessionID    string    `json:"session_id,omitempty"`
	State        State     `json:"state"`
	Busy         bool      `json:"busy"`
	Message      string    `json:"message"`
	UserName     string    `json:"user_name,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	Progress     float64   `json:"progress"`
	FaceDetected bool      `json:"face_detected"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

const (
	MessageCapturing      = "Detecting liveness..."
	MessageVerifying      = "Verifying..."
	MessageCaptureError   = "Camera capture failed, please try again"
	MessageLivenessFailed = "Liveness check failed\nPlease move your face slightly"
	MessageNotRecognized  = "User not recognized"
	MessageConnection     = "Server connection error"
)

// Message returns the text shown for a state. In StateFailure a nil outcome
// means the burst never reached the verifier.
func Message(state State, outcome *verifier.Outcome) string {
	switch state {
	case StateCapturing:
		return MessageCapturing
	case StateVerifying:
		return MessageVerifying
	case StateSuccess:
		if outcome == nil {
			return ""
		}
		return fmt.Sprintf("Access granted\n%s\nConfidence: %s%%",
			outcome.UserName, strconv.FormatFloat(outcome.Confidence, 'f', -1, 64))
	case StateFailure:
		if outcome == nil {
			return MessageCaptureError
		}
		switch outcome.Kind {
		case verifier.KindLivenessFailed:
			return MessageLivenessFailed
		case verifier.KindNotRecognized:
			return MessageNotRecognized
		default:
			return MessageConnection
		}
	default:
		return ""
	}
}
