package session

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/example/face-access/internal/imageprocessor"
	"github.com/example/face-access/internal/verifier"
)

// Result describes a finished session.
type Result struct {
	SessionID string
	State     State
	// Outcome is the zero value when the burst failed before verification.
	Outcome         verifier.Outcome
	CaptureErr      error
	FrameCount      int
	FramesSHA1      string
	StartedAt       time.Time
	CaptureDuration time.Duration
	VerifyDuration  time.Duration
}

// OutcomeLabel names how the session ended, including capture failures.
func (r Result) OutcomeLabel() string {
	if r.CaptureErr != nil {
		return "capture_error"
	}
	return string(r.Outcome.Kind)
}

// Recorder keeps a trail of finished sessions.
type Recorder interface {
	Record(ctx context.Context, result Result) error
}

// Presenter draws controller state. Render must not block for long: it is
// called from the session goroutine.
type Presenter interface {
	Render(view View)
}

// Digest fingerprints a burst in order. Identical bursts submitted twice
// indicate a replay.
func Digest(frames []imageprocessor.EncodedImage) string {
	h := sha1.New()
	var size [8]byte
	for _, frame := range frames {
		binary.BigEndian.PutUint64(size[:], uint64(len(frame.Data)))
		h.Write(size[:])
		h.Write(frame.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
