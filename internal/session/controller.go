// Package session drives one verification attempt at a time through
// capture, verification, result display and automatic reset.
//
// The only way into a session is Trigger, and it is accepted only from
// StateIdle with a face in view. Every other state, including the result
// hold after Success or Failure, rejects triggers without side effects, so
// at most one burst or verification call is ever in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-access/internal/capture"
	"github.com/example/face-access/internal/imageprocessor"
	"github.com/example/face-access/internal/logging"
	"github.com/example/face-access/internal/verifier"
)

// ErrShortBurst guards the verifier against batches that are not full size.
var ErrShortBurst = errors.New("session: burst returned fewer frames than requested")

// Capturer acquires an ordered burst of encoded frames.
type Capturer interface {
	Capture(ctx context.Context, n int, delay time.Duration, progress capture.ProgressFunc) ([]imageprocessor.EncodedImage, error)
}

// Verifier classifies a burst. It performs a single call per invocation.
type Verifier interface {
	Verify(ctx context.Context, sessionID string, frames []imageprocessor.EncodedImage) verifier.Outcome
}

// Presence reports whether a face is currently in view.
type Presence interface {
	Detected() bool
}

// Config holds the timing and retry policy of the controller.
type Config struct {
	BurstSize   int
	FrameDelay  time.Duration
	SuccessHold time.Duration
	FailureHold time.Duration
	// VerifyAttempts bounds calls per session; only transient transport
	// failures are retried. 1 disables retries.
	VerifyAttempts int
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns a five-frame burst with 4s/3s result holds and no retries.
func DefaultConfig() Config {
	return Config{
		BurstSize:      5,
		FrameDelay:     300 * time.Millisecond,
		SuccessHold:    4 * time.Second,
		FailureHold:    3 * time.Second,
		VerifyAttempts: 1,
		RetryBackoff:   250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Dependencies are the collaborators of a Controller. Recorder, Scheduler
// and Presenters are optional.
type Dependencies struct {
	Capturer   Capturer
	Verifier   Verifier
	Presence   Presence
	Recorder   Recorder
	Scheduler  Scheduler
	Presenters []Presenter
}

// Controller is the capture/verify state machine.
type Controller struct {
	cfg        Config
	capturer   Capturer
	verifier   Verifier
	presence   Presence
	recorder   Recorder
	scheduler  Scheduler
	presenters []Presenter
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	view       View
	seq        uint64
	resetTimer Timer
	closed     bool

	renderMu     sync.Mutex
	lastRendered uint64
}

// New constructs a controller in StateIdle.
func New(cfg Config, deps Dependencies, logger *zap.Logger) *Controller {
	if cfg.BurstSize < 1 {
		cfg.BurstSize = DefaultConfig().BurstSize
	}
	if cfg.VerifyAttempts < 1 {
		cfg.VerifyAttempts = 1
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = wallClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg,
		capturer:   deps.Capturer,
		verifier:   deps.Verifier,
		presence:   deps.Presence,
		recorder:   deps.Recorder,
		scheduler:  scheduler,
		presenters: deps.Presenters,
		logger:     logger.Named("session_controller"),
		now:        time.Now,
		newID:      uuid.NewString,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.view = View{State: StateIdle, FaceDetected: c.faceDetected()}
	return c
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Trigger starts a session if the controller is idle and a face is in view.
// A rejected trigger changes nothing and is not an error.
func (c *Controller) Trigger() (string, bool) {
	c.mu.Lock()
	if c.closed || c.view.State != StateIdle || !c.faceDetected() {
		state := c.view.State
		c.mu.Unlock()
		c.logger.Debug("trigger rejected", zap.String("state", string(state)))
		return "", false
	}

	id := c.newID()
	c.stopResetLocked()
	c.view = View{
		SessionID:    id,
		State:        StateCapturing,
		Busy:         true,
		Message:      Message(StateCapturing, nil),
		FaceDetected: true,
		StartedAt:    c.now(),
	}
	seq, view := c.bumpLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	logging.WithOperation(c.logger, "session.trigger", id).Info("session started")
	c.render(seq, view)
	go c.run(id, view.StartedAt)
	return id, true
}

// PresenceChanged refreshes the face indicator of the current view.
func (c *Controller) PresenceChanged() {
	c.mu.Lock()
	detected := c.faceDetected()
	if c.view.FaceDetected == detected {
		c.mu.Unlock()
		return
	}
	c.view.FaceDetected = detected
	seq, view := c.bumpLocked()
	c.mu.Unlock()
	c.render(seq, view)
}

// Close rejects further triggers, cancels a pending reset and waits for the
// session in flight. If ctx expires first the session is aborted.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.stopResetLocked()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

func (c *Controller) run(id string, startedAt time.Time) {
	defer c.wg.Done()
	opLogger := logging.WithOperation(c.logger, "session.run", id)

	result := Result{SessionID: id, StartedAt: startedAt}

	frames, err := c.capturer.Capture(c.ctx, c.cfg.BurstSize, c.cfg.FrameDelay, func(done, total int) {
		c.progress(id, done, total)
	})
	result.CaptureDuration = c.now().Sub(startedAt)
	if err == nil && len(frames) != c.cfg.BurstSize {
		err = fmt.Errorf("%w: got %d of %d", ErrShortBurst, len(frames), c.cfg.BurstSize)
	}
	if err != nil {
		opLogger.Warn("burst failed", zap.Error(err))
		result.CaptureErr = err
		c.finish(result, nil)
		return
	}
	result.FrameCount = len(frames)
	result.FramesSHA1 = Digest(frames)

	c.transition(id, StateVerifying)

	verifyStart := c.now()
	outcome := c.verifyWithPolicy(id, frames)
	result.VerifyDuration = c.now().Sub(verifyStart)
	result.Outcome = outcome

	c.finish(result, &outcome)
}

func (c *Controller) verifyWithPolicy(id string, frames []imageprocessor.EncodedImage) verifier.Outcome {
	opLogger := logging.WithOperation(c.logger, "session.verify", id)
	backoff := c.cfg.RetryBackoff

	var outcome verifier.Outcome
	for attempt := 0; attempt < c.cfg.VerifyAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-c.ctx.Done():
				timer.Stop()
				return verifier.TransportFailure(logging.NewOperationError("session.verify", id, c.ctx.Err()))
			case <-timer.C:
			}
			if next := backoff * 2; next <= c.cfg.MaxBackoff {
				backoff = next
			}
		}

		outcome = c.verifier.Verify(c.ctx, id, frames)
		if outcome.Kind != verifier.KindTransportError {
			if attempt > 0 {
				opLogger.Info("verification succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return outcome
		}
		if !verifier.IsTransient(outcome.Err) || attempt == c.cfg.VerifyAttempts-1 {
			return outcome
		}
		opLogger.Warn("transient verification failure", zap.Error(outcome.Err), zap.Int("attempt", attempt+1))
	}
	return outcome
}

func (c *Controller) progress(id string, done, total int) {
	c.mu.Lock()
	if c.view.SessionID != id || c.view.State != StateCapturing || total <= 0 {
		c.mu.Unlock()
		return
	}
	c.view.Progress = float64(done) / float64(total)
	seq, view := c.bumpLocked()
	c.mu.Unlock()
	c.render(seq, view)
}

func (c *Controller) transition(id string, state State) {
	c.mu.Lock()
	if c.view.SessionID != id {
		c.mu.Unlock()
		return
	}
	c.view.State = state
	c.view.Busy = state.Working()
	c.view.Message = Message(state, nil)
	if state == StateVerifying {
		c.view.Progress = 1
	}
	seq, view := c.bumpLocked()
	c.mu.Unlock()
	c.render(seq, view)
}

// finish enters Success or Failure, schedules the reset and records the
// session. outcome is nil when the burst never reached the verifier.
func (c *Controller) finish(result Result, outcome *verifier.Outcome) {
	state := StateFailure
	hold := c.cfg.FailureHold
	if outcome != nil && outcome.OK() {
		state = StateSuccess
		hold = c.cfg.SuccessHold
	}
	result.State = state

	c.mu.Lock()
	c.view.State = state
	c.view.Busy = false
	c.view.Message = Message(state, outcome)
	c.view.FaceDetected = c.faceDetected()
	if state == StateSuccess {
		c.view.UserName = outcome.UserName
		c.view.Confidence = outcome.Confidence
	}
	if !c.closed {
		id := result.SessionID
		c.resetTimer = c.scheduler.AfterFunc(hold, func() { c.reset(id) })
	}
	seq, view := c.bumpLocked()
	c.mu.Unlock()

	logging.WithOperation(c.logger, "session.finish", result.SessionID).Info("session finished",
		zap.String("state", string(state)),
		zap.String("outcome", result.OutcomeLabel()),
		zap.Duration("capture", result.CaptureDuration),
		zap.Duration("verify", result.VerifyDuration),
	)
	c.render(seq, view)

	if c.recorder != nil {
		if err := c.recorder.Record(c.ctx, result); err != nil {
			logging.WithOperation(c.logger, "session.record", result.SessionID).Error("failed to record session", zap.Error(err))
		}
	}
}

func (c *Controller) reset(id string) {
	c.mu.Lock()
	if c.view.SessionID != id || (c.view.State != StateSuccess && c.view.State != StateFailure) {
		c.mu.Unlock()
		return
	}
	c.resetTimer = nil
	c.view = View{State: StateIdle, FaceDetected: c.faceDetected()}
	seq, view := c.bumpLocked()
	c.mu.Unlock()

	logging.WithOperation(c.logger, "session.reset", id).Debug("returned to idle")
	c.render(seq, view)
}

func (c *Controller) stopResetLocked() {
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

func (c *Controller) bumpLocked() (uint64, View) {
	c.seq++
	return c.seq, c.view
}

// render delivers views in sequence order, dropping any that were
// overtaken by a newer one.
func (c *Controller) render(seq uint64, view View) {
	if len(c.presenters) == 0 {
		return
	}
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	if seq <= c.lastRendered {
		return
	}
	c.lastRendered = seq
	for _, p := range c.presenters {
		p.Render(view)
	}
}

func (c *Controller) faceDetected() bool {
	return c.presence != nil && c.presence.Detected()
}
