package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-access/internal/capture"
	"github.com/example/face-access/internal/imageprocessor"
	"github.com/example/face-access/internal/verifier"
)

type fakeTimer struct {
	sched   *fakeScheduler
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &fakeTimer{sched: s, delay: d, fn: f}
	s.timers = append(s.timers, timer)
	return timer
}

func (s *fakeScheduler) pending(t *testing.T) *fakeTimer {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.timers) - 1; i >= 0; i-- {
		if !s.timers[i].stopped {
			return s.timers[i]
		}
	}
	t.Fatal("expected a pending timer")
	return nil
}

func (s *fakeScheduler) fire(t *testing.T) time.Duration {
	t.Helper()
	timer := s.pending(t)
	timer.fn()
	return timer.delay
}

type stubPresence struct {
	mu       sync.Mutex
	detected bool
}

func (p *stubPresence) Detected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detected
}

func (p *stubPresence) set(v bool) {
	p.mu.Lock()
	p.detected = v
	p.mu.Unlock()
}

type stubCapturer struct {
	mu      sync.Mutex
	calls   int
	err     error
	short   bool
	release chan struct{}
}

func (s *stubCapturer) Capture(ctx context.Context, n int, delay time.Duration, progress capture.ProgressFunc) ([]imageprocessor.EncodedImage, error) {
	s.mu.Lock()
	s.calls++
	release := s.release
	s.mu.Unlock()

	if release != nil {
		<-release
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.short {
		n--
	}
	frames := make([]imageprocessor.EncodedImage, 0, n)
	for i := 1; i <= n; i++ {
		frames = append(frames, imageprocessor.EncodedImage{Data: []byte(fmt.Sprintf("frame-%d", i)), Format: imageprocessor.FormatJPEG})
		if progress != nil {
			progress(i, n)
		}
	}
	return frames, nil
}

func (s *stubCapturer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubVerifier struct {
	mu       sync.Mutex
	outcomes []verifier.Outcome
	batches  [][]imageprocessor.EncodedImage
}

func (s *stubVerifier) Verify(ctx context.Context, sessionID string, frames []imageprocessor.EncodedImage) verifier.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, frames)
	if len(s.outcomes) == 0 {
		return verifier.Outcome{Kind: verifier.KindNotRecognized}
	}
	out := s.outcomes[0]
	if len(s.outcomes) > 1 {
		s.outcomes = s.outcomes[1:]
	}
	return out
}

func (s *stubVerifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type stubRecorder struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (r *stubRecorder) Record(ctx context.Context, result Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return r.err
}

func (r *stubRecorder) recorded() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

type recordingPresenter struct {
	mu    sync.Mutex
	views []View
}

func (p *recordingPresenter) Render(view View) {
	p.mu.Lock()
	p.views = append(p.views, view)
	p.mu.Unlock()
}

func (p *recordingPresenter) states() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	var states []State
	for _, v := range p.views {
		if len(states) == 0 || states[len(states)-1] != v.State {
			states = append(states, v.State)
		}
	}
	return states
}

func (p *recordingPresenter) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		states := p.states()
		if len(states) > 0 && states[len(states)-1] == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("presenter never rendered %s", want)
}

type harness struct {
	ctrl      *Controller
	capturer  *stubCapturer
	verifier  *stubVerifier
	presence  *stubPresence
	scheduler *fakeScheduler
	recorder  *stubRecorder
	presenter *recordingPresenter
}

func newHarness(t *testing.T, cfg Config, outcomes ...verifier.Outcome) *harness {
	t.Helper()
	h := &harness{
		capturer:  &stubCapturer{},
		verifier:  &stubVerifier{outcomes: outcomes},
		presence:  &stubPresence{detected: true},
		scheduler: &fakeScheduler{},
		recorder:  &stubRecorder{},
		presenter: &recordingPresenter{},
	}
	h.ctrl = New(cfg, Dependencies{
		Capturer:   h.capturer,
		Verifier:   h.verifier,
		Presence:   h.presence,
		Recorder:   h.recorder,
		Scheduler:  h.scheduler,
		Presenters: []Presenter{h.presenter},
	}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.ctrl.Close(ctx)
	})
	return h
}

func waitForState(t *testing.T, c *Controller, want State) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if view := c.Snapshot(); view.State == want {
			return view
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("controller did not reach %s, stuck in %s", want, c.Snapshot().State)
	return View{}
}

func TestSuccessfulSessionShowsIdentityAndResets(t *testing.T) {
	h := newHarness(t, DefaultConfig(), verifier.Verified("Ana", 92))

	id, ok := h.ctrl.Trigger()
	if !ok || id == "" {
		t.Fatal("expected trigger to be accepted")
	}

	view := waitForState(t, h.ctrl, StateSuccess)
	if view.UserName != "Ana" || view.Confidence != 92 {
		t.Fatalf("unexpected identity in view: %+v", view)
	}
	if !strings.Contains(view.Message, "Ana") || !strings.Contains(view.Message, "92") {
		t.Fatalf("message lacks identity: %q", view.Message)
	}
	if view.Busy {
		t.Fatal("result state must not report busy")
	}

	if got := len(h.verifier.batches[0]); got != 5 {
		t.Fatalf("expected a batch of 5 frames, got %d", got)
	}
	for i, frame := range h.verifier.batches[0] {
		if want := fmt.Sprintf("frame-%d", i+1); string(frame.Data) != want {
			t.Fatalf("frame %d out of order: %s", i, frame.Data)
		}
	}

	h.presenter.waitFor(t, StateSuccess)
	if delay := h.scheduler.fire(t); delay != 4*time.Second {
		t.Fatalf("expected 4s success hold, got %v", delay)
	}
	view = h.ctrl.Snapshot()
	if view.State != StateIdle || view.UserName != "" || view.Message != "" {
		t.Fatalf("expected cleared idle view, got %+v", view)
	}

	want := []State{StateCapturing, StateVerifying, StateSuccess, StateIdle}
	if got := h.presenter.states(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
}

func TestTriggerWithoutFaceIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.presence.set(false)

	if _, ok := h.ctrl.Trigger(); ok {
		t.Fatal("expected trigger to be rejected")
	}
	if state := h.ctrl.Snapshot().State; state != StateIdle {
		t.Fatalf("expected idle, got %s", state)
	}
	if h.capturer.callCount() != 0 {
		t.Fatal("capture must not start without a face")
	}
}

func TestTriggerWhileBusyIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig(), verifier.Verified("Ana", 92))
	release := make(chan struct{})
	h.capturer.release = release

	first, ok := h.ctrl.Trigger()
	if !ok {
		t.Fatal("expected first trigger to be accepted")
	}
	for i := 0; i < 3; i++ {
		if _, ok := h.ctrl.Trigger(); ok {
			t.Fatal("expected trigger during capture to be rejected")
		}
	}
	if view := h.ctrl.Snapshot(); view.SessionID != first || !view.Busy {
		t.Fatalf("expected first session to stay busy, got %+v", view)
	}
	close(release)

	waitForState(t, h.ctrl, StateSuccess)
	if _, ok := h.ctrl.Trigger(); ok {
		t.Fatal("expected trigger during result hold to be rejected")
	}
	if h.capturer.callCount() != 1 || h.verifier.callCount() != 1 {
		t.Fatalf("expected one burst and one call, got %d and %d", h.capturer.callCount(), h.verifier.callCount())
	}

	h.scheduler.fire(t)
	if _, ok := h.ctrl.Trigger(); !ok {
		t.Fatal("expected trigger after reset to be accepted")
	}
}

func TestCaptureFailureSkipsVerifier(t *testing.T) {
	h := newHarness(t, DefaultConfig(), verifier.Verified("Ana", 92))
	h.capturer.err = &capture.CaptureError{Frame: 3, Err: errors.New("camera unplugged")}

	h.ctrl.Trigger()
	view := waitForState(t, h.ctrl, StateFailure)

	if view.Message != MessageCaptureError {
		t.Fatalf("expected capture error message, got %q", view.Message)
	}
	if h.verifier.callCount() != 0 {
		t.Fatal("verifier must not be called after a failed burst")
	}
	if delay := h.scheduler.fire(t); delay != 3*time.Second {
		t.Fatalf("expected 3s failure hold, got %v", delay)
	}
	if state := h.ctrl.Snapshot().State; state != StateIdle {
		t.Fatalf("expected idle after hold, got %s", state)
	}
}

func TestShortBurstIsACaptureFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig(), verifier.Verified("Ana", 92))
	h.capturer.short = true

	h.ctrl.Trigger()
	waitForState(t, h.ctrl, StateFailure)
	if h.verifier.callCount() != 0 {
		t.Fatal("verifier must not see a partial burst")
	}
}

func TestFailureMessages(t *testing.T) {
	cases := []struct {
		name    string
		outcome verifier.Outcome
		message string
	}{
		{"liveness", verifier.Outcome{Kind: verifier.KindLivenessFailed}, MessageLivenessFailed},
		{"unknown user", verifier.Outcome{Kind: verifier.KindNotRecognized}, MessageNotRecognized},
		{"transport", verifier.TransportFailure(errors.New("connection refused")), MessageConnection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig(), tc.outcome)
			h.ctrl.Trigger()
			view := waitForState(t, h.ctrl, StateFailure)
			if view.Message != tc.message {
				t.Fatalf("expected %q, got %q", tc.message, view.Message)
			}
			if view.UserName != "" {
				t.Fatalf("failure view must not carry a name: %+v", view)
			}
		})
	}
}

type transientErr struct{}

func (transientErr) Error() string   { return "gateway timeout" }
func (transientErr) Timeout() bool   { return true }
func (transientErr) Temporary() bool { return true }

func TestVerifyRetriesTransientFailuresWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerifyAttempts = 3
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	h := newHarness(t, cfg, verifier.TransportFailure(transientErr{}), verifier.Verified("Ana", 92))

	h.ctrl.Trigger()
	waitForState(t, h.ctrl, StateSuccess)
	if h.verifier.callCount() != 2 {
		t.Fatalf("expected 2 calls, got %d", h.verifier.callCount())
	}
}

func TestVerifyDoesNotRetryByDefault(t *testing.T) {
	h := newHarness(t, DefaultConfig(), verifier.TransportFailure(transientErr{}), verifier.Verified("Ana", 92))

	h.ctrl.Trigger()
	waitForState(t, h.ctrl, StateFailure)
	if h.verifier.callCount() != 1 {
		t.Fatalf("expected a single call, got %d", h.verifier.callCount())
	}
}

func TestVerifyDoesNotRetryPermanentFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerifyAttempts = 3
	cfg.RetryBackoff = time.Millisecond
	h := newHarness(t, cfg, verifier.TransportFailure(errors.New("bad request")), verifier.Verified("Ana", 92))

	h.ctrl.Trigger()
	waitForState(t, h.ctrl, StateFailure)
	if h.verifier.callCount() != 1 {
		t.Fatalf("expected a single call, got %d", h.verifier.callCount())
	}
}

func TestRecorderReceivesResult(t *testing.T) {
	h := newHarness(t, DefaultConfig(), verifier.Verified("Ana", 92))
	h.recorder.err = errors.New("db down")

	id, _ := h.ctrl.Trigger()
	waitForState(t, h.ctrl, StateSuccess)

	deadline := time.Now().Add(2 * time.Second)
	for len(h.recorder.recorded()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	results := h.recorder.recorded()
	if len(results) != 1 {
		t.Fatalf("expected one recorded result, got %d", len(results))
	}
	res := results[0]
	if res.SessionID != id || res.State != StateSuccess || res.FrameCount != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.FramesSHA1 != Digest(h.verifier.batches[0]) {
		t.Fatal("digest does not match submitted batch")
	}
	if res.OutcomeLabel() != "verified" {
		t.Fatalf("unexpected label: %s", res.OutcomeLabel())
	}
	if state := h.ctrl.Snapshot().State; state != StateSuccess {
		t.Fatalf("recorder failure must not change state, got %s", state)
	}
}

func TestProgressIsReported(t *testing.T) {
	h := newHarness(t, DefaultConfig(), verifier.Verified("Ana", 92))
	h.ctrl.Trigger()
	waitForState(t, h.ctrl, StateSuccess)

	h.presenter.mu.Lock()
	defer h.presenter.mu.Unlock()
	var fractions []float64
	for _, v := range h.presenter.views {
		if v.State == StateCapturing {
			fractions = append(fractions, v.Progress)
			if v.Message != MessageCapturing {
				t.Fatalf("capturing message changed mid-state: %q", v.Message)
			}
		}
	}
	if len(fractions) != 6 || fractions[5] != 1 {
		t.Fatalf("unexpected progress sequence: %v", fractions)
	}
}

func TestCloseStopsPendingReset(t *testing.T) {
	h := newHarness(t, DefaultConfig(), verifier.Verified("Ana", 92))
	h.ctrl.Trigger()
	waitForState(t, h.ctrl, StateSuccess)

	timer := h.scheduler.pending(t)
	if err := h.ctrl.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if timer.Stop() {
		t.Fatal("expected reset timer to be stopped by Close")
	}
	if _, ok := h.ctrl.Trigger(); ok {
		t.Fatal("closed controller must reject triggers")
	}
}

func TestPresenceChangedUpdatesIndicator(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.presence.set(false)
	h.ctrl.PresenceChanged()
	if h.ctrl.Snapshot().FaceDetected {
		t.Fatal("expected face indicator off")
	}
	h.presence.set(true)
	h.ctrl.PresenceChanged()
	if !h.ctrl.Snapshot().FaceDetected {
		t.Fatal("expected face indicator on")
	}
}
