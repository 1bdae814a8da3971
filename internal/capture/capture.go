// Package capture acquires the ordered frame burst submitted for one
// verification. Frames are taken strictly one after another with a fixed
// pause in between so the verifier can observe motion across the burst.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-access/internal/camera"
	"github.com/example/face-access/internal/imageprocessor"
)

// ErrInvalidCount is returned when a burst of fewer than one frame is requested.
var ErrInvalidCount = errors.New("capture: frame count must be positive")

// CaptureError reports the frame (1-based) at which a burst failed.
type CaptureError struct {
	Frame int
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: frame %d: %v", e.Frame, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ProgressFunc is called after each frame with the number of frames taken so far.
type ProgressFunc func(done, total int)

// Options configures how frames are encoded.
type Options struct {
	TargetWidth int
	Quality     int
	// FrameTimeout bounds one acquire+encode step. Zero disables it.
	FrameTimeout time.Duration
}

// BurstCapture owns the camera for the duration of a burst.
type BurstCapture struct {
	source  camera.Source
	encoder imageprocessor.Encoder
	opts    Options
	logger  *zap.Logger
}

// New constructs a BurstCapture over the given source and encoder.
func New(source camera.Source, encoder imageprocessor.Encoder, opts Options, logger *zap.Logger) *BurstCapture {
	return &BurstCapture{
		source:  source,
		encoder: encoder,
		opts:    opts,
		logger:  logger.Named("burst_capture"),
	}
}

// Capture takes n frames spaced by delay and returns them in capture order.
// Any failure aborts the burst and no frames are returned.
func (b *BurstCapture) Capture(ctx context.Context, n int, delay time.Duration, progress ProgressFunc) ([]imageprocessor.EncodedImage, error) {
	if n < 1 {
		return nil, ErrInvalidCount
	}

	frames := make([]imageprocessor.EncodedImage, 0, n)
	for i := 1; i <= n; i++ {
		frame, err := b.captureOne(ctx)
		if err != nil {
			b.logger.Warn("burst aborted", zap.Int("frame", i), zap.Int("total", n), zap.Error(err))
			return nil, &CaptureError{Frame: i, Err: err}
		}
		frames = append(frames, frame)
		b.logger.Debug("frame captured", zap.Int("frame", i), zap.Int("total", n), zap.Int("bytes", frame.SizeHint))
		if progress != nil {
			progress(i, n)
		}

		if i == n || delay <= 0 {
			continue
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, &CaptureError{Frame: i + 1, Err: err}
		}
	}
	return frames, nil
}

func (b *BurstCapture) captureOne(ctx context.Context) (imageprocessor.EncodedImage, error) {
	if b.opts.FrameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.FrameTimeout)
		defer cancel()
	}

	raw, err := b.source.AcquireFrame(ctx)
	if err != nil {
		return imageprocessor.EncodedImage{}, fmt.Errorf("acquire: %w", err)
	}
	frame, err := b.encoder.Encode(ctx, raw, b.opts.TargetWidth, b.opts.Quality)
	if err != nil {
		return imageprocessor.EncodedImage{}, fmt.Errorf("encode: %w", err)
	}
	return frame, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
