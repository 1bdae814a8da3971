package cmd

import (
	"errors"

	"go.uber.org/zap"

	"github.com/example/face-access/internal/camera"
	"github.com/example/face-access/internal/capture"
	"github.com/example/face-access/internal/config"
	"github.com/example/face-access/internal/imageprocessor"
	"github.com/example/face-access/internal/session"
	"github.com/example/face-access/internal/verifier"
)

var errNoSource = errors.New("no frame source configured: set frame_dir or snapshot_url")

func buildSource(c config.Config) (camera.Source, error) {
	switch {
	case c.SnapshotURL != "":
		return camera.NewSnapshotSource(c.SnapshotURL, c.FrameTimeout), nil
	case c.FrameDir != "":
		return camera.NewDirectorySource(c.FrameDir)
	default:
		return nil, errNoSource
	}
}

func sessionConfig(c config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.BurstSize = c.BurstSize
	sc.FrameDelay = c.FrameDelay
	sc.SuccessHold = c.SuccessHold
	sc.FailureHold = c.FailureHold
	sc.VerifyAttempts = c.VerifyAttempts
	return sc
}

// buildController assembles capture and verification around presence.
func buildController(c config.Config, log *zap.Logger, presence session.Presence, recorder session.Recorder, presenters ...session.Presenter) (*session.Controller, error) {
	source, err := buildSource(c)
	if err != nil {
		return nil, err
	}
	client, err := verifier.NewClient(c.ServerURL, c.VerifyTimeout, log)
	if err != nil {
		return nil, err
	}
	burst := capture.New(source, imageprocessor.NewJPEGEncoder(), capture.Options{
		TargetWidth:  c.EncodeWidth,
		Quality:      c.EncodeQuality,
		FrameTimeout: c.FrameTimeout,
	}, log)

	return session.New(sessionConfig(c), session.Dependencies{
		Capturer:   burst,
		Verifier:   client,
		Presence:   presence,
		Recorder:   recorder,
		Presenters: presenters,
	}, log), nil
}
