package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-access/internal/camera"
	"github.com/example/face-access/internal/config"
	"github.com/example/face-access/internal/history"
	"github.com/example/face-access/internal/presenter"
	"github.com/example/face-access/internal/repository"
	"github.com/example/face-access/internal/session"
)

var errAccessDenied = errors.New("access denied")

var (
	verifyFrames   string
	verifySnapshot string
	verifyServer   string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Capture one burst, verify it and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := cfg
		if verifyFrames != "" {
			c.FrameDir, c.SnapshotURL = verifyFrames, ""
		}
		if verifySnapshot != "" {
			c.SnapshotURL = verifySnapshot
		}
		if verifyServer != "" {
			c.ServerURL = verifyServer
		}
		view, err := verifyOnce(cmd.Context(), c, logger)
		if err != nil {
			return err
		}
		if view.State != session.StateSuccess {
			return errAccessDenied
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFrames, "frames", "", "Directory of JPEG/PNG frames to replay as the camera")
	verifyCmd.Flags().StringVar(&verifySnapshot, "snapshot", "", "Camera snapshot URL returning one image per GET")
	verifyCmd.Flags().StringVar(&verifyServer, "server", "", "Verification server base URL")
	rootCmd.AddCommand(verifyCmd)
}

// verifyOnce runs a single session with presence forced on and returns the
// view it ended in.
func verifyOnce(ctx context.Context, c config.Config, logger *zap.Logger) (session.View, error) {
	presence := &camera.PresenceSignal{}
	presence.Set(true)

	done := make(chan session.View, 1)
	final := presenter.Func(func(view session.View) {
		if view.State != session.StateSuccess && view.State != session.StateFailure {
			return
		}
		select {
		case done <- view:
		default:
		}
	})

	recorder := history.NewRecorder(repository.NewMemoryRepository(), nil, logger)
	ctrl, err := buildController(c, logger, presence, recorder, presenter.NewTerminal(os.Stderr), final)
	if err != nil {
		return session.View{}, err
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	defer func() {
		if err := ctrl.Close(closeCtx); err != nil {
			logger.Warn("session aborted", zap.Error(err))
		}
	}()

	id, ok := ctrl.Trigger()
	if !ok {
		return session.View{}, fmt.Errorf("session not started in state %s", ctrl.Snapshot().State)
	}
	logger.Debug("verification started", zap.String("session_id", id))

	select {
	case view := <-done:
		return view, nil
	case <-ctx.Done():
		return session.View{}, ctx.Err()
	}
}
