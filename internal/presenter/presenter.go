// Package presenter renders controller views outside of HTTP: on a
// terminal for one-shot runs and as structured log lines for the daemon.
package presenter

import (
	"go.uber.org/zap"

	"github.com/example/face-access/internal/session"
)

// Func adapts a plain function to session.Presenter.
type Func func(view session.View)

// Render calls f(view).
func (f Func) Render(view session.View) { f(view) }

// Log writes one line per state change.
type Log struct {
	logger *zap.Logger
	last   session.State
	face   bool
}

// NewLog returns a presenter that logs through logger.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("presenter"), last: session.StateIdle}
}

func (l *Log) Render(view session.View) {
	if view.FaceDetected != l.face && view.State == session.StateIdle {
		l.logger.Info("face presence changed", zap.Bool("face_detected", view.FaceDetected))
	}
	l.face = view.FaceDetected
	if view.State == l.last {
		return
	}
	l.last = view.State
	l.logger.Info("state changed",
		zap.String("session_id", view.SessionID),
		zap.String("state", string(view.State)),
		zap.String("message", view.Message),
	)
}
