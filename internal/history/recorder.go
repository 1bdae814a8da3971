// Package history keeps the audit trail of finished sessions: a durable log
// in the repository and a short-lived JSON copy in Redis for fast lookups.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-access/internal/logging"
	"github.com/example/face-access/internal/repository"
	"github.com/example/face-access/internal/session"
)

const resultTTL = 10 * time.Minute

// Repository defines the persistence operations needed by the recorder.
type Repository interface {
	SaveLog(ctx context.Context, log *repository.SessionLog) error
	FindBySessionID(ctx context.Context, sessionID string) (*repository.SessionLog, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeSessionID string) ([]*repository.SessionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Recorder persists finished sessions and serves them back.
type Recorder struct {
	repo           Repository
	cache          Cache
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedSession struct {
	SessionID  string    `json:"session_id"`
	Outcome    string    `json:"outcome"`
	UserName   string    `json:"user_name,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	FrameCount int       `json:"frame_count"`
	Hash       string    `json:"frames_sha1,omitempty"`
	CaptureMs  int64     `json:"capture_ms"`
	VerifyMs   int64     `json:"verify_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// DuplicateReport lists sessions that submitted the same burst as Session.
type DuplicateReport struct {
	Session    *repository.SessionLog
	Duplicates []*repository.SessionLog
}

// NewRecorder constructs a recorder. cache may be nil.
func NewRecorder(repo Repository, cache Cache, logger *zap.Logger) *Recorder {
	return &Recorder{
		repo:           repo,
		cache:          cache,
		logger:         logger.Named("history_recorder"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Record stores a finished session. A burst whose digest was already seen
// is flagged in the logs as a possible replay.
func (r *Recorder) Record(ctx context.Context, result session.Result) error {
	opLogger := logging.WithOperation(r.logger, "history.record", result.SessionID)

	log := toLog(result)
	if err := r.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("history.save_log", result.SessionID, err)
		opLogger.Error("failed to persist session log", zap.Error(wrapped))
		return wrapped
	}

	if log.FramesSHA1 != "" {
		dups, err := r.repo.FindDuplicatesByHash(ctx, log.FramesSHA1, log.SessionID)
		if err != nil {
			opLogger.Warn("duplicate lookup failed", zap.Error(err))
		} else if len(dups) > 0 {
			opLogger.Warn("burst digest seen before", zap.Int("previous_sessions", len(dups)), zap.String("frames_sha1", log.FramesSHA1))
		}
	}

	if r.cache == nil {
		return nil
	}
	serialized, err := json.Marshal(fromLog(log))
	if err != nil {
		opLogger.Error("failed to serialize session log", zap.Error(err))
		return err
	}
	if err := r.withRedisRetry(ctx, result.SessionID, "cache.set.session", func() error {
		return r.cache.Set(ctx, cacheKey(result.SessionID), string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache session log", zap.Error(err))
		return err
	}
	return nil
}

// GetResult returns a session log from the cache or, on a miss, the repository.
func (r *Recorder) GetResult(ctx context.Context, sessionID string) (*repository.SessionLog, error) {
	if r.cache != nil {
		cached, err := r.withRedisGet(ctx, sessionID, "cache.get.session", cacheKey(sessionID))
		switch {
		case err == nil:
			var payload cachedSession
			if err := json.Unmarshal([]byte(cached), &payload); err != nil {
				logging.WithOperation(r.logger, "history.get_result", sessionID).Warn("failed to decode cached session", zap.Error(err))
			} else {
				return payload.toLog(), nil
			}
		case !errors.Is(err, ErrCacheMiss):
			logging.WithOperation(r.logger, "history.get_result", sessionID).Warn("failed to read cache", zap.Error(err))
		}
	}
	return r.repo.FindBySessionID(ctx, sessionID)
}

// GetDuplicateReport builds a replay report for a session.
func (r *Recorder) GetDuplicateReport(ctx context.Context, sessionID string) (*DuplicateReport, error) {
	log, err := r.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	report := &DuplicateReport{Session: log}
	if log.FramesSHA1 == "" {
		return report, nil
	}
	report.Duplicates, err = r.repo.FindDuplicatesByHash(ctx, log.FramesSHA1, log.SessionID)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Recorder) withRedisRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrCacheMiss) {
			return err
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func (r *Recorder) withRedisGet(ctx context.Context, sessionID, operation, key string) (string, error) {
	var result string
	err := r.withRedisRetry(ctx, sessionID, operation, func() error {
		value, err := r.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}

func cacheKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func toLog(result session.Result) *repository.SessionLog {
	log := &repository.SessionLog{
		SessionID:  result.SessionID,
		Outcome:    result.OutcomeLabel(),
		FrameCount: result.FrameCount,
		FramesSHA1: result.FramesSHA1,
		CaptureMs:  result.CaptureDuration.Milliseconds(),
		VerifyMs:   result.VerifyDuration.Milliseconds(),
		CreatedAt:  result.StartedAt.UTC(),
	}
	if result.State == session.StateSuccess {
		log.UserName = result.Outcome.UserName
		log.Confidence = result.Outcome.Confidence
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return log
}

func fromLog(log *repository.SessionLog) cachedSession {
	return cachedSession{
		SessionID:  log.SessionID,
		Outcome:    log.Outcome,
		UserName:   log.UserName,
		Confidence: log.Confidence,
		FrameCount: log.FrameCount,
		Hash:       log.FramesSHA1,
		CaptureMs:  log.CaptureMs,
		VerifyMs:   log.VerifyMs,
		CreatedAt:  log.CreatedAt,
	}
}

func (c cachedSession) toLog() *repository.SessionLog {
	return &repository.SessionLog{
		SessionID:  c.SessionID,
		Outcome:    c.Outcome,
		UserName:   c.UserName,
		Confidence: c.Confidence,
		FrameCount: c.FrameCount,
		FramesSHA1: c.Hash,
		CaptureMs:  c.CaptureMs,
		VerifyMs:   c.VerifyMs,
		CreatedAt:  c.CreatedAt,
	}
}
