package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-access/internal/logging"
)

// ErrNotFound is returned when no session log matches a lookup.
var ErrNotFound = errors.New("repository: session log not found")

// OutcomeVerified is the outcome label of a successful session.
const OutcomeVerified = "verified"

// SessionLog represents a persisted verification session.
type SessionLog struct {
	ID         uint      `gorm:"primaryKey"`
	SessionID  string    `gorm:"column:session_id;uniqueIndex;size:64"`
	Outcome    string    `gorm:"column:outcome;size:32;index"`
	UserName   string    `gorm:"column:user_name;size:255"`
	Confidence float64   `gorm:"column:confidence"`
	FrameCount int       `gorm:"column:frame_count"`
	FramesSHA1 string    `gorm:"column:frames_sha1;size:40;index"`
	CaptureMs  int64     `gorm:"column:capture_ms"`
	VerifyMs   int64     `gorm:"column:verify_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (SessionLog) TableName() string {
	return "session_logs"
}

// MetricsAggregation holds raw totals across persisted sessions.
type MetricsAggregation struct {
	TotalCount     int64
	SuccessCount   int64
	AverageConf    float64
	AverageLatency float64
}

// SessionRepository provides persistence APIs for session logs.
type SessionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSessionRepository creates a new repository instance.
func NewSessionRepository(db *gorm.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:             db,
		logger:         logger.Named("session_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *SessionRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&SessionLog{})
	})
}

// SaveLog persists a session log entry.
func (r *SessionRepository) SaveLog(ctx context.Context, log *SessionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.SessionID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindBySessionID retrieves the log of one session.
func (r *SessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*SessionLog, error) {
	var log SessionLog
	err := r.executeWithRetry(ctx, "repository.find_by_session", sessionID, func() error {
		return r.db.WithContext(ctx).First(&log, "session_id = ?", sessionID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists other sessions that submitted the same burst.
func (r *SessionRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeSessionID string) ([]*SessionLog, error) {
	var logs []*SessionLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeSessionID, func() error {
		return r.db.WithContext(ctx).
			Where("frames_sha1 = ? AND session_id <> ?", hash, excludeSessionID).
			Order("created_at ASC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals across all persisted sessions.
func (r *SessionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount     int64
		SuccessCount   int64
		AverageConf    float64
		AverageLatency float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&SessionLog{}).
			Select(
				"COUNT(*) AS total_count, "+
					"COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS success_count, "+
					"COALESCE(AVG(CASE WHEN outcome = ? THEN confidence END), 0) AS average_conf, "+
					"COALESCE(AVG(capture_ms + verify_ms), 0) AS average_latency",
				OutcomeVerified, OutcomeVerified,
			).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:     row.TotalCount,
		SuccessCount:   row.SuccessCount,
		AverageConf:    row.AverageConf,
		AverageLatency: row.AverageLatency,
	}, nil
}

func (r *SessionRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
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
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
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
