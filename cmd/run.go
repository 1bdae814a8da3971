package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-access/internal/auth"
	"github.com/example/face-access/internal/camera"
	"github.com/example/face-access/internal/config"
	"github.com/example/face-access/internal/grpchealth"
	"github.com/example/face-access/internal/handlers"
	"github.com/example/face-access/internal/history"
	"github.com/example/face-access/internal/logging"
	"github.com/example/face-access/internal/presenter"
	"github.com/example/face-access/internal/repository"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the kiosk daemon with its HTTP control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runKiosk(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runKiosk(ctx context.Context, c config.Config, logger *zap.Logger) error {
	recorder, closeHistory, err := buildHistory(ctx, c, logger)
	if err != nil {
		return err
	}
	defer closeHistory()

	presence := &camera.PresenceSignal{}
	ctrl, err := buildController(c, logger, presence, recorder, presenter.NewLog(logger))
	if err != nil {
		return err
	}
	presence.OnChange(func(bool) { ctrl.PresenceChanged() })

	var operator gin.HandlerFunc
	if c.JWTSecret != "" {
		operator = auth.JWTMiddleware(c.JWTSecret, c.JWTAudience)
	} else {
		logger.Warn("no operator secret configured, control routes are unauthenticated")
	}

	if logging.ParseLevel(c.LogLevel) != zapcore.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	handlers.RegisterRoutes(router, ctrl, presence, recorder, operator)

	var health *grpchealth.Server
	if c.GRPCAddr != "" {
		lis, err := net.Listen("tcp", c.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", c.GRPCAddr, err)
		}
		health = grpchealth.NewServer(logger)
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
		health.SetServing(true)
	}

	server := &http.Server{
		Addr:              c.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("kiosk listening",
		zap.String("addr", c.Listen),
		zap.String("verifier", c.ServerURL),
		zap.Int("burst_size", c.BurstSize),
	)
	serveErr := serveHTTP(ctx, server, nil, c.ShutdownTimeout, logger)

	if health != nil {
		health.SetServing(false)
		health.Stop()
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := ctrl.Close(closeCtx); err != nil {
		logger.Warn("session aborted during shutdown", zap.Error(err))
	}
	return serveErr
}

// buildHistory picks Postgres when a DSN is configured and memory otherwise,
// with an optional Redis cache in front.
func buildHistory(ctx context.Context, c config.Config, logger *zap.Logger) (*history.Recorder, func(), error) {
	var (
		repo    history.Repository = repository.NewMemoryRepository()
		cache   history.Cache
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if c.DatabaseDSN != "" {
		db, err := initDatabase(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			closers = append(closers, func() { _ = sqlDB.Close() })
		}
		sessions := repository.NewSessionRepository(db, logger)
		if err := sessions.AutoMigrate(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("auto migrate failed: %w", err)
		}
		repo = sessions
	}

	if c.RedisAddr != "" {
		redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := initRedis(redisCtx, c.RedisAddr)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		cache = history.NewRedisCache(client)
	}

	return history.NewRecorder(repo, cache, logger), closeAll, nil
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
