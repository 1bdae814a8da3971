package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/face-access/internal/history"
	"github.com/example/face-access/internal/repository"
	"github.com/example/face-access/internal/session"
)

// Kiosk is the controller surface exposed over HTTP.
type Kiosk interface {
	Snapshot() session.View
	Trigger() (string, bool)
}

// PresenceSink receives face-presence readings from an external detector.
type PresenceSink interface {
	Set(detected bool)
}

// History serves recorded sessions.
type History interface {
	GetResult(ctx context.Context, sessionID string) (*repository.SessionLog, error)
	GetDuplicateReport(ctx context.Context, sessionID string) (*history.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*history.MetricsSummary, error)
}

type presenceRequest struct {
	Detected *bool `json:"detected" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. operator guards
// the mutating routes and may be nil when no operator secret is configured.
func RegisterRoutes(router *gin.Engine, kiosk Kiosk, presence PresenceSink, hist History, operator gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, kiosk.Snapshot())
	})

	control := router.Group("/")
	if operator != nil {
		control.Use(operator)
	}

	control.POST("/presence", func(c *gin.Context) {
		var req presenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "detected is required"})
			return
		}
		presence.Set(*req.Detected)
		c.JSON(http.StatusOK, gin.H{"face_detected": *req.Detected})
	})

	control.POST("/trigger", func(c *gin.Context) {
		sessionID, accepted := kiosk.Trigger()
		if accepted {
			c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID})
			return
		}
		view := kiosk.Snapshot()
		reason := "session in progress"
		if view.State == session.StateIdle {
			reason = "no face detected"
		}
		c.JSON(http.StatusConflict, gin.H{"error": reason, "state": view.State})
	})

	router.GET("/sessions/:id", func(c *gin.Context) {
		log, err := hist.GetResult(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, sessionJSON(log))
	})

	router.GET("/sessions/:id/duplicates", func(c *gin.Context) {
		report, err := hist.GetDuplicateReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondLookupError(c, err)
			return
		}
		dups := make([]gin.H, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			dups = append(dups, sessionJSON(d))
		}
		c.JSON(http.StatusOK, gin.H{"session": sessionJSON(report.Session), "duplicates": dups})
	})

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := hist.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func respondLookupError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
}

func sessionJSON(log *repository.SessionLog) gin.H {
	return gin.H{
		"session_id":  log.SessionID,
		"outcome":     log.Outcome,
		"user_name":   log.UserName,
		"confidence":  log.Confidence,
		"frame_count": log.FrameCount,
		"frames_sha1": log.FramesSHA1,
		"capture_ms":  log.CaptureMs,
		"verify_ms":   log.VerifyMs,
		"created_at":  log.CreatedAt,
	}
}
