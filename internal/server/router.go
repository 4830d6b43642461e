package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/tutorhub/internal/apperrors"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/auth"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/gamification"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/tasks"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/timer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "tutorhub_user_id"
	claimsContextKey = "tutorhub_session_claims"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingLedger           = errors.New("experience ledger dependency required")
	errMissingTimerService     = errors.New("timer service dependency required")
	errMissingTaskService      = errors.New("task service dependency required")
)

// SessionValidator authenticates requests from the session cookie.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	SessionValidator  SessionValidator
	Ledger            *gamification.Ledger
	Timer             *timer.Service
	Tasks             *tasks.Service
	Realtime          *RealtimeDispatcher
	HeartbeatInterval time.Duration
	AllowedOrigins    []string
	Clock             func() time.Time
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.Timer == nil {
		return nil, errMissingTimerService
	}
	if deps.Tasks == nil {
		return nil, errMissingTaskService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if len(deps.AllowedOrigins) > 0 {
		router.Use(corsMiddleware(deps.AllowedOrigins))
	}

	handler := &httpHandler{
		sessions:          deps.SessionValidator,
		ledger:            deps.Ledger,
		timer:             deps.Timer,
		tasks:             deps.Tasks,
		realtime:          realtime,
		heartbeatInterval: heartbeat,
		clock:             clock,
		logger:            logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/progress", handler.handleGetProgress)
	protected.POST("/progress/award", handler.requireTeacher, handler.handleAwardProgress)
	protected.POST("/progress/reset", handler.requireTeacher, handler.handleResetProgress)

	protected.GET("/timer", handler.handlePollTimer)
	protected.POST("/timer/start", handler.handleStartTimer)
	protected.POST("/timer/pause", handler.handlePauseTimer)
	protected.POST("/timer/mode", handler.handleSwitchTimerMode)
	protected.POST("/timer/reset", handler.handleResetTimer)

	protected.GET("/tasks", handler.handleListTasks)
	protected.POST("/tasks", handler.requireTeacher, handler.handleCreateTask)
	protected.POST("/tasks/:id/submit", handler.handleSubmitTask)
	protected.POST("/tasks/:id/review", handler.requireTeacher, handler.handleReviewTask)

	protected.GET("/events", handler.handleEventStream)

	return router, nil
}

// corsMiddleware admits credentialed cross-origin requests from the listed origins only.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Last-Event-ID", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions          SessionValidator
	ledger            *gamification.Ledger
	timer             *timer.Service
	tasks             *tasks.Service
	realtime          *RealtimeDispatcher
	heartbeatInterval time.Duration
	clock             func() time.Time
	logger            *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(claimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) requireTeacher(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok || !claims.IsTeacher() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func sessionClaims(c *gin.Context) (auth.SessionClaims, bool) {
	value, exists := c.Get(claimsContextKey)
	if !exists {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}

// respondError writes the status for err and exposes its service code.
func (h *httpHandler) respondError(c *gin.Context, err error, fallbackCode string) {
	status := statusForError(err)
	code := apperrors.CodeOf(err)
	if code == "" {
		code = fallbackCode
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, tasks.ErrNotSubmittable),
		errors.Is(err, tasks.ErrInvalidTransition),
		errors.Is(err, timer.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, gamification.ErrInvalidAwardAmount),
		errors.Is(err, gamification.ErrInvalidUserID),
		errors.Is(err, timer.ErrInvalidDuration),
		errors.Is(err, timer.ErrInvalidMode),
		errors.Is(err, timer.ErrInvalidUserID),
		errors.Is(err, tasks.ErrInvalidTask):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
