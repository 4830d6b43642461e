package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tutorhub/internal/gamification"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/tasks"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/timer"
	"github.com/gin-gonic/gin"
)

type progressPayload struct {
	gamification.Record
	Progress gamification.LevelProgress `json:"progress"`
}

func newProgressPayload(record gamification.Record) progressPayload {
	return progressPayload{Record: record, Progress: gamification.Progress(record)}
}

type awardRequestPayload struct {
	UserID string `json:"user_id"`
	Amount *int64 `json:"amount"`
}

type resetRequestPayload struct {
	UserID string `json:"user_id"`
}

func (h *httpHandler) handleGetProgress(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	record, err := h.ledger.Get(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err, "progress_failed")
		return
	}
	c.JSON(http.StatusOK, newProgressPayload(record))
}

func (h *httpHandler) handleAwardProgress(c *gin.Context) {
	var request awardRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Amount == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	target := h.targetUser(c, request.UserID)
	record, err := h.ledger.Award(c.Request.Context(), target, *request.Amount)
	if err != nil {
		h.respondError(c, err, "award_failed")
		return
	}
	payload := newProgressPayload(record)
	h.publish(target, RealtimeEventProgressChanged, payload)
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleResetProgress(c *gin.Context) {
	var request resetRequestPayload
	if err := bindOptionalJSON(c, &request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	target := h.targetUser(c, request.UserID)
	record, err := h.ledger.Reset(c.Request.Context(), target)
	if err != nil {
		h.respondError(c, err, "reset_failed")
		return
	}
	payload := newProgressPayload(record)
	h.publish(target, RealtimeEventProgressChanged, payload)
	c.JSON(http.StatusOK, payload)
}

type timerPayload struct {
	Mode              timer.Mode    `json:"mode"`
	Status            timer.Status  `json:"status"`
	RemainingSeconds  int           `json:"remaining_s"`
	DurationSeconds   int           `json:"duration_s"`
	SessionsCompleted int           `json:"sessions_completed"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Completed         *phasePayload `json:"completed,omitempty"`
}

type phasePayload struct {
	CompletedMode     timer.Mode `json:"completed_mode"`
	NextMode          timer.Mode `json:"next_mode"`
	LongBreak         bool       `json:"long_break"`
	AwardedExperience int64      `json:"awarded_experience"`
}

func newTimerPayload(snapshot timer.Snapshot) timerPayload {
	return timerPayload{
		Mode:              snapshot.State.Mode,
		Status:            snapshot.Status,
		RemainingSeconds:  snapshot.RemainingSeconds,
		DurationSeconds:   snapshot.State.DurationSeconds,
		SessionsCompleted: snapshot.State.SessionsCompleted,
		EvaluatedAt:       snapshot.EvaluatedAt.UTC(),
	}
}

type startTimerRequestPayload struct {
	DurationSeconds int    `json:"duration_s"`
	Mode            string `json:"mode"`
}

type switchModeRequestPayload struct {
	Mode string `json:"mode"`
}

// handlePollTimer evaluates the caller's timer and completes the phase once it has run out.
func (h *httpHandler) handlePollTimer(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	result, err := h.timer.Poll(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err, "timer_poll_failed")
		return
	}
	payload := newTimerPayload(result.Snapshot)
	if result.Completion.Advanced {
		payload.Completed = &phasePayload{
			CompletedMode: result.Completion.CompletedMode,
			NextMode:      result.Completion.NextMode,
			LongBreak:     result.Completion.LongBreak,
		}
		if result.Experience != nil {
			payload.Completed.AwardedExperience = result.Completion.AwardExperience
			h.publish(userID, RealtimeEventProgressChanged, newProgressPayload(*result.Experience))
		}
		h.publish(userID, RealtimeEventTimerChanged, payload)
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleStartTimer(c *gin.Context) {
	var request startTimerRequestPayload
	if err := bindOptionalJSON(c, &request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	options := timer.StartOptions{
		DurationSeconds: request.DurationSeconds,
		Mode:            timer.Mode(strings.TrimSpace(request.Mode)),
	}
	h.respondTimer(c, func(userID string) (timer.Snapshot, error) {
		return h.timer.Start(c.Request.Context(), userID, options)
	}, "timer_start_failed")
}

func (h *httpHandler) handlePauseTimer(c *gin.Context) {
	h.respondTimer(c, func(userID string) (timer.Snapshot, error) {
		return h.timer.Pause(c.Request.Context(), userID)
	}, "timer_pause_failed")
}

func (h *httpHandler) handleSwitchTimerMode(c *gin.Context) {
	var request switchModeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	mode, err := timer.ParseMode(strings.TrimSpace(request.Mode))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_mode"})
		return
	}
	h.respondTimer(c, func(userID string) (timer.Snapshot, error) {
		return h.timer.SwitchMode(c.Request.Context(), userID, mode)
	}, "timer_mode_failed")
}

func (h *httpHandler) handleResetTimer(c *gin.Context) {
	h.respondTimer(c, func(userID string) (timer.Snapshot, error) {
		return h.timer.Reset(c.Request.Context(), userID)
	}, "timer_reset_failed")
}

func (h *httpHandler) respondTimer(c *gin.Context, apply func(userID string) (timer.Snapshot, error), fallbackCode string) {
	userID := c.GetString(userIDContextKey)
	snapshot, err := apply(userID)
	if err != nil {
		h.respondError(c, err, fallbackCode)
		return
	}
	payload := newTimerPayload(snapshot)
	h.publish(userID, RealtimeEventTimerChanged, payload)
	c.JSON(http.StatusOK, payload)
}

type taskListPayload struct {
	Tasks []tasks.Task `json:"tasks"`
}

type createTaskRequestPayload struct {
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	DueDate string `json:"due_date"`
}

type reviewTaskRequestPayload struct {
	Status   string   `json:"status"`
	Grade    *float64 `json:"grade"`
	Feedback *string  `json:"feedback"`
}

type submitTaskResponsePayload struct {
	Task     tasks.Task      `json:"task"`
	Awarded  int64           `json:"awarded"`
	Progress progressPayload `json:"progress"`
}

// handleListTasks lists the caller's tasks. Teachers may list another owner's via ?owner_id=.
func (h *httpHandler) handleListTasks(c *gin.Context) {
	ownerID := c.GetString(userIDContextKey)
	if requested := strings.TrimSpace(c.Query("owner_id")); requested != "" && requested != ownerID {
		claims, _ := sessionClaims(c)
		if !claims.IsTeacher() {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		ownerID = requested
	}
	list, err := h.tasks.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		h.respondError(c, err, "task_list_failed")
		return
	}
	c.JSON(http.StatusOK, taskListPayload{Tasks: list})
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	var request createTaskRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	dueDate, err := parseDueDate(request.DueDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_due_date"})
		return
	}
	task, err := h.tasks.Create(c.Request.Context(), tasks.CreateRequest{
		OwnerID: request.OwnerID,
		Title:   request.Title,
		DueDate: dueDate,
	})
	if err != nil {
		h.respondError(c, err, "task_create_failed")
		return
	}
	h.publish(task.OwnerID, RealtimeEventTaskChanged, task)
	c.JSON(http.StatusCreated, task)
}

func (h *httpHandler) handleSubmitTask(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	result, err := h.tasks.Submit(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err, "task_submit_failed")
		return
	}
	h.publish(userID, RealtimeEventTaskChanged, result.Task)
	experience := result.Experience
	if experience.UserID == "" {
		// The delivery is durable but the award was not applied; report the ledger as it stands.
		experience, err = h.ledger.Get(c.Request.Context(), userID)
		if err != nil {
			h.respondError(c, err, "progress_failed")
			return
		}
	}
	progress := newProgressPayload(experience)
	if result.Awarded > 0 {
		h.publish(userID, RealtimeEventProgressChanged, progress)
	}
	c.JSON(http.StatusOK, submitTaskResponsePayload{
		Task:     result.Task,
		Awarded:  result.Awarded,
		Progress: progress,
	})
}

func (h *httpHandler) handleReviewTask(c *gin.Context) {
	var request reviewTaskRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	task, err := h.tasks.Review(c.Request.Context(), tasks.ReviewRequest{
		TaskID:     c.Param("id"),
		ReviewerID: c.GetString(userIDContextKey),
		Status:     tasks.Status(strings.TrimSpace(request.Status)),
		Grade:      request.Grade,
		Feedback:   request.Feedback,
	})
	if err != nil {
		h.respondError(c, err, "task_review_failed")
		return
	}
	h.publish(task.OwnerID, RealtimeEventTaskChanged, task)
	c.JSON(http.StatusOK, task)
}

// targetUser resolves the subject of a teacher action, defaulting to the caller.
func (h *httpHandler) targetUser(c *gin.Context, requested string) string {
	if trimmed := strings.TrimSpace(requested); trimmed != "" {
		return trimmed
	}
	return c.GetString(userIDContextKey)
}

// bindOptionalJSON binds a JSON body when one is present.
func bindOptionalJSON(c *gin.Context, target any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// parseDueDate accepts RFC 3339 timestamps or plain calendar dates.
func parseDueDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, errors.New("due date required")
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed, nil
	}
	return time.Parse(time.DateOnly, trimmed)
}
