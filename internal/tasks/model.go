// Package tasks owns the homework lifecycle: authoring, owner submission and reviewer feedback.
package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is a homework lifecycle state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusDelivered     Status = "delivered"
	StatusNeedsFeedback Status = "needsFeedback"
	StatusNeedsRevision Status = "needsRevision"
)

const maxIdentifierLength = 190

var (
	// ErrNotFound is returned for unknown task ids.
	ErrNotFound = errors.New("tasks: not found")
	// ErrForbidden is returned when the caller does not own the task.
	ErrForbidden = errors.New("tasks: forbidden")
	// ErrNotSubmittable is returned when the task is not pending.
	ErrNotSubmittable = errors.New("tasks: not submittable")
	// ErrInvalidTransition is returned for reviewer transitions outside the lifecycle.
	ErrInvalidTransition = errors.New("tasks: invalid transition")
	// ErrInvalidTask rejects malformed authoring or review input.
	ErrInvalidTask = errors.New("tasks: invalid task")
)

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusDelivered, StatusNeedsFeedback, StatusNeedsRevision:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTask, raw)
	}
}

// Task is a homework record.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Title       string     `json:"title"`
	Status      Status     `json:"status"`
	Grade       *float64   `json:"grade,omitempty"`
	Feedback    *string    `json:"feedback,omitempty"`
	DueDate     time.Time  `json:"due_date"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
}

// Validate is the shape check the store applies on load.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id required", ErrInvalidTask)
	}
	if strings.TrimSpace(t.OwnerID) == "" {
		return fmt.Errorf("%w: owner required", ErrInvalidTask)
	}
	if _, err := ParseStatus(string(t.Status)); err != nil {
		return err
	}
	if t.Grade != nil && *t.Grade < 0 {
		return fmt.Errorf("%w: negative grade", ErrInvalidTask)
	}
	return nil
}

// reviewerTransitions lists the moves an external reviewer may make. Pending is reachable only
// through authoring and left only through owner submission.
var reviewerTransitions = map[Status][]Status{
	StatusDelivered:     {StatusNeedsFeedback},
	StatusNeedsFeedback: {StatusNeedsRevision, StatusDelivered},
	StatusNeedsRevision: {StatusDelivered, StatusNeedsFeedback},
}

func canReview(from, to Status) bool {
	for _, allowed := range reviewerTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func validateIdentifier(field, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: %s required", ErrInvalidTask, field)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidTask, field, maxIdentifierLength)
	}
	return trimmed, nil
}
