package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/tutorhub/internal/apperrors"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/gamification"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSubmitBonus is the experience granted for delivering a pending task.
const DefaultSubmitBonus int64 = 50

const (
	opServiceNew = "tasks.service.new"
	opCreate     = "tasks.create"
	opGet        = "tasks.get"
	opList       = "tasks.list"
	opSubmit     = "tasks.submit"
	opReview     = "tasks.review"
	taskIDPrefix = "hw-"
)

var (
	errMissingStore  = errors.New("store is required")
	errMissingLedger = errors.New("experience ledger is required")
)

// Awarder grants experience. gamification.Ledger satisfies it.
type Awarder interface {
	Award(ctx context.Context, userID string, amount int64) (gamification.Record, error)
}

// ServiceConfig describes the task service dependencies.
type ServiceConfig struct {
	Store       *store.Store
	Ledger      Awarder
	SubmitBonus int64
	Clock       func() time.Time
	NewID       func() (string, error)
	Logger      *zap.Logger
}

// Service applies homework lifecycle transitions.
type Service struct {
	mu          sync.Mutex
	store       *store.Store
	ledger      Awarder
	submitBonus int64
	clock       func() time.Time
	newID       func() (string, error)
	logger      *zap.Logger
}

// CreateRequest is authoring input for a new homework task.
type CreateRequest struct {
	OwnerID string
	Title   string
	DueDate time.Time
}

// SubmitResult is a successful submission and the experience it granted.
type SubmitResult struct {
	Task       Task
	Awarded    int64
	Experience gamification.Record
}

// ReviewRequest is a reviewer's opaque input for a delivered task.
type ReviewRequest struct {
	TaskID     string
	ReviewerID string
	Status     Status
	Grade      *float64
	Feedback   *string
}

// NewService constructs a Service. SubmitBonus defaults to DefaultSubmitBonus when zero.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperrors.New(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Ledger == nil {
		return nil, apperrors.New(opServiceNew, "missing_ledger", errMissingLedger)
	}
	bonus := cfg.SubmitBonus
	if bonus == 0 {
		bonus = DefaultSubmitBonus
	}
	if bonus < 0 {
		return nil, apperrors.New(opServiceNew, "invalid_submit_bonus", fmt.Errorf("%w: %d", gamification.ErrInvalidAwardAmount, bonus))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newTaskID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		submitBonus: bonus,
		clock:       clock,
		newID:       newID,
		logger:      logger,
	}, nil
}

func newTaskID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return taskIDPrefix + value.String(), nil
}

// Create stores a new pending task for its owner.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Task, error) {
	ownerID, err := validateIdentifier("owner id", request.OwnerID)
	if err != nil {
		return Task{}, apperrors.New(opCreate, "invalid_owner", err)
	}
	title := strings.TrimSpace(request.Title)
	if title == "" {
		return Task{}, apperrors.New(opCreate, "invalid_title", fmt.Errorf("%w: title required", ErrInvalidTask))
	}

	taskID, err := s.newID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("owner_id", ownerID))
		return Task{}, apperrors.New(opCreate, "id_generation_failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	task := Task{
		ID:        taskID,
		OwnerID:   ownerID,
		Title:     title,
		Status:    StatusPending,
		DueDate:   request.DueDate.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	store.Write(ctx, s.store, store.TaskKey(task.ID), task)

	index := store.Read(ctx, s.store, store.OwnerTasksKey(ownerID), []string{})
	store.Write(ctx, s.store, store.OwnerTasksKey(ownerID), append(index, task.ID))

	s.logger.Info("task created",
		zap.String("operation", opCreate),
		zap.String("task_id", task.ID),
		zap.String("owner_id", ownerID))
	return task, nil
}

// Get returns the task with the given id.
func (s *Service) Get(ctx context.Context, taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(ctx, opGet, taskID)
}

// ListByOwner returns the owner's tasks ordered by due date.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Task, error) {
	ownerID, err := validateIdentifier("owner id", ownerID)
	if err != nil {
		return nil, apperrors.New(opList, "invalid_owner", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := store.Read(ctx, s.store, store.OwnerTasksKey(ownerID), []string{})
	tasks := make([]Task, 0, len(index))
	for _, taskID := range index {
		task, found := store.Lookup[Task](ctx, s.store, store.TaskKey(taskID))
		if !found || task.OwnerID != ownerID {
			continue
		}
		tasks = append(tasks, task)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].DueDate.Equal(tasks[j].DueDate) {
			return tasks[i].DueDate.Before(tasks[j].DueDate)
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// Submit delivers a pending task on behalf of its owner and awards the submit bonus.
// The persisted status change is the gate for the award: a task that is no longer pending is
// rejected, so retries and repeated clicks never grant experience twice. When the delivery cannot
// be persisted nothing is awarded. A failed award after a durable delivery is logged and the
// result reports Awarded 0.
func (s *Service) Submit(ctx context.Context, taskID, ownerID string) (SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.lookup(ctx, opSubmit, taskID)
	if err != nil {
		return SubmitResult{}, err
	}
	if strings.TrimSpace(ownerID) != task.OwnerID {
		return SubmitResult{}, apperrors.New(opSubmit, "forbidden", ErrForbidden)
	}
	if task.Status != StatusPending {
		return SubmitResult{}, apperrors.New(opSubmit, "not_submittable",
			fmt.Errorf("%w: status is %s", ErrNotSubmittable, task.Status))
	}

	now := s.clock().UTC()
	task.Status = StatusDelivered
	task.SubmittedAt = &now
	task.UpdatedAt = now
	if err := store.Persist(ctx, s.store, store.TaskKey(task.ID), task); err != nil {
		s.logError(opSubmit, "persist_failed", err, zap.String("task_id", task.ID))
		return SubmitResult{}, apperrors.New(opSubmit, "persist_failed", err)
	}

	record, err := s.ledger.Award(ctx, task.OwnerID, s.submitBonus)
	if err != nil {
		s.logError(opSubmit, "award_failed", err, zap.String("task_id", task.ID))
		return SubmitResult{Task: task}, nil
	}

	s.logger.Info("task submitted",
		zap.String("operation", opSubmit),
		zap.String("task_id", task.ID),
		zap.String("owner_id", task.OwnerID),
		zap.Int64("awarded", s.submitBonus))
	return SubmitResult{Task: task, Awarded: s.submitBonus, Experience: record}, nil
}

// Review applies a reviewer transition. Reviews never grant experience.
func (s *Service) Review(ctx context.Context, request ReviewRequest) (Task, error) {
	reviewerID, err := validateIdentifier("reviewer id", request.ReviewerID)
	if err != nil {
		return Task{}, apperrors.New(opReview, "invalid_reviewer", err)
	}
	if _, err := ParseStatus(string(request.Status)); err != nil {
		return Task{}, apperrors.New(opReview, "invalid_status", err)
	}
	if grade := request.Grade; grade != nil && (*grade < 0 || math.IsNaN(*grade) || math.IsInf(*grade, 0)) {
		return Task{}, apperrors.New(opReview, "invalid_grade", fmt.Errorf("%w: grade %v", ErrInvalidTask, *grade))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.lookup(ctx, opReview, request.TaskID)
	if err != nil {
		return Task{}, err
	}
	if !canReview(task.Status, request.Status) {
		return Task{}, apperrors.New(opReview, "invalid_transition",
			fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, request.Status))
	}

	task.Status = request.Status
	if request.Grade != nil {
		grade := *request.Grade
		task.Grade = &grade
	}
	if request.Feedback != nil {
		feedback := strings.TrimSpace(*request.Feedback)
		task.Feedback = &feedback
	}
	task.ReviewedBy = reviewerID
	task.UpdatedAt = s.clock().UTC()
	store.Write(ctx, s.store, store.TaskKey(task.ID), task)

	s.logger.Info("task reviewed",
		zap.String("operation", opReview),
		zap.String("task_id", task.ID),
		zap.String("reviewer_id", reviewerID),
		zap.String("status", string(task.Status)))
	return task, nil
}

func (s *Service) lookup(ctx context.Context, operation, taskID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Task{}, apperrors.New(operation, "not_found", ErrNotFound)
	}
	task, found := store.Lookup[Task](ctx, s.store, store.TaskKey(taskID))
	if !found {
		return Task{}, apperrors.New(operation, "not_found", fmt.Errorf("%w: %s", ErrNotFound, taskID))
	}
	return task, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tasks service error", attrs...)
}
