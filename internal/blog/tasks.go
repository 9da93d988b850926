package blog

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/miniblog/internal/models"
	"github.com/hyperjump/miniblog/internal/storage"
	"github.com/hyperjump/miniblog/internal/tasks"
	"go.uber.org/zap"
)

// TaskStatus is a task with its current progress.
type TaskStatus struct {
	*models.Task
	Progress int `json:"progress"`
}

// LaunchTask enqueues a background job and records it as userID's task.
// A user runs at most one incomplete task per name; a second launch returns ErrConflict.
func (s *Service) LaunchTask(ctx context.Context, userID int64, name, description string, args map[string]interface{}) (*models.Task, error) {
	if name == "" {
		return nil, invalid("task name cannot be empty")
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	running, err := s.store.TaskInProgressByName(ctx, userID, name)
	switch {
	case err == nil:
		return nil, fmt.Errorf("task %s already in progress as %s: %w", name, running.ID, ErrConflict)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}
	jobID, err := s.queue.Enqueue(ctx, tasks.Job{Name: name, UserID: userID, Args: args})
	if err != nil {
		return nil, fmt.Errorf("launch task %s: %w", name, err)
	}
	t := &models.Task{ID: jobID, Name: name, Description: description, UserID: userID}
	sess := s.store.Begin()
	sess.Add(t)
	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("record task %s: %w", name, err)
	}
	s.logger.Info("task launched", zap.String("task_id", jobID), zap.String("name", name), zap.Int64("user_id", userID))
	return t, nil
}

// TasksInProgress returns userID's incomplete tasks with their progress.
func (s *Service) TasksInProgress(ctx context.Context, userID int64) ([]*TaskStatus, error) {
	ts, err := s.store.TasksInProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*TaskStatus, 0, len(ts))
	for _, t := range ts {
		p, err := s.queue.Progress(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &TaskStatus{Task: t, Progress: p})
	}
	return out, nil
}

// TaskProgress returns the completion percentage of taskID. Jobs the queue
// no longer knows about count as finished.
func (s *Service) TaskProgress(ctx context.Context, taskID string) (int, error) {
	return s.queue.Progress(ctx, taskID)
}

// CompleteTask marks taskID done.
func (s *Service) CompleteTask(ctx context.Context, taskID string) error {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Complete {
		return nil
	}
	if err := s.queue.SetProgress(ctx, taskID, 100); err != nil {
		s.logger.Warn("failed to record task progress", zap.String("task_id", taskID), zap.Error(err))
	}
	t.Complete = true
	sess := s.store.Begin()
	sess.Update(t)
	return sess.Commit(ctx)
}
