package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperjump/miniblog/internal/changes"
	"github.com/hyperjump/miniblog/internal/models"
)

// Session is a unit of work. Entities passed to Add, Update and Delete are
// written in one transaction by Commit, in the order they were first seen.
// Entities must be pointers to model types. A Session is not safe for
// concurrent use; each request gets its own.
type Session struct {
	store   *SQLiteStorage
	tracker *changes.Tracker
}

// Add stages entities for insertion. Generated IDs are set on Commit.
func (s *Session) Add(entities ...interface{}) {
	for _, e := range entities {
		s.tracker.MarkNew(e)
	}
}

// Update stages entities whose fields changed.
func (s *Session) Update(entities ...interface{}) {
	for _, e := range entities {
		s.tracker.MarkDirty(e)
	}
}

// Delete stages entities for deletion.
func (s *Session) Delete(entities ...interface{}) {
	for _, e := range entities {
		s.tracker.MarkDeleted(e)
	}
}

// Pending returns the number of staged entities.
func (s *Session) Pending() int {
	return s.tracker.Len()
}

// Rollback discards staged changes.
func (s *Session) Rollback() {
	s.tracker.Reset()
}

// Commit writes staged changes in a single transaction. The change set is
// captured before the transaction commits and handed to the storage's commit
// hooks only when the commit succeeded. Staged changes are cleared either way.
// When the commit fails, IDs generated for added entities are reset to zero.
func (s *Session) Commit(ctx context.Context) error {
	if s.tracker.Len() == 0 {
		return nil
	}
	set := s.tracker.Snapshot()
	defer s.tracker.Reset()

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	err = s.tracker.Pending(func(e interface{}, isNew, isDirty, isDeleted bool) error {
		switch {
		case isNew:
			return insertEntity(ctx, tx, e)
		case isDirty:
			return updateEntity(ctx, tx, e)
		case isDeleted:
			return deleteEntity(ctx, tx, e)
		}
		return nil
	})
	if err != nil {
		_ = tx.Rollback()
		clearGeneratedIDs(set.Added)
		return err
	}
	if err := tx.Commit(); err != nil {
		clearGeneratedIDs(set.Added)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.store.runHooks(ctx, set)
	return nil
}

// clearGeneratedIDs undoes the IDs insertEntity assigned inside a rolled back
// transaction. Task IDs come from the caller and are kept.
func clearGeneratedIDs(added []interface{}) {
	for _, e := range added {
		switch v := e.(type) {
		case *models.User:
			v.ID = 0
		case *models.Post:
			v.ID = 0
		case *models.Message:
			v.ID = 0
		case *models.Notification:
			v.ID = 0
		}
	}
}

func now() time.Time {
	return time.Now().UTC()
}

func lastInsertID(res sql.Result) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read generated id: %w", err)
	}
	return id, nil
}

func insertEntity(ctx context.Context, tx *sql.Tx, e interface{}) error {
	switch v := e.(type) {
	case *models.User:
		if v.LastSeen.IsZero() {
			v.LastSeen = now()
		}
		if v.LastMessageReadTime.IsZero() {
			v.LastMessageReadTime = v.LastSeen
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users (username, email, about_me, last_seen, last_message_read_time)
			 VALUES (?, ?, ?, ?, ?)`,
			v.Username, v.Email, v.AboutMe, v.LastSeen.UTC(), v.LastMessageReadTime.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert user %q: %w", v.Username, err)
		}
		v.ID, err = lastInsertID(res)
		return err
	case *models.Post:
		if v.Timestamp.IsZero() {
			v.Timestamp = now()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO posts (body, timestamp, user_id) VALUES (?, ?, ?)`,
			v.Body, v.Timestamp.UTC(), v.UserID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert post: %w", err)
		}
		v.ID, err = lastInsertID(res)
		return err
	case *models.Follow:
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO followers (follower_id, followed_id) VALUES (?, ?)`,
			v.FollowerID, v.FollowedID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert follow: %w", err)
		}
		return nil
	case *models.Message:
		if v.Timestamp.IsZero() {
			v.Timestamp = now()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (sender_id, recipient_id, body, timestamp) VALUES (?, ?, ?, ?)`,
			v.SenderID, v.RecipientID, v.Body, v.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		v.ID, err = lastInsertID(res)
		return err
	case *models.Notification:
		if v.Timestamp == 0 {
			v.Timestamp = float64(time.Now().UnixNano()) / 1e9
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO notifications (name, user_id, timestamp, payload_json) VALUES (?, ?, ?, ?)`,
			v.Name, v.UserID, v.Timestamp, v.PayloadJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		v.ID, err = lastInsertID(res)
		return err
	case *models.Task:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, name, description, user_id, complete) VALUES (?, ?, ?, ?, ?)`,
			v.ID, v.Name, v.Description, v.UserID, v.Complete,
		)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", v.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("insert: unsupported entity type %T", e)
	}
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func updateEntity(ctx context.Context, tx *sql.Tx, e interface{}) error {
	var (
		res  sql.Result
		err  error
		what string
	)
	switch v := e.(type) {
	case *models.User:
		what = fmt.Sprintf("user %d", v.ID)
		res, err = tx.ExecContext(ctx,
			`UPDATE users SET username = ?, email = ?, about_me = ?, last_seen = ?, last_message_read_time = ?
			 WHERE id = ?`,
			v.Username, v.Email, v.AboutMe, v.LastSeen.UTC(), v.LastMessageReadTime.UTC(), v.ID,
		)
	case *models.Post:
		what = fmt.Sprintf("post %d", v.ID)
		res, err = tx.ExecContext(ctx,
			`UPDATE posts SET body = ?, timestamp = ?, user_id = ? WHERE id = ?`,
			v.Body, v.Timestamp.UTC(), v.UserID, v.ID,
		)
	case *models.Message:
		what = fmt.Sprintf("message %d", v.ID)
		res, err = tx.ExecContext(ctx, `UPDATE messages SET body = ? WHERE id = ?`, v.Body, v.ID)
	case *models.Notification:
		what = fmt.Sprintf("notification %d", v.ID)
		res, err = tx.ExecContext(ctx,
			`UPDATE notifications SET name = ?, timestamp = ?, payload_json = ? WHERE id = ?`,
			v.Name, v.Timestamp, v.PayloadJSON, v.ID,
		)
	case *models.Task:
		what = fmt.Sprintf("task %s", v.ID)
		res, err = tx.ExecContext(ctx,
			`UPDATE tasks SET name = ?, description = ?, complete = ? WHERE id = ?`,
			v.Name, v.Description, v.Complete, v.ID,
		)
	default:
		return fmt.Errorf("update: unsupported entity type %T", e)
	}
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	return expectRow(res, what)
}

func deleteEntity(ctx context.Context, tx *sql.Tx, e interface{}) error {
	var err error
	switch v := e.(type) {
	case *models.User:
		_, err = tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, v.ID)
	case *models.Post:
		_, err = tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, v.ID)
	case *models.Follow:
		_, err = tx.ExecContext(ctx,
			`DELETE FROM followers WHERE follower_id = ? AND followed_id = ?`,
			v.FollowerID, v.FollowedID,
		)
	case *models.Message:
		_, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, v.ID)
	case *models.Notification:
		_, err = tx.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, v.ID)
	case *models.Task:
		_, err = tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, v.ID)
	default:
		return fmt.Errorf("delete: unsupported entity type %T", e)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %T: %w", e, err)
	}
	return nil
}
