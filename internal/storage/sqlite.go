// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/miniblog/internal/changes"
	"github.com/hyperjump/miniblog/internal/models"
)

const eachPostBatch = 500

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB

	hooksMu sync.RWMutex
	hooks   []CommitHook
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	inMemory := dbPath == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		about_me TEXT NOT NULL DEFAULT '',
		last_seen DATETIME NOT NULL,
		last_message_read_time DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS followers (
		follower_id INTEGER NOT NULL,
		followed_id INTEGER NOT NULL,
		PRIMARY KEY (follower_id, followed_id)
	);

	CREATE INDEX IF NOT EXISTS idx_followers_followed ON followers(followed_id);

	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		body TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		user_id INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_posts_timestamp ON posts(timestamp);
	CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL,
		recipient_id INTEGER NOT NULL,
		body TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id, timestamp);

	CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		timestamp REAL NOT NULL,
		payload_json TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, timestamp);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		user_id INTEGER NOT NULL,
		complete INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, complete);
	`
	_, err := db.Exec(schema)
	return err
}

// Begin starts a unit of work.
func (s *SQLiteStorage) Begin() *Session {
	return &Session{store: s, tracker: changes.NewTracker()}
}

// OnCommit registers hook to run after every successful commit.
func (s *SQLiteStorage) OnCommit(hook CommitHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *SQLiteStorage) runHooks(ctx context.Context, set *changes.Set) {
	s.hooksMu.RLock()
	hooks := append([]CommitHook(nil), s.hooks...)
	s.hooksMu.RUnlock()
	for _, h := range hooks {
		h.AfterCommit(ctx, set)
	}
}

const userColumns = `id, username, email, about_me, last_seen, last_message_read_time`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.AboutMe, &u.LastSeen, &u.LastMessageReadTime); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser returns a user by ID.
func (s *SQLiteStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, err
}

// GetUserByUsername returns a user by username.
func (s *SQLiteStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return u, err
}

// IsFollowing reports whether followerID follows followedID.
func (s *SQLiteStorage) IsFollowing(ctx context.Context, followerID, followedID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM followers WHERE follower_id = ? AND followed_id = ?`,
		followerID, followedID,
	).Scan(&n)
	return n > 0, err
}

// CountFollowers returns how many users follow userID.
func (s *SQLiteStorage) CountFollowers(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM followers WHERE followed_id = ?`, userID).Scan(&n)
	return n, err
}

// CountFollowing returns how many users userID follows.
func (s *SQLiteStorage) CountFollowing(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM followers WHERE follower_id = ?`, userID).Scan(&n)
	return n, err
}

const postColumns = `p.id, p.body, p.timestamp, p.user_id, COALESCE(u.username, '')`

const postFrom = ` FROM posts p LEFT JOIN users u ON u.id = p.user_id`

func scanPosts(rows *sql.Rows) ([]*models.Post, error) {
	defer rows.Close()
	var posts []*models.Post
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.Body, &p.Timestamp, &p.UserID, &p.Author); err != nil {
			return nil, err
		}
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

// GetPost returns a post by ID.
func (s *SQLiteStorage) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postColumns+postFrom+` WHERE p.id = ?`, id)
	if err != nil {
		return nil, err
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	return posts[0], nil
}

// PostsByIDs returns the posts whose id is in ids, in no particular order.
// Ids that are not integers or not present are skipped.
func (s *SQLiteStorage) PostsByIDs(ctx context.Context, ids []string) ([]*models.Post, error) {
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		args = append(args, n)
	}
	if len(args) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+postFrom+` WHERE p.id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

// EachPost calls fn for every post in id order. Rows are read in batches so no
// connection is held while fn runs.
func (s *SQLiteStorage) EachPost(ctx context.Context, fn func(*models.Post) error) error {
	var after int64
	for {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+postColumns+postFrom+` WHERE p.id > ? ORDER BY p.id LIMIT ?`,
			after, eachPostBatch,
		)
		if err != nil {
			return err
		}
		batch, err := scanPosts(rows)
		if err != nil {
			return err
		}
		for _, p := range batch {
			if err := fn(p); err != nil {
				return err
			}
			after = p.ID
		}
		if len(batch) < eachPostBatch {
			return nil
		}
	}
}

func (s *SQLiteStorage) pagePosts(ctx context.Context, where string, args []interface{}, page, perPage int) (*models.Page[*models.Post], error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts p WHERE `+where, args...).Scan(&total); err != nil {
		return nil, err
	}
	out := &models.Page[*models.Post]{Total: total, Page: page, PerPage: perPage}
	if total == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+postFrom+` WHERE `+where+` ORDER BY p.timestamp DESC, p.id DESC LIMIT ? OFFSET ?`,
		append(args, perPage, models.Offset(page, perPage))...,
	)
	if err != nil {
		return nil, err
	}
	out.Items, err = scanPosts(rows)
	return out, err
}

// UserPosts returns one page of a user's posts, newest first.
func (s *SQLiteStorage) UserPosts(ctx context.Context, userID int64, page, perPage int) (*models.Page[*models.Post], error) {
	return s.pagePosts(ctx, `p.user_id = ?`, []interface{}{userID}, page, perPage)
}

// ExplorePosts returns one page of all posts, newest first.
func (s *SQLiteStorage) ExplorePosts(ctx context.Context, page, perPage int) (*models.Page[*models.Post], error) {
	return s.pagePosts(ctx, `1 = 1`, nil, page, perPage)
}

// FollowedPosts returns the posts of the users userID follows together with
// userID's own posts, newest first.
func (s *SQLiteStorage) FollowedPosts(ctx context.Context, userID int64, page, perPage int) (*models.Page[*models.Post], error) {
	return s.pagePosts(ctx,
		`(p.user_id = ? OR p.user_id IN (SELECT followed_id FROM followers WHERE follower_id = ?))`,
		[]interface{}{userID, userID}, page, perPage,
	)
}

// CountPosts returns the total number of posts.
func (s *SQLiteStorage) CountPosts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&count)
	return count, err
}

// ReceivedMessages returns one page of messages sent to userID, newest first.
func (s *SQLiteStorage) ReceivedMessages(ctx context.Context, userID int64, page, perPage int) (*models.Page[*models.Message], error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE recipient_id = ?`, userID).Scan(&total); err != nil {
		return nil, err
	}
	out := &models.Page[*models.Message]{Total: total, Page: page, PerPage: perPage}
	if total == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, recipient_id, body, timestamp FROM messages
		 WHERE recipient_id = ? ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		userID, perPage, models.Offset(page, perPage),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		out.Items = append(out.Items, &m)
	}
	return out, rows.Err()
}

// CountMessagesSince counts messages received by recipientID after since.
func (s *SQLiteStorage) CountMessagesSince(ctx context.Context, recipientID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE recipient_id = ? AND timestamp > ?`,
		recipientID, since.UTC(),
	).Scan(&n)
	return n, err
}

func (s *SQLiteStorage) queryNotifications(ctx context.Context, query string, args ...interface{}) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Name, &n.UserID, &n.Timestamp, &n.PayloadJSON); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// NotificationsByName returns userID's notifications called name.
func (s *SQLiteStorage) NotificationsByName(ctx context.Context, userID int64, name string) ([]*models.Notification, error) {
	return s.queryNotifications(ctx,
		`SELECT id, name, user_id, timestamp, payload_json FROM notifications
		 WHERE user_id = ? AND name = ? ORDER BY timestamp`,
		userID, name,
	)
}

// NotificationsSince returns userID's notifications newer than since, oldest first.
func (s *SQLiteStorage) NotificationsSince(ctx context.Context, userID int64, since float64) ([]*models.Notification, error) {
	return s.queryNotifications(ctx,
		`SELECT id, name, user_id, timestamp, payload_json FROM notifications
		 WHERE user_id = ? AND timestamp > ? ORDER BY timestamp`,
		userID, since,
	)
}

func (s *SQLiteStorage) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.UserID, &t.Complete); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// GetTask returns a task by ID.
func (s *SQLiteStorage) GetTask(ctx context.Context, id string) (*models.Task, error) {
	tasks, err := s.queryTasks(ctx, `SELECT id, name, description, user_id, complete FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return tasks[0], nil
}

// TasksInProgress returns userID's incomplete tasks.
func (s *SQLiteStorage) TasksInProgress(ctx context.Context, userID int64) ([]*models.Task, error) {
	return s.queryTasks(ctx,
		`SELECT id, name, description, user_id, complete FROM tasks WHERE user_id = ? AND complete = 0`,
		userID,
	)
}

// TaskInProgressByName returns userID's first incomplete task called name.
func (s *SQLiteStorage) TaskInProgressByName(ctx context.Context, userID int64, name string) (*models.Task, error) {
	tasks, err := s.queryTasks(ctx,
		`SELECT id, name, description, user_id, complete FROM tasks
		 WHERE user_id = ? AND name = ? AND complete = 0 LIMIT 1`,
		userID, name,
	)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %q in progress: %w", name, ErrNotFound)
	}
	return tasks[0], nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
