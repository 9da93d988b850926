// Package storage defines the relational persistence layer for the blog.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/miniblog/internal/changes"
	"github.com/hyperjump/miniblog/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// CommitHook receives the change set of every successful commit.
// It runs after the transaction is durable and cannot fail the commit.
type CommitHook interface {
	AfterCommit(ctx context.Context, set *changes.Set)
}

// CommitHookFunc adapts a function to CommitHook.
type CommitHookFunc func(ctx context.Context, set *changes.Set)

// AfterCommit calls f.
func (f CommitHookFunc) AfterCommit(ctx context.Context, set *changes.Set) { f(ctx, set) }

// Storage defines reads, the unit of work used for writes, and commit hooks.
type Storage interface {
	// Begin starts a unit of work. Writes only reach the database on Session.Commit.
	Begin() *Session
	// OnCommit registers a hook run after every successful commit.
	OnCommit(hook CommitHook)

	// Users
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	IsFollowing(ctx context.Context, followerID, followedID int64) (bool, error)
	CountFollowers(ctx context.Context, userID int64) (int, error)
	CountFollowing(ctx context.Context, userID int64) (int, error)

	// Posts
	GetPost(ctx context.Context, id int64) (*models.Post, error)
	PostsByIDs(ctx context.Context, ids []string) ([]*models.Post, error)
	EachPost(ctx context.Context, fn func(*models.Post) error) error
	UserPosts(ctx context.Context, userID int64, page, perPage int) (*models.Page[*models.Post], error)
	ExplorePosts(ctx context.Context, page, perPage int) (*models.Page[*models.Post], error)
	FollowedPosts(ctx context.Context, userID int64, page, perPage int) (*models.Page[*models.Post], error)
	CountPosts(ctx context.Context) (int64, error)

	// Messages and notifications
	ReceivedMessages(ctx context.Context, userID int64, page, perPage int) (*models.Page[*models.Message], error)
	CountMessagesSince(ctx context.Context, recipientID int64, since time.Time) (int, error)
	NotificationsByName(ctx context.Context, userID int64, name string) ([]*models.Notification, error)
	NotificationsSince(ctx context.Context, userID int64, since float64) ([]*models.Notification, error)

	// Tasks
	GetTask(ctx context.Context, id string) (*models.Task, error)
	TasksInProgress(ctx context.Context, userID int64) ([]*models.Task, error)
	TaskInProgressByName(ctx context.Context, userID int64, name string) (*models.Task, error)

	Close() error
}
