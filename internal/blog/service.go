// Package blog implements the miniblog's user-facing operations on top of the
// relational store, the search index and the task queue.
package blog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/miniblog/internal/index"
	"github.com/hyperjump/miniblog/internal/indexer"
	"github.com/hyperjump/miniblog/internal/metrics"
	"github.com/hyperjump/miniblog/internal/models"
	"github.com/hyperjump/miniblog/internal/search"
	"github.com/hyperjump/miniblog/internal/searchable"
	"github.com/hyperjump/miniblog/internal/storage"
	"github.com/hyperjump/miniblog/internal/tasks"
	"go.uber.org/zap"
)

const (
	// MaxPostLength bounds post bodies and the about-me text.
	MaxPostLength = 140

	// UnreadMessageCount is the notification carrying a user's unread message count.
	UnreadMessageCount = "unread_message_count"
)

// Service wires the store, index synchronization, search and tasks together.
type Service struct {
	store  storage.Storage
	index  index.Client
	sync   *indexer.Synchronizer
	posts  *search.Reconciler[*models.Post]
	queue  tasks.Queue
	logger *zap.Logger

	perPage    int
	maxPerPage int
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger; it is also handed to index sync and search.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records index and search metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPaging sets the default and maximum page sizes.
func WithPaging(perPage, maxPerPage int) Option {
	return func(s *Service) {
		s.perPage = perPage
		s.maxPerPage = maxPerPage
	}
}

// NewService creates the service and registers index sync as a commit hook on store.
func NewService(store storage.Storage, client index.Client, queue tasks.Queue, opts ...Option) *Service {
	s := &Service{
		store:      store,
		index:      client,
		queue:      queue,
		logger:     zap.NewNop(),
		perPage:    25,
		maxPerPage: 100,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sync = indexer.NewSynchronizer(client,
		indexer.WithLogger(s.logger),
		indexer.WithMetrics(s.metrics),
	)
	s.posts = search.NewReconciler[*models.Post](client, models.PostCollection, store.PostsByIDs,
		search.WithLogger(s.logger),
		search.WithMetrics(s.metrics),
	)
	store.OnCommit(s.sync)
	return s
}

// PerPage returns the default page size.
func (s *Service) PerPage() int {
	return s.perPage
}

func (s *Service) window(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = s.perPage
	}
	if s.maxPerPage > 0 && perPage > s.maxPerPage {
		perPage = s.maxPerPage
	}
	return page, perPage
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validateText(field, text string, required bool) (string, error) {
	text = strings.TrimSpace(text)
	if required && text == "" {
		return "", invalid("%s cannot be empty", field)
	}
	if len([]rune(text)) > MaxPostLength {
		return "", invalid("%s must be at most %d characters", field, MaxPostLength)
	}
	return text, nil
}

// Register creates a user with a unique username.
func (s *Service) Register(ctx context.Context, username, email string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return nil, invalid("username cannot be empty")
	}
	if !strings.Contains(email, "@") {
		return nil, invalid("email %q is not valid", email)
	}
	if err := s.ensureUsernameFree(ctx, username, 0); err != nil {
		return nil, err
	}
	u := &models.User{Username: username, Email: email}
	sess := s.store.Begin()
	sess.Add(u)
	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("register %s: %w", username, err)
	}
	s.logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("username", username))
	return u, nil
}

func (s *Service) ensureUsernameFree(ctx context.Context, username string, selfID int64) error {
	existing, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != selfID {
		return fmt.Errorf("username %q: %w", username, ErrConflict)
	}
	return nil
}

// Profile is a user with follower statistics.
type Profile struct {
	*models.User
	Avatar    string `json:"avatar"`
	Followers int    `json:"followers"`
	Following int    `json:"following"`
}

// GetProfile returns the public profile of username.
func (s *Service) GetProfile(ctx context.Context, username string) (*Profile, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	followers, err := s.store.CountFollowers(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	following, err := s.store.CountFollowing(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &Profile{User: u, Avatar: u.Avatar(128), Followers: followers, Following: following}, nil
}

// UpdateProfile changes the username and about-me text of userID.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, username, aboutMe string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, invalid("username cannot be empty")
	}
	aboutMe, err := validateText("about_me", aboutMe, false)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if username != u.Username {
		if err := s.ensureUsernameFree(ctx, username, u.ID); err != nil {
			return nil, err
		}
	}
	u.Username = username
	u.AboutMe = aboutMe
	sess := s.store.Begin()
	sess.Update(u)
	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("update profile of user %d: %w", userID, err)
	}
	return u, nil
}

// Touch records that userID was just active.
func (s *Service) Touch(ctx context.Context, userID int64) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	u.LastSeen = s.now()
	sess := s.store.Begin()
	sess.Update(u)
	return sess.Commit(ctx)
}

// CreatePost publishes a post by userID. The post becomes searchable once the commit succeeds.
func (s *Service) CreatePost(ctx context.Context, userID int64, body string) (*models.Post, error) {
	body, err := validateText("post", body, true)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &models.Post{Body: body, UserID: u.ID, Timestamp: s.now()}
	sess := s.store.Begin()
	sess.Add(p)
	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	p.Author = u.Username
	return p, nil
}

// GetPost returns one post.
func (s *Service) GetPost(ctx context.Context, postID int64) (*models.Post, error) {
	return s.store.GetPost(ctx, postID)
}

func (s *Service) ownPost(ctx context.Context, userID, postID int64) (*models.Post, error) {
	p, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("post %d: %w", postID, ErrForbidden)
	}
	return p, nil
}

// EditPost replaces the body of one of userID's posts.
func (s *Service) EditPost(ctx context.Context, userID, postID int64, body string) (*models.Post, error) {
	body, err := validateText("post", body, true)
	if err != nil {
		return nil, err
	}
	p, err := s.ownPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	p.Body = body
	sess := s.store.Begin()
	sess.Update(p)
	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("edit post %d: %w", postID, err)
	}
	return p, nil
}

// DeletePost removes one of userID's posts.
func (s *Service) DeletePost(ctx context.Context, userID, postID int64) error {
	p, err := s.ownPost(ctx, userID, postID)
	if err != nil {
		return err
	}
	sess := s.store.Begin()
	sess.Delete(p)
	if err := sess.Commit(ctx); err != nil {
		return fmt.Errorf("delete post %d: %w", postID, err)
	}
	return nil
}

func (s *Service) followTarget(ctx context.Context, userID int64, username string) (*models.User, error) {
	target, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if target.ID == userID {
		return nil, ErrSelfFollow
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return target, nil
}

// Follow makes userID follow username. Following twice is a no-op.
func (s *Service) Follow(ctx context.Context, userID int64, username string) error {
	target, err := s.followTarget(ctx, userID, username)
	if err != nil {
		return err
	}
	ok, err := s.store.IsFollowing(ctx, userID, target.ID)
	if err != nil || ok {
		return err
	}
	sess := s.store.Begin()
	sess.Add(&models.Follow{FollowerID: userID, FollowedID: target.ID})
	return sess.Commit(ctx)
}

// Unfollow stops userID following username. Unfollowing a stranger is a no-op.
func (s *Service) Unfollow(ctx context.Context, userID int64, username string) error {
	target, err := s.followTarget(ctx, userID, username)
	if err != nil {
		return err
	}
	ok, err := s.store.IsFollowing(ctx, userID, target.ID)
	if err != nil || !ok {
		return err
	}
	sess := s.store.Begin()
	sess.Delete(&models.Follow{FollowerID: userID, FollowedID: target.ID})
	return sess.Commit(ctx)
}

// Feed returns posts by userID and the users they follow, newest first.
func (s *Service) Feed(ctx context.Context, userID int64, page, perPage int) (*models.Page[*models.Post], error) {
	page, perPage = s.window(page, perPage)
	return s.store.FollowedPosts(ctx, userID, page, perPage)
}

// Explore returns every post, newest first.
func (s *Service) Explore(ctx context.Context, page, perPage int) (*models.Page[*models.Post], error) {
	page, perPage = s.window(page, perPage)
	return s.store.ExplorePosts(ctx, page, perPage)
}

// UserPosts returns username's posts, newest first.
func (s *Service) UserPosts(ctx context.Context, username string, page, perPage int) (*models.Page[*models.Post], error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	page, perPage = s.window(page, perPage)
	return s.store.UserPosts(ctx, u.ID, page, perPage)
}

// SearchPosts returns posts matching q in relevance order.
func (s *Service) SearchPosts(ctx context.Context, q models.SearchQuery) (*models.Page[*models.Post], error) {
	if err := q.Validate(s.perPage, s.maxPerPage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.posts.Search(ctx, q.Query, q.Page, q.PerPage)
}

// Reindex rebuilds the post index from the database and returns the number
// of documents written.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	return s.sync.Reindex(ctx, models.PostCollection, func(ctx context.Context, yield func(searchable.Searchable) error) error {
		return s.store.EachPost(ctx, func(p *models.Post) error { return yield(p) })
	})
}

// IndexStats compares the number of posts in the database with the number
// of documents in the post index. A difference means the index drifted and
// needs Reindex.
type IndexStats struct {
	Posts   int64 `json:"posts"`
	Indexed int   `json:"indexed"`
	InSync  bool  `json:"in_sync"`
}

// IndexStats reports post counts in the database and in the index.
func (s *Service) IndexStats(ctx context.Context) (*IndexStats, error) {
	posts, err := s.store.CountPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	indexed, err := s.index.DocCount(ctx, models.PostCollection)
	if err != nil {
		return nil, fmt.Errorf("count indexed posts: %w", err)
	}
	return &IndexStats{Posts: posts, Indexed: indexed, InSync: posts == int64(indexed)}, nil
}

// DropIndex deletes the post index. Search returns nothing until the next Reindex.
func (s *Service) DropIndex(ctx context.Context) error {
	return s.sync.DeleteCollection(ctx, models.PostCollection)
}
