package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/hyperjump/miniblog/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustCommit(t *testing.T, sess *Session) {
	t.Helper()
	if err := sess.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func addUser(t *testing.T, store *SQLiteStorage, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com"}
	sess := store.Begin()
	sess.Add(u)
	mustCommit(t, sess)
	return u
}

func TestSQLiteStorage_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "blog.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	u := addUser(t, store, "disk")
	got, err := store.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Username != "disk" {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteStorage_Users(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := addUser(t, store, "alice")
	if u.ID == 0 {
		t.Fatal("ID should be set on commit")
	}
	if u.LastSeen.IsZero() || u.LastMessageReadTime.IsZero() {
		t.Error("timestamps should default on insert")
	}

	got, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != u.ID || got.Email != "alice@example.com" {
		t.Errorf("got %+v", got)
	}

	got.AboutMe = "hi there"
	sess := store.Begin()
	sess.Update(got)
	mustCommit(t, sess)
	again, _ := store.GetUser(ctx, u.ID)
	if again.AboutMe != "hi there" {
		t.Errorf("AboutMe = %q", again.AboutMe)
	}

	if _, err := store.GetUser(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_Follow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := addUser(t, store, "a")
	b := addUser(t, store, "b")

	sess := store.Begin()
	sess.Add(&models.Follow{FollowerID: a.ID, FollowedID: b.ID})
	mustCommit(t, sess)

	ok, err := store.IsFollowing(ctx, a.ID, b.ID)
	if err != nil || !ok {
		t.Fatalf("IsFollowing = %v, %v", ok, err)
	}
	if ok, _ := store.IsFollowing(ctx, b.ID, a.ID); ok {
		t.Error("follow should be directed")
	}
	if n, _ := store.CountFollowers(ctx, b.ID); n != 1 {
		t.Errorf("CountFollowers = %d", n)
	}
	if n, _ := store.CountFollowing(ctx, a.ID); n != 1 {
		t.Errorf("CountFollowing = %d", n)
	}

	sess = store.Begin()
	sess.Delete(&models.Follow{FollowerID: a.ID, FollowedID: b.ID})
	mustCommit(t, sess)
	if ok, _ := store.IsFollowing(ctx, a.ID, b.ID); ok {
		t.Error("still following after delete")
	}
}

func TestSQLiteStorage_PostsByIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := addUser(t, store, "writer")

	sess := store.Begin()
	var posts []*models.Post
	for i := 0; i < 3; i++ {
		p := &models.Post{Body: "post " + strconv.Itoa(i), UserID: u.ID}
		posts = append(posts, p)
		sess.Add(p)
	}
	mustCommit(t, sess)

	ids := []string{strconv.FormatInt(posts[2].ID, 10), "not-a-number", strconv.FormatInt(posts[0].ID, 10), "999"}
	got, err := store.PostsByIDs(ctx, ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(got))
	}
	for _, p := range got {
		if p.Author != "writer" {
			t.Errorf("Author = %q", p.Author)
		}
	}

	none, err := store.PostsByIDs(ctx, nil)
	if err != nil || len(none) != 0 {
		t.Errorf("empty id set: %v, %v", none, err)
	}
}

func TestSQLiteStorage_EachPost(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := addUser(t, store, "bulk")

	sess := store.Begin()
	const n = eachPostBatch + 7
	for i := 0; i < n; i++ {
		sess.Add(&models.Post{Body: "p", UserID: u.ID})
	}
	mustCommit(t, sess)

	count := 0
	var last int64
	err := store.EachPost(ctx, func(p *models.Post) error {
		if p.ID <= last {
			t.Errorf("ids out of order: %d after %d", p.ID, last)
		}
		last = p.ID
		count++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != n {
		t.Errorf("visited %d posts, want %d", count, n)
	}

	stop := errors.New("stop")
	if err := store.EachPost(ctx, func(*models.Post) error { return stop }); !errors.Is(err, stop) {
		t.Errorf("callback error not returned: %v", err)
	}
}

func TestSQLiteStorage_FollowedPosts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	me := addUser(t, store, "me")
	friend := addUser(t, store, "friend")
	stranger := addUser(t, store, "stranger")

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sess := store.Begin()
	sess.Add(
		&models.Follow{FollowerID: me.ID, FollowedID: friend.ID},
		&models.Post{Body: "mine", UserID: me.ID, Timestamp: base},
		&models.Post{Body: "friend's", UserID: friend.ID, Timestamp: base.Add(time.Minute)},
		&models.Post{Body: "stranger's", UserID: stranger.ID, Timestamp: base.Add(2 * time.Minute)},
	)
	mustCommit(t, sess)

	feed, err := store.FollowedPosts(ctx, me.ID, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if feed.Total != 2 || len(feed.Items) != 2 {
		t.Fatalf("feed: total=%d items=%d", feed.Total, len(feed.Items))
	}
	if feed.Items[0].Body != "friend's" || feed.Items[1].Body != "mine" {
		t.Errorf("feed order: %q, %q", feed.Items[0].Body, feed.Items[1].Body)
	}

	explore, err := store.ExplorePosts(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if explore.Total != 3 || len(explore.Items) != 2 || !explore.HasNext() {
		t.Errorf("explore: %+v", explore)
	}
	if explore.Items[0].Body != "stranger's" {
		t.Errorf("explore newest first: %q", explore.Items[0].Body)
	}

	mine, err := store.UserPosts(ctx, me.ID, 1, 10)
	if err != nil || mine.Total != 1 {
		t.Errorf("UserPosts: %+v, %v", mine, err)
	}
	if n, _ := store.CountPosts(ctx); n != 3 {
		t.Errorf("CountPosts = %d", n)
	}
}

func TestSQLiteStorage_MessagesAndNotifications(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := addUser(t, store, "a")
	b := addUser(t, store, "b")

	before := time.Now().UTC().Add(-time.Hour)
	sess := store.Begin()
	sess.Add(
		&models.Message{SenderID: a.ID, RecipientID: b.ID, Body: "hi"},
		&models.Message{SenderID: a.ID, RecipientID: b.ID, Body: "again"},
		&models.Notification{Name: "unread_message_count", UserID: b.ID, Timestamp: 10, PayloadJSON: "2"},
		&models.Notification{Name: "other", UserID: b.ID, Timestamp: 20, PayloadJSON: `{}`},
	)
	mustCommit(t, sess)

	msgs, err := store.ReceivedMessages(ctx, b.ID, 1, 10)
	if err != nil || msgs.Total != 2 {
		t.Fatalf("ReceivedMessages: %+v, %v", msgs, err)
	}
	if n, _ := store.CountMessagesSince(ctx, b.ID, before); n != 2 {
		t.Errorf("CountMessagesSince(before) = %d", n)
	}
	if n, _ := store.CountMessagesSince(ctx, b.ID, time.Now().Add(time.Hour)); n != 0 {
		t.Errorf("CountMessagesSince(future) = %d", n)
	}

	named, err := store.NotificationsByName(ctx, b.ID, "unread_message_count")
	if err != nil || len(named) != 1 {
		t.Fatalf("NotificationsByName: %v, %v", named, err)
	}
	since, err := store.NotificationsSince(ctx, b.ID, 15)
	if err != nil || len(since) != 1 || since[0].Name != "other" {
		t.Errorf("NotificationsSince: %v, %v", since, err)
	}
}

func TestSQLiteStorage_Tasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := addUser(t, store, "worker")

	task := &models.Task{ID: "job-1", Name: "export_posts", Description: "Exporting", UserID: u.ID}
	sess := store.Begin()
	sess.Add(task)
	mustCommit(t, sess)

	got, err := store.TaskInProgressByName(ctx, u.ID, "export_posts")
	if err != nil || got.ID != "job-1" {
		t.Fatalf("TaskInProgressByName: %+v, %v", got, err)
	}

	task.Complete = true
	sess = store.Begin()
	sess.Update(task)
	mustCommit(t, sess)

	inProgress, _ := store.TasksInProgress(ctx, u.ID)
	if len(inProgress) != 0 {
		t.Errorf("expected no tasks in progress, got %d", len(inProgress))
	}
	if _, err := store.TaskInProgressByName(ctx, u.ID, "export_posts"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	done, err := store.GetTask(ctx, "job-1")
	if err != nil || !done.Complete {
		t.Errorf("GetTask: %+v, %v", done, err)
	}
}
