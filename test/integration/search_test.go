// Package integration exercises the blog service against on-disk SQLite and Bleve.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/miniblog/internal/blog"
	"github.com/hyperjump/miniblog/internal/config"
	"github.com/hyperjump/miniblog/internal/index"
	"github.com/hyperjump/miniblog/internal/models"
	"github.com/hyperjump/miniblog/internal/storage"
	"github.com/hyperjump/miniblog/internal/tasks"
)

type stack struct {
	store  *storage.SQLiteStorage
	client *index.BleveClient
	svc    *blog.Service
}

func open(t *testing.T, cfg *config.Config) *stack {
	t.Helper()
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	client, err := index.NewBleveClient(cfg.Storage.IndexPath)
	if err != nil {
		_ = store.Close()
		t.Fatal(err)
	}
	svc := blog.NewService(store, client, tasks.NewMemoryQueue(),
		blog.WithPaging(cfg.Blog.PostsPerPage, cfg.Blog.MaxPerPage))
	return &stack{store: store, client: client, svc: svc}
}

func (s *stack) close() {
	_ = s.client.Close()
	_ = s.store.Close()
}

func search(t *testing.T, svc *blog.Service, q string) *models.Page[*models.Post] {
	t.Helper()
	page, err := svc.SearchPosts(context.Background(), models.SearchQuery{Query: q})
	if err != nil {
		t.Fatal(err)
	}
	return page
}

func TestIntegration_SearchSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath: filepath.Join(dir, "db.sqlite"),
			IndexPath:    filepath.Join(dir, "index"),
		},
	}
	config.ApplyDefaults(cfg)
	ctx := context.Background()

	s := open(t, cfg)
	u, err := s.svc.Register(ctx, "john", "john@example.com")
	if err != nil {
		t.Fatal(err)
	}
	keep, err := s.svc.CreatePost(ctx, u.ID, "the quick brown fox")
	if err != nil {
		t.Fatal(err)
	}
	gone, err := s.svc.CreatePost(ctx, u.ID, "a quick detour")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.svc.DeletePost(ctx, u.ID, gone.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.svc.EditPost(ctx, u.ID, keep.ID, "the quick brown fox jumps"); err != nil {
		t.Fatal(err)
	}
	s.close()

	s = open(t, cfg)
	defer s.close()

	page := search(t, s.svc, "quick")
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("after restart: page = %+v", page)
	}
	if got := page.Items[0]; got.ID != keep.ID || got.Body != "the quick brown fox jumps" || got.Author != "john" {
		t.Errorf("post = %+v", got)
	}
	if page := search(t, s.svc, "detour"); page.Total != 0 {
		t.Errorf("deleted post still searchable: %+v", page)
	}
}

func TestIntegration_ReindexRepairsDrift(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath: filepath.Join(dir, "db.sqlite"),
			IndexPath:    filepath.Join(dir, "index"),
		},
	}
	config.ApplyDefaults(cfg)
	ctx := context.Background()

	s := open(t, cfg)
	defer s.close()

	u, err := s.svc.Register(ctx, "mary", "mary@example.com")
	if err != nil {
		t.Fatal(err)
	}
	for _, body := range []string{"golang tips", "golang tricks", "cooking"} {
		if _, err := s.svc.CreatePost(ctx, u.ID, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.svc.DropIndex(ctx); err != nil {
		t.Fatal(err)
	}
	if page := search(t, s.svc, "golang"); page.Total != 0 {
		t.Fatalf("dropped index still answers: %+v", page)
	}
	n, err := s.svc.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("reindexed %d posts, want 3", n)
	}
	if page := search(t, s.svc, "golang"); page.Total != 2 || len(page.Items) != 2 {
		t.Errorf("after reindex: %+v", page)
	}
}
