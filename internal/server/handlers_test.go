package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/hyperjump/miniblog/internal/blog"
	"github.com/hyperjump/miniblog/internal/config"
	"github.com/hyperjump/miniblog/internal/index"
	"github.com/hyperjump/miniblog/internal/metrics"
	"github.com/hyperjump/miniblog/internal/storage"
	"github.com/hyperjump/miniblog/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func testServer(t *testing.T) http.Handler {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	client := index.NewMemoryClient()
	t.Cleanup(func() { _ = client.Close() })
	m := metrics.New(prometheus.NewRegistry())
	svc := blog.NewService(store, client, tasks.NewMemoryQueue(), blog.WithMetrics(m), blog.WithPaging(2, 10))
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return NewServer(svc, cfg, m, zap.NewNop()).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, userID int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if userID > 0 {
		r.Header.Set(UserHeader, strconv.FormatInt(userID, 10))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func register(t *testing.T, h http.Handler, name string) int64 {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/v1/users", 0, registerRequest{Username: name, Email: name + "@example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", name, w.Code, w.Body.String())
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.ID
}

type postsPage struct {
	Items []struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
	} `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PerPage  int `json:"per_page"`
	NextPage int `json:"next_page"`
	PrevPage int `json:"prev_page"`
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) postsPage {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var p postsPage
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestHandleHealth(t *testing.T) {
	h := testServer(t)
	w := do(t, h, http.MethodGet, "/health", 0, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestRequireUser(t *testing.T) {
	h := testServer(t)
	if w := do(t, h, http.MethodGet, "/api/v1/feed", 0, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no header: status %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/feed", 99, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: status %d", w.Code)
	}
}

func TestPostAndSearchFlow(t *testing.T) {
	h := testServer(t)
	uid := register(t, h, "susan")

	for _, body := range []string{"hello world", "hello again", "something else"} {
		w := do(t, h, http.MethodPost, "/api/v1/posts", uid, postRequest{Body: body})
		if w.Code != http.StatusCreated {
			t.Fatalf("create post: %d %s", w.Code, w.Body.String())
		}
	}

	p := decodePage(t, do(t, h, http.MethodGet, "/api/v1/search?q=hello", uid, nil))
	if p.Total != 2 || len(p.Items) != 2 || p.PerPage != 2 {
		t.Errorf("search page = %+v", p)
	}
	if p.NextPage != 0 || p.PrevPage != 0 {
		t.Errorf("single page should have no neighbours: %+v", p)
	}

	p = decodePage(t, do(t, h, http.MethodGet, "/api/v1/search?q=hello&per_page=1&page=2", uid, nil))
	if p.Total != 2 || len(p.Items) != 1 || p.PrevPage != 1 || p.NextPage != 0 {
		t.Errorf("second search page = %+v", p)
	}

	p = decodePage(t, do(t, h, http.MethodGet, "/api/v1/search?q=nothing", uid, nil))
	if p.Total != 0 || p.Items == nil {
		t.Errorf("zero search = %+v", p)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/search?q=", uid, nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty query: status %d", w.Code)
	}

	p = decodePage(t, do(t, h, http.MethodGet, "/api/v1/explore", uid, nil))
	if p.Total != 3 || len(p.Items) != 2 || p.NextPage != 2 {
		t.Errorf("explore = %+v", p)
	}
}

func TestPostOwnershipStatuses(t *testing.T) {
	h := testServer(t)
	owner := register(t, h, "owner")
	other := register(t, h, "other")

	w := do(t, h, http.MethodPost, "/api/v1/posts", owner, postRequest{Body: "mine"})
	var post struct {
		ID int64 `json:"id"`
	}
	_ = json.NewDecoder(w.Body).Decode(&post)
	path := "/api/v1/posts/" + strconv.FormatInt(post.ID, 10)

	if w := do(t, h, http.MethodPut, path, other, postRequest{Body: "hijack"}); w.Code != http.StatusForbidden {
		t.Errorf("edit by other: %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, path, other, nil); w.Code != http.StatusForbidden {
		t.Errorf("delete by other: %d", w.Code)
	}
	if w := do(t, h, http.MethodPut, path, owner, postRequest{Body: "edited"}); w.Code != http.StatusOK {
		t.Errorf("edit by owner: %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, path, owner, nil); w.Code != http.StatusOK {
		t.Errorf("delete by owner: %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, path, owner, nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted: %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/posts/abc", owner, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: %d", w.Code)
	}
}

func TestRegisterConflictAndProfile(t *testing.T) {
	h := testServer(t)
	register(t, h, "john")
	w := do(t, h, http.MethodPost, "/api/v1/users", 0, registerRequest{Username: "john", Email: "j2@example.com"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate: %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/v1/users/john", 0, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "gravatar") {
		t.Errorf("profile: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/api/v1/users/nobody", 0, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown profile: %d", w.Code)
	}
}

func TestFollowStatuses(t *testing.T) {
	h := testServer(t)
	a := register(t, h, "a")
	register(t, h, "b")
	if w := do(t, h, http.MethodPost, "/api/v1/users/a/follow", a, nil); w.Code != http.StatusBadRequest {
		t.Errorf("self follow: %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/users/b/follow", a, nil); w.Code != http.StatusOK {
		t.Errorf("follow: %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/users/b/follow", a, nil); w.Code != http.StatusOK {
		t.Errorf("unfollow: %d", w.Code)
	}
}

func TestMessagesAndNotificationsEndpoints(t *testing.T) {
	h := testServer(t)
	a := register(t, h, "alice")
	b := register(t, h, "bob")

	if w := do(t, h, http.MethodPost, "/api/v1/messages/bob", a, messageRequest{Body: "hi bob"}); w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	w := do(t, h, http.MethodGet, "/api/v1/messages/unread", b, nil)
	if !strings.Contains(w.Body.String(), `"unread":1`) {
		t.Errorf("unread: %s", w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/api/v1/notifications?since=0", b, nil)
	var notes []notificationResponse
	if err := json.NewDecoder(w.Body).Decode(&notes); err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Name != blog.UnreadMessageCount || notes[0].Data != float64(1) {
		t.Errorf("notifications = %+v", notes)
	}
	w = do(t, h, http.MethodGet, "/api/v1/messages", b, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "hi bob") {
		t.Errorf("messages: %d %s", w.Code, w.Body.String())
	}
}

func TestTaskEndpoints(t *testing.T) {
	h := testServer(t)
	uid := register(t, h, "worker")

	w := do(t, h, http.MethodPost, "/api/v1/tasks", uid, taskRequest{Name: "export_posts", Description: "Exporting posts"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("launch: %d %s", w.Code, w.Body.String())
	}
	var task struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(w.Body).Decode(&task)
	if w := do(t, h, http.MethodPost, "/api/v1/tasks", uid, taskRequest{Name: "export_posts"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate launch: %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/v1/tasks/"+task.ID+"/progress", uid, nil)
	if !strings.Contains(w.Body.String(), `"progress":0`) {
		t.Errorf("progress: %s", w.Body.String())
	}
	if w := do(t, h, http.MethodPost, "/api/v1/tasks/"+task.ID+"/complete", uid, nil); w.Code != http.StatusOK {
		t.Errorf("complete: %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/v1/tasks", uid, nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("tasks in progress: %s", w.Body.String())
	}
}

func TestAdminIndexEndpoints(t *testing.T) {
	h := testServer(t)
	uid := register(t, h, "admin")
	do(t, h, http.MethodPost, "/api/v1/posts", uid, postRequest{Body: "indexed words"})

	if w := do(t, h, http.MethodDelete, "/api/v1/admin/index", uid, nil); w.Code != http.StatusOK {
		t.Fatalf("drop: %d", w.Code)
	}
	if p := decodePage(t, do(t, h, http.MethodGet, "/api/v1/search?q=indexed", uid, nil)); p.Total != 0 {
		t.Errorf("after drop total = %d", p.Total)
	}
	w := do(t, h, http.MethodGet, "/api/v1/admin/index", uid, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"in_sync":false`) {
		t.Errorf("stats after drop: %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodPost, "/api/v1/admin/reindex", uid, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"indexed":1`) {
		t.Errorf("reindex: %d %s", w.Code, w.Body.String())
	}
	if p := decodePage(t, do(t, h, http.MethodGet, "/api/v1/search?q=indexed", uid, nil)); p.Total != 1 {
		t.Errorf("after reindex total = %d", p.Total)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := testServer(t)
	do(t, h, http.MethodGet, "/health", 0, nil)
	w := do(t, h, http.MethodGet, "/metrics", 0, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "miniblog_http_requests_total") {
		t.Errorf("metrics: %d", w.Code)
	}
}
