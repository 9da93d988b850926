package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/miniblog/internal/blog"
	"github.com/hyperjump/miniblog/internal/models"
	"github.com/hyperjump/miniblog/internal/search"
	"github.com/hyperjump/miniblog/internal/storage"
	"go.uber.org/zap"
)

// pageResponse is the JSON shape of every paged listing.
// NextPage and PrevPage are omitted when there is no such page.
type pageResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PerPage  int `json:"per_page"`
	NextPage int `json:"next_page,omitempty"`
	PrevPage int `json:"prev_page,omitempty"`
}

func newPageResponse[T any](p *models.Page[T]) pageResponse[T] {
	items := p.Items
	if items == nil {
		items = []T{}
	}
	return pageResponse[T]{
		Items:    items,
		Total:    p.Total,
		Page:     p.Page,
		PerPage:  p.PerPage,
		NextPage: p.NextPage(),
		PrevPage: p.PrevPage(),
	}
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.blog.Register(r.Context(), req.Username, req.Email)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := s.blog.GetProfile(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, prof)
}

func (s *Server) handleUserPosts(w http.ResponseWriter, r *http.Request) {
	page, err := s.blog.UserPosts(r.Context(), chi.URLParam(r, "username"), queryInt(r, "page"), queryInt(r, "per_page"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPageResponse(page))
}

type profileRequest struct {
	Username string `json:"username"`
	AboutMe  string `json:"about_me"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.blog.UpdateProfile(r.Context(), userID(r), req.Username, req.AboutMe)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, u)
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := s.blog.Follow(r.Context(), userID(r), username); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "following", "username": username})
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := s.blog.Unfollow(r.Context(), userID(r), username); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "unfollowed", "username": username})
}

type postRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.blog.CreatePost(r.Context(), userID(r), req.Body)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	p, err := s.blog.GetPost(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleEditPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	var req postRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.blog.EditPost(r.Context(), userID(r), id, req.Body)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	if err := s.blog.DeletePost(r.Context(), userID(r), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	page, err := s.blog.Feed(r.Context(), userID(r), queryInt(r, "page"), queryInt(r, "per_page"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPageResponse(page))
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	page, err := s.blog.Explore(r.Context(), queryInt(r, "page"), queryInt(r, "per_page"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPageResponse(page))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := models.SearchQuery{
		Query:   r.URL.Query().Get("q"),
		Page:    queryInt(r, "page"),
		PerPage: queryInt(r, "per_page"),
	}
	s.logger.Debug("search request", zap.String("query", q.Query), zap.Int("page", q.Page))
	page, err := s.blog.SearchPosts(r.Context(), q)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPageResponse(page))
}

type messageRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.blog.SendMessage(r.Context(), userID(r), chi.URLParam(r, "username"), req.Body)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	page, err := s.blog.Messages(r.Context(), userID(r), queryInt(r, "page"), queryInt(r, "per_page"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newPageResponse(page))
}

func (s *Server) handleUnreadMessages(w http.ResponseWriter, r *http.Request) {
	n, err := s.blog.NewMessages(r.Context(), userID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"unread": n})
}

type notificationResponse struct {
	Name      string      `json:"name"`
	Data      interface{} `json:"data"`
	Timestamp float64     `json:"timestamp"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseFloat(r.URL.Query().Get("since"), 64)
	notes, err := s.blog.Notifications(r.Context(), userID(r), since)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	out := make([]notificationResponse, 0, len(notes))
	for _, n := range notes {
		data, err := n.Data()
		if err != nil {
			s.logger.Warn("skipping notification with bad payload", zap.Int64("id", n.ID), zap.Error(err))
			continue
		}
		out = append(out, notificationResponse{Name: n.Name, Data: data, Timestamp: n.Timestamp})
	}
	s.respondJSON(w, http.StatusOK, out)
}

type taskRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Args        map[string]interface{} `json:"args,omitempty"`
}

func (s *Server) handleLaunchTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.blog.LaunchTask(r.Context(), userID(r), req.Name, req.Description, req.Args)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleTasksInProgress(w http.ResponseWriter, r *http.Request) {
	ts, err := s.blog.TasksInProgress(r.Context(), userID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ts)
}

func (s *Server) handleTaskProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.blog.TaskProgress(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "progress": p})
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.blog.CompleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "complete"})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	n, err := s.blog.Reindex(r.Context())
	if err != nil {
		s.logger.Error("reindex failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"indexed": n})
}

func (s *Server) handleDropIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.blog.DropIndex(r.Context()); err != nil {
		s.logger.Error("drop index failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
}

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.blog.IndexStats(r.Context())
	if err != nil {
		s.logger.Error("index stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// respondServiceError maps service errors to HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, blog.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, blog.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, blog.ErrInvalidInput), errors.Is(err, blog.ErrSelfFollow), errors.Is(err, search.ErrInvalidWindow):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
