package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/hyperjump/miniblog/internal/storage"
	"go.uber.org/zap"
)

// UserHeader carries the authenticated user's id. Authentication itself is
// done by the fronting proxy.
const UserHeader = "X-User-ID"

type ctxKey int

const userIDKey ctxKey = iota

// requireUser rejects requests without a known user and records the user as active.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
		if err != nil || id <= 0 {
			s.respondError(w, http.StatusUnauthorized, "missing or invalid "+UserHeader+" header")
			return
		}
		if err := s.blog.Touch(r.Context(), id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.respondError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			s.logger.Warn("failed to record last seen", zap.Int64("user_id", id), zap.Error(err))
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}
