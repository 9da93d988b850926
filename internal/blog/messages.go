package blog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hyperjump/miniblog/internal/models"
	"github.com/hyperjump/miniblog/internal/storage"
)

// SendMessage stores a private message and refreshes the recipient's unread
// count notification in the same transaction.
func (s *Service) SendMessage(ctx context.Context, senderID int64, recipient, body string) (*models.Message, error) {
	body, err := validateText("message", body, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, senderID); err != nil {
		return nil, err
	}
	to, err := s.store.GetUserByUsername(ctx, recipient)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountMessagesSince(ctx, to.ID, to.LastMessageReadTime)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{SenderID: senderID, RecipientID: to.ID, Body: body, Timestamp: s.now()}
	sess := s.store.Begin()
	sess.Add(msg)
	if _, err := s.stageNotification(ctx, sess, to.ID, UnreadMessageCount, unread+1); err != nil {
		return nil, err
	}
	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("send message to %s: %w", recipient, err)
	}
	return msg, nil
}

// Messages returns userID's received messages, newest first, and marks them read.
func (s *Service) Messages(ctx context.Context, userID int64, page, perPage int) (*models.Page[*models.Message], error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.LastMessageReadTime = s.now()
	sess := s.store.Begin()
	sess.Update(u)
	if _, err := s.stageNotification(ctx, sess, u.ID, UnreadMessageCount, 0); err != nil {
		return nil, err
	}
	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("mark messages read for user %d: %w", userID, err)
	}
	page, perPage = s.window(page, perPage)
	return s.store.ReceivedMessages(ctx, userID, page, perPage)
}

// NewMessages counts the messages userID received since last reading them.
func (s *Service) NewMessages(ctx context.Context, userID int64) (int, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.store.CountMessagesSince(ctx, u.ID, u.LastMessageReadTime)
}

// AddNotification replaces userID's notification called name with one carrying data.
func (s *Service) AddNotification(ctx context.Context, userID int64, name string, data interface{}) (*models.Notification, error) {
	sess := s.store.Begin()
	n, err := s.stageNotification(ctx, sess, userID, name, data)
	if err != nil {
		return nil, err
	}
	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("add notification %s: %w", name, err)
	}
	return n, nil
}

func (s *Service) stageNotification(ctx context.Context, sess *storage.Session, userID int64, name string, data interface{}) (*models.Notification, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding notification %s: %w", name, err)
	}
	old, err := s.store.NotificationsByName(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	for _, o := range old {
		sess.Delete(o)
	}
	n := &models.Notification{
		Name:        name,
		UserID:      userID,
		Timestamp:   float64(s.now().UnixNano()) / 1e9,
		PayloadJSON: string(payload),
	}
	sess.Add(n)
	return n, nil
}

// Notifications returns userID's notifications newer than since, oldest first.
func (s *Service) Notifications(ctx context.Context, userID int64, since float64) ([]*models.Notification, error) {
	return s.store.NotificationsSince(ctx, userID, since)
}
