package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is a private message between two users.
type Message struct {
	ID          int64     `json:"id" db:"id"`
	SenderID    int64     `json:"sender_id" db:"sender_id"`
	RecipientID int64     `json:"recipient_id" db:"recipient_id"`
	Body        string    `json:"body" db:"body"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// Notification is a named, per-user payload polled by clients.
// Timestamp is seconds since the epoch so clients can ask for everything newer than a value.
type Notification struct {
	ID          int64   `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	UserID      int64   `json:"user_id" db:"user_id"`
	Timestamp   float64 `json:"timestamp" db:"timestamp"`
	PayloadJSON string  `json:"-" db:"payload_json"`
}

// Data decodes the notification payload.
func (n *Notification) Data() (interface{}, error) {
	if n.PayloadJSON == "" {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(n.PayloadJSON), &v); err != nil {
		return nil, fmt.Errorf("failed to decode notification payload: %w", err)
	}
	return v, nil
}

// Task is a background job launched by a user.
type Task struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	UserID      int64  `json:"user_id" db:"user_id"`
	Complete    bool   `json:"complete" db:"complete"`
}
