// Package notify stores in-app notifications for students and staff.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification.
type Type string

const (
	TypeAttendance   Type = "attendance"
	TypeWarnings     Type = "warnings"
	TypeAnnouncement Type = "announcement"
	TypeSystem       Type = "system"
)

// Notification is one message for a user.
type Notification struct {
	ID          string            `json:"id"`
	Recipient   string            `json:"recipient"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Type        Type              `json:"type"`
	RelatedData map[string]string `json:"related_data,omitempty"`
	IsRead      bool              `json:"is_read"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Attendance builds an unread attendance notification about record attendanceID.
func Attendance(recipient, title, message, attendanceID string) Notification {
	return Notification{
		Recipient:   recipient,
		Title:       title,
		Message:     message,
		Type:        TypeAttendance,
		RelatedData: map[string]string{"attendance_id": attendanceID},
	}
}

// Repository persists notifications in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts n as unread and returns it with its id and timestamp.
func (r *Repository) Create(ctx context.Context, n Notification) (Notification, error) {
	related, err := json.Marshal(n.RelatedData)
	if err != nil {
		return Notification{}, err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.IsRead = false
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, recipient, title, message, type, related_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, n.ID, n.Recipient, n.Title, n.Message, n.Type, related).Scan(&n.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

// ForRecipient lists a user's notifications, newest first.
func (r *Repository) ForRecipient(ctx context.Context, recipient string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient, title, message, type, COALESCE(related_data, '{}'::jsonb), is_read, created_at
		FROM notifications
		WHERE recipient = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Notification
	for rows.Next() {
		var (
			n       Notification
			related []byte
		)
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Title, &n.Message, &n.Type, &related, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(related, &n.RelatedData); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
