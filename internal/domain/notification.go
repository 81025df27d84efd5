package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationKind string

const (
	NotificationWelcome NotificationKind = "welcome"
	NotificationExpired NotificationKind = "expired"
)

type Notification struct {
	ID      uuid.UUID         `json:"id"`
	OwnerID string            `json:"owner_id"`
	Kind    NotificationKind  `json:"kind"`
	Subject string            `json:"subject"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
