package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduledTrigger is the single armed expiry trigger of a task.
type ScheduledTrigger struct {
	Key            TaskKey
	DueAt          time.Time // absolute, UTC
	PayloadVersion string    // task version observed when armed
}

// FireEvent is emitted by the scheduler when a trigger comes due.
type FireEvent struct {
	ID             uuid.UUID
	Key            TaskKey
	DueAt          time.Time
	PayloadVersion string
	FiredAt        time.Time
}
