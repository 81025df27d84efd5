package domain

import (
	"strconv"
	"time"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeModify ChangeType = "MODIFY"
	ChangeRemove ChangeType = "REMOVE"
)

func (c ChangeType) Valid() bool {
	return c == ChangeInsert || c == ChangeModify || c == ChangeRemove
}

// ChangeEvent is one entry of the record store's change feed. Events for the
// same key carry non-decreasing sequence numbers.
type ChangeEvent struct {
	Key      TaskKey    `json:"key"`
	Type     ChangeType `json:"type"`
	Before   *Task      `json:"before,omitempty"`
	After    *Task      `json:"after,omitempty"`
	Sequence int64      `json:"sequence"`

	RecordedAt time.Time `json:"recorded_at"`
}

// Image returns the task state the event leaves behind: the after-image, or
// the before-image for removals.
func (e ChangeEvent) Image() *Task {
	if e.Type == ChangeRemove {
		return e.Before
	}
	return e.After
}

// DedupID identifies the logical mutation for redelivery suppression.
func (e ChangeEvent) DedupID() string {
	return e.Key.String() + "@" + strconv.FormatInt(e.Sequence, 10)
}
