package domain

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "Pending"
	TaskStatusCompleted TaskStatus = "Completed"
	TaskStatusExpired   TaskStatus = "Expired"
	TaskStatusDeleted   TaskStatus = "Deleted" // tombstone, never stored
)

// Terminal reports whether no expiry trigger may exist for a task in this status.
func (s TaskStatus) Terminal() bool {
	return s != TaskStatusPending
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusCompleted, TaskStatusExpired, TaskStatusDeleted:
		return true
	}
	return false
}

// TaskKey identifies a task. It is the unit of ordering, dedup and mutual
// exclusion throughout the engine.
type TaskKey struct {
	OwnerID string `json:"owner_id"`
	TaskID  string `json:"task_id"`
}

func (k TaskKey) String() string {
	return "OWNER#" + k.OwnerID + "/TASK#" + k.TaskID
}

func (k TaskKey) IsZero() bool {
	return k.OwnerID == "" || k.TaskID == ""
}

type Task struct {
	OwnerID     string     `json:"owner_id"`
	TaskID      string     `json:"task_id"`
	Description string     `json:"description"`
	Deadline    time.Time  `json:"deadline"`
	Status      TaskStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version changes on every write and guards conditional writes.
	Version string `json:"version"`
}

func (t Task) Key() TaskKey {
	return TaskKey{OwnerID: t.OwnerID, TaskID: t.TaskID}
}
