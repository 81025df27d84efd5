package domain

import (
	"testing"
	"time"
)

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusCompleted, true},
		{TaskStatusExpired, true},
		{TaskStatusDeleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Valid(t *testing.T) {
	if TaskStatus("Archived").Valid() {
		t.Error("unknown status should not be valid")
	}
	if !TaskStatusExpired.Valid() {
		t.Error("Expired should be valid")
	}
}

func TestTaskKey_String(t *testing.T) {
	k := TaskKey{OwnerID: "u1", TaskID: "t1"}
	if got := k.String(); got != "OWNER#u1/TASK#t1" {
		t.Errorf("String() = %q", got)
	}
	if k.IsZero() {
		t.Error("populated key should not be zero")
	}
	if !(TaskKey{OwnerID: "u1"}).IsZero() {
		t.Error("key without task id should be zero")
	}
}

func TestChangeEvent_Image(t *testing.T) {
	before := &Task{TaskID: "t1", Status: TaskStatusPending}
	after := &Task{TaskID: "t1", Status: TaskStatusCompleted}

	modify := ChangeEvent{Type: ChangeModify, Before: before, After: after}
	if modify.Image() != after {
		t.Error("modify should use the after-image")
	}

	remove := ChangeEvent{Type: ChangeRemove, Before: before}
	if remove.Image() != before {
		t.Error("remove should fall back to the before-image")
	}
}

func TestChangeEvent_DedupID(t *testing.T) {
	e := ChangeEvent{
		Key:        TaskKey{OwnerID: "u1", TaskID: "t1"},
		Sequence:   42,
		RecordedAt: time.Now(),
	}
	if got := e.DedupID(); got != "OWNER#u1/TASK#t1@42" {
		t.Errorf("DedupID() = %q", got)
	}
}
