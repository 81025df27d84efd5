package domain

import (
	"time"

	"github.com/google/uuid"
)

type DeadLetterSource string

const (
	DeadLetterSourceRouter   DeadLetterSource = "router"
	DeadLetterSourceExecutor DeadLetterSource = "executor"
)

// DeadLetter records work that exhausted its retries and needs an operator.
type DeadLetter struct {
	ID       uuid.UUID
	Source   DeadLetterSource
	Key      TaskKey
	Sequence int64
	Payload  []byte // JSON of the original event
	Reason   string
	Attempts int

	CreatedAt time.Time
}
