package scheduler

import (
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

type entry struct {
	trigger domain.ScheduledTrigger
	index   int
	gen     uint64 // registry generation at which the trigger was last set
}

// triggerHeap orders entries by due time, earliest first.
type triggerHeap []*entry

func (h triggerHeap) Len() int { return len(h) }

func (h triggerHeap) Less(i, j int) bool {
	return h[i].trigger.DueAt.Before(h[j].trigger.DueAt)
}

func (h triggerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *triggerHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *triggerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// due reports whether the earliest entry is due at now.
func (h triggerHeap) due(now time.Time) bool {
	return len(h) > 0 && !h[0].trigger.DueAt.After(now)
}
