package engine

import (
	"context"
	"sort"
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
	"github.com/ibra15-cyber/todo-backend/internal/reconciler"
)

// planner records the triggers a sweep would arm without arming anything.
type planner struct {
	triggers []domain.ScheduledTrigger
}

func (p *planner) Mark() uint64 { return 0 }

func (p *planner) ArmIfAbsent(ctx context.Context, key domain.TaskKey, dueAt time.Time, version string, mark uint64) (bool, error) {
	p.triggers = append(p.triggers, domain.ScheduledTrigger{Key: key, DueAt: dueAt, PayloadVersion: version})
	return true, nil
}

func (p *planner) CancelStale(ctx context.Context, keep map[domain.TaskKey]struct{}, mark uint64) (int, error) {
	return 0, nil
}

func (p *planner) Forget(mark uint64) int { return 0 }

// PlanRehydration runs a dry rehydration sweep over store and returns the
// trigger set it would arm, ordered by due time.
func PlanRehydration(ctx context.Context, store reconciler.Store, batchSize int) ([]domain.ScheduledTrigger, error) {
	p := &planner{}
	if _, err := reconciler.New(reconciler.Config{BatchSize: batchSize}, store, p).RunOnce(ctx); err != nil {
		return nil, err
	}
	sort.SliceStable(p.triggers, func(i, j int) bool {
		return p.triggers[i].DueAt.Before(p.triggers[j].DueAt)
	})
	return p.triggers, nil
}
