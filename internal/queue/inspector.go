package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ragscale/api/internal/model"
)

var ErrUnknownLane = errors.New("unknown lane")

// Inspector exposes the dead lane and queue stats for operators.
type Inspector struct {
	inspector *asynq.Inspector
}

func NewInspector(i *asynq.Inspector) *Inspector {
	return &Inspector{inspector: i}
}

func checkLane(lane string) error {
	if _, ok := Lanes[lane]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLane, lane)
	}
	return nil
}

// Dead lists tasks archived after exhausting retries
func (i *Inspector) Dead(lane string, limit int) ([]model.DeadTask, error) {
	if err := checkLane(lane); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	infos, err := i.inspector.ListArchivedTasks(lane, asynq.PageSize(limit))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return []model.DeadTask{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list dead tasks: %w", err)
	}

	out := make([]model.DeadTask, 0, len(infos))
	for _, info := range infos {
		dt := model.DeadTask{
			ID:       info.ID,
			Type:     info.Type,
			Queue:    info.Queue,
			Retried:  info.Retried,
			MaxRetry: info.MaxRetry,
			LastErr:  info.LastErr,
		}
		if ref, ok := RefOf(info.Payload); ok {
			dt.BatchID = ref.BatchID
		}
		if !info.LastFailedAt.IsZero() {
			dt.FailedAt = info.LastFailedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, dt)
	}
	return out, nil
}

// Stats summarizes one lane
func (i *Inspector) Stats(lane string) (model.LaneStats, error) {
	if err := checkLane(lane); err != nil {
		return model.LaneStats{}, err
	}

	info, err := i.inspector.GetQueueInfo(lane)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return model.LaneStats{Queue: lane}, nil
	}
	if err != nil {
		return model.LaneStats{}, fmt.Errorf("failed to read lane stats: %w", err)
	}
	return model.LaneStats{
		Queue:     info.Queue,
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Archived:  info.Archived,
		Completed: info.Completed,
	}, nil
}
