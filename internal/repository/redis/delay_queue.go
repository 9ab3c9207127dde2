package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"growth-service/internal/client"
	"growth-service/internal/util"
)

const delayQueueKey = "delay:tasks"

// Task types carried on the delay queue.
const (
	TaskNudge           = "nudge"
	TaskPaymentReminder = "payment_reminder"
	TaskChurnCheck      = "churn_check"
	TaskFulfillRetry    = "fulfill_retry"
)

// Task is a scheduled piece of work keyed to a user. Handlers re-check state
// at fire time, so a task that became irrelevant is a cheap no-op.
type Task struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	TelegramID int64             `json:"telegram_id"`
	Payload    map[string]string `json:"payload,omitempty"`
	DueAt      time.Time         `json:"due_at"`
}

// DelayQueue schedules tasks on a Redis sorted set scored by due time.
type DelayQueue struct {
	client *client.RedisClient
}

func NewDelayQueue(redisClient *client.RedisClient) *DelayQueue {
	return &DelayQueue{client: redisClient}
}

func (q *DelayQueue) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	member, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	if err := q.client.ZAdd(ctx, delayQueueKey, float64(task.DueAt.Unix()), string(member)); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	util.Debug("Task scheduled",
		util.String("task_id", task.ID),
		util.String("type", task.Type),
		util.Int64("telegram_id", task.TelegramID),
		util.Any("due_at", task.DueAt))
	return nil
}

// PopDue claims up to limit tasks whose due time has passed. Removal from the
// set is the claim: with several workers polling, only the remover gets to
// run the task.
func (q *DelayQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]*Task, error) {
	members, err := q.client.ZRangeByScore(ctx, delayQueueKey, "-inf",
		fmt.Sprintf("%d", now.Unix()), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read due tasks: %w", err)
	}

	var tasks []*Task
	for _, member := range members {
		claimed, err := q.client.ZRem(ctx, delayQueueKey, member)
		if err != nil {
			return tasks, fmt.Errorf("failed to claim task: %w", err)
		}
		if !claimed {
			continue
		}

		task := &Task{}
		if err := json.Unmarshal([]byte(member), task); err != nil {
			util.Warn("Dropping malformed delayed task", util.ErrorField(err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
