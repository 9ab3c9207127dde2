package scheduler

import (
	"context"
	"sync"
	"time"

	"growth-service/internal/repository/redis"
	"growth-service/internal/util"
)

const (
	pollInterval = 5 * time.Second
	popBatchSize = 100
)

// TaskHandler executes one due delayed task.
type TaskHandler interface {
	HandleTask(ctx context.Context, task *redis.Task) error
}

// Scheduler polls the delay queue and dispatches due tasks. Several
// instances may run against the same queue; the queue's claim semantics keep
// each task with one of them.
type Scheduler struct {
	queue   *redis.DelayQueue
	handler TaskHandler

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(queue *redis.DelayQueue, handler TaskHandler) *Scheduler {
	return &Scheduler{
		queue:   queue,
		handler: handler,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the polling loop until Stop is called.
func (s *Scheduler) Start() {
	go s.run()
	util.Info("Scheduler started", util.Duration("poll_interval", pollInterval))
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.drain()
		}
	}
}

func (s *Scheduler) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tasks, err := s.queue.PopDue(ctx, time.Now().UTC(), popBatchSize)
	if err != nil {
		util.Error("Failed to pop due tasks", util.ErrorField(err))
		return
	}

	for _, task := range tasks {
		if err := s.handler.HandleTask(ctx, task); err != nil {
			util.Error("Delayed task failed",
				util.String("task_id", task.ID),
				util.String("type", task.Type),
				util.Int64("telegram_id", task.TelegramID),
				util.ErrorField(err))
		}
	}
}

// Stop halts polling and waits for the in-flight drain to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	util.Info("Scheduler stopped")
}
