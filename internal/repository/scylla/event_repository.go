package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"growth-service/internal/model"
	"growth-service/internal/util"
)

type eventRepository struct {
	client *ScyllaClient
}

func NewEventRepository(client *ScyllaClient) EventRepository {
	return &eventRepository{client: client}
}

// unitOfWork batches event appends into one logged batch so they land
// together, then fires post-commit hooks. Hooks never run on failure.
type unitOfWork struct {
	repo      *eventRepository
	events    []*model.Event
	onCommit  []func()
	committed bool
}

func (r *eventRepository) Begin() UnitOfWork {
	return &unitOfWork{repo: r}
}

func (u *unitOfWork) AppendEvent(event *model.Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	u.events = append(u.events, event)
}

func (u *unitOfWork) OnCommit(fn func()) {
	u.onCommit = append(u.onCommit, fn)
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.committed {
		return fmt.Errorf("unit of work already committed")
	}
	u.committed = true

	if len(u.events) > 0 {
		batch := u.repo.client.Batch(gocql.LoggedBatch).WithContext(ctx)
		for _, event := range u.events {
			batch.Query(u.repo.client.Prepared.InsertEvent.Statement(),
				event.TelegramID, event.CreatedAt, event.EventType, event.Payload)
			batch.Query(u.repo.client.Prepared.InsertEventByType.Statement(),
				event.TelegramID, event.EventType, event.CreatedAt)
		}
		if err := u.repo.client.ExecuteBatch(batch); err != nil {
			return fmt.Errorf("failed to commit event batch: %w", err)
		}
	}

	for _, fn := range u.onCommit {
		fn()
	}
	return nil
}

func (r *eventRepository) Append(ctx context.Context, event *model.Event) error {
	uow := r.Begin()
	uow.AppendEvent(event)
	return uow.Commit(ctx)
}

func (r *eventRepository) HasEvent(ctx context.Context, telegramID int64, eventType string) (bool, error) {
	var createdAt time.Time
	err := r.client.ScanWithRetry(
		r.client.Prepared.HasEvent.Bind(telegramID, eventType).WithContext(ctx),
		&createdAt)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check event presence: %w", err)
	}
	return true, nil
}

func (r *eventRepository) RecentByUser(ctx context.Context, telegramID int64, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	iter := r.client.Prepared.RecentEvents.Bind(telegramID, limit).
		WithContext(ctx).Iter()

	var events []*model.Event
	for {
		event := &model.Event{TelegramID: telegramID}
		if !iter.Scan(&event.CreatedAt, &event.EventType, &event.Payload) {
			break
		}
		events = append(events, event)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}

	util.Debug("Loaded recent events",
		util.Int64("telegram_id", telegramID),
		util.Int("count", len(events)))
	return events, nil
}
