package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"growth-service/internal/client"
	"growth-service/internal/model"
	"growth-service/internal/util"
)

// FunnelAnalytics mirrors the event log into ClickHouse for aggregate
// queries. The mirror is best-effort; the ScyllaDB event log stays the
// source of truth.
type FunnelAnalytics struct {
	client *client.ClickHouseClient
}

// FunnelStats counts distinct users reaching each funnel stage.
type FunnelStats struct {
	Leads          uint64 `json:"leads"`
	Registered     uint64 `json:"registered"`
	VSL50          uint64 `json:"vsl_50"`
	VSL90          uint64 `json:"vsl_90"`
	OfferClicks    uint64 `json:"offer_clicks"`
	PaymentsOpened uint64 `json:"payments_opened"`
	Paid           uint64 `json:"paid"`
}

func NewFunnelAnalytics(chClient *client.ClickHouseClient) *FunnelAnalytics {
	return &FunnelAnalytics{client: chClient}
}

// RecordEvents appends a batch of funnel events to the analytics table.
func (f *FunnelAnalytics) RecordEvents(ctx context.Context, events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, event := range events {
		payload := "{}"
		if len(event.Payload) > 0 {
			if encoded, err := json.Marshal(event.Payload); err == nil {
				payload = string(encoded)
			}
		}
		rows = append(rows, []interface{}{
			event.TelegramID, event.EventType, payload, event.CreatedAt,
		})
	}

	query := `INSERT INTO funnel_events (telegram_id, event_type, payload, created_at)`
	if err := f.client.BatchInsert(ctx, query, rows); err != nil {
		return fmt.Errorf("failed to record funnel events: %w", err)
	}

	util.Debug("Funnel events recorded", util.Int("count", len(rows)))
	return nil
}

// Stats aggregates distinct users per funnel stage over the whole table.
func (f *FunnelAnalytics) Stats(ctx context.Context) (*FunnelStats, error) {
	query := `
	SELECT
		uniqExactIf(telegram_id, event_type = ?) AS leads,
		uniqExactIf(telegram_id, event_type = ?) AS registered,
		uniqExactIf(telegram_id, event_type = ?) AS vsl_50,
		uniqExactIf(telegram_id, event_type = ?) AS vsl_90,
		uniqExactIf(telegram_id, event_type = ?) AS offer_clicks,
		uniqExactIf(telegram_id, event_type = ?) AS payments_opened,
		uniqExactIf(telegram_id, event_type = ?) AS paid
	FROM funnel_events`

	stats := &FunnelStats{}
	row := f.client.QueryRow(ctx, query,
		model.EventLead, model.EventRegistrationComplete, model.EventVSL50,
		model.EventVSL90, model.EventOfferClick, model.EventPaymentOpen,
		model.EventPaymentSuccess)
	if err := row.Scan(&stats.Leads, &stats.Registered, &stats.VSL50,
		&stats.VSL90, &stats.OfferClicks, &stats.PaymentsOpened, &stats.Paid); err != nil {
		return nil, fmt.Errorf("failed to load funnel stats: %w", err)
	}
	return stats, nil
}

// CountEvents returns the total number of mirrored events of one type.
func (f *FunnelAnalytics) CountEvents(ctx context.Context, eventType string) (uint64, error) {
	var count uint64
	row := f.client.QueryRow(ctx, `SELECT count() FROM funnel_events WHERE event_type = ?`, eventType)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
