package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

type settingsRepository struct {
	client *ScyllaClient
}

func NewSettingsRepository(client *ScyllaClient) SettingsRepository {
	return &settingsRepository{client: client}
}

func (r *settingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.client.ScanWithRetry(
		r.client.Prepared.GetSetting.Bind(key).WithContext(ctx), &value)
	if err == gocql.ErrNotFound {
		return "", ErrSettingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}

func (r *settingsRepository) Set(ctx context.Context, key, value string) error {
	if err := r.client.ExecuteWithRetry(
		r.client.Prepared.SetSetting.Bind(key, value, time.Now().UTC()).WithContext(ctx),
		execRetryLimit); err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}
