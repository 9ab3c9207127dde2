package service

import (
	"context"
	"errors"
	"strconv"

	"growth-service/internal/config"
	"growth-service/internal/repository/redis"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/util"
)

// Setting keys tunable at runtime by admins.
const (
	SettingReferralReward = "referral_reward_amount"
	SettingBasePrice      = "subscription_base_price"
)

// SettingsProvider exposes the tunables the funnel reads on the hot path.
type SettingsProvider interface {
	ReferralReward(ctx context.Context) int64
	BasePrice(ctx context.Context) int64
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
}

// SettingsService layers a Redis read-through cache over the settings table
// and falls back to configured defaults when a key was never set.
type SettingsService struct {
	repo     scylla.SettingsRepository
	cache    *redis.SettingsCache
	defaults config.FunnelConfig
}

func NewSettingsService(repo scylla.SettingsRepository, cache *redis.SettingsCache, defaults config.FunnelConfig) *SettingsService {
	return &SettingsService{repo: repo, cache: cache, defaults: defaults}
}

func (s *SettingsService) ReferralReward(ctx context.Context) int64 {
	return s.intSetting(ctx, SettingReferralReward, s.defaults.DefaultRewardAmount)
}

func (s *SettingsService) BasePrice(ctx context.Context) int64 {
	return s.intSetting(ctx, SettingBasePrice, s.defaults.BasePrice)
}

func (s *SettingsService) intSetting(ctx context.Context, key string, fallback int64) int64 {
	raw, err := s.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, scylla.ErrSettingNotFound) {
			util.Warn("Failed to load setting, using default",
				util.String("setting", key),
				util.ErrorField(err))
		}
		return fallback
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		util.Warn("Ignoring malformed setting value",
			util.String("setting", key),
			util.String("value", raw))
		return fallback
	}
	return value
}

func (s *SettingsService) Get(ctx context.Context, key string) (string, error) {
	if s.cache != nil {
		if value, ok := s.cache.Get(ctx, key); ok {
			return value, nil
		}
	}

	value, err := s.repo.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		s.cache.Put(ctx, key, value)
	}
	return value, nil
}

func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	if err := s.repo.Set(ctx, key, value); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, key)
	}
	util.Info("Admin setting updated",
		util.String("setting", key),
		util.String("value", value))
	return nil
}
