package service

import (
	"growth-service/internal/bucketing"
	"growth-service/internal/factory"
	"growth-service/internal/hashing"
	"growth-service/internal/repository/clickhouse"
	"growth-service/internal/repository/redis"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/util"
)

// ServiceFactory wires repositories and services on top of the
// infrastructure factory. Everything hangs off one instance per process.
type ServiceFactory struct {
	Users scylla.UserRepository

	Settings      *SettingsService
	Scoring       *ScoringService
	Referrals     *ReferralService
	Subscriptions *SubscriptionService
	Payments      *PaymentService
	Funnel        *FunnelService
	CRM           *CRMService
	Broadcast     *BroadcastService

	RateLimits *redis.RateLimitCache
	DelayQueue *redis.DelayQueue
	Hasher     *hashing.Hasher
}

func NewServiceFactory(f *factory.Factory) *ServiceFactory {
	cfg := f.Config

	buckets := bucketing.NewManager(&cfg.Bucketing)
	hasher := hashing.NewHasher(&cfg.Hashing)

	users := scylla.NewUserRepository(f.ScyllaClient, buckets)
	referrals := scylla.NewReferralRepository(f.ScyllaClient)
	subscriptions := scylla.NewSubscriptionRepository(f.ScyllaClient)
	events := scylla.NewEventRepository(f.ScyllaClient)
	settingsRepo := scylla.NewSettingsRepository(f.ScyllaClient)
	payments := scylla.NewPaymentRepository(f.ScyllaClient)

	settingsCache := redis.NewSettingsCache(f.RedisClient)
	rateLimits := redis.NewRateLimitCache(f.RedisClient)
	delayQueue := redis.NewDelayQueue(f.RedisClient)
	analytics := clickhouse.NewFunnelAnalytics(f.ClickHouseClient)

	settings := NewSettingsService(settingsRepo, settingsCache, cfg.Funnel)
	scoring := NewScoringService(users)
	referralService := NewReferralService(referrals, users, events, settings, hasher)
	subscriptionService := NewSubscriptionService(subscriptions, users, settings, cfg.Funnel)
	paymentService := NewPaymentService(payments, subscriptionService, cfg.Payments)
	funnel := NewFunnelService(users, events, payments, scoring, referralService,
		subscriptionService, analytics, delayQueue, f.KafkaProducer,
		f.Encryption, hasher, cfg)
	crm := NewCRMService(f.ESClient, &cfg.Elasticsearch)
	broadcast := NewBroadcastService(crm, NewKafkaSender(f.KafkaProducer, &cfg.Kafka))

	util.Info("Service factory initialized")

	return &ServiceFactory{
		Users:         users,
		Settings:      settings,
		Scoring:       scoring,
		Referrals:     referralService,
		Subscriptions: subscriptionService,
		Payments:      paymentService,
		Funnel:        funnel,
		CRM:           crm,
		Broadcast:     broadcast,
		RateLimits:    rateLimits,
		DelayQueue:    delayQueue,
		Hasher:        hasher,
	}
}
