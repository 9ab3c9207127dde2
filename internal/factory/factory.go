package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"growth-service/internal/client"
	"growth-service/internal/config"
	"growth-service/internal/encryption"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/util"
)

// Factory owns every infrastructure client for the lifetime of the process.
type Factory struct {
	Config           *config.Config
	ScyllaClient     *scylla.ScyllaClient
	RedisClient      *client.RedisClient
	ClickHouseClient *client.ClickHouseClient
	KafkaProducer    *client.KafkaProducer
	ESClient         *client.ESClient
	Encryption       *encryption.Manager
}

// NewFactory connects every backing store. Any failure tears down what was
// already connected and reports which dependency refused.
func NewFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	f := &Factory{Config: cfg}

	scyllaClient, err := scylla.NewScyllaClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("scylla init: %w", err)
	}
	f.ScyllaClient = scyllaClient

	redisClient, err := client.NewRedisClient(cfg, logger)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("redis init: %w", err)
	}
	f.RedisClient = redisClient

	chClient, err := client.NewClickHouseClient(cfg, logger)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("clickhouse init: %w", err)
	}
	f.ClickHouseClient = chClient

	kafkaProducer, err := client.NewKafkaProducer(cfg, logger)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("kafka init: %w", err)
	}
	f.KafkaProducer = kafkaProducer

	esClient, err := client.NewElasticsearchClient(cfg, logger)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elasticsearch init: %w", err)
	}
	f.ESClient = esClient

	encryptionManager, err := encryption.NewManager(ctx, cfg)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("encryption init: %w", err)
	}
	f.Encryption = encryptionManager

	util.Info("Infrastructure factory initialized")
	return f, nil
}

// HealthCheckAll probes every dependency and returns per-component status.
func (f *Factory) HealthCheckAll(ctx context.Context) map[string]string {
	status := make(map[string]string)

	check := func(name string, err error) {
		if err != nil {
			status[name] = err.Error()
			util.Warn("Health check failed",
				util.String("component", name),
				util.ErrorField(err))
			return
		}
		status[name] = "ok"
	}

	check("scylla", f.ScyllaClient.HealthCheck())
	check("redis", f.RedisClient.HealthCheck(ctx))
	check("clickhouse", f.ClickHouseClient.HealthCheck(ctx))
	check("kafka", f.KafkaProducer.HealthCheck(ctx))
	check("elasticsearch", f.ESClient.HealthCheck())
	return status
}

// Close shuts clients down in reverse dependency order. Safe to call on a
// partially constructed factory.
func (f *Factory) Close() {
	if f.ESClient != nil {
		f.ESClient.Close()
	}
	if f.KafkaProducer != nil {
		if err := f.KafkaProducer.Close(); err != nil {
			util.Warn("Kafka producer close failed", util.ErrorField(err))
		}
	}
	if f.ClickHouseClient != nil {
		if err := f.ClickHouseClient.Close(); err != nil {
			util.Warn("ClickHouse close failed", util.ErrorField(err))
		}
	}
	if f.RedisClient != nil {
		if err := f.RedisClient.Close(); err != nil {
			util.Warn("Redis close failed", util.ErrorField(err))
		}
	}
	if f.ScyllaClient != nil {
		f.ScyllaClient.Close()
	}
	util.Info("Infrastructure factory closed")
}
