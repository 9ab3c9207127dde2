package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Telegram      TelegramConfig
	Payments      PaymentsConfig
	Funnel        FunnelConfig
	Bucketing     BucketingConfig
	Hashing       HashingConfig
	KMS           KMSConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers            []string
	EventsTopic        string
	NotificationsTopic string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	UsersIndex string
}

type TelegramConfig struct {
	BotToken       string
	BotUsername    string
	PrivateGroupID int64
	AdminKeyHash   string
}

type PaymentsConfig struct {
	ClickMerchantID string
	ClickServiceID  string
	ClickSecretKey  string
	PaymeMerchantID string
	PaymeSecretKey  string
}

// FunnelConfig carries the fixed commercial constants of the funnel.
type FunnelConfig struct {
	BasePrice           int64
	SubscriptionDays    int
	DefaultRewardAmount int64
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	PhonePepper       string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

var (
	global *Config
	once   sync.Once
)

// LoadConfig reads configuration from the environment. Outside production a
// .env file in the working directory is loaded first.
func LoadConfig() *Config {
	once.Do(func() {
		env := getEnv("ENVIRONMENT", "development")
		if env != "production" {
			_ = godotenv.Load()
			env = getEnv("ENVIRONMENT", env)
		}

		global = &Config{
			Environment: env,
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", "127.0.0.1:9042"),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "growth"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Kafka: KafkaConfig{
				Brokers:            getEnvList("KAFKA_BROKERS", "localhost:9092"),
				EventsTopic:        getEnv("KAFKA_EVENTS_TOPIC", "growth.events"),
				NotificationsTopic: getEnv("KAFKA_NOTIFICATIONS_TOPIC", "growth.notifications"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "growth"),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
				Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
				Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
				UsersIndex: getEnv("ELASTICSEARCH_USERS_INDEX", "growth-users"),
			},
			Telegram: TelegramConfig{
				BotToken:       getEnv("BOT_TOKEN", ""),
				BotUsername:    getEnv("BOT_USERNAME", ""),
				PrivateGroupID: getEnvInt64("PRIVATE_GROUP_ID", 0),
				AdminKeyHash:   getEnv("ADMIN_API_KEY_HASH", ""),
			},
			Payments: PaymentsConfig{
				ClickMerchantID: getEnv("CLICK_MERCHANT_ID", ""),
				ClickServiceID:  getEnv("CLICK_SERVICE_ID", ""),
				ClickSecretKey:  getEnv("CLICK_SECRET_KEY", ""),
				PaymeMerchantID: getEnv("PAYME_MERCHANT_ID", ""),
				PaymeSecretKey:  getEnv("PAYME_SECRET_KEY", ""),
			},
			Funnel: FunnelConfig{
				BasePrice:           getEnvInt64("CLUB_PRICE", 97_000),
				SubscriptionDays:    getEnvInt("SUBSCRIPTION_DAYS", 30),
				DefaultRewardAmount: getEnvInt64("DEFAULT_REWARD_AMOUNT", 10_000),
			},
			Bucketing: BucketingConfig{
				UserBuckets:  getEnvInt("USER_BUCKETS", 64),
				EventBuckets: getEnvInt("EVENT_BUCKETS", 16),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
				PhonePepper:       getEnv("PHONE_PEPPER", ""),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("KMS_REGION", "eu-central-1"),
			},
		}
	})

	return global
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	if global == nil {
		return LoadConfig()
	}
	return global
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
