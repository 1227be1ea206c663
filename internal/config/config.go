package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full application configuration, loaded once at startup.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Decentro      DecentroConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
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
	Brokers []string

	AccountEventsTopic string
	LedgerEventsTopic  string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string

	AccountIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string

	AuditTable string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperRotationDays int
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// DecentroConfig configures the external mobile-to-VPA lookup provider.
type DecentroConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	ModuleSecret string
	Timeout      time.Duration
}

var (
	globalConfig *Config
	once         sync.Once
)

// LoadConfig reads configuration from the environment. A .env file is loaded
// first when present so local development works without exported variables.
func LoadConfig() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		globalConfig = &Config{
			Environment: getEnv("APP_ENV", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/accounts-service/certs"),
				Domain:       getEnv("SERVER_DOMAIN", "localhost"),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
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
				Keyspace: getEnv("SCYLLA_KEYSPACE", "accounts"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://127.0.0.1:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Kafka: KafkaConfig{
				Brokers:            getEnvList("KAFKA_BROKERS", "127.0.0.1:9092"),
				AccountEventsTopic: getEnv("KAFKA_ACCOUNT_EVENTS_TOPIC", "account-events"),
				LedgerEventsTopic:  getEnv("KAFKA_LEDGER_EVENTS_TOPIC", "ledger-events"),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:          getEnv("ELASTICSEARCH_URL", "http://127.0.0.1:9200"),
				Username:     getEnv("ELASTICSEARCH_USERNAME", ""),
				Password:     getEnv("ELASTICSEARCH_PASSWORD", ""),
				AccountIndex: getEnv("ELASTICSEARCH_ACCOUNT_INDEX", "accounts"),
			},
			Clickhouse: ClickhouseConfig{
				URL:        getEnv("CLICKHOUSE_URL", "clickhouse://127.0.0.1:9000"),
				Username:   getEnv("CLICKHOUSE_USERNAME", "default"),
				Password:   getEnv("CLICKHOUSE_PASSWORD", ""),
				Database:   getEnv("CLICKHOUSE_DATABASE", "accounts"),
				AuditTable: getEnv("CLICKHOUSE_AUDIT_TABLE", "audit_events"),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("AWS_REGION", "ap-south-1"),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_COST", 64*1024),
				Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 2),
				PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 90),
			},
			Bucketing: BucketingConfig{
				UserBuckets:  getEnvInt("USER_BUCKETS", 128),
				EventBuckets: getEnvInt("EVENT_BUCKETS", 32),
			},
			Decentro: DecentroConfig{
				BaseURL:      getEnv("DECENTRO_BASE_URL", "https://in.staging.decentro.tech/v2/financial_services/mobile_to_vpa/advance"),
				ClientID:     getEnv("DECENTRO_CLIENT_ID", ""),
				ClientSecret: getEnv("DECENTRO_CLIENT_SECRET", ""),
				ModuleSecret: getEnv("DECENTRO_MODULE_SECRET", ""),
				Timeout:      getEnvDuration("DECENTRO_TIMEOUT", 10*time.Second),
			},
		}
	})

	return globalConfig
}

// Get returns the loaded configuration, loading defaults if necessary.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			values = append(values, p)
		}
	}
	return values
}
