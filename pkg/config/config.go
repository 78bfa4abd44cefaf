// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Kafka, Elasticsearch, error policy, Postgres audit, logging,
// metrics) and the per-stream index specs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Kafka         KafkaConfig             `yaml:"kafka"`
	Elasticsearch ElasticsearchConfig     `yaml:"elasticsearch"`
	Errors        ErrorsConfig            `yaml:"errors"`
	Postgres      PostgresConfig          `yaml:"postgres"`
	Logging       LoggingConfig           `yaml:"logging"`
	Metrics       MetricsConfig           `yaml:"metrics"`
	DefaultStream *StreamConfig           `yaml:"defaultStream"`
	Streams       map[string]StreamConfig `yaml:"streams"`
}

// KafkaConfig holds Kafka broker and consumer settings.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	// StartOffset is "latest" or "earliest" and applies only to groups
	// without committed offsets.
	StartOffset string `yaml:"startOffset"`
	// Topics lists input topics served by DefaultStream in addition to the
	// keys of Streams.
	Topics []string `yaml:"topics"`
}

// ElasticsearchConfig controls the bulk loader.
type ElasticsearchConfig struct {
	URL                 string        `yaml:"url"`
	BulkFlushMaxActions int           `yaml:"bulkFlushMaxActions"`
	BulkFlushInterval   time.Duration `yaml:"bulkFlushInterval"`
	// BulkMaxBufferedActions bounds pending operations; consumption pauses
	// at the bound until a flush succeeds. Zero means three batches.
	BulkMaxBufferedActions int                  `yaml:"bulkMaxBufferedActions"`
	RequestTimeout         time.Duration        `yaml:"requestTimeout"`
	Retry                  RetryConfig          `yaml:"retry"`
	CircuitBreaker         CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RetryConfig mirrors resilience.RetryConfig for YAML.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// CircuitBreakerConfig mirrors resilience.CircuitBreakerConfig for YAML.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// ErrorsConfig decides what happens to records that fail extraction or
// validation.
type ErrorsConfig struct {
	DropOnError     bool    `yaml:"dropOnError"`
	DropMaxRatio    float64 `yaml:"dropMaxRatio"`
	DropMinRecords  int64   `yaml:"dropMinRecords"`
	DeadLetterTopic string  `yaml:"deadLetterTopic"`
	AuditEnabled    bool    `yaml:"auditEnabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the rejected
// record audit table.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics and health server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// StreamConfig is the raw, uncompiled index spec of one input stream.
type StreamConfig struct {
	MetadataSrc         string `yaml:"metadataSrc"`
	IndexNamePrefix     string `yaml:"indexNamePrefix"`
	IndexNameDateFormat string `yaml:"indexNameDateFormat"`
	IndexNameDateZone   string `yaml:"indexNameDateZone"`
	DocType             string `yaml:"docType"`
	DefaultVersionType  string `yaml:"defaultVersionType"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field rules that YAML decoding cannot express.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers: at least one broker is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("kafka.consumerGroup is required")
	}
	if len(c.Streams) == 0 && c.DefaultStream == nil {
		return fmt.Errorf("at least one stream or a defaultStream is required")
	}
	if len(c.Kafka.Topics) > 0 && c.DefaultStream == nil {
		return fmt.Errorf("kafka.topics requires a defaultStream")
	}
	if c.Elasticsearch.URL == "" {
		return fmt.Errorf("elasticsearch.url is required")
	}
	if c.Errors.DropMaxRatio < 0 || c.Errors.DropMaxRatio > 1 {
		return fmt.Errorf("errors.dropMaxRatio must be within [0, 1], got %v", c.Errors.DropMaxRatio)
	}
	return nil
}

// InputTopics returns every topic the service consumes, explicit streams
// first, without duplicates.
func (c *Config) InputTopics() []string {
	seen := make(map[string]bool, len(c.Streams)+len(c.Kafka.Topics))
	topics := make([]string, 0, len(c.Streams)+len(c.Kafka.Topics))
	for topic := range c.Streams {
		seen[topic] = true
		topics = append(topics, topic)
	}
	for _, topic := range c.Kafka.Topics {
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}
	return topics
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "es-push",
			StartOffset:   "latest",
		},
		Elasticsearch: ElasticsearchConfig{
			URL:                 "http://localhost:9200",
			BulkFlushMaxActions: 1000,
			BulkFlushInterval:   time.Second,
			RequestTimeout:      30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     10 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Errors: ErrorsConfig{
			DropOnError:    false,
			DropMaxRatio:   1,
			DropMinRecords: 100,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "espush",
			User:            "espush",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads ESP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ESP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ESP_KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.Kafka.ConsumerGroup = v
	}
	if v := os.Getenv("ESP_ELASTICSEARCH_URL"); v != "" {
		cfg.Elasticsearch.URL = v
	}
	if v := os.Getenv("ESP_ELASTICSEARCH_FLUSH_MAX_ACTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Elasticsearch.BulkFlushMaxActions = n
		}
	}
	if v := os.Getenv("ESP_ELASTICSEARCH_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Elasticsearch.BulkFlushInterval = d
		}
	}
	if v := os.Getenv("ESP_ERRORS_DROP_ON_ERROR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Errors.DropOnError = b
		}
	}
	if v := os.Getenv("ESP_ERRORS_DEAD_LETTER_TOPIC"); v != "" {
		cfg.Errors.DeadLetterTopic = v
	}
	if v := os.Getenv("ESP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("ESP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("ESP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("ESP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("ESP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("ESP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ESP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ESP_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
