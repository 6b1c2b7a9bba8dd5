package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Worker   *workerConfig
	AI       *aiConfig
	Events   *eventsConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"cvbuilder"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string `envconfig:"CVBUILDER_ADDRESS" default:":3443"`
	MetricsAddress  string `envconfig:"CVBUILDER_METRICS_ADDRESS" default:":8080"`
	BaseUrl         string `envconfig:"CVBUILDER_BASE_URL" default:"http://localhost:3443"`
	LogLevel        string `envconfig:"CVBUILDER_LOG_LEVEL" default:"info"`
	MigrationFolder string `envconfig:"CVBUILDER_MIGRATIONS_FOLDER" default:""`
}

type workerConfig struct {
	Enabled            bool          `envconfig:"CVBUILDER_WORKER_ENABLED" default:"true"`
	Concurrency        int           `envconfig:"CVBUILDER_WORKER_CONCURRENCY" default:"4"`
	PollInterval       time.Duration `envconfig:"CVBUILDER_WORKER_POLL_INTERVAL" default:"2s"`
	JobTimeout         time.Duration `envconfig:"CVBUILDER_JOB_TIMEOUT" default:"5m"`
	StaleJobThreshold  time.Duration `envconfig:"CVBUILDER_STALE_JOB_THRESHOLD" default:"15m"`
	ReapInterval       time.Duration `envconfig:"CVBUILDER_REAP_INTERVAL" default:"1m"`
	AutoRetryAbandoned bool          `envconfig:"CVBUILDER_AUTO_RETRY_ABANDONED" default:"false"`
	RetentionWindow    time.Duration `envconfig:"CVBUILDER_JOB_RETENTION" default:"168h"`
	RetentionInterval  time.Duration `envconfig:"CVBUILDER_JOB_RETENTION_INTERVAL" default:"1h"`
	ShutdownTimeout    time.Duration `envconfig:"CVBUILDER_WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type aiConfig struct {
	BaseUrl    string        `envconfig:"CVBUILDER_AI_BASE_URL" default:"https://api.mistral.ai/v1"`
	ApiKey     string        `envconfig:"CVBUILDER_AI_API_KEY" default:""`
	Model      string        `envconfig:"CVBUILDER_AI_MODEL" default:"mistral-small-latest"`
	Timeout    time.Duration `envconfig:"CVBUILDER_AI_TIMEOUT" default:"2m"`
	MaxRetries int           `envconfig:"CVBUILDER_AI_MAX_RETRIES" default:"3"`
}

type eventsConfig struct {
	Enabled  bool     `envconfig:"CVBUILDER_EVENTS_ENABLED" default:"false"`
	Brokers  []string `envconfig:"CVBUILDER_KAFKA_BROKERS" default:""`
	Topic    string   `envconfig:"CVBUILDER_KAFKA_TOPIC" default:"cvbuilder.jobs"`
	ClientID string   `envconfig:"CVBUILDER_KAFKA_CLIENT_ID" default:"cvbuilder-api"`
	Buffer   int      `envconfig:"CVBUILDER_EVENTS_BUFFER" default:"10000"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a config backed by an in-memory sqlite database, used by tests and local runs.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type: "sqlite",
			Name: "file::memory:?cache=shared",
		},
		Service: &svcConfig{
			Address:        ":3443",
			MetricsAddress: ":8080",
			BaseUrl:        "http://localhost:3443",
			LogLevel:       "info",
		},
		Worker: &workerConfig{
			Enabled:           true,
			Concurrency:       1,
			PollInterval:      100 * time.Millisecond,
			JobTimeout:        5 * time.Minute,
			StaleJobThreshold: 15 * time.Minute,
			ReapInterval:      time.Minute,
			RetentionWindow:   7 * 24 * time.Hour,
			RetentionInterval: time.Hour,
			ShutdownTimeout:   5 * time.Second,
		},
		AI: &aiConfig{
			BaseUrl:    "https://api.mistral.ai/v1",
			Model:      "mistral-small-latest",
			Timeout:    2 * time.Minute,
			MaxRetries: 3,
		},
		Events: &eventsConfig{
			Topic:    "cvbuilder.jobs",
			ClientID: "cvbuilder-api",
			Buffer:   10000,
		},
	}
}
