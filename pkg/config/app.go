package config

import (
	"time"

	"github.com/fluxorio/kvpipe/pkg/core"
	"github.com/fluxorio/kvpipe/pkg/pipeline"
)

// MaxChaosDelay bounds each configured chaos delay
const MaxChaosDelay = time.Minute

// Config is the kvpipe application configuration
type Config struct {
	LogLevel string         `yaml:"log_level" json:"log_level"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Chaos    ChaosConfig    `yaml:"chaos" json:"chaos"`
	Gateway  GatewayConfig  `yaml:"gateway" json:"gateway"`
	NATS     NATSConfig     `yaml:"nats" json:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	Tracing  TracingConfig  `yaml:"tracing" json:"tracing"`
}

type PipelineConfig struct {
	Workers       int  `yaml:"workers" json:"workers"`
	QueueCapacity int  `yaml:"queue_capacity" json:"queue_capacity"` // 0 = unbounded
	LockOSThread  bool `yaml:"lock_os_thread" json:"lock_os_thread"`
}

type ChaosConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
}

// GatewayConfig configures the HTTP ingestion endpoint.
// JWTSecret enables HS256 bearer auth on POST /commands when set.
type GatewayConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Addr      string `yaml:"addr" json:"addr"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
	Subject string `yaml:"subject" json:"subject"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Brokers []string `yaml:"brokers" json:"brokers"`
	Group   string   `yaml:"group" json:"group"`
	Topic   string   `yaml:"topic" json:"topic"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Default returns the configuration used when no file or env override is given
func Default() Config {
	pc := pipeline.DefaultConfig()
	chaos := pipeline.DefaultChaosConfig()
	return Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			Workers:       pc.Workers,
			QueueCapacity: pc.QueueCapacity,
		},
		Chaos: ChaosConfig{
			MinDelay: chaos.MinDelay,
			MaxDelay: chaos.MaxDelay,
		},
		Gateway: GatewayConfig{Addr: ":8080"},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "kvpipe.commands",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"127.0.0.1:9092"},
			Group:   "kvpipe",
			Topic:   "kvpipe.commands",
		},
	}
}

// LoadFile returns Default overlaid with the file at path (if any) and KVPIPE_* env vars
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := LoadWithEnv(path, EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration. An inverted chaos range is swapped in
// place and reported as a warning on logger rather than rejected.
func (c *Config) Validate(logger core.Logger) error {
	validators := []Validator{
		RangeValidator("Pipeline.Workers", 1, 1024),
		RangeValidator("Pipeline.QueueCapacity", 0, float64(1<<31-1)),
		OneOfValidator("LogLevel", "debug", "info", "warn", "warning", "error"),
		DurationValidator(0, MaxChaosDelay, "Chaos.MinDelay", "Chaos.MaxDelay"),
	}
	if c.Gateway.Enabled {
		validators = append(validators, RequiredFields("Gateway.Addr"))
	}
	if c.NATS.Enabled {
		validators = append(validators, RequiredFields("NATS.URL", "NATS.Subject"))
	}
	if c.Kafka.Enabled {
		validators = append(validators, RequiredFields("Kafka.Brokers", "Kafka.Group", "Kafka.Topic"))
	}
	if err := Validate(c, validators...); err != nil {
		return err
	}

	if c.Chaos.MinDelay > c.Chaos.MaxDelay {
		if logger != nil {
			logger.Warnf("chaos min_delay %s > max_delay %s, swapping", c.Chaos.MinDelay, c.Chaos.MaxDelay)
		}
		c.Chaos.MinDelay, c.Chaos.MaxDelay = c.Chaos.MaxDelay, c.Chaos.MinDelay
	}
	return nil
}

// Level returns the parsed log level; call after Validate
func (c Config) Level() core.Level {
	lvl, err := core.ParseLevel(c.LogLevel)
	if err != nil {
		return core.LevelInfo
	}
	return lvl
}

// PoolConfig converts to the pool configuration
func (c Config) PoolConfig() pipeline.Config {
	return pipeline.Config{
		Workers:       c.Pipeline.Workers,
		QueueCapacity: c.Pipeline.QueueCapacity,
		LockOSThread:  c.Pipeline.LockOSThread,
		Chaos: pipeline.ChaosConfig{
			Enabled:  c.Chaos.Enabled,
			MinDelay: c.Chaos.MinDelay,
			MaxDelay: c.Chaos.MaxDelay,
		},
	}
}
