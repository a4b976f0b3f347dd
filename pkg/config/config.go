package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`

		// Error logs are aggregated and shipped to kafka.diagnostics_topic when enabled.
		Collect         bool          `yaml:"collect"`
		CollectInterval time.Duration `yaml:"collect_interval" default:"1m"`
		CollectCount    int           `yaml:"collect_count" default:"100"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`

		// Per-client token bucket on the fit endpoints. Zero rate disables it.
		RateLimit struct {
			Burst     float64 `yaml:"burst" default:"20" validate:"gte=0"`
			PerSecond float64 `yaml:"per_second" default:"10" validate:"gte=0"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Fit struct {
		EnableVerticalChargeUncertainties bool    `yaml:"enable_vertical_charge_uncertainties" default:"true"`
		MinUncertaintyValue               float64 `yaml:"min_uncertainty_value" default:"1e-20" validate:"gt=0"`
		PixelSpacing                      float64 `yaml:"pixel_spacing" default:"1" validate:"gt=0"`
		FilterOutliers                    bool    `yaml:"filter_outliers" default:"true"`
		OutlierSigma                      float64 `yaml:"outlier_sigma" default:"2.5" validate:"gt=0"`
		Verbose                           bool    `yaml:"verbose"`

		// Attach the Huber/Cauchy losses of the solver policy to the residuals.
		RobustLoss bool `yaml:"robust_loss" default:"true"`

		// Serialize fits across every Fitter in the process.
		SharedLock bool `yaml:"shared_lock" default:"true"`
	} `yaml:"fit"`
	Results struct {
		// Where completed fits go: kafka, clickhouse or none.
		Sink     string        `yaml:"sink" default:"clickhouse" validate:"oneof=kafka clickhouse none"`
		CacheTTL time.Duration `yaml:"cache_ttl" default:"10m"`
	} `yaml:"results"`
	Kafka struct {
		Enabled          bool     `yaml:"enabled"`
		Brokers          []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		HitsTopic        string   `yaml:"hits_topic" default:"hits"`
		ResultsTopic     string   `yaml:"results_topic" default:"fit.results"`
		DiagnosticsTopic string   `yaml:"diagnostics_topic" default:"fit.diagnostics"`
		RequiredAcks     int      `yaml:"required_acks" default:"-1"`
		Compression      string   `yaml:"compression" default:"snappy"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"5ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"chargefit"`
			Workers    int           `yaml:"workers" default:"4" validate:"gte=1"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"hits.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"chargefit"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"chargefit"`
	} `yaml:"redis"`
	Stream struct {
		Enabled      bool          `yaml:"enabled" default:"true"`
		Path         string        `yaml:"path" default:"/ws/fits"`
		BufferSize   int           `yaml:"buffer_size" default:"64" validate:"gte=1"`
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"stream"`
}

var validate = validator.New()

// Default returns a configuration populated only from struct defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file. Keys missing from the
// file keep their default values.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("ENABLE_VERTICAL_CHARGE_UNCERTAINTIES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_VERTICAL_CHARGE_UNCERTAINTIES: %w", err)
		}
		c.Fit.EnableVerticalChargeUncertainties = b
	}
	if v := getenv("MIN_UNCERTAINTY_VALUE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MIN_UNCERTAINTY_VALUE: %w", err)
		}
		c.Fit.MinUncertaintyValue = f
	}
	if v := getenv("RESULTS_SINK"); v != "" {
		c.Results.Sink = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_HITS_TOPIC"); v != "" {
		c.Kafka.HitsTopic = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Results.Sink == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("results.sink is kafka but kafka.brokers is empty")
	}
	if c.Kafka.Enabled && c.Kafka.HitsTopic == "" {
		return fmt.Errorf("kafka.hits_topic is required when kafka is enabled")
	}
	if c.Log.Collect && c.Kafka.DiagnosticsTopic == "" {
		return fmt.Errorf("log.collect requires kafka.diagnostics_topic")
	}
	if c.Stream.Enabled && !strings.HasPrefix(c.Stream.Path, "/") {
		return fmt.Errorf("stream.path must start with '/', got '%s'", c.Stream.Path)
	}
	return nil
}
