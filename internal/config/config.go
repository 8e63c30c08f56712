package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/model"
)

var (
	// ErrMissingSetting is returned when a required variable is unset.
	ErrMissingSetting = errors.New("missing required setting")
	// ErrInvalidSetting is returned when a setting is out of range.
	ErrInvalidSetting = errors.New("invalid setting")
)

// Config holds all application configuration
type Config struct {
	ZoneID   string `env:"ZONE_ID" validate:"required"`
	InfluxDB InfluxDBConfig
	Forecast ForecastConfig
	State    StateConfig
	Kafka    KafkaConfig
	Server   ServerConfig
	Breaker  BreakerConfig
}

// InfluxDBConfig holds InfluxDB-related configuration
type InfluxDBConfig struct {
	URL    string `env:"INFLUXDB_URL" validate:"required"`
	Org    string `env:"INFLUXDB_ORG" validate:"required"`
	Token  string `env:"INFLUXDB_TOKEN" validate:"required"`
	Bucket string `env:"INFLUXDB_BUCKET" validate:"required"`
}

// ForecastConfig holds the forecasting and online learning parameters
type ForecastConfig struct {
	ThresholdF        float64       `env:"FROST_TEMP_THRESHOLD"`
	LookbackHours     int           `env:"LOOKBACK_HOURS" validate:"gt=0"`
	IntervalMinutes   int           `env:"INTERVAL_MINUTES" validate:"gt=0"`
	HorizonMinutes    int           `env:"HORIZON_MINUTES" validate:"gt=0"`
	LR                float64       `env:"LR" validate:"gt=0"`
	WeightDecay       float64       `env:"WEIGHT_DECAY" validate:"gte=0"`
	ModelVersion      string        `env:"MODEL_VERSION" validate:"required"`
	Hidden            int           `env:"MODEL_HIDDEN" validate:"gt=0"`
	Seed              uint64        `env:"SEED"`
	IngestID          string        `env:"INGEST_ID"`
	CoverageThreshold float64       `env:"COVERAGE_THRESHOLD" validate:"gte=0,lte=1"`
	MaxGapBins        int           `env:"MAX_GAP_BINS" validate:"gte=0"`
	BacklogLimit      int           `env:"BACKLOG_LIMIT" validate:"gt=0"`
	IdempotencyWindow time.Duration `env:"IDEMPOTENCY_WINDOW" validate:"gt=0"`
}

// Interval is the grid bin width.
func (f ForecastConfig) Interval() time.Duration {
	return time.Duration(f.IntervalMinutes) * time.Minute
}

// Horizon is the label window length.
func (f ForecastConfig) Horizon() time.Duration {
	return time.Duration(f.HorizonMinutes) * time.Minute
}

// Lookback is the history window fed to the model.
func (f ForecastConfig) Lookback() time.Duration {
	return time.Duration(f.LookbackHours) * time.Hour
}

// RequiredSteps is the fixed grid length.
func (f ForecastConfig) RequiredSteps() int {
	return f.LookbackHours * 60 / f.IntervalMinutes
}

// StateConfig selects where model snapshots are kept
type StateConfig struct {
	Backend    string `env:"STATE_BACKEND" validate:"oneof=file sqlite none"`
	Dir        string `env:"STATE_DIR"`
	SQLitePath string `env:"STATE_SQLITE_PATH"`
	Prefix     string `env:"STATE_PREFIX"`
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Brokers      []string `env:"KAFKA_BROKERS"`
	IngestTopic  string   `env:"KAFKA_INGEST_TOPIC"`
	GroupID      string   `env:"KAFKA_GROUP_ID"`
	SummaryTopic string   `env:"KAFKA_SUMMARY_TOPIC"`
}

// ServerConfig holds the long-running mode settings
type ServerConfig struct {
	HTTPAddr      string        `env:"HTTP_ADDR"`
	ScheduleEvery time.Duration `env:"SCHEDULE_EVERY" validate:"gte=0"`
}

// BreakerConfig tunes the warehouse circuit breaker
type BreakerConfig struct {
	MaxFailures uint32        `env:"BREAKER_MAX_FAILURES" validate:"gt=0"`
	OpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT" validate:"gt=0"`
}

// Load loads configuration from environment variables with sensible defaults
// and validates it before any I/O happens.
func Load() (*Config, error) {
	env := &envReader{}
	version := getEnv("MODEL_VERSION", "mlp_v1")
	cfg := &Config{
		ZoneID: getEnv("ZONE_ID", ""),
		InfluxDB: InfluxDBConfig{
			URL:    getEnv("INFLUXDB_URL", ""),
			Org:    getEnv("INFLUXDB_ORG", ""),
			Token:  getEnv("INFLUXDB_TOKEN", ""),
			Bucket: getEnv("INFLUXDB_BUCKET", ""),
		},
		Forecast: ForecastConfig{
			ThresholdF:        env.getFloat("FROST_TEMP_THRESHOLD", 32.0),
			LookbackHours:     env.getInt("LOOKBACK_HOURS", 72),
			IntervalMinutes:   env.getInt("INTERVAL_MINUTES", 15),
			HorizonMinutes:    env.getInt("HORIZON_MINUTES", 360),
			LR:                env.getFloat("LR", 1e-3),
			WeightDecay:       env.getFloat("WEIGHT_DECAY", 1e-6),
			ModelVersion:      version,
			Hidden:            env.getInt("MODEL_HIDDEN", 128),
			Seed:              env.getUint64("SEED", 42),
			IngestID:          getEnv("INGEST_ID", ""),
			CoverageThreshold: env.getFloat("COVERAGE_THRESHOLD", 0.75),
			MaxGapBins:        env.getInt("MAX_GAP_BINS", 8),
			BacklogLimit:      env.getInt("BACKLOG_LIMIT", 50),
			IdempotencyWindow: env.getDuration("IDEMPOTENCY_WINDOW", 30*24*time.Hour),
		},
		State: StateConfig{
			Backend:    getEnv("STATE_BACKEND", "file"),
			Dir:        getEnv("STATE_DIR", "./state"),
			SQLitePath: getEnv("STATE_SQLITE_PATH", "./state/frost.db"),
			Prefix:     getEnv("STATE_PREFIX", "frost_"+version),
		},
		Kafka: KafkaConfig{
			Brokers:      env.getStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			IngestTopic:  getEnv("KAFKA_INGEST_TOPIC", "sensor-ingest"),
			GroupID:      getEnv("KAFKA_GROUP_ID", "frost-forecaster"),
			SummaryTopic: getEnv("KAFKA_SUMMARY_TOPIC", ""),
		},
		Server: ServerConfig{
			HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
			ScheduleEvery: env.getDuration("SCHEDULE_EVERY", 15*time.Minute),
		},
		Breaker: BreakerConfig{
			MaxFailures: uint32(env.getInt("BREAKER_MAX_FAILURES", 5)),
			OpenTimeout: env.getDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
	}

	// unparseable values are reported before range checks on the defaults
	if len(env.invalid) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSetting, strings.Join(env.invalid, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report the environment variable rather than the Go field name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate checks required settings and ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		var missing, invalid []string
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				missing = append(missing, fe.Field())
			} else {
				invalid = append(invalid, fmt.Sprintf("%s (%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
		}
		return fmt.Errorf("%w: %s", ErrInvalidSetting, strings.Join(invalid, ", "))
	}

	f := c.Forecast
	if (f.LookbackHours*60)%f.IntervalMinutes != 0 {
		return fmt.Errorf("%w: LOOKBACK_HOURS*60 (%d) is not a multiple of INTERVAL_MINUTES (%d)",
			ErrInvalidSetting, f.LookbackHours*60, f.IntervalMinutes)
	}
	if _, err := model.ParseArch(f.ModelVersion); err != nil {
		return fmt.Errorf("%w: MODEL_VERSION: %v", ErrInvalidSetting, err)
	}
	return nil
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// envReader parses typed variables and records the ones that are set but
// cannot be parsed, instead of silently falling back to the default.
type envReader struct {
	invalid []string
}

func (r *envReader) fail(key, value string) {
	r.invalid = append(r.invalid, fmt.Sprintf("%s (cannot parse %q)", key, value))
}

func (r *envReader) getInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			r.fail(key, value)
			return defaultValue
		}
		return intValue
	}
	return defaultValue
}

func (r *envReader) getUint64(key string, defaultValue uint64) uint64 {
	if value, exists := os.LookupEnv(key); exists {
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			r.fail(key, value)
			return defaultValue
		}
		return n
	}
	return defaultValue
}

func (r *envReader) getFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			r.fail(key, value)
			return defaultValue
		}
		return f
	}
	return defaultValue
}

func (r *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		duration, err := time.ParseDuration(value)
		if err != nil {
			r.fail(key, value)
			return defaultValue
		}
		return duration
	}
	return defaultValue
}

func (r *envReader) getStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		if value == "" {
			return nil
		}
		return strings.Split(value, ",")
	}
	return defaultValue
}
