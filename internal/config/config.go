// Package config loads and validates application configuration.
package config

import (
	"fmt"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration for the scheduling service.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Session     SessionConfig     `mapstructure:"session"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

type DatabaseConfig struct {
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Database        string            `mapstructure:"database"`
	Username        string            `mapstructure:"username"`
	Password        string            `mapstructure:"password"`
	TLS             bool              `mapstructure:"tls"`
	Params          map[string]string `mapstructure:"params"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int               `mapstructure:"conn_max_lifetime_seconds"`
}

// SchedulerConfig carries the tuning constants for the active scheduling
// algorithm. The fsrs_v6 coefficients are injected here rather than hardcoded
// so a retrained parameter set can ship without a code change.
type SchedulerConfig struct {
	Name string `mapstructure:"name" validate:"required"`

	// InitialStability and InitialDifficulty seed a state on the first
	// review, indexed by rating 1..4.
	InitialStability  [4]float64 `mapstructure:"initial_stability" validate:"dive,gt=0"`
	InitialDifficulty [4]float64 `mapstructure:"initial_difficulty"`

	// DifficultyTarget is the ease-indexed target the difficulty moves
	// toward on each review; DifficultyWeight is the step fraction.
	DifficultyTarget [4]float64 `mapstructure:"difficulty_target"`
	DifficultyWeight float64    `mapstructure:"difficulty_weight" validate:"gt=0,lte=1"`
	MinDifficulty    float64    `mapstructure:"min_difficulty" validate:"gte=1"`
	MaxDifficulty    float64    `mapstructure:"max_difficulty" validate:"gtfield=MinDifficulty"`

	// Stability growth constants for the success branch.
	GrowthRate       float64 `mapstructure:"growth_rate" validate:"gt=0"`
	StabilityDecay   float64 `mapstructure:"stability_decay" validate:"gte=0"`
	RetrievabilityGain float64 `mapstructure:"retrievability_gain" validate:"gt=0"`
	HardPenalty      float64 `mapstructure:"hard_penalty" validate:"gt=0,lte=1"`
	EasyBonus        float64 `mapstructure:"easy_bonus" validate:"gte=1"`

	// LapseDecay is the fraction of prior stability kept after a rating-1
	// review. Must be below 1 so a lapse never grows stability.
	LapseDecay float64 `mapstructure:"lapse_decay" validate:"gt=0,lt=1"`

	// Interval scaling per session mode and hard bounds in days.
	IntervalScale   map[string]float64 `mapstructure:"interval_scale"`
	MinIntervalDays int                `mapstructure:"min_interval_days" validate:"gte=1"`
	MaxIntervalDays int                `mapstructure:"max_interval_days" validate:"gtfield=MinIntervalDays"`

	// FuzzPercent bounds the deterministic due-date perturbation, as a
	// fraction of the interval (0 disables fuzzing).
	FuzzPercent float64 `mapstructure:"fuzz_percent" validate:"gte=0,lte=0.5"`

	// MaxRetryAttempts bounds the read-compute-write retry loop on
	// version conflicts.
	MaxRetryAttempts uint `mapstructure:"max_retry_attempts" validate:"gte=1"`
}

// SessionConfig controls due-item selection and quiz assembly.
type SessionConfig struct {
	MinCandidateItems int `mapstructure:"min_candidate_items" validate:"gte=1"`
	DefaultLimit      int `mapstructure:"default_limit" validate:"gte=1"`

	// DrillWeight is the sampling weight multiplier for lapsed or
	// harder-than-median items in drill mode.
	DrillWeight float64 `mapstructure:"drill_weight" validate:"gte=1"`

	// MockDistribution maps difficulty bucket upper bounds to target
	// shares for mock-mode stratified sampling. Shares must sum to 1.
	MockBuckets []MockBucket `mapstructure:"mock_buckets" validate:"dive"`

	// LatencyBucketsMs are the upper bounds, in milliseconds, for the
	// fast/normal/slow latency buckets; anything above is "stalled".
	LatencyBucketsMs [3]int `mapstructure:"latency_buckets_ms"`
}

// MockBucket is one difficulty stratum of a mock session.
type MockBucket struct {
	MaxDifficulty float64 `mapstructure:"max_difficulty" validate:"gt=0"`
	Share         float64 `mapstructure:"share" validate:"gt=0,lte=1"`
}

type IdempotencyConfig struct {
	TTLSeconds   int `mapstructure:"ttl_seconds" validate:"gte=1"`
	SweepSeconds int `mapstructure:"sweep_interval_seconds" validate:"gte=1"`
}

// ConfigLoader loads configuration from file and environment.
type ConfigLoader struct {
	viper      *viper.Viper
	validator  *validator.Validate
	translator ut.Translator
}

// NewConfigLoader creates a loader reading the given file, or the default
// search paths when configFile is empty.
func NewConfigLoader(configFile string) (*ConfigLoader, error) {
	validate, trans, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create new validator: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/recall")
	}

	return &ConfigLoader{
		viper:      v,
		validator:  validate,
		translator: trans,
	}, nil
}

// Load reads, unmarshals and validates the configuration.
func (loader *ConfigLoader) Load() (*Config, error) {
	v := loader.viper

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "recall")
	v.SetDefault("database.username", "recall")

	v.SetDefault("scheduler.name", "fsrs_v6")
	// Defaults follow the published FSRS v6 parameter set: w[0..3] seed
	// stability per rating, the difficulty family is collapsed into a
	// target-and-weight form, and growth constants map to w[8..10] with
	// the hard penalty w[15] and easy bonus w[16].
	v.SetDefault("scheduler.initial_stability", []float64{0.212, 1.2931, 2.3065, 8.2956})
	v.SetDefault("scheduler.initial_difficulty", []float64{7.2, 6.2, 5.0, 3.2})
	v.SetDefault("scheduler.difficulty_target", []float64{9.5, 7.0, 5.0, 2.0})
	v.SetDefault("scheduler.difficulty_weight", 0.33)
	v.SetDefault("scheduler.min_difficulty", 1.0)
	v.SetDefault("scheduler.max_difficulty", 10.0)
	v.SetDefault("scheduler.growth_rate", 1.8722)
	v.SetDefault("scheduler.stability_decay", 0.1666)
	v.SetDefault("scheduler.retrievability_gain", 0.796)
	v.SetDefault("scheduler.hard_penalty", 0.6014)
	v.SetDefault("scheduler.easy_bonus", 1.8729)
	v.SetDefault("scheduler.lapse_decay", 0.5)
	v.SetDefault("scheduler.interval_scale", map[string]float64{
		"review": 1.0,
		"drill":  0.5,
		"mock":   1.0,
	})
	v.SetDefault("scheduler.min_interval_days", 1)
	v.SetDefault("scheduler.max_interval_days", 365)
	v.SetDefault("scheduler.fuzz_percent", 0.05)
	v.SetDefault("scheduler.max_retry_attempts", 3)

	v.SetDefault("session.min_candidate_items", 1)
	v.SetDefault("session.default_limit", 20)
	v.SetDefault("session.drill_weight", 3.0)
	v.SetDefault("session.mock_buckets", []map[string]any{
		{"max_difficulty": 4.0, "share": 0.3},
		{"max_difficulty": 7.0, "share": 0.4},
		{"max_difficulty": 10.0, "share": 0.3},
	})
	v.SetDefault("session.latency_buckets_ms", []int{2000, 6000, 15000})

	v.SetDefault("idempotency.ttl_seconds", 86400)
	v.SetDefault("idempotency.sweep_interval_seconds", 300)

	// Bind database password to environment variable
	if err := v.BindEnv("database.password", "DB_PASSWORD"); err != nil {
		return nil, fmt.Errorf("failed to bind DB_PASSWORD environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("configuration file found but could not be read: %w. Please check the file format and permissions", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}

	if err := loader.validator.Struct(cfg); err != nil {
		validationErrors := err.(validator.ValidationErrors)
		var errorMsgs []string
		for _, e := range validationErrors {
			errorMsgs = append(errorMsgs, e.Translate(loader.translator))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errorMsgs, ", "))
	}

	if err := validateMockBuckets(cfg.Session.MockBuckets); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// validateMockBuckets checks bucket ordering and that shares sum to one.
func validateMockBuckets(buckets []MockBucket) error {
	if len(buckets) == 0 {
		return nil
	}
	var sum float64
	prev := 0.0
	for i, b := range buckets {
		if b.MaxDifficulty <= prev {
			return fmt.Errorf("mock bucket %d: max_difficulty must increase", i)
		}
		prev = b.MaxDifficulty
		sum += b.Share
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("mock bucket shares sum to %.3f, want 1.0", sum)
	}
	return nil
}
