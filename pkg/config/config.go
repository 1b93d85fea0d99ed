package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/relayops/cascadeguard/pkg/breaker"
	"github.com/relayops/cascadeguard/pkg/cascade"
)

// Config holds the runtime configuration
type Config struct {
	Server  ServerConfig  `json:"server"`
	System  SystemConfig  `json:"system"`
	Breaker BreakerConfig `json:"breaker"`
	Redis   RedisConfig   `json:"redis"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	Webhook WebhookConfig `json:"webhook"`
	Tracing TracingConfig `json:"tracing"`

	// ManifestPath points at the YAML dependency manifest loaded with
	// LoadFile. Empty means dependencies are registered in code.
	ManifestPath string `json:"manifest_path"`
}

// ServerConfig contains admin HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Mode            string        `json:"mode"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// SystemConfig contains cascade prevention thresholds
type SystemConfig struct {
	HealthThreshold       float64       `json:"health_threshold"`
	MaxConcurrentFailures int           `json:"max_concurrent_failures"`
	IsolationTimeout      time.Duration `json:"isolation_timeout"`
	HealthCheckInterval   time.Duration `json:"health_check_interval"`
	MaxRecoveryBackoff    time.Duration `json:"max_recovery_backoff"`
}

// BreakerConfig contains the circuit breaker baseline applied to every
// dependency that does not override it in the manifest
type BreakerConfig struct {
	FailureThreshold   int           `json:"failure_threshold"`
	RecoveryTimeout    time.Duration `json:"recovery_timeout"`
	SuccessThreshold   int           `json:"success_threshold"`
	CallTimeout        time.Duration `json:"call_timeout"`
	MonitoringWindow   time.Duration `json:"monitoring_window"`
	ExponentialBackoff bool          `json:"exponential_backoff"`
	MaxBackoffTime     time.Duration `json:"max_backoff_time"`

	// MaxConcurrent caps in-flight calls per dependency. Zero disables
	// bulkhead admission control for dependencies without their own
	// bulkhead section.
	MaxConcurrent int           `json:"max_concurrent"`
	QueueSize     int           `json:"queue_size"`
	QueueTimeout  time.Duration `json:"queue_timeout"`
}

// RedisConfig contains Redis connection configuration for the cached
// response fallback store
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains Prometheus exposition configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
}

// WebhookConfig contains the event webhook sink configuration
type WebhookConfig struct {
	URL       string        `json:"url"`
	Timeout   time.Duration `json:"timeout"`
	QueueSize int           `json:"queue_size"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	ServiceName string  `json:"service_name"`
	Endpoint    string  `json:"endpoint"`
	SampleRate  float64 `json:"sample_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			Mode:            getEnvString("SERVER_MODE", "release"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		System: SystemConfig{
			HealthThreshold:       getEnvFloat("CASCADE_HEALTH_THRESHOLD", cascade.DefaultHealthThreshold),
			MaxConcurrentFailures: getEnvInt("CASCADE_MAX_CONCURRENT_FAILURES", cascade.DefaultMaxConcurrentFailures),
			IsolationTimeout:      getEnvDuration("CASCADE_ISOLATION_TIMEOUT", cascade.DefaultIsolationTimeout),
			HealthCheckInterval:   getEnvDuration("CASCADE_HEALTH_CHECK_INTERVAL", cascade.DefaultHealthCheckInterval),
			MaxRecoveryBackoff:    getEnvDuration("CASCADE_MAX_RECOVERY_BACKOFF", 0),
		},
		Breaker: BreakerConfig{
			FailureThreshold:   getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:    getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
			SuccessThreshold:   getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
			CallTimeout:        getEnvDuration("BREAKER_CALL_TIMEOUT", 10*time.Second),
			MonitoringWindow:   getEnvDuration("BREAKER_MONITORING_WINDOW", 60*time.Second),
			ExponentialBackoff: getEnvBool("BREAKER_EXPONENTIAL_BACKOFF", true),
			MaxBackoffTime:     getEnvDuration("BREAKER_MAX_BACKOFF_TIME", 5*time.Minute),
			MaxConcurrent:      getEnvInt("BREAKER_MAX_CONCURRENT", 10),
			QueueSize:          getEnvInt("BREAKER_QUEUE_SIZE", 0),
			QueueTimeout:       getEnvDuration("BREAKER_QUEUE_TIMEOUT", 0),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "cascadeguard"),
			Subsystem: getEnvString("METRICS_SUBSYSTEM", ""),
		},
		Webhook: WebhookConfig{
			URL:       getEnvString("WEBHOOK_URL", ""),
			Timeout:   getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			QueueSize: getEnvInt("WEBHOOK_QUEUE_SIZE", 256),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnvString("TRACING_SERVICE_NAME", "cascadeguard"),
			Endpoint:    getEnvString("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		ManifestPath: getEnvString("MANIFEST_PATH", ""),
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.System),
		validation.Field(&c.Breaker),
		validation.Field(&c.Redis),
		validation.Field(&c.Logging),
		validation.Field(&c.Metrics),
		validation.Field(&c.Webhook),
		validation.Field(&c.Tracing),
	)
}

// Validate validates the admin server configuration
func (c ServerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Mode, validation.Required, validation.In("debug", "release", "test")),
		validation.Field(&c.ReadTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.WriteTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.IdleTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.ShutdownTimeout, validation.Min(time.Duration(0))),
	)
}

// Validate validates the cascade prevention thresholds
func (c SystemConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.HealthThreshold, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&c.MaxConcurrentFailures, validation.Min(0)),
		validation.Field(&c.IsolationTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.HealthCheckInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRecoveryBackoff, validation.Min(time.Duration(0))),
	)
}

// Validate validates the circuit breaker baseline
func (c BreakerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.FailureThreshold, validation.Min(0)),
		validation.Field(&c.RecoveryTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.SuccessThreshold, validation.Min(0)),
		validation.Field(&c.MonitoringWindow, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxBackoffTime, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxConcurrent, validation.Min(0)),
		validation.Field(&c.QueueSize, validation.Min(0)),
		validation.Field(&c.QueueTimeout, validation.Min(time.Duration(0))),
	)
}

// Validate validates the Redis connection configuration
func (c RedisConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.DB, validation.Min(0)),
		validation.Field(&c.PoolSize, validation.Min(0)),
	)
}

// Validate validates the logging configuration
func (c LoggingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.Required,
			validation.In("trace", "debug", "info", "warn", "warning", "error", "fatal", "panic")),
		validation.Field(&c.Format, validation.Required, validation.In("json", "text")),
		// Output is stdout, stderr, or a file path.
		validation.Field(&c.Output, validation.Required),
	)
}

// Validate validates the metrics configuration
func (c MetricsConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Namespace, validation.When(c.Enabled, validation.Required)),
	)
}

// Validate validates the webhook sink configuration
func (c WebhookConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.QueueSize, validation.Min(0)),
	)
}

// Validate validates the tracing configuration
func (c TracingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServiceName, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Endpoint, validation.When(c.Enabled, validation.Required), is.URL),
		validation.Field(&c.SampleRate, validation.Min(0.0), validation.Max(1.0)),
	)
}

// ListenAddr returns the admin server listen address
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RedisAddr returns the Redis connection address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// CascadeConfig converts the system section into the cascade package's
// configuration type.
func (c *Config) CascadeConfig() cascade.Config {
	return cascade.Config{
		HealthThreshold:       c.System.HealthThreshold,
		MaxConcurrentFailures: c.System.MaxConcurrentFailures,
		IsolationTimeout:      c.System.IsolationTimeout,
		HealthCheckInterval:   c.System.HealthCheckInterval,
		MaxRecoveryBackoff:    c.System.MaxRecoveryBackoff,
	}
}

// breakerConfig builds the baseline breaker configuration manifest entries
// start from.
func (c BreakerConfig) breakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold:   c.FailureThreshold,
		RecoveryTimeout:    c.RecoveryTimeout,
		SuccessThreshold:   c.SuccessThreshold,
		CallTimeout:        c.CallTimeout,
		MonitoringWindow:   c.MonitoringWindow,
		ExponentialBackoff: c.ExponentialBackoff,
		MaxBackoffTime:     c.MaxBackoffTime,
	}
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Manifest is the YAML dependency manifest: the declarative list of
// downstream dependencies the system protects.
type Manifest struct {
	Dependencies []DependencySpec `mapstructure:"dependencies" json:"dependencies"`
}

// DependencySpec declares one protected dependency.
type DependencySpec struct {
	Name     string        `mapstructure:"name" json:"name"`
	Priority string        `mapstructure:"priority" json:"priority"`
	Fallback string        `mapstructure:"fallback" json:"fallback"`
	Breaker  BreakerSpec   `mapstructure:"breaker" json:"breaker"`
	Bulkhead *BulkheadSpec `mapstructure:"bulkhead" json:"bulkhead,omitempty"`
	Retry    *RetrySpec    `mapstructure:"retry" json:"retry,omitempty"`
}

// BreakerSpec overrides the breaker baseline per dependency. Zero fields
// keep the baseline value.
type BreakerSpec struct {
	FailureThreshold   int           `mapstructure:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout    time.Duration `mapstructure:"recovery_timeout" json:"recovery_timeout"`
	SuccessThreshold   int           `mapstructure:"success_threshold" json:"success_threshold"`
	CallTimeout        time.Duration `mapstructure:"call_timeout" json:"call_timeout"`
	MonitoringWindow   time.Duration `mapstructure:"monitoring_window" json:"monitoring_window"`
	ExponentialBackoff *bool         `mapstructure:"exponential_backoff" json:"exponential_backoff,omitempty"`
	MaxBackoffTime     time.Duration `mapstructure:"max_backoff_time" json:"max_backoff_time"`
}

// BulkheadSpec configures admission control for one dependency.
type BulkheadSpec struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" json:"max_concurrent"`
	QueueSize     int           `mapstructure:"queue_size" json:"queue_size"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout" json:"queue_timeout"`
	IsolationKey  string        `mapstructure:"isolation_key" json:"isolation_key"`
}

// RetrySpec layers a retry policy above the dependency's breaker.
type RetrySpec struct {
	MaxAttempts       int           `mapstructure:"max_attempts" json:"max_attempts"`
	InitialDelay      time.Duration `mapstructure:"initial_delay" json:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay" json:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" json:"backoff_multiplier"`
	Jitter            bool          `mapstructure:"jitter" json:"jitter"`
}

// LoadFile reads and validates a YAML dependency manifest.
func LoadFile(path string) (*Manifest, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading dependency manifest: %w", err)
	}

	var manifest Manifest
	if err := v.Unmarshal(&manifest); err != nil {
		return nil, fmt.Errorf("parsing dependency manifest: %w", err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependency manifest: %w", err)
	}

	return &manifest, nil
}

// Validate validates the manifest
func (m Manifest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Dependencies,
			validation.Required,
			validation.By(uniqueDependencyNames),
		),
	)
}

// Validate validates one dependency declaration
func (s DependencySpec) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Priority, validation.By(validPriorityName)),
		validation.Field(&s.Fallback, validation.By(validStrategyName)),
		validation.Field(&s.Breaker),
		validation.Field(&s.Bulkhead),
		validation.Field(&s.Retry),
	)
}

// Validate validates a breaker override block
func (s BreakerSpec) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.FailureThreshold, validation.Min(0)),
		validation.Field(&s.RecoveryTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.SuccessThreshold, validation.Min(0)),
		validation.Field(&s.MonitoringWindow, validation.Min(time.Duration(0))),
		validation.Field(&s.MaxBackoffTime, validation.Min(time.Duration(0))),
	)
}

// Validate validates a bulkhead block
func (s BulkheadSpec) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.MaxConcurrent, validation.Min(0)),
		validation.Field(&s.QueueSize, validation.Min(0)),
		validation.Field(&s.QueueTimeout, validation.Min(time.Duration(0))),
	)
}

// Validate validates a retry block
func (s RetrySpec) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.MaxAttempts, validation.Min(0)),
		validation.Field(&s.InitialDelay, validation.Min(time.Duration(0))),
		validation.Field(&s.MaxDelay, validation.Min(time.Duration(0))),
		validation.Field(&s.BackoffMultiplier, validation.Min(1.0)),
	)
}

func uniqueDependencyNames(value interface{}) error {
	specs, ok := value.([]DependencySpec)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a dependency list")
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return validation.NewError("validation_duplicate_dependency",
				fmt.Sprintf("dependency %q is declared more than once", s.Name))
		}
		seen[s.Name] = true
	}
	return nil
}

func validPriorityName(value interface{}) error {
	name, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if name == "" {
		return nil
	}
	if _, err := cascade.ParsePriority(name); err != nil {
		return validation.NewError("validation_unknown_priority",
			"must be one of CRITICAL, HIGH, MEDIUM, LOW")
	}
	return nil
}

func validStrategyName(value interface{}) error {
	name, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if name == "" {
		return nil
	}
	if _, err := cascade.ParseStrategy(name); err != nil {
		return validation.NewError("validation_unknown_strategy",
			"must be one of cached_response, default_value, graceful_degradation, fail_fast, circuit_breaker")
	}
	return nil
}

// Build converts the declaration into a dependency configuration, merging
// the breaker baseline with per-dependency overrides.
func (s DependencySpec) Build(defaults BreakerConfig) (cascade.DependencyConfig, error) {
	cfg := cascade.DependencyConfig{
		Name:     s.Name,
		Priority: cascade.PriorityMedium,
	}

	if s.Priority != "" {
		priority, err := cascade.ParsePriority(s.Priority)
		if err != nil {
			return cascade.DependencyConfig{}, fmt.Errorf("dependency %q: %w", s.Name, err)
		}
		cfg.Priority = priority
	}

	if s.Fallback != "" {
		strategy, err := cascade.ParseStrategy(s.Fallback)
		if err != nil {
			return cascade.DependencyConfig{}, fmt.Errorf("dependency %q: %w", s.Name, err)
		}
		cfg.Strategy = strategy
	}

	bcfg := defaults.breakerConfig()
	if s.Breaker.FailureThreshold > 0 {
		bcfg.FailureThreshold = s.Breaker.FailureThreshold
	}
	if s.Breaker.RecoveryTimeout > 0 {
		bcfg.RecoveryTimeout = s.Breaker.RecoveryTimeout
	}
	if s.Breaker.SuccessThreshold > 0 {
		bcfg.SuccessThreshold = s.Breaker.SuccessThreshold
	}
	if s.Breaker.CallTimeout != 0 {
		bcfg.CallTimeout = s.Breaker.CallTimeout
	}
	if s.Breaker.MonitoringWindow > 0 {
		bcfg.MonitoringWindow = s.Breaker.MonitoringWindow
	}
	if s.Breaker.ExponentialBackoff != nil {
		bcfg.ExponentialBackoff = *s.Breaker.ExponentialBackoff
	}
	if s.Breaker.MaxBackoffTime > 0 {
		bcfg.MaxBackoffTime = s.Breaker.MaxBackoffTime
	}

	switch {
	case s.Bulkhead != nil:
		bcfg.Bulkhead = &breaker.BulkheadConfig{
			MaxConcurrentRequests: s.Bulkhead.MaxConcurrent,
			QueueSize:             s.Bulkhead.QueueSize,
			QueueTimeout:          s.Bulkhead.QueueTimeout,
			IsolationKey:          s.Bulkhead.IsolationKey,
		}
	case defaults.MaxConcurrent > 0:
		bcfg.Bulkhead = &breaker.BulkheadConfig{
			MaxConcurrentRequests: defaults.MaxConcurrent,
			QueueSize:             defaults.QueueSize,
			QueueTimeout:          defaults.QueueTimeout,
		}
	}
	cfg.Breaker = bcfg

	if s.Retry != nil {
		cfg.Retry = cascade.NewRetrier(cascade.RetryConfig{
			MaxAttempts:       s.Retry.MaxAttempts,
			InitialDelay:      s.Retry.InitialDelay,
			MaxDelay:          s.Retry.MaxDelay,
			BackoffMultiplier: s.Retry.BackoffMultiplier,
			Jitter:            s.Retry.Jitter,
		})
	}

	return cfg, nil
}

// DependencyConfigs builds the dependency configurations for every manifest
// entry, in declaration order.
func (m *Manifest) DependencyConfigs(defaults BreakerConfig) ([]cascade.DependencyConfig, error) {
	configs := make([]cascade.DependencyConfig, 0, len(m.Dependencies))
	for _, spec := range m.Dependencies {
		cfg, err := spec.Build(defaults)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
