package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayops/cascadeguard/pkg/cascade"
)

// clearConfigEnv blanks every variable Load reads so tests see the
// defaults regardless of the invoking shell.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SERVER_HOST", "SERVER_PORT", "SERVER_MODE",
		"SERVER_READ_TIMEOUT", "SERVER_WRITE_TIMEOUT", "SERVER_IDLE_TIMEOUT", "SERVER_SHUTDOWN_TIMEOUT",
		"CASCADE_HEALTH_THRESHOLD", "CASCADE_MAX_CONCURRENT_FAILURES",
		"CASCADE_ISOLATION_TIMEOUT", "CASCADE_HEALTH_CHECK_INTERVAL", "CASCADE_MAX_RECOVERY_BACKOFF",
		"BREAKER_FAILURE_THRESHOLD", "BREAKER_RECOVERY_TIMEOUT", "BREAKER_SUCCESS_THRESHOLD",
		"BREAKER_CALL_TIMEOUT", "BREAKER_MONITORING_WINDOW", "BREAKER_EXPONENTIAL_BACKOFF",
		"BREAKER_MAX_BACKOFF_TIME", "BREAKER_MAX_CONCURRENT", "BREAKER_QUEUE_SIZE", "BREAKER_QUEUE_TIMEOUT",
		"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE",
		"LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT",
		"METRICS_ENABLED", "METRICS_NAMESPACE", "METRICS_SUBSYSTEM",
		"WEBHOOK_URL", "WEBHOOK_TIMEOUT", "WEBHOOK_QUEUE_SIZE",
		"TRACING_ENABLED", "TRACING_SERVICE_NAME", "TRACING_ENDPOINT", "TRACING_SAMPLE_RATE",
		"MANIFEST_PATH",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "release", cfg.Server.Mode)
	require.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	require.Equal(t, cascade.DefaultHealthThreshold, cfg.System.HealthThreshold)
	require.Equal(t, cascade.DefaultMaxConcurrentFailures, cfg.System.MaxConcurrentFailures)
	require.Equal(t, cascade.DefaultIsolationTimeout, cfg.System.IsolationTimeout)
	require.Zero(t, cfg.System.MaxRecoveryBackoff)

	require.Equal(t, 5, cfg.Breaker.FailureThreshold)
	require.Equal(t, 30*time.Second, cfg.Breaker.RecoveryTimeout)
	require.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	require.True(t, cfg.Breaker.ExponentialBackoff)
	require.Equal(t, 10, cfg.Breaker.MaxConcurrent)
	require.Zero(t, cfg.Breaker.QueueSize)

	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, "stdout", cfg.Logging.Output)

	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, "cascadeguard", cfg.Metrics.Namespace)

	require.Empty(t, cfg.Webhook.URL)
	require.Equal(t, 256, cfg.Webhook.QueueSize)

	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, 1.0, cfg.Tracing.SampleRate)

	require.Empty(t, cfg.ManifestPath)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_MODE", "debug")
	t.Setenv("CASCADE_HEALTH_THRESHOLD", "72.5")
	t.Setenv("CASCADE_MAX_CONCURRENT_FAILURES", "5")
	t.Setenv("CASCADE_ISOLATION_TIMEOUT", "45s")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "3")
	t.Setenv("BREAKER_EXPONENTIAL_BACKOFF", "false")
	t.Setenv("BREAKER_QUEUE_SIZE", "16")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("WEBHOOK_URL", "http://hooks.internal/cascade")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_ENDPOINT", "http://jaeger:14268/api/traces")
	t.Setenv("MANIFEST_PATH", "/etc/cascadeguard/deps.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.Mode)
	require.Equal(t, 72.5, cfg.System.HealthThreshold)
	require.Equal(t, 5, cfg.System.MaxConcurrentFailures)
	require.Equal(t, 45*time.Second, cfg.System.IsolationTimeout)
	require.Equal(t, 3, cfg.Breaker.FailureThreshold)
	require.False(t, cfg.Breaker.ExponentialBackoff)
	require.Equal(t, 16, cfg.Breaker.QueueSize)
	require.Equal(t, 6380, cfg.Redis.Port)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.False(t, cfg.Metrics.Enabled)
	require.Equal(t, "http://hooks.internal/cascade", cfg.Webhook.URL)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, "http://jaeger:14268/api/traces", cfg.Tracing.Endpoint)
	require.Equal(t, "/etc/cascadeguard/deps.yaml", cfg.ManifestPath)
}

func TestLoad_MalformedValuesKeepDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("CASCADE_ISOLATION_TIMEOUT", "soon")
	t.Setenv("CASCADE_HEALTH_THRESHOLD", "plenty")
	t.Setenv("BREAKER_EXPONENTIAL_BACKOFF", "yep")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, cascade.DefaultIsolationTimeout, cfg.System.IsolationTimeout)
	require.Equal(t, cascade.DefaultHealthThreshold, cfg.System.HealthThreshold)
	require.True(t, cfg.Breaker.ExponentialBackoff)
}

func TestLoad_RejectsInvalidMode(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SERVER_MODE", "production")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "mode")
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "release",
		},
		System: SystemConfig{
			HealthThreshold:       50,
			MaxConcurrentFailures: 3,
			IsolationTimeout:      30 * time.Second,
			HealthCheckInterval:   5 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 2,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "cascadeguard",
		},
		Tracing: TracingConfig{
			SampleRate: 1.0,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantSub: "server",
		},
		{
			name:    "health threshold above 100",
			mutate:  func(c *Config) { c.System.HealthThreshold = 140 },
			wantSub: "health_threshold",
		},
		{
			name:    "negative failure threshold",
			mutate:  func(c *Config) { c.Breaker.FailureThreshold = -1 },
			wantSub: "failure_threshold",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantSub: "level",
		},
		{
			name:    "metrics enabled without namespace",
			mutate:  func(c *Config) { c.Metrics.Namespace = "" },
			wantSub: "namespace",
		},
		{
			name: "tracing enabled without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.ServiceName = "cascadeguard"
			},
			wantSub: "endpoint",
		},
		{
			name:    "sample rate above 1",
			mutate:  func(c *Config) { c.Tracing.SampleRate = 1.5 },
			wantSub: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func TestConfig_Addresses(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Host = "10.0.0.5"
	cfg.Server.Port = 9000
	cfg.Redis.Host = "cache.internal"
	cfg.Redis.Port = 6380

	require.Equal(t, "10.0.0.5:9000", cfg.ListenAddr())
	require.Equal(t, "cache.internal:6380", cfg.RedisAddr())
}

func TestConfig_CascadeConfig(t *testing.T) {
	cfg := validConfig()
	cfg.System.MaxRecoveryBackoff = 2 * time.Minute

	cc := cfg.CascadeConfig()
	require.Equal(t, 50.0, cc.HealthThreshold)
	require.Equal(t, 3, cc.MaxConcurrentFailures)
	require.Equal(t, 30*time.Second, cc.IsolationTimeout)
	require.Equal(t, 5*time.Second, cc.HealthCheckInterval)
	require.Equal(t, 2*time.Minute, cc.MaxRecoveryBackoff)
}

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dependencies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFile_Manifest(t *testing.T) {
	path := writeManifest(t, `
dependencies:
  - name: payments
    priority: CRITICAL
    fallback: fail_fast
    breaker:
      failure_threshold: 3
      recovery_timeout: 50ms
      exponential_backoff: false
    bulkhead:
      max_concurrent: 8
      queue_size: 16
      queue_timeout: 250ms
    retry:
      max_attempts: 4
      initial_delay: 20ms
      backoff_multiplier: 2.0
  - name: recommendations
    priority: LOW
    fallback: cached_response
`)

	manifest, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, manifest.Dependencies, 2)

	payments := manifest.Dependencies[0]
	require.Equal(t, "payments", payments.Name)
	require.Equal(t, "CRITICAL", payments.Priority)
	require.Equal(t, "fail_fast", payments.Fallback)
	require.Equal(t, 3, payments.Breaker.FailureThreshold)
	require.Equal(t, 50*time.Millisecond, payments.Breaker.RecoveryTimeout)
	require.NotNil(t, payments.Breaker.ExponentialBackoff)
	require.False(t, *payments.Breaker.ExponentialBackoff)
	require.NotNil(t, payments.Bulkhead)
	require.Equal(t, 8, payments.Bulkhead.MaxConcurrent)
	require.Equal(t, 250*time.Millisecond, payments.Bulkhead.QueueTimeout)
	require.NotNil(t, payments.Retry)
	require.Equal(t, 4, payments.Retry.MaxAttempts)

	recs := manifest.Dependencies[1]
	require.Equal(t, "recommendations", recs.Name)
	require.Nil(t, recs.Bulkhead)
	require.Nil(t, recs.Retry)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "reading dependency manifest")
}

func TestLoadFile_RejectsInvalidManifest(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantSub  string
	}{
		{
			name:     "no dependencies",
			contents: "dependencies: []\n",
			wantSub:  "dependencies",
		},
		{
			name: "duplicate names",
			contents: `
dependencies:
  - name: search
  - name: search
`,
			wantSub: "declared more than once",
		},
		{
			name: "unknown priority",
			contents: `
dependencies:
  - name: search
    priority: URGENT
`,
			wantSub: "must be one of CRITICAL",
		},
		{
			name: "unknown fallback strategy",
			contents: `
dependencies:
  - name: search
    fallback: shrug
`,
			wantSub: "must be one of cached_response",
		},
		{
			name: "missing name",
			contents: `
dependencies:
  - priority: LOW
`,
			wantSub: "name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeManifest(t, tt.contents))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func baselineBreaker() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:   5,
		RecoveryTimeout:    30 * time.Second,
		SuccessThreshold:   2,
		CallTimeout:        10 * time.Second,
		MonitoringWindow:   60 * time.Second,
		ExponentialBackoff: true,
		MaxBackoffTime:     5 * time.Minute,
		MaxConcurrent:      10,
		QueueSize:          4,
		QueueTimeout:       100 * time.Millisecond,
	}
}

func TestDependencySpec_Build(t *testing.T) {
	disabled := false
	spec := DependencySpec{
		Name:     "payments",
		Priority: "CRITICAL",
		Fallback: "fail_fast",
		Breaker: BreakerSpec{
			FailureThreshold:   3,
			ExponentialBackoff: &disabled,
		},
		Bulkhead: &BulkheadSpec{
			MaxConcurrent: 8,
			QueueSize:     16,
			QueueTimeout:  250 * time.Millisecond,
			IsolationKey:  "payments-pool",
		},
		Retry: &RetrySpec{
			MaxAttempts:  4,
			InitialDelay: 20 * time.Millisecond,
		},
	}

	cfg, err := spec.Build(baselineBreaker())
	require.NoError(t, err)

	require.Equal(t, "payments", cfg.Name)
	require.Equal(t, cascade.PriorityCritical, cfg.Priority)
	require.Equal(t, cascade.StrategyFailFast, cfg.Strategy)

	require.Equal(t, 3, cfg.Breaker.FailureThreshold)
	require.Equal(t, 30*time.Second, cfg.Breaker.RecoveryTimeout)
	require.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	require.False(t, cfg.Breaker.ExponentialBackoff)

	require.NotNil(t, cfg.Breaker.Bulkhead)
	require.Equal(t, 8, cfg.Breaker.Bulkhead.MaxConcurrentRequests)
	require.Equal(t, 16, cfg.Breaker.Bulkhead.QueueSize)
	require.Equal(t, 250*time.Millisecond, cfg.Breaker.Bulkhead.QueueTimeout)
	require.Equal(t, "payments-pool", cfg.Breaker.Bulkhead.IsolationKey)

	require.NotNil(t, cfg.Retry)
}

func TestDependencySpec_BuildMinimal(t *testing.T) {
	cfg, err := DependencySpec{Name: "search"}.Build(baselineBreaker())
	require.NoError(t, err)

	require.Equal(t, cascade.PriorityMedium, cfg.Priority)
	require.Empty(t, cfg.Strategy)
	require.Equal(t, 5, cfg.Breaker.FailureThreshold)
	require.True(t, cfg.Breaker.ExponentialBackoff)
	require.Nil(t, cfg.Retry)

	// The baseline bulkhead applies when the entry has none of its own.
	require.NotNil(t, cfg.Breaker.Bulkhead)
	require.Equal(t, 10, cfg.Breaker.Bulkhead.MaxConcurrentRequests)
	require.Equal(t, 4, cfg.Breaker.Bulkhead.QueueSize)
}

func TestDependencySpec_BuildNoBulkhead(t *testing.T) {
	defaults := baselineBreaker()
	defaults.MaxConcurrent = 0

	cfg, err := DependencySpec{Name: "search"}.Build(defaults)
	require.NoError(t, err)
	require.Nil(t, cfg.Breaker.Bulkhead)
}

func TestDependencySpec_BuildRejectsUnknownNames(t *testing.T) {
	_, err := DependencySpec{Name: "search", Priority: "URGENT"}.Build(baselineBreaker())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown dependency priority")

	_, err = DependencySpec{Name: "search", Fallback: "shrug"}.Build(baselineBreaker())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown fallback strategy")
}

func TestManifest_DependencyConfigs(t *testing.T) {
	manifest := &Manifest{Dependencies: []DependencySpec{
		{Name: "payments", Priority: "CRITICAL"},
		{Name: "search", Priority: "HIGH"},
		{Name: "banners", Priority: "LOW"},
	}}

	configs, err := manifest.DependencyConfigs(baselineBreaker())
	require.NoError(t, err)
	require.Len(t, configs, 3)
	require.Equal(t, "payments", configs[0].Name)
	require.Equal(t, "search", configs[1].Name)
	require.Equal(t, "banners", configs[2].Name)
	require.Equal(t, cascade.PriorityLow, configs[2].Priority)

	manifest.Dependencies = append(manifest.Dependencies, DependencySpec{Name: "ads", Priority: "URGENT"})
	_, err = manifest.DependencyConfigs(baselineBreaker())
	require.Error(t, err)
	require.Contains(t, err.Error(), `dependency "ads"`)
}
