package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/observability"
	"github.com/platinummonkey/pulse/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Aggregation and scheduling
	Aggregation AggregationConfig

	// KPI definitions
	KPI KPIConfig

	// Domain metric collection
	Collector CollectorConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTel converts the settings for observability.InitOTel.
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// AggregationConfig holds aggregator and scheduler settings
type AggregationConfig struct {
	Workers          int
	Location         *time.Location
	Retention        time.Duration
	SchedulerEnabled bool
	// MaxRequestWindows caps the windows of one API-triggered pass.
	MaxRequestWindows int
	// Schedules overrides cron specs by cadence name.
	Schedules map[string]string
}

// KPIConfig points at the KPI definition file
type KPIConfig struct {
	ConfigPath  string
	WatchConfig bool
}

// SourceConfig is one domain service endpoint
type SourceConfig struct {
	Name string
	URL  string
}

// CollectorConfig holds domain collector settings
type CollectorConfig struct {
	Sources             []SourceConfig
	Timeout             time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	// StaleTTL bounds how long a last good result may be served.
	StaleTTL time.Duration
}

// cadenceNames are the cadences whose specs can be overridden.
var cadenceNames = []string{"hourly", "daily", "weekly", "monthly", "quarterly", "prune"}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	agg, err := loadAggregationConfig()
	if err != nil {
		return nil, err
	}
	col, err := loadCollectorConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Aggregation:   agg,
		KPI: KPIConfig{
			ConfigPath:  getEnv("PULSE_KPI_CONFIG", ""),
			WatchConfig: getEnvBool("PULSE_KPI_WATCH", true),
		},
		Collector: col,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PULSE_HOST", "0.0.0.0"),
		Port:            getEnv("PULSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PULSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PULSE_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("PULSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PULSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PULSE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("PULSE_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}

	// PostgreSQL config
	cfg.PostgresURL = getEnv("PULSE_POSTGRES_URL", "postgres://localhost/pulse?sslmode=disable")
	if replicaURLs := getEnv("PULSE_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = splitList(replicaURLs)
	}
	if maxConns := getEnvInt("PULSE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("PULSE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("PULSE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("PULSE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("PULSE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("PULSE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("PULSE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("PULSE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("PULSE_CACHE_ENABLED", cfg.CacheEnabled)
	if ttl := getEnvDuration("PULSE_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL = ttl
	}
	if l1CacheSize := getEnvInt("PULSE_L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("PULSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PULSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PULSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PULSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PULSE_OTEL_SERVICE_NAME", "pulse-aggregator"),
		OTelServiceVersion: getEnv("PULSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PULSE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("PULSE_OTEL_SAMPLE_RATIO", 1),
	}
}

func loadAggregationConfig() (AggregationConfig, error) {
	tz := getEnv("PULSE_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return AggregationConfig{}, fmt.Errorf("invalid PULSE_TIMEZONE %q: %w", tz, err)
	}

	cfg := AggregationConfig{
		Workers:           getEnvInt("PULSE_AGGREGATION_WORKERS", 4),
		Location:          loc,
		Retention:         getEnvDuration("PULSE_RETENTION", analytics.DefaultRetention),
		SchedulerEnabled:  getEnvBool("PULSE_SCHEDULER_ENABLED", true),
		MaxRequestWindows: getEnvInt("PULSE_API_MAX_WINDOWS", 10000),
		Schedules:         make(map[string]string),
	}
	for _, name := range cadenceNames {
		if spec := getEnv("PULSE_SCHEDULE_"+strings.ToUpper(name), ""); spec != "" {
			cfg.Schedules[name] = spec
		}
	}
	return cfg, nil
}

func loadCollectorConfig() (CollectorConfig, error) {
	sources, err := ParseSources(getEnv("PULSE_COLLECTOR_SOURCES", ""))
	if err != nil {
		return CollectorConfig{}, err
	}
	return CollectorConfig{
		Sources:             sources,
		Timeout:             getEnvDuration("PULSE_COLLECTOR_TIMEOUT", 5*time.Second),
		BreakerMaxFailures:  getEnvInt("PULSE_BREAKER_MAX_FAILURES", 5),
		BreakerResetTimeout: getEnvDuration("PULSE_BREAKER_RESET_TIMEOUT", 30*time.Second),
		StaleTTL:            getEnvDuration("PULSE_COLLECTOR_STALE_TTL", 15*time.Minute),
	}, nil
}

// ParseSources parses "name=url" pairs separated by commas.
func ParseSources(s string) ([]SourceConfig, error) {
	var out []SourceConfig
	seen := make(map[string]bool)
	for _, item := range splitList(s) {
		name, url, ok := strings.Cut(item, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid collector source %q: want name=url", item)
		}
		if seen[name] {
			return nil, fmt.Errorf("collector source %q listed twice", name)
		}
		seen[name] = true
		out = append(out, SourceConfig{Name: name, URL: url})
	}
	return out, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if c.Aggregation.Workers < 1 {
		return fmt.Errorf("aggregation workers must be at least 1")
	}
	if c.Aggregation.Retention <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	if c.Aggregation.MaxRequestWindows < 1 {
		return fmt.Errorf("max request windows must be at least 1")
	}
	for name := range c.Aggregation.Schedules {
		if !isCadence(name) {
			return fmt.Errorf("unknown cadence %q in schedule overrides", name)
		}
	}

	if c.Collector.Timeout <= 0 {
		return fmt.Errorf("collector timeout must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func isCadence(name string) bool {
	for _, n := range cadenceNames {
		if n == name {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
