package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "scanner.yaml"

// CLIFlags holds command-line flag values. Nil pointers indicate unset flags
// that should not override the config. Use ParseFlags to populate this struct.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses command-line arguments into CLIFlags.
// Call this before Load/LoadWithCLI. Passing nil args parses os.Args[1:].
func ParseFlags(args []string) (CLIFlags, error) {
	var flags CLIFlags

	fs := flag.NewFlagSet("scanner", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "HTTP server port")
	fs.StringVar(port, "p", "", "HTTP server port (shorthand)")
	logLevel := fs.String("log-level", "", "logging level (debug, info, warn, error)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	if err := fs.Parse(args); err != nil {
		return flags, fmt.Errorf("parse flags: %w", err)
	}

	// Only set pointers for flags that were explicitly provided.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = configPath
		case "port", "p":
			flags.Port = port
		case "log-level":
			flags.LogLevel = logLevel
		case "dsn":
			flags.DSN = dsn
		case "nats-url":
			flags.NatsURL = natsURL
		}
	})

	return flags, nil
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadWithCLI returns a Config using the full hierarchy:
// defaults < YAML < ENV < CLI flags. The YAML path can be overridden
// via CLIFlags.ConfigPath.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}

	return &cfg, yamlPath, nil
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overlays CLI flag values onto cfg. Only non-nil flags override.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SCANNER_PORT")
	setString(&cfg.Server.CORSOrigin, "SCANNER_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SCANNER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SCANNER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SCANNER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SCANNER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SCANNER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "SCANNER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SCANNER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SCANNER_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "SCANNER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SCANNER_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "SCANNER_RATE_RPS")
	setInt(&cfg.Rate.Burst, "SCANNER_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "SCANNER_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "SCANNER_RATE_MAX_IDLE_TIME")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "SCANNER_CACHE_L1_SIZE_MB")

	// Benchmark
	setBool(&cfg.Benchmark.Enabled, "BENCHMARK_ENABLED")
	setInt(&cfg.Benchmark.TimeoutSeconds, "BENCHMARK_TIMEOUT_SECONDS")

	// Scanner. Discovery source credentials (SHODAN_API_KEY, CENSYS_API_ID,
	// CENSYS_API_SECRET) are read directly by the secrets.Vault, not here,
	// so they can be hot-reloaded on SIGHUP without a config reload.
	setInt(&cfg.Scanner.MasscanRatePPS, "SCANNER_MASSCAN_RATE_PPS")
	setString(&cfg.Scanner.DedupRedisURL, "SCANNER_DEDUP_REDIS_URL")
	setDuration(&cfg.Scanner.DedupTTL, "SCANNER_DEDUP_TTL")
	setString(&cfg.Scanner.EventBusURL, "SCANNER_EVENT_BUS_URL")
	setString(&cfg.Scanner.MCPAddr, "SCANNER_MCP_ADDR")
	setString(&cfg.Scanner.MCPAPIKey, "SCANNER_MCP_API_KEY")
	setString(&cfg.Scanner.HTTPAPIAddr, "SCANNER_HTTP_API_ADDR")
	setString(&cfg.Scanner.GRPCHealthAddr, "SCANNER_GRPC_HEALTH_ADDR")
	setDuration(&cfg.Scanner.GRPCHealthPeriod, "SCANNER_GRPC_HEALTH_PERIOD")
	setInt(&cfg.Scanner.DefaultWorkers, "SCANNER_DEFAULT_WORKERS")
	setInt(&cfg.Scanner.DynamicPortLimit, "SCANNER_DYNAMIC_PORT_LIMIT")
	setDuration(&cfg.Scanner.DynamicPortTimeout, "SCANNER_DYNAMIC_PORT_TIMEOUT")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "SCANNER_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "SCANNER_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "SCANNER_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "SCANNER_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "SCANNER_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set and security constraints are met.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
