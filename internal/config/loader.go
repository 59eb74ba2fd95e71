package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentops.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
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
	setString(&cfg.Server.Port, "AGENTOPS_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTOPS_CORS_ORIGIN")
	setString(&cfg.Storage.Backend, "AGENTOPS_STORAGE_BACKEND")
	setString(&cfg.Storage.Dir, "AGENTOPS_DATA_DIR")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTOPS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTOPS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTOPS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTOPS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTOPS_PG_HEALTH_CHECK")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setDuration(&cfg.OpenAI.Timeout, "AGENTOPS_OPENAI_TIMEOUT")
	setString(&cfg.Logging.Level, "AGENTOPS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTOPS_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "AGENTOPS_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTOPS_BREAKER_TIMEOUT")
	setDuration(&cfg.Replay.Pacing, "AGENTOPS_REPLAY_PACING")
	setDuration(&cfg.Replay.CallTimeout, "AGENTOPS_REPLAY_CALL_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "AGENTOPS_CACHE_SIZE_MB")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Storage.Backend != "file" && cfg.Storage.Backend != "postgres" {
		return fmt.Errorf("storage.backend must be \"file\" or \"postgres\", got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "file" && cfg.Storage.Dir == "" {
		return errors.New("storage.dir is required for the file backend")
	}
	if cfg.Storage.Backend == "postgres" && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for the postgres backend")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Replay.Pacing < 0 {
		return errors.New("replay.pacing must be >= 0")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
