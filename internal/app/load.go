package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the YAML file looked up in the working directory.
const DefaultConfigFile = "monogrid.yaml"

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "MONOGRID_"

// LoadConfig builds a Config using the hierarchy: defaults < YAML < .env <
// environment. Both files are optional; the .env file is read from the
// directory of the YAML file. getenv is usually os.Getenv.
func LoadConfig(yamlPath string, getenv func(string) string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	dotenv, err := readDotenv(filepath.Join(filepath.Dir(yamlPath), ".env"))
	if err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}
	lookup := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := loadEnv(&cfg, lookup); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	valid, err := NewConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return valid, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
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

// readDotenv parses a .env file without touching the process environment.
func readDotenv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vars, nil
}

// envLoader overlays variables onto a Config, collecting parse errors.
type envLoader struct {
	lookup func(string) string
	errs   []error
}

func loadEnv(cfg *Config, lookup func(string) string) error {
	l := &envLoader{lookup: lookup}

	l.setString(&cfg.Root, "ROOT")
	l.setString(&cfg.OutDir, "OUT_DIR")
	l.setInt(&cfg.Concurrency, "CONCURRENCY")
	l.setDuration(&cfg.TaskTimeout, "TASK_TIMEOUT")
	l.setString(&cfg.Log.Level, "LOG_LEVEL")
	l.setString(&cfg.Log.Format, "LOG_FORMAT")
	l.setInt(&cfg.HealthcheckPort, "HEALTHCHECK_PORT")
	l.setString(&cfg.EventForwardURL, "EVENT_FORWARD_URL")
	l.setBool(&cfg.PublishLogs, "PUBLISH_LOGS")

	c := &cfg.Cache
	l.setString(&c.Backend, "CACHE_BACKEND")
	l.setString(&c.Dir, "CACHE_DIR")
	l.setInt64(&c.MaxBytes, "CACHE_MAX_BYTES")
	l.setInt64(&c.MemoryTierBytes, "CACHE_MEMORY_TIER_BYTES")
	l.setBool(&c.FailOnWriteError, "CACHE_FAIL_ON_WRITE_ERROR")
	l.setBool(&c.StoreFailures, "CACHE_STORE_FAILURES")
	l.setString(&c.Salt, "CACHE_SALT")

	l.setString(&c.S3.Endpoint, "S3_ENDPOINT")
	l.setString(&c.S3.AccessKey, "S3_ACCESS_KEY")
	l.setString(&c.S3.SecretKey, "S3_SECRET_KEY")
	l.setString(&c.S3.Bucket, "S3_BUCKET")
	l.setString(&c.S3.Prefix, "S3_PREFIX")
	l.setBool(&c.S3.UseSSL, "S3_USE_SSL")

	l.setString(&c.Redis.Addr, "REDIS_ADDR")
	l.setString(&c.Redis.Password, "REDIS_PASSWORD")
	l.setInt(&c.Redis.DB, "REDIS_DB")
	l.setString(&c.Redis.Prefix, "REDIS_PREFIX")
	l.setDuration(&c.Redis.TTL, "REDIS_TTL")

	return errors.Join(l.errs...)
}

func (l *envLoader) get(key string) (string, string, bool) {
	name := EnvPrefix + key
	v := l.lookup(name)
	return name, v, v != ""
}

func (l *envLoader) setString(dst *string, key string) {
	if _, v, ok := l.get(key); ok {
		*dst = v
	}
}

func (l *envLoader) setInt(dst *int, key string) {
	if name, v, ok := l.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
}

func (l *envLoader) setInt64(dst *int64, key string) {
	if name, v, ok := l.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
}

func (l *envLoader) setBool(dst *bool, key string) {
	if name, v, ok := l.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = b
	}
}

func (l *envLoader) setDuration(dst *time.Duration, key string) {
	if name, v, ok := l.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}
}
