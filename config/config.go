/*
Package config loads server settings from the environment.

PURPOSE:
  A .env file (optional) is loaded first with godotenv; variables already
  set in the process environment win over the file. Every setting has a
  default so the server starts with no configuration at all.

VARIABLES:
  INCENTIVE_PORT             HTTP port (8080)
  INCENTIVE_DB_PATH          SQLite file (incentive.db)
  INCENTIVE_LOG_LEVEL        debug|info|warn|error (info)
  INCENTIVE_LOG_FORMAT       console|json (console)
  INCENTIVE_LOG_OUTPUT       stderr|stdout|<file> (stderr)
  INCENTIVE_LOG_DEV          development logging (false)
  INCENTIVE_EXPIRY_INTERVAL  how often active schemes are checked for expiry (1h)
  INCENTIVE_CURRENCY         default scheme currency (INR)
  INCENTIVE_CORS_ORIGINS     comma-separated allowed origins (localhost dev ports)
  INCENTIVE_BATCH_WORKERS    recalculation parallelism (4)
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/incentive-engine/logging"
)

type Config struct {
	Port           int
	DBPath         string
	Logging        logging.Config
	ExpiryInterval time.Duration
	Currency       string
	CORSOrigins    []string
	BatchWorkers   int
}

var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// Load reads the given .env files (".env" when none are named) and the
// environment. Missing files are not an error; malformed values are.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		DBPath: getEnv("INCENTIVE_DB_PATH", "incentive.db"),
		Logging: logging.Config{
			Level:  getEnv("INCENTIVE_LOG_LEVEL", "info"),
			Format: getEnv("INCENTIVE_LOG_FORMAT", "console"),
			Output: getEnv("INCENTIVE_LOG_OUTPUT", "stderr"),
		},
		Currency:    strings.ToUpper(getEnv("INCENTIVE_CURRENCY", "INR")),
		CORSOrigins: splitList(getEnv("INCENTIVE_CORS_ORIGINS", "")),
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = defaultOrigins
	}

	var err error
	if cfg.Port, err = getInt("INCENTIVE_PORT", 8080); err != nil {
		return Config{}, err
	}
	if cfg.BatchWorkers, err = getInt("INCENTIVE_BATCH_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.BatchWorkers < 1 {
		return Config{}, fmt.Errorf("INCENTIVE_BATCH_WORKERS must be >= 1, got %d", cfg.BatchWorkers)
	}
	if cfg.Logging.Development, err = getBool("INCENTIVE_LOG_DEV", false); err != nil {
		return Config{}, err
	}
	interval := getEnv("INCENTIVE_EXPIRY_INTERVAL", "1h")
	if cfg.ExpiryInterval, err = time.ParseDuration(interval); err != nil {
		return Config{}, fmt.Errorf("INCENTIVE_EXPIRY_INTERVAL: %w", err)
	}
	if cfg.ExpiryInterval <= 0 {
		return Config{}, fmt.Errorf("INCENTIVE_EXPIRY_INTERVAL must be positive, got %s", interval)
	}
	return cfg, nil
}

// Addr is the listen address for Port.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
