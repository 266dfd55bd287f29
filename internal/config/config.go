package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env string `validate:"required,oneof=dev prod"`
	DB  struct {
		Path       string `validate:"required"`
		Schema     string `validate:"required_without=Migrations"`
		Migrations string
		WAL        bool
		// Maintenance is a cron schedule for WAL checkpoints; empty disables them.
		Maintenance string
		Retry       struct {
			Attempts int           `validate:"gte=1"`
			Interval time.Duration `validate:"gte=0"`
		}
	}
	Demo struct {
		Workers int `validate:"gte=1,lte=64"`
		Records int `validate:"gte=0"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var (
		c   Config
		err error
	)
	c.Env = getenv("ENV", "prod")
	c.DB.Path = getenv("DB_PATH", "data/users.db")
	c.DB.Schema = getenv("DB_SCHEMA", "schema/users.sql")
	c.DB.Migrations = os.Getenv("DB_MIGRATIONS")
	if c.DB.WAL, err = getbool("DB_WAL", false); err != nil {
		return Config{}, err
	}
	c.DB.Maintenance = os.Getenv("DB_MAINTENANCE")
	if c.DB.Retry.Attempts, err = getint("DB_RETRY_ATTEMPTS", 500); err != nil {
		return Config{}, err
	}
	if c.DB.Retry.Interval, err = getduration("DB_RETRY_INTERVAL", time.Millisecond); err != nil {
		return Config{}, err
	}
	if c.Demo.Workers, err = getint("DEMO_WORKERS", 2); err != nil {
		return Config{}, err
	}
	if c.Demo.Records, err = getint("DEMO_RECORDS", 50); err != nil {
		return Config{}, err
	}
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/userstore.log")

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getbool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", k, err)
	}
	return b, nil
}

func getduration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}
