// Package config reads classbank settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	Store    StoreConfig
	Log      LogConfig
	Telegram TelegramConfig

	HTTPAddr   string `env:"CLASSBANK_HTTP_ADDR,default=:8080"`
	SeedFile   string `env:"CLASSBANK_SEED_FILE"`
	Demo       bool   `env:"CLASSBANK_DEMO,default=true"`
	BcryptCost int    `env:"CLASSBANK_BCRYPT_COST,default=10"`
}

type StoreConfig struct {
	Driver     string `env:"CLASSBANK_STORE,default=file"`
	FilePath   string `env:"CLASSBANK_FILE_PATH,default=data/classbank.json"`
	BackupsDir string `env:"CLASSBANK_BACKUPS_DIR,default=data/backups"`

	RedisAddr     string `env:"CLASSBANK_REDIS_ADDR"`
	RedisPassword string `env:"CLASSBANK_REDIS_PASSWORD"`
	RedisDB       int    `env:"CLASSBANK_REDIS_DB,default=0"`

	PostgresDSN string `env:"CLASSBANK_POSTGRES_DSN"`

	// Prefix namespaces keys so several classes can share a Redis or Postgres store.
	Prefix string `env:"CLASSBANK_TENANT"`
}

type LogConfig struct {
	Level  string `env:"CLASSBANK_LOG_LEVEL,default=info"`
	Format string `env:"CLASSBANK_LOG_FORMAT,default=text"`
}

type TelegramConfig struct {
	Token  string `env:"CLASSBANK_TELEGRAM_TOKEN"`
	ChatID int64  `env:"CLASSBANK_TELEGRAM_CHAT_ID"`
}

func (t TelegramConfig) Enabled() bool { return t.Token != "" }

// Load reads envFile when it exists, then decodes the environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverFile:
		if c.Store.FilePath == "" {
			return errors.New("config: CLASSBANK_FILE_PATH is required for the file store")
		}
	case DriverMemory:
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("config: CLASSBANK_REDIS_ADDR is required for the redis store")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("config: CLASSBANK_POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("config: bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Telegram.Enabled() && c.Telegram.ChatID == 0 {
		return errors.New("config: CLASSBANK_TELEGRAM_CHAT_ID is required with a telegram token")
	}
	return nil
}

// NewLogger builds the root logger described by c.
func (c LogConfig) NewLogger(w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(level)
	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
