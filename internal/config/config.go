package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config хранит все параметры приложения
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	POS      POSConfig      `yaml:"pos"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	HTTP     HTTPConfig     `yaml:"http"`
	KDS      KDSConfig      `yaml:"kds"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig points at the Postgres database owning the kds_* tables.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// POSConfig points at the read-only uniCenta MySQL database.
type POSConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	UseTLS   bool   `yaml:"use_tls"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"` // notify-subscriber consumer group
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// KDSConfig holds the ingestion and display tunables.
type KDSConfig struct {
	CoffeeCategory      string        `yaml:"coffee_category"`
	TicketType          int           `yaml:"ticket_type"`
	BatchLimit          int           `yaml:"batch_limit"`
	MaxLookback         time.Duration `yaml:"max_lookback"`
	DefaultLookback     time.Duration `yaml:"default_lookback"`
	Retention           time.Duration `yaml:"retention"`
	ClearCompletedAfter time.Duration `yaml:"clear_completed_after"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	StreamInterval      time.Duration `yaml:"stream_interval"`
	Notifier            string        `yaml:"notifier"` // none | rabbitmq | kafka
	LockKey             int64         `yaml:"lock_key"`
}

const (
	NotifierNone     = "none"
	NotifierRabbitMQ = "rabbitmq"
	NotifierKafka    = "kafka"
)

// DefaultConfig returns the configuration used when no file overrides a value.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "kds",
			Database: "kds",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		POS: POSConfig{
			Host:         "localhost",
			Port:         3306,
			User:         "unicenta",
			Database:     "unicentaopos",
			MaxOpenConns: 5,
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			User:     "guest",
			Password: "guest",
			VHost:    "/",
			Exchange: "kds_notifications",
			Queue:    "kds_notifications_log",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "kds.orders",
			GroupID: "kds-notificator",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		KDS: KDSConfig{
			CoffeeCategory:      "081",
			TicketType:          0,
			BatchLimit:          50,
			MaxLookback:         2 * time.Hour,
			DefaultLookback:     24 * time.Hour,
			Retention:           24 * time.Hour,
			ClearCompletedAfter: time.Hour,
			PollInterval:        10 * time.Second,
			StreamInterval:      5 * time.Second,
			Notifier:            NotifierNone,
			LockKey:             81081,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads .env (if present), the YAML file at path (if non-empty), then
// KDS_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile decodes path on top of DefaultConfig without validating.
func LoadFromFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open the configuration file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Database.Host, "KDS_DB_HOST")
	setInt(&c.Database.Port, "KDS_DB_PORT")
	setString(&c.Database.User, "KDS_DB_USER")
	setString(&c.Database.Password, "KDS_DB_PASSWORD")
	setString(&c.Database.Database, "KDS_DB_NAME")

	setString(&c.POS.Host, "KDS_POS_HOST")
	setInt(&c.POS.Port, "KDS_POS_PORT")
	setString(&c.POS.User, "KDS_POS_USER")
	setString(&c.POS.Password, "KDS_POS_PASSWORD")
	setString(&c.POS.Database, "KDS_POS_NAME")

	setString(&c.RabbitMQ.Host, "KDS_RABBITMQ_HOST")
	setString(&c.RabbitMQ.User, "KDS_RABBITMQ_USER")
	setString(&c.RabbitMQ.Password, "KDS_RABBITMQ_PASSWORD")

	if v := os.Getenv("KDS_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitCSV(v)
	}
	setString(&c.HTTP.Addr, "KDS_HTTP_ADDR")
	setString(&c.KDS.Notifier, "KDS_NOTIFIER")
	setString(&c.Log.Level, "KDS_LOG_LEVEL")
}

// Validate checks that every section the service needs is usable.
func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.User == "" || c.Database.Database == "" {
		return errors.New("invalid config: database host/user/database required")
	}
	if c.POS.Host == "" || c.POS.User == "" || c.POS.Database == "" {
		return errors.New("invalid config: pos host/user/database required")
	}
	if c.KDS.CoffeeCategory == "" {
		return errors.New("invalid config: kds.coffee_category required")
	}
	if c.KDS.BatchLimit <= 0 {
		return fmt.Errorf("invalid config: kds.batch_limit must be positive, got %d", c.KDS.BatchLimit)
	}
	if c.KDS.MaxLookback <= 0 || c.KDS.DefaultLookback <= 0 || c.KDS.Retention <= 0 {
		return errors.New("invalid config: kds lookback and retention windows must be positive")
	}
	if c.KDS.PollInterval <= 0 {
		return errors.New("invalid config: kds.poll_interval must be positive")
	}
	switch c.KDS.Notifier {
	case NotifierNone:
	case NotifierRabbitMQ:
		if c.RabbitMQ.Host == "" || c.RabbitMQ.User == "" || c.RabbitMQ.Exchange == "" {
			return errors.New("invalid config: rabbitmq host/user/exchange required for rabbitmq notifier")
		}
	case NotifierKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return errors.New("invalid config: kafka brokers/topic required for kafka notifier")
		}
	default:
		return fmt.Errorf("invalid config: unknown kds.notifier %q", c.KDS.Notifier)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitCSV(s string) []string {
	out := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
