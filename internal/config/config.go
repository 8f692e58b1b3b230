package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/database"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/dispatch"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/kafka"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/logger"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/matcher"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/pipeline"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/s3"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/services/detection"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/services/telegram"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/tracker"
)

const (
	ProfileDevelopment = "development"
	ProfileProduction  = "production"

	AuditSinkDatabase = "database"
	AuditSinkCSV      = "csv"
)

type Config struct {
	Profile string `yaml:"-"`

	Log      logger.Config   `yaml:"log"`
	Database database.Config `yaml:"database"`
	Minio    s3.Config       `yaml:"minio"`

	Kafka struct {
		Brokers []string     `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID string       `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		Topics  kafka.Topics `yaml:"topics"`
	} `yaml:"kafka"`

	Detection struct {
		Persons   detection.Config `yaml:"persons" envPrefix:"DETECTION_PERSONS_"`
		Equipment detection.Config `yaml:"equipment" envPrefix:"DETECTION_EQUIPMENT_"`
	} `yaml:"detection"`

	Telegram telegram.Config  `yaml:"telegram"`
	Pipeline pipeline.Config  `yaml:"pipeline"`
	Matcher  matcher.Params   `yaml:"matcher"`
	Tracker  tracker.Params   `yaml:"tracker"`
	Dispatch dispatch.Options `yaml:"dispatch"`

	Audit struct {
		Sink    string `yaml:"sink" env:"AUDIT_SINK"`
		CSVPath string `yaml:"csv_path" env:"AUDIT_CSV_PATH"`
	} `yaml:"audit"`

	HTTP struct {
		Addr string `yaml:"addr" env:"HTTP_ADDR"`
	} `yaml:"http"`

	Capture struct {
		Interval time.Duration `yaml:"interval" env:"CAPTURE_INTERVAL"`
	} `yaml:"capture"`

	Heartbeat time.Duration `yaml:"heartbeat" env:"HEARTBEAT_INTERVAL"`
	Watchdog  time.Duration `yaml:"watchdog" env:"WATCHDOG_INTERVAL"`
}

// Default returns the settings of a profile. Development relaxes the
// detector thresholds and shortens the cooldown; production is stricter.
func Default(profile string) *Config {
	cfg := &Config{
		Profile:  ProfileDevelopment,
		Log:      logger.Config{Level: "debug", Development: true},
		Database: database.Config{Driver: database.DriverPostgres},
		Minio:    s3.Config{SnapshotBucket: "snapshots"},
		Pipeline: pipeline.DefaultConfig(),
		Matcher:  matcher.DefaultParams(),
		Tracker:  tracker.DefaultParams(),
		Dispatch: dispatch.DefaultOptions(),
	}
	cfg.Kafka.GroupID = "safety-runner"
	cfg.Kafka.Topics = kafka.Topics{
		Commands:     "session-commands",
		Heartbeats:   "session-heartbeats",
		Alerts:       "safety-alerts",
		SceneRequest: "scene-requests",
	}
	cfg.Detection.Persons.Classes = []string{"person"}
	cfg.Audit.Sink = AuditSinkDatabase
	cfg.Audit.CSVPath = filepath.Join("logs", "activity_log.csv")
	cfg.HTTP.Addr = ":8080"
	cfg.Heartbeat = 5 * time.Second
	cfg.Watchdog = 30 * time.Second

	if strings.EqualFold(profile, ProfileProduction) {
		cfg.Profile = ProfileProduction
		cfg.Log = logger.Config{Level: "info"}
		cfg.Pipeline.PersonConfidence = 0.6
		cfg.Pipeline.EquipmentConfidence = 0.7
		cfg.Dispatch.Cooldown = 30 * time.Second
	} else {
		cfg.Pipeline.PersonConfidence = 0.4
		cfg.Pipeline.EquipmentConfidence = 0.5
		cfg.Dispatch.Cooldown = 5 * time.Second
	}
	return cfg
}

// LoadConfig layers profile defaults, the YAML file and the environment, in
// that order. A .env file in the working directory is loaded first when
// present; variables already set win over it.
func LoadConfig(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	cfg := Default(os.Getenv("APP_ENV"))

	if filename == "" {
		filename = "local.yaml"
	}
	path := filename
	if !strings.ContainsRune(filename, os.PathSeparator) {
		path = filepath.Join("internal", "config", filename)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	return cfg, nil
}

// Validate returns warnings for optional integrations left unconfigured and
// an error for settings the runner cannot work with.
func (c *Config) Validate() (warnings []string, err error) {
	var missing []string
	if c.Telegram.Token == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.Telegram.ChatID == "" {
		missing = append(missing, "TELEGRAM_CHAT_ID")
	}
	if len(missing) > 0 {
		warnings = append(warnings, "missing environment variables: "+strings.Join(missing, ", "))
	}
	if c.Detection.Equipment.Endpoint == "" {
		warnings = append(warnings, "no equipment detector configured, helmet checks disabled")
	}

	err = multierr.Combine(
		c.Pipeline.Validate(),
		c.Matcher.Validate(),
		c.Tracker.Validate(),
	)
	if c.Detection.Persons.Endpoint == "" {
		err = multierr.Append(err, errors.New("person detector endpoint is required"))
	}
	if len(c.Kafka.Brokers) == 0 {
		err = multierr.Append(err, errors.New("at least one kafka broker is required"))
	}
	if c.Dispatch.Cooldown < 0 || c.Dispatch.Workers <= 0 || c.Dispatch.QueueSize < 0 {
		err = multierr.Append(err, errors.New("invalid dispatch pool settings"))
	}
	if c.Database.DSN == "" {
		err = multierr.Append(err, errors.New("database dsn is required"))
	}
	switch c.Audit.Sink {
	case AuditSinkDatabase:
	case AuditSinkCSV:
		if c.Audit.CSVPath == "" {
			err = multierr.Append(err, errors.New("csv path is required for the csv audit sink"))
		}
	default:
		err = multierr.Append(err, errors.Errorf("unknown audit sink %q", c.Audit.Sink))
	}
	return warnings, err
}
