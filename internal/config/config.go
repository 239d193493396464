// Package config loads the laundromat service configuration.
//
// Values are resolved in order: built-in defaults, then the YAML file, then
// LAUNDROMAT_* environment variables. Command-line flags are applied last by
// the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreBadger   = "badger"
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"

	CacheMemory    = "memory"
	CacheRistretto = "ristretto"

	HardwareSimulator = "simulator"
	HardwareNATS      = "nats"
)

type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	GRPCAddr  string `yaml:"grpc_addr"`
	AdminAddr string `yaml:"admin_addr"`

	Log      Log      `yaml:"log"`
	Store    Store    `yaml:"store"`
	Cache    Cache    `yaml:"cache"`
	Hardware Hardware `yaml:"hardware"`
	Identity Identity `yaml:"identity"`
	Events   Events   `yaml:"events"`
	Tracing  Tracing  `yaml:"tracing"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Store struct {
	Driver   string   `yaml:"driver"`
	Badger   Badger   `yaml:"badger"`
	SQLite   SQLite   `yaml:"sqlite"`
	DynamoDB DynamoDB `yaml:"dynamodb"`
}

type Badger struct {
	Path string `yaml:"path"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

type DynamoDB struct {
	Endpoint string `yaml:"endpoint"`
	Profile  string `yaml:"profile"`
	Region   string `yaml:"region"`
	Table    string `yaml:"table"`
}

type Cache struct {
	Driver      string `yaml:"driver"`
	MaxCost     int64  `yaml:"max_cost"`
	NumCounters int64  `yaml:"num_counters"`
}

type Hardware struct {
	Driver         string        `yaml:"driver"`
	NATSURL        string        `yaml:"nats_url"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	StartDelay     time.Duration `yaml:"start_delay"`
}

type Identity struct {
	Tokens           []string `yaml:"tokens"`
	IntrospectionURL string   `yaml:"introspection_url"`
}

// Events is the lifecycle event sink. An empty NATSURL disables publishing.
type Events struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

type Tracing struct {
	Enabled bool `yaml:"enabled"`
}

func Default() *Config {
	return &Config{
		HTTPAddr:  ":8080",
		GRPCAddr:  ":50051",
		AdminAddr: ":9090",
		Log:       Log{Level: "info", Format: "json"},
		Store: Store{
			Driver:   StoreBadger,
			Badger:   Badger{Path: "./data/badger"},
			SQLite:   SQLite{Path: "./data/laundromat.db"},
			DynamoDB: DynamoDB{Region: "eu-west-1", Table: "machines"},
		},
		Cache: Cache{Driver: CacheMemory, MaxCost: 10000, NumCounters: 100000},
		Hardware: Hardware{
			Driver:         HardwareSimulator,
			NATSURL:        "nats://localhost:4222",
			SubjectPrefix:  "machines.hw",
			RequestTimeout: 30 * time.Second,
		},
		Identity: Identity{Tokens: []string{"dev-token"}},
		Events:   Events{Subject: "machines.events"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LAUNDROMAT_* environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv("LAUNDROMAT_" + key); ok {
			*dst = v
		}
	}
	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("ADMIN_ADDR", &c.AdminAddr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("STORE_DRIVER", &c.Store.Driver)
	str("BADGER_PATH", &c.Store.Badger.Path)
	str("SQLITE_PATH", &c.Store.SQLite.Path)
	str("DYNAMODB_ENDPOINT", &c.Store.DynamoDB.Endpoint)
	str("DYNAMODB_PROFILE", &c.Store.DynamoDB.Profile)
	str("DYNAMODB_REGION", &c.Store.DynamoDB.Region)
	str("DYNAMODB_TABLE", &c.Store.DynamoDB.Table)
	str("CACHE_DRIVER", &c.Cache.Driver)
	str("HARDWARE_DRIVER", &c.Hardware.Driver)
	str("HARDWARE_NATS_URL", &c.Hardware.NATSURL)
	str("HARDWARE_SUBJECT_PREFIX", &c.Hardware.SubjectPrefix)
	str("INTROSPECTION_URL", &c.Identity.IntrospectionURL)
	str("EVENTS_NATS_URL", &c.Events.NATSURL)
	str("EVENTS_SUBJECT", &c.Events.Subject)

	if v, ok := os.LookupEnv("LAUNDROMAT_TOKENS"); ok {
		c.Identity.Tokens = splitList(v)
	}
	if v, ok := os.LookupEnv("LAUNDROMAT_HARDWARE_REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LAUNDROMAT_HARDWARE_REQUEST_TIMEOUT: %w", err)
		}
		c.Hardware.RequestTimeout = d
	}
	if v, ok := os.LookupEnv("LAUNDROMAT_TRACING"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LAUNDROMAT_TRACING: %w", err)
		}
		c.Tracing.Enabled = b
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreBadger:
		if c.Store.Badger.Path == "" {
			errs = append(errs, errors.New("store.badger.path is required"))
		}
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path is required"))
		}
	case StoreDynamoDB:
		if c.Store.DynamoDB.Table == "" {
			errs = append(errs, errors.New("store.dynamodb.table is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	switch c.Cache.Driver {
	case CacheMemory:
	case CacheRistretto:
		if c.Cache.MaxCost <= 0 {
			errs = append(errs, errors.New("cache.max_cost must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache driver %q", c.Cache.Driver))
	}

	switch c.Hardware.Driver {
	case HardwareSimulator:
	case HardwareNATS:
		if c.Hardware.NATSURL == "" {
			errs = append(errs, errors.New("hardware.nats_url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown hardware driver %q", c.Hardware.Driver))
	}
	if c.Hardware.RequestTimeout <= 0 {
		errs = append(errs, errors.New("hardware.request_timeout must be positive"))
	}

	if len(c.Identity.Tokens) == 0 && c.Identity.IntrospectionURL == "" {
		errs = append(errs, errors.New("identity needs tokens or an introspection_url"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
