package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	ScalerKarpenter = "karpenter"
	ScalerHTTP      = "http"

	AccessKubeconfig = "kubeconfig"
	AccessInCluster  = "in-cluster"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is read from the environment once at startup and passed down explicitly
type Config struct {
	// Env "prod" switches the logger to JSON
	Env      string `default:"dev"`
	LogLevel string `split_words:"true"`

	// Timezone the schedule times are written in
	Timezone string `default:"Asia/Seoul"`
	// FiringTolerance is how far from an event's scheduled time a pass may still fire it
	FiringTolerance time.Duration `split_words:"true" default:"60s"`
	// ScaleUpCPULimit is the cpu limit applied on start events
	ScaleUpCPULimit int64 `split_words:"true" default:"1000"`

	StoreBackend     string `split_words:"true" default:"memory"`
	DatabaseURL      string `split_words:"true"`
	DatabaseMaxConns int32  `split_words:"true" default:"4"`
	SQLitePath       string `envconfig:"SQLITE_PATH" default:"capacity-scheduler.db"`
	// SeedFile is a JSON array of records loaded into the memory store
	SeedFile string `split_words:"true"`

	ScalerBackend string `split_words:"true" default:"karpenter"`
	// ClusterAccess picks how Karpenter clusters are reached, per kubeconfig context or
	// through the pod's service account
	ClusterAccess     string        `split_words:"true" default:"kubeconfig"`
	SetCPUURL         string        `envconfig:"SET_CPU_URL"`
	TerminateURL      string        `split_words:"true"`
	DownstreamTimeout time.Duration `split_words:"true" default:"10s"`
	ClustersFile      string        `split_words:"true"`

	// TriggerSchedule is the cron spec of serve mode passes
	TriggerSchedule string        `split_words:"true" default:"@every 1m"`
	PassTimeout     time.Duration `split_words:"true" default:"50s"`
	ServerPort      string        `split_words:"true" default:"8080"`

	SentryDsn         string `split_words:"true"`
	SentryEnvironment string `split_words:"true"`
}

// Load reads the configuration from the environment and validates it
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("Load - envconfig: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.FiringTolerance <= 0 {
		return fmt.Errorf("%w: FIRING_TOLERANCE must be positive, got %s", ErrInvalidConfig, c.FiringTolerance)
	}
	if c.ScaleUpCPULimit <= 0 {
		return fmt.Errorf("%w: SCALE_UP_CPU_LIMIT must be positive, got %d", ErrInvalidConfig, c.ScaleUpCPULimit)
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres store", ErrInvalidConfig)
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: SQLITE_PATH is required for the sqlite store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", ErrInvalidConfig, c.StoreBackend)
	}

	switch c.ScalerBackend {
	case ScalerKarpenter:
		if c.ClusterAccess != AccessKubeconfig && c.ClusterAccess != AccessInCluster {
			return fmt.Errorf("%w: unknown CLUSTER_ACCESS %q", ErrInvalidConfig, c.ClusterAccess)
		}
	case ScalerHTTP:
		if c.SetCPUURL == "" || c.TerminateURL == "" {
			return fmt.Errorf("%w: SET_CPU_URL and TERMINATE_URL are required for the http scaler", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown SCALER_BACKEND %q", ErrInvalidConfig, c.ScalerBackend)
	}

	if c.PassTimeout <= 0 {
		return fmt.Errorf("%w: PASS_TIMEOUT must be positive, got %s", ErrInvalidConfig, c.PassTimeout)
	}
	return nil
}

// Location loads the configured timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: TIMEZONE %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}
