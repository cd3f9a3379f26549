package types

import (
	"math/big"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultConnectMaxAttempts   = 10
	DefaultConnectRetryInterval = 1 * time.Second
	DefaultBatchSize            = 100
	DefaultWatcherMaxPolls      = 30
	DefaultWatcherPollInterval  = 500 * time.Millisecond
	DefaultRequestTimeout       = 15 * time.Second
)

// Config holds every tunable of a race. Nothing in txrace reads a hidden constant.
type Config struct {
	Logger Logger

	// ChainID is optional. When set, endpoints reporting a different chain are excluded.
	ChainID *big.Int

	ConnectMaxAttempts   int
	ConnectRetryInterval time.Duration

	// Number of concurrent sends per broadcast cycle
	BatchSize int
	// Max number of sends of one batch that may be in flight at the same time
	SubmitConcurrency int

	WatcherMaxPolls     int
	WatcherPollInterval time.Duration

	// RequestTimeout bounds every single RPC request
	RequestTimeout time.Duration

	// RaceTimeout is the outer deadline of a race. Zero means unbounded.
	RaceTimeout time.Duration
}

// NewDefaultConfig returns a Config populated with the default race parameters
func NewDefaultConfig(logger Logger) *Config {
	return &Config{
		Logger:               logger,
		ConnectMaxAttempts:   DefaultConnectMaxAttempts,
		ConnectRetryInterval: DefaultConnectRetryInterval,
		BatchSize:            DefaultBatchSize,
		SubmitConcurrency:    DefaultBatchSize,
		WatcherMaxPolls:      DefaultWatcherMaxPolls,
		WatcherPollInterval:  DefaultWatcherPollInterval,
		RequestTimeout:       DefaultRequestTimeout,
	}
}

func (c *Config) Validate() error {
	switch {
	case c.Logger == nil:
		return errors.New("config: logger is required")
	case c.ConnectMaxAttempts < 1:
		return errors.Errorf("config: ConnectMaxAttempts must be at least 1, got %d", c.ConnectMaxAttempts)
	case c.ConnectRetryInterval < 0:
		return errors.Errorf("config: ConnectRetryInterval must not be negative, got %s", c.ConnectRetryInterval)
	case c.BatchSize < 1:
		return errors.Errorf("config: BatchSize must be at least 1, got %d", c.BatchSize)
	case c.SubmitConcurrency < 1:
		return errors.Errorf("config: SubmitConcurrency must be at least 1, got %d", c.SubmitConcurrency)
	case c.WatcherMaxPolls < 1:
		return errors.Errorf("config: WatcherMaxPolls must be at least 1, got %d", c.WatcherMaxPolls)
	case c.WatcherPollInterval <= 0:
		return errors.Errorf("config: WatcherPollInterval must be positive, got %s", c.WatcherPollInterval)
	case c.RequestTimeout <= 0:
		return errors.Errorf("config: RequestTimeout must be positive, got %s", c.RequestTimeout)
	case c.RaceTimeout < 0:
		return errors.Errorf("config: RaceTimeout must not be negative, got %s", c.RaceTimeout)
	}
	return nil
}
