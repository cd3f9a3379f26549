package types

import (
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// Options is the operator facing surface, decoded from flags, env and the config file
type Options struct {
	Endpoints       []string `mapstructure:"endpoints"`
	FundingEndpoint string   `mapstructure:"funding_endpoint"`

	// Pre-signed raw transactions, 0x prefixed hex
	ClaimTx   string `mapstructure:"claim_tx"`
	RecoverTx string `mapstructure:"recover_tx"`
	FundingTx string `mapstructure:"funding_tx"`

	ChainID int64 `mapstructure:"chain_id"`

	ConnectMaxAttempts   int           `mapstructure:"connect_max_attempts"`
	ConnectRetryInterval time.Duration `mapstructure:"connect_retry_interval"`
	BatchSize            int           `mapstructure:"batch_size"`
	SubmitConcurrency    int           `mapstructure:"submit_concurrency"`
	WatcherMaxPolls      int           `mapstructure:"watcher_max_polls"`
	WatcherPollInterval  time.Duration `mapstructure:"watcher_poll_interval"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	Timeout              time.Duration `mapstructure:"timeout"`

	DBDir       string `mapstructure:"db_dir"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

// Config converts the options into a validated race Config. Zero values fall back to defaults.
func (o *Options) Config(logger Logger) (*Config, error) {
	config := NewDefaultConfig(logger)
	if o.ChainID > 0 {
		config.ChainID = big.NewInt(o.ChainID)
	}
	if o.ConnectMaxAttempts > 0 {
		config.ConnectMaxAttempts = o.ConnectMaxAttempts
	}
	if o.ConnectRetryInterval > 0 {
		config.ConnectRetryInterval = o.ConnectRetryInterval
	}
	if o.BatchSize > 0 {
		config.BatchSize = o.BatchSize
		config.SubmitConcurrency = o.BatchSize
	}
	if o.SubmitConcurrency > 0 {
		config.SubmitConcurrency = o.SubmitConcurrency
	}
	if o.WatcherMaxPolls > 0 {
		config.WatcherMaxPolls = o.WatcherMaxPolls
	}
	if o.WatcherPollInterval > 0 {
		config.WatcherPollInterval = o.WatcherPollInterval
	}
	if o.RequestTimeout > 0 {
		config.RequestTimeout = o.RequestTimeout
	}
	config.RaceTimeout = o.Timeout
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}
	return config, nil
}
