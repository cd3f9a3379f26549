package client

import (
	"context"
	"fmt"

	"github.com/celer-network/tx-racer/types"
	"github.com/pkg/errors"
)

// ErrChainIDMismatch is permanent, the connector does not retry it
var ErrChainIDMismatch = errors.New("chain id mismatch")

// DialFunc opens a connection to one endpoint
type DialFunc func(ctx context.Context, url string, logger types.Logger) (Client, error)

// Dial is the default DialFunc, backed by go-ethereum's rpc client
func Dial(ctx context.Context, url string, logger types.Logger) (Client, error) {
	client, err := NewImpl(url, logger)
	if err != nil {
		return nil, err
	}
	if err := client.Dial(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Connector establishes and health-checks endpoints with a bounded number of attempts
type Connector struct {
	dial   DialFunc
	config *types.Config
	logger types.Logger
}

// NewConnector returns a Connector. A nil dial falls back to Dial.
func NewConnector(config *types.Config, dial DialFunc) *Connector {
	if dial == nil {
		dial = Dial
	}
	return &Connector{
		dial:   dial,
		config: config,
		logger: config.Logger,
	}
}

// Connect opens the endpoint and verifies it answers eth_chainId. Failures are retried
// up to ConnectMaxAttempts times, ConnectRetryInterval apart. The returned error is
// always a *ConnectionError.
func (c *Connector) Connect(ctx context.Context, url string) (Client, error) {
	sleeper := NewFixedSleeper(c.config.ConnectRetryInterval)
	var lastErr error
	attempt := 0
	for attempt < c.config.ConnectMaxAttempts {
		if err := sleeper.SleepContext(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		attempt++
		client, err := c.tryConnect(ctx, url)
		if err == nil {
			c.logger.Debugw("Connector: endpoint connected", "endpoint", url, "attempt", attempt)
			return client, nil
		}
		lastErr = err
		if errors.Is(err, ErrChainIDMismatch) {
			c.logger.Errorw("Connector: endpoint is on the wrong chain, excluding it", "endpoint", url, "err", err)
			break
		}
		c.logger.Warnw(fmt.Sprintf("Connector: connection attempt (%d/%d) failed", attempt, c.config.ConnectMaxAttempts),
			"endpoint", url,
			"err", err,
		)
	}
	return nil, &ConnectionError{URL: url, Attempts: attempt, Err: lastErr}
}

func (c *Connector) tryConnect(ctx context.Context, url string) (Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	client, err := c.dial(dialCtx, url, c.logger)
	if err != nil {
		return nil, errors.Wrap(err, "dial failed")
	}
	if err := c.verifyChainID(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// verifyChainID is the liveness check. It also compares the chain id against the
// configured one, when there is one.
func (c *Connector) verifyChainID(ctx context.Context, client Client) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "liveness check failed")
	}
	if c.config.ChainID != nil && chainID.Cmp(c.config.ChainID) != 0 {
		return errors.Wrapf(ErrChainIDMismatch, "configured chain id %s, endpoint reports %s", c.config.ChainID, chainID)
	}
	return nil
}
