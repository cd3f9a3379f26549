package txrace

import (
	"context"

	"github.com/celer-network/tx-racer/client"
	"github.com/celer-network/tx-racer/types"
	"github.com/pkg/errors"
)

// FundingAction is the auxiliary side action of a race, typically topping up the
// account that pays for the claim and recover transactions. Its result never
// influences the race.
type FundingAction interface {
	Fund(ctx context.Context) error
}

// RawFundingAction submits one pre-signed funding transaction to its own endpoint,
// independent of the raced endpoints
type RawFundingAction struct {
	url       string
	payload   *SignedPayload
	connector *client.Connector
	config    *types.Config
	metrics   *Metrics
	logger    types.Logger
}

var _ FundingAction = (*RawFundingAction)(nil)

func NewRawFundingAction(
	config *types.Config,
	connector *client.Connector,
	url string,
	payload *SignedPayload,
	metrics *Metrics,
) *RawFundingAction {
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	return &RawFundingAction{
		url:       url,
		payload:   payload,
		connector: connector,
		config:    config,
		metrics:   metrics,
		logger:    config.Logger,
	}
}

func (a *RawFundingAction) Fund(ctx context.Context) (err error) {
	defer WrapIfError(&err, "funding action failed")

	ethClient, err := a.connector.Connect(ctx, a.url)
	if err != nil {
		return err
	}
	defer ethClient.Close()

	txHash, sendErr := submitPayload(ctx, ethClient, a.payload, a.config.RequestTimeout, a.logger)
	a.metrics.submission(RoleFunding, sendErr.Reason())
	if sendErr != nil {
		return errors.Wrapf(sendErr, "endpoint %s rejected funding tx %s", a.url, a.payload.Hash().Hex())
	}
	a.logger.Infow("FundingAction: funding transaction submitted",
		"endpoint", a.url,
		"txHash", txHash,
	)
	return nil
}
