package txrace

import (
	"context"
	"time"

	"github.com/celer-network/tx-racer/client"
	"github.com/celer-network/tx-racer/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// submitPayload sends the payload once through the given client. There is no retry
// here, the broadcast loop resubmits unconditionally. A node that already knows the
// transaction counts as an acceptance.
func submitPayload(
	ctx context.Context,
	ethClient client.Client,
	payload *SignedPayload,
	timeout time.Duration,
	logger types.Logger,
) (common.Hash, *client.SendError) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	txHash, err := ethClient.SendRawTx(ctx, payload.Bytes())
	sendErr := client.NewSendError(errors.WithStack(err))
	if sendErr.IsTransactionAlreadyInMempool() {
		logger.Tracew("TxSubmitter: transaction already known",
			"endpoint", ethClient.URL(),
			"role", payload.Role(),
			"txHash", payload.Hash(),
		)
		return payload.Hash(), nil
	}
	if sendErr != nil {
		return common.Hash{}, sendErr
	}
	if txHash != payload.Hash() {
		logger.Errorw("TxSubmitter: invariant violation, endpoint returned a transaction id that does not match the payload",
			"endpoint", ethClient.URL(),
			"role", payload.Role(),
			"expected", payload.Hash(),
			"got", txHash,
		)
	}
	return txHash, nil
}
