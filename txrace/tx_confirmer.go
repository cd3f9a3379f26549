package txrace

import (
	"context"
	"time"

	"github.com/celer-network/tx-racer/client"
	"github.com/celer-network/tx-racer/types"
	"github.com/tevino/abool"

	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
)

type watchResult int

const (
	watchDecidedElsewhere watchResult = iota
	watchWon
	watchLost
	watchReverted
	watchExhausted
	watchCancelled
)

// confirmationWatcher polls one endpoint for the receipt of the recover transaction.
// It is the only writer of RaceState.
type confirmationWatcher struct {
	endpoint *Endpoint
	txHash   common.Hash
	state    *RaceState
	halt     *abool.AtomicBool
	config   *types.Config
	metrics  *Metrics
	logger   types.Logger
}

// run polls up to WatcherMaxPolls times, WatcherPollInterval apart. A mined receipt
// with successful status decides the race, unless another watcher got there first.
func (cw *confirmationWatcher) run(ctx context.Context) watchResult {
	logger := cw.logger.With("endpoint", cw.endpoint.URL, "txHash", cw.txHash)

	for poll := 1; poll <= cw.config.WatcherMaxPolls; poll++ {
		if cw.state.Decided() {
			return watchDecidedElsewhere
		}
		if ctx.Err() != nil || cw.halt.IsSet() {
			return watchCancelled
		}

		receipt, err := cw.fetchReceipt(ctx)
		cw.endpoint.polls.Add(1)
		switch {
		case err != nil && client.IsReceiptNotFound(err):
			cw.metrics.receiptPoll("pending")
		case err != nil:
			cw.metrics.receiptPoll("error")
			logger.Debugw("ConfirmationWatcher: receipt lookup failed", "poll", poll, "err", err)
		case receipt == nil || receipt.BlockNumber == nil:
			cw.metrics.receiptPoll("pending")
		case receipt.Status != gethTypes.ReceiptStatusSuccessful:
			cw.metrics.receiptPoll("reverted")
			cw.endpoint.setReverted()
			logger.Errorw("ConfirmationWatcher: recover transaction was mined but reverted",
				"blockNumber", receipt.BlockNumber,
				"poll", poll,
			)
			return watchReverted
		default:
			cw.metrics.receiptPoll("confirmed")
			return cw.decide(receipt, poll, logger)
		}

		if poll == cw.config.WatcherMaxPolls {
			break
		}
		if !cw.wait(ctx) {
			if cw.state.Decided() {
				return watchDecidedElsewhere
			}
			return watchCancelled
		}
	}

	logger.Debugw("ConfirmationWatcher: poll limit reached without confirmation",
		"polls", cw.config.WatcherMaxPolls,
	)
	return watchExhausted
}

func (cw *confirmationWatcher) fetchReceipt(ctx context.Context) (*gethTypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, cw.config.RequestTimeout)
	defer cancel()
	return cw.endpoint.client.TransactionReceipt(ctx, cw.txHash)
}

func (cw *confirmationWatcher) decide(receipt *gethTypes.Receipt, poll int, logger types.Logger) watchResult {
	txHash := receipt.TxHash
	if txHash == (common.Hash{}) {
		txHash = cw.txHash
	}
	confirmation := Confirmation{
		TxHash:      txHash,
		Endpoint:    cw.endpoint.URL,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	if !cw.state.TrySetDecided(confirmation) {
		logger.Debugw("ConfirmationWatcher: confirmation observed but the race was already decided", "poll", poll)
		return watchLost
	}
	logger.Infow("ConfirmationWatcher: recover transaction confirmed",
		"blockNumber", confirmation.BlockNumber,
		"poll", poll,
	)
	return watchWon
}

// wait returns false when the race was decided or ctx is done before the interval elapsed
func (cw *confirmationWatcher) wait(ctx context.Context) bool {
	timer := time.NewTimer(cw.config.WatcherPollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-cw.state.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
