package txrace

import (
	"context"

	"github.com/celer-network/tx-racer/client"
	"github.com/celer-network/tx-racer/types"
	"github.com/tevino/abool"
	"golang.org/x/sync/errgroup"
)

// broadcastLoop resubmits one payload to one endpoint in batches of BatchSize
// concurrent sends, back to back. It runs until the race is decided, the halt flag is
// raised, ctx is done, or the endpoint rejects the payload with a fatal error.
//
// Retryable errors never stop the loop. An endpoint that keeps answering "nonce too
// low" is simply asked again on the next batch.
type broadcastLoop struct {
	endpoint *Endpoint
	payload  *SignedPayload
	state    *RaceState
	halt     *abool.AtomicBool
	config   *types.Config
	metrics  *Metrics
	logger   types.Logger

	// afterBatch runs after every completed batch. Used by the recover loop to keep a
	// confirmation watcher armed.
	afterBatch func()
}

func (bl *broadcastLoop) stopped(ctx context.Context) bool {
	return bl.state.Decided() || bl.halt.IsSet() || ctx.Err() != nil
}

// run returns the fatal error that aborted the loop, or nil when it was stopped
func (bl *broadcastLoop) run(ctx context.Context) *client.SendError {
	logger := bl.logger.With("endpoint", bl.endpoint.URL, "role", bl.payload.Role())
	logger.Debugw("BroadcastLoop: started", "txHash", bl.payload.Hash())

	batches := 0
	for !bl.stopped(ctx) {
		batches++
		if fatalErr := bl.runBatch(ctx, logger); fatalErr != nil {
			logger.Errorw("BroadcastLoop: endpoint rejected the payload permanently, aborting this loop",
				"txHash", bl.payload.Hash(),
				"err", fatalErr,
				"batches", batches,
			)
			return fatalErr
		}
		if bl.afterBatch != nil {
			bl.afterBatch()
		}
	}

	logger.Debugw("BroadcastLoop: stopped",
		"batches", batches,
		"decided", bl.state.Decided(),
	)
	return nil
}

// runBatch sends the payload BatchSize times, at most SubmitConcurrency at once, and
// waits for every send. In-flight sends are never cancelled by a decision.
func (bl *broadcastLoop) runBatch(ctx context.Context, logger types.Logger) *client.SendError {
	var g errgroup.Group
	g.SetLimit(bl.config.SubmitConcurrency)

	counters := bl.endpoint.counters(bl.payload.Role())
	for i := 0; i < bl.config.BatchSize; i++ {
		g.Go(func() error {
			counters.submitted.Add(1)
			_, sendErr := submitPayload(ctx, bl.endpoint.client, bl.payload, bl.config.RequestTimeout, logger)
			bl.metrics.submission(bl.payload.Role(), sendErr.Reason())
			if sendErr == nil {
				counters.accepted.Add(1)
				return nil
			}
			counters.rejected.Add(1)
			if sendErr.Fatal() {
				return sendErr
			}
			logger.Tracew("BroadcastLoop: retryable submission error",
				"reason", sendErr.Reason(),
				"err", sendErr,
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err.(*client.SendError)
	}
	return nil
}
