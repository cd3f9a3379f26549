package txrace_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/celer-network/tx-racer/client"
	esTesting "github.com/celer-network/tx-racer/internal/testing"
	"github.com/celer-network/tx-racer/txrace"
	"github.com/celer-network/tx-racer/types"

	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPayloads(t *testing.T) (*txrace.SignedPayload, *txrace.SignedPayload) {
	t.Helper()

	_, claimRaw := esTesting.NewSignedTx(t, 7)
	_, recRaw := esTesting.NewSignedTx(t, 8)
	claim, err := txrace.NewSignedPayload(txrace.RoleClaim, claimRaw)
	require.NoError(t, err)
	rec, err := txrace.NewSignedPayload(txrace.RoleRecover, recRaw)
	require.NoError(t, err)
	return claim, rec
}

func newCoordinator(t *testing.T, config *types.Config, network *esTesting.FakeNetwork, metrics *txrace.Metrics) *txrace.Coordinator {
	t.Helper()

	coordinator, err := txrace.NewCoordinator(config, client.NewConnector(config, network.Dial), metrics)
	require.NoError(t, err)
	return coordinator
}

func statsFor(t *testing.T, outcome *txrace.RaceOutcome, url string) txrace.EndpointStats {
	t.Helper()

	for _, s := range outcome.Endpoints {
		if s.URL == url {
			return s
		}
	}
	t.Fatalf("no stats for endpoint %s", url)
	return txrace.EndpointStats{}
}

// counterValue sums every series of the named counter family
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestCoordinator_NoEndpoints(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	t.Run("empty endpoint list", func(t *testing.T) {
		coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(), nil)
		outcome, err := coordinator.Race(context.Background(), nil, claim, rec)
		assert.Nil(t, outcome)
		assert.True(t, errors.Is(err, txrace.ErrNoEndpoints))
	})

	t.Run("every endpoint fails to connect", func(t *testing.T) {
		network := esTesting.NewFakeNetwork()
		coordinator := newCoordinator(t, config, network, nil)

		outcome, err := coordinator.Race(context.Background(), []string{"http://a", "http://b"}, claim, rec)
		assert.Nil(t, outcome)
		require.Error(t, err)
		assert.True(t, errors.Is(err, txrace.ErrNoEndpoints))
		assert.Contains(t, err.Error(), "http://a")
		assert.Contains(t, err.Error(), "http://b")
		assert.Equal(t, config.ConnectMaxAttempts, network.Dials("http://a"))
		assert.Equal(t, config.ConnectMaxAttempts, network.Dials("http://b"))
	})
}

func TestNewCoordinator_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *types.Config)
	}{
		{"zero submit concurrency", func(c *types.Config) { c.SubmitConcurrency = 0 }},
		{"zero batch size", func(c *types.Config) { c.BatchSize = 0 }},
		{"zero watcher polls", func(c *types.Config) { c.WatcherMaxPolls = 0 }},
		{"zero request timeout", func(c *types.Config) { c.RequestTimeout = 0 }},
		{"missing logger", func(c *types.Config) { c.Logger = nil }},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			config := esTesting.NewConfig(t)
			test.mutate(config)
			connector := client.NewConnector(esTesting.NewConfig(t), esTesting.NewFakeNetwork().Dial)

			coordinator, err := txrace.NewCoordinator(config, connector, nil)
			assert.Nil(t, coordinator)
			require.Error(t, err)

			driver, err := txrace.NewDriver(config, newCoordinator(t, esTesting.NewConfig(t), esTesting.NewFakeNetwork(), nil), nil)
			assert.Nil(t, driver)
			require.Error(t, err)
		})
	}

	t.Run("missing collaborators", func(t *testing.T) {
		config := esTesting.NewConfig(t)

		_, err := txrace.NewCoordinator(nil, client.NewConnector(config, nil), nil)
		require.Error(t, err)
		_, err = txrace.NewCoordinator(config, nil, nil)
		require.Error(t, err)
		_, err = txrace.NewDriver(config, nil, nil)
		require.Error(t, err)
	})
}

// The Coordinator works on a validated copy of its config, zeroing a field afterwards
// must not stall the broadcast loops of a decided race.
func TestCoordinator_ConfigChangedAfterConstruction(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	a := esTesting.NewFakeEndpoint("http://a")
	a.ReceiptFn = esTesting.ConfirmedOnPoll(rec.Hash(), 1, 12)
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(a), nil)
	config.SubmitConcurrency = 0
	config.BatchSize = 0

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	type result struct {
		outcome *txrace.RaceOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := coordinator.Race(ctx, []string{"http://a"}, claim, rec)
		done <- result{outcome, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.True(t, r.outcome.Confirmed())
		assert.Greater(t, a.Sends(), int64(0))
	case <-time.After(5 * time.Second):
		t.Fatal("race did not return")
	}
}

func TestCoordinator_EndpointIsolation(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	good := esTesting.NewFakeEndpoint("http://good")
	good.ReceiptFn = esTesting.ConfirmedOnPoll(rec.Hash(), 3, 100)
	network := esTesting.NewFakeNetwork(good)
	coordinator := newCoordinator(t, config, network, nil)

	outcome, err := coordinator.Race(context.Background(), []string{"http://unreachable", "http://good"}, claim, rec)
	require.NoError(t, err)
	require.True(t, outcome.Confirmed())
	assert.Equal(t, rec.Hash(), outcome.Winner.TxHash)
	assert.Equal(t, "http://good", outcome.Winner.Endpoint)
	assert.Equal(t, uint64(100), outcome.Winner.BlockNumber)

	require.Len(t, outcome.Excluded, 1)
	assert.Equal(t, "http://unreachable", outcome.Excluded[0].URL)
	var connErr *client.ConnectionError
	assert.True(t, errors.As(outcome.Excluded[0].Err, &connErr))

	require.Len(t, outcome.Endpoints, 1)
	assert.Equal(t, 3, good.Polls(rec.Hash()))
	assert.Equal(t, 0, good.Polls(claim.Hash()))
	assert.True(t, good.Closed())
}

// A always reports pending receipts, B confirms on its 5th poll and C cannot be
// reached at all.
func TestCoordinator_ThreeEndpoints(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	var confirmedOnB atomic.Bool
	var sendsOnAAfterConfirmation atomic.Int64

	a := esTesting.NewFakeEndpoint("http://a")
	a.SendFn = func(raw []byte) (common.Hash, error) {
		if confirmedOnB.Load() {
			sendsOnAAfterConfirmation.Add(1)
		}
		return esTesting.Accept(raw)
	}
	b := esTesting.NewFakeEndpoint("ws://b")
	confirmOnFifth := esTesting.ConfirmedOnPoll(rec.Hash(), 5, 4242)
	b.ReceiptFn = func(poll int, txHash common.Hash) (*gethTypes.Receipt, error) {
		receipt, err := confirmOnFifth(poll, txHash)
		if receipt != nil {
			confirmedOnB.Store(true)
		}
		return receipt, err
	}
	network := esTesting.NewFakeNetwork(a, b)
	coordinator := newCoordinator(t, config, network, nil)

	outcome, err := coordinator.Race(context.Background(), []string{"http://a", "ws://b", "http://c"}, claim, rec)
	require.NoError(t, err)
	require.True(t, outcome.Confirmed())
	assert.Equal(t, rec.Hash(), outcome.Winner.TxHash)
	assert.Equal(t, "ws://b", outcome.Winner.Endpoint)
	assert.Equal(t, 5, b.Polls(rec.Hash()))

	// at most the batch in flight plus one started before the flag was set, per loop
	assert.LessOrEqual(t, sendsOnAAfterConfirmation.Load(), int64(4*config.BatchSize))

	require.Len(t, outcome.Excluded, 1)
	assert.Equal(t, "http://c", outcome.Excluded[0].URL)
	assert.Equal(t, config.ConnectMaxAttempts, network.Dials("http://c"))

	statsA := statsFor(t, outcome, "http://a")
	assert.Positive(t, statsA.Claim.Submitted)
	assert.Positive(t, statsA.Recover.Submitted)
	assert.Equal(t, statsA.Claim.Submitted, statsA.Claim.Accepted)
	assert.NoError(t, statsA.RecoverErr)
}

func TestCoordinator_TerminationPropagation(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	var endpoints []*esTesting.FakeEndpoint
	var urls []string
	for _, url := range []string{"http://a", "http://b", "http://c"} {
		e := esTesting.NewFakeEndpoint(url)
		endpoints = append(endpoints, e)
		urls = append(urls, url)
	}
	endpoints[0].ReceiptFn = esTesting.ConfirmedOnPoll(rec.Hash(), 1, 7)
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(endpoints...), nil)

	outcome, err := coordinator.Race(context.Background(), urls, claim, rec)
	require.NoError(t, err)
	require.True(t, outcome.Confirmed())
	assert.Equal(t, "http://a", outcome.Winner.Endpoint)

	sends := make([]int64, len(endpoints))
	polls := make([]int, len(endpoints))
	for i, e := range endpoints {
		sends[i] = e.Sends()
		polls[i] = e.Polls(rec.Hash())
		assert.True(t, e.Closed())
	}

	time.Sleep(10 * config.WatcherPollInterval)
	for i, e := range endpoints {
		assert.Equal(t, sends[i], e.Sends(), "endpoint %s kept sending after the race was decided", e.URL())
		assert.Equal(t, polls[i], e.Polls(rec.Hash()), "endpoint %s kept polling after the race was decided", e.URL())
	}
}

func TestCoordinator_IdempotentResubmission(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	a := esTesting.NewFakeEndpoint("http://a")
	a.ReceiptFn = esTesting.ConfirmedOnPoll(rec.Hash(), 4, 1)
	b := esTesting.NewFakeEndpoint("http://b")
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(a, b), nil)

	outcome, err := coordinator.Race(context.Background(), []string{"http://a", "http://b"}, claim, rec)
	require.NoError(t, err)
	require.True(t, outcome.Confirmed())

	for _, e := range []*esTesting.FakeEndpoint{a, b} {
		assert.Greater(t, e.Sends(), int64(2*config.BatchSize))
		assert.Equal(t, 1, e.DistinctPayloads(claim.Hash()))
		assert.Equal(t, 1, e.DistinctPayloads(rec.Hash()))
	}
}

func TestCoordinator_RetryableErrorsNeverStopTheLoop(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	a := esTesting.NewFakeEndpoint("http://a")
	a.SendFn = esTesting.Reject("nonce too low")
	a.ReceiptFn = esTesting.ConfirmedOnPoll(rec.Hash(), 6, 1)
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(a), nil)

	outcome, err := coordinator.Race(context.Background(), []string{"http://a"}, claim, rec)
	require.NoError(t, err)
	require.True(t, outcome.Confirmed())

	stats := statsFor(t, outcome, "http://a")
	assert.Zero(t, stats.Recover.Accepted)
	assert.Equal(t, stats.Recover.Submitted, stats.Recover.Rejected)
	assert.Greater(t, stats.Recover.Submitted, int64(config.BatchSize))
	assert.NoError(t, stats.RecoverErr)
	assert.NoError(t, stats.ClaimErr)
}

func TestCoordinator_FatalErrorAbortsOnlyThatEndpoint(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	bad := esTesting.NewFakeEndpoint("http://bad")
	bad.SendFn = esTesting.Reject("invalid sender")
	good := esTesting.NewFakeEndpoint("http://good")
	good.ReceiptFn = esTesting.ConfirmedOnPoll(rec.Hash(), 5, 1)
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(bad, good), nil)

	outcome, err := coordinator.Race(context.Background(), []string{"http://bad", "http://good"}, claim, rec)
	require.NoError(t, err)
	require.True(t, outcome.Confirmed())
	assert.Equal(t, "http://good", outcome.Winner.Endpoint)

	stats := statsFor(t, outcome, "http://bad")
	assert.Error(t, stats.ClaimErr)
	assert.Error(t, stats.RecoverErr)
	assert.LessOrEqual(t, stats.Claim.Submitted, int64(config.BatchSize))
	assert.LessOrEqual(t, stats.Recover.Submitted, int64(config.BatchSize))
}

func TestCoordinator_RecoverRejectedEverywhere(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	a := esTesting.NewFakeEndpoint("http://a")
	a.SendFn = esTesting.Reject("rlp: expected input list for types.LegacyTx")
	b := esTesting.NewFakeEndpoint("http://b")
	b.SendFn = esTesting.Reject("invalid sender")
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(a, b), nil)

	outcome, err := coordinator.Race(context.Background(), []string{"http://a", "http://b"}, claim, rec)
	assert.True(t, errors.Is(err, txrace.ErrRecoverRejected))
	require.NotNil(t, outcome)
	assert.Equal(t, txrace.OutcomeFailed, outcome.Status)
	assert.False(t, outcome.Confirmed())
}

func TestCoordinator_RecoverReverted(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	a := esTesting.NewFakeEndpoint("http://a")
	a.ReceiptFn = esTesting.MinedOnPoll(rec.Hash(), 2, 10, gethTypes.ReceiptStatusFailed)
	b := esTesting.NewFakeEndpoint("http://b")
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(a, b), nil)

	outcome, err := coordinator.Race(context.Background(), []string{"http://a", "http://b"}, claim, rec)
	assert.True(t, errors.Is(err, txrace.ErrRecoverReverted))
	require.NotNil(t, outcome)
	assert.Equal(t, txrace.OutcomeFailed, outcome.Status)
	assert.True(t, statsFor(t, outcome, "http://a").RecoverReverted)
	assert.False(t, statsFor(t, outcome, "http://b").RecoverReverted)
}

func TestCoordinator_Deadline(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)

	a := esTesting.NewFakeEndpoint("http://a")
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(a), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	outcome, err := coordinator.Race(ctx, []string{"http://a"}, claim, rec)
	require.NoError(t, err)
	assert.Equal(t, txrace.OutcomeNoConfirmation, outcome.Status)
	assert.Equal(t, common.Hash{}, outcome.Winner.TxHash)
}

func TestCoordinator_WatcherIsRearmed(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	config.WatcherMaxPolls = 2
	claim, rec := newPayloads(t)

	a := esTesting.NewFakeEndpoint("http://a")
	a.ReceiptFn = esTesting.ConfirmedOnPoll(rec.Hash(), 9, 3)
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(a), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := coordinator.Race(ctx, []string{"http://a"}, claim, rec)
	require.NoError(t, err)
	require.True(t, outcome.Confirmed())
	assert.Equal(t, 9, a.Polls(rec.Hash()))
}

func TestCoordinator_ManyConfirmingEndpoints(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim, rec := newPayloads(t)
	reg := prometheus.NewRegistry()
	metrics, err := txrace.NewMetrics(reg)
	require.NoError(t, err)

	var endpoints []*esTesting.FakeEndpoint
	var urls []string
	for _, url := range []string{"http://a", "http://b", "http://c", "http://d", "http://e"} {
		e := esTesting.NewFakeEndpoint(url)
		e.ReceiptFn = esTesting.ConfirmedOnPoll(rec.Hash(), 1, 5)
		endpoints = append(endpoints, e)
		urls = append(urls, url)
	}
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(endpoints...), metrics)

	outcome, err := coordinator.Race(context.Background(), append(urls, "http://down"), claim, rec)
	require.NoError(t, err)
	require.True(t, outcome.Confirmed())
	assert.Equal(t, rec.Hash(), outcome.Winner.TxHash)
	assert.Contains(t, urls, outcome.Winner.Endpoint)

	assert.Equal(t, 1.0, counterValue(t, reg, "txracer_race_outcomes_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "txracer_connect_failures_total"))
	assert.GreaterOrEqual(t, counterValue(t, reg, "txracer_receipt_polls_total"), 1.0)
}

func TestCoordinator_ConcurrentRaces(t *testing.T) {
	t.Parallel()

	config := esTesting.NewConfig(t)
	claim1, rec1 := newPayloads(t)
	claim2, rec2 := newPayloads(t)

	a := esTesting.NewFakeEndpoint("http://a")
	a.ReceiptFn = esTesting.ConfirmedOnPoll(rec1.Hash(), 2, 1)
	b := esTesting.NewFakeEndpoint("http://b")
	b.ReceiptFn = esTesting.ConfirmedOnPoll(rec2.Hash(), 3, 2)
	coordinator := newCoordinator(t, config, esTesting.NewFakeNetwork(a, b), nil)

	type result struct {
		outcome *txrace.RaceOutcome
		err     error
	}
	results := make(chan result, 2)
	go func() {
		outcome, err := coordinator.Race(context.Background(), []string{"http://a"}, claim1, rec1)
		results <- result{outcome, err}
	}()
	go func() {
		outcome, err := coordinator.Race(context.Background(), []string{"http://b"}, claim2, rec2)
		results <- result{outcome, err}
	}()

	winners := map[common.Hash]string{}
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.True(t, r.outcome.Confirmed())
		winners[r.outcome.Winner.TxHash] = r.outcome.Winner.Endpoint
	}
	assert.Equal(t, "http://a", winners[rec1.Hash()])
	assert.Equal(t, "http://b", winners[rec2.Hash()])
}
