package txrace

import (
	"context"
	"sync"
	"time"

	"github.com/celer-network/tx-racer/client"
	"github.com/celer-network/tx-racer/types"
	"github.com/google/uuid"
	"github.com/tevino/abool"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoEndpoints is race-fatal: not a single endpoint could be connected
	ErrNoEndpoints = errors.New("no endpoints available")
	// ErrRecoverRejected is returned when every endpoint permanently rejected the
	// recover payload and no watcher is left that could still observe it
	ErrRecoverRejected = errors.New("recover payload rejected by every endpoint")
	// ErrRecoverReverted is returned when the recover transaction was mined with a failed status
	ErrRecoverReverted = errors.New("recover transaction reverted")
)

type OutcomeStatus string

const (
	OutcomeConfirmed      = OutcomeStatus("confirmed")
	OutcomeNoConfirmation = OutcomeStatus("no_confirmation")
	OutcomeFailed         = OutcomeStatus("failed")
)

// ExcludedEndpoint is an endpoint dropped during Init
type ExcludedEndpoint struct {
	URL string
	Err error
}

// RaceOutcome is the single terminal result of a race
type RaceOutcome struct {
	// Set by the Driver, zero when the Coordinator is used directly
	RaceID uuid.UUID
	Status OutcomeStatus
	// Only set when Status is OutcomeConfirmed
	Winner Confirmation

	Endpoints []EndpointStats
	Excluded  []ExcludedEndpoint
	Duration  time.Duration
}

func (o *RaceOutcome) Confirmed() bool {
	return o != nil && o.Status == OutcomeConfirmed
}

// Coordinator runs races. It holds no per-race state, so one Coordinator can run
// several independent races at the same time.
type Coordinator struct {
	config    *types.Config
	connector *client.Connector
	metrics   *Metrics
	logger    types.Logger
}

// NewCoordinator validates config and keeps a copy of it, later changes to config
// do not affect the Coordinator.
func NewCoordinator(config *types.Config, connector *client.Connector, metrics *Metrics) (*Coordinator, error) {
	if config == nil {
		return nil, errors.New("coordinator: config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "coordinator")
	}
	if connector == nil {
		return nil, errors.New("coordinator: connector is required")
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	cfg := *config
	return &Coordinator{
		config:    &cfg,
		connector: connector,
		metrics:   metrics,
		logger:    config.Logger,
	}, nil
}

// Race connects to every url, races claim and recover on all endpoints that could be
// connected, and returns once the recover transaction is confirmed or ctx is done.
//
// The returned error is non-nil only for race-fatal conditions: ErrNoEndpoints,
// ErrRecoverRejected or ErrRecoverReverted. An outcome is returned in every case
// except ErrNoEndpoints.
func (c *Coordinator) Race(ctx context.Context, urls []string, claim, rec *SignedPayload) (*RaceOutcome, error) {
	start := time.Now()

	endpoints, excluded := c.connectAll(ctx, urls)
	if len(endpoints) == 0 {
		errs := make([]error, 0, len(excluded))
		for _, e := range excluded {
			errs = append(errs, e.Err)
		}
		c.metrics.outcome(OutcomeFailed)
		if combined := multierr.Combine(errs...); combined != nil {
			return nil, errors.WithMessage(ErrNoEndpoints, combined.Error())
		}
		return nil, ErrNoEndpoints
	}

	c.logger.Infow("Coordinator: racing",
		"endpoints", len(endpoints),
		"excluded", len(excluded),
		"claimTxHash", claim.Hash(),
		"recoverTxHash", rec.Hash(),
	)
	c.metrics.endpointActive(float64(len(endpoints)))
	defer c.metrics.endpointActive(-float64(len(endpoints)))

	run := c.runRace(ctx, endpoints, claim, rec)

	for _, e := range endpoints {
		e.client.Close()
	}

	outcome := &RaceOutcome{
		Excluded: excluded,
		Duration: time.Since(start),
	}
	for _, e := range endpoints {
		outcome.Endpoints = append(outcome.Endpoints, e.Stats())
	}

	var err error
	if winner, ok := run.state.Winner(); ok {
		outcome.Status = OutcomeConfirmed
		outcome.Winner = winner
	} else if run.reverted.IsSet() {
		outcome.Status = OutcomeFailed
		err = ErrRecoverReverted
	} else if ctx.Err() != nil {
		outcome.Status = OutcomeNoConfirmation
	} else {
		outcome.Status = OutcomeFailed
		err = ErrRecoverRejected
	}
	c.metrics.outcome(outcome.Status)

	c.logger.Infow("Coordinator: race finished",
		"status", outcome.Status,
		"txHash", outcome.Winner.TxHash,
		"endpoint", outcome.Winner.Endpoint,
		"duration", outcome.Duration,
	)
	return outcome, err
}

// connectAll connects to every url in parallel. Endpoints that cannot be connected
// are excluded, they never abort the race.
func (c *Coordinator) connectAll(ctx context.Context, urls []string) ([]*Endpoint, []ExcludedEndpoint) {
	clients := make([]client.Client, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			clients[i], errs[i] = c.connector.Connect(ctx, url)
			return nil
		})
	}
	_ = g.Wait()

	var endpoints []*Endpoint
	var excluded []ExcludedEndpoint
	for i, url := range urls {
		if errs[i] != nil {
			c.metrics.connectFailure()
			c.logger.Errorw("Coordinator: excluding endpoint", "endpoint", url, "err", errs[i])
			excluded = append(excluded, ExcludedEndpoint{URL: url, Err: errs[i]})
			continue
		}
		endpoints = append(endpoints, newEndpoint(url, clients[i]))
	}
	return endpoints, excluded
}

// raceRun is the state of one race. Every worker of the race shares it.
type raceRun struct {
	state *RaceState
	// raised once no recover work is left, or the recover transaction reverted
	halt     *abool.AtomicBool
	reverted *abool.AtomicBool

	claimWG   sync.WaitGroup
	recoverWG sync.WaitGroup
}

// runRace starts, per endpoint, a claim loop, a recover loop and a confirmation
// watcher, and returns once all of them finished.
//
// Claim loops have no success criterion of their own. They are halted once every
// recover loop and every watcher is done, be it because the race was decided or
// because the recover payload cannot make progress anywhere.
func (c *Coordinator) runRace(ctx context.Context, endpoints []*Endpoint, claim, rec *SignedPayload) *raceRun {
	run := &raceRun{
		state:    NewRaceState(),
		halt:     abool.New(),
		reverted: abool.New(),
	}

	for _, e := range endpoints {
		e := e
		claimLoop := c.newBroadcastLoop(run, e, claim)
		recoverLoop := c.newBroadcastLoop(run, e, rec)
		watcher := &confirmationWatcher{
			endpoint: e,
			txHash:   rec.Hash(),
			state:    run.state,
			halt:     run.halt,
			config:   c.config,
			metrics:  c.metrics,
			logger:   c.logger,
		}
		recoverLoop.afterBatch = func() {
			c.armWatcher(ctx, run, watcher)
		}

		run.claimWG.Add(1)
		go func() {
			defer run.claimWG.Done()
			if err := claimLoop.run(ctx); err != nil {
				e.setAborted(RoleClaim, err)
			}
		}()

		run.recoverWG.Add(1)
		c.armWatcher(ctx, run, watcher)
		go func() {
			defer run.recoverWG.Done()
			if err := recoverLoop.run(ctx); err != nil {
				e.setAborted(RoleRecover, err)
			}
		}()
	}

	run.recoverWG.Wait()
	run.halt.Set()
	run.claimWG.Wait()
	return run
}

func (c *Coordinator) newBroadcastLoop(run *raceRun, e *Endpoint, payload *SignedPayload) *broadcastLoop {
	return &broadcastLoop{
		endpoint: e,
		payload:  payload,
		state:    run.state,
		halt:     run.halt,
		config:   c.config,
		metrics:  c.metrics,
		logger:   c.logger,
	}
}

// armWatcher starts the endpoint's watcher unless one is already running or the race
// is over. The caller must hold a count on run.recoverWG.
func (c *Coordinator) armWatcher(ctx context.Context, run *raceRun, watcher *confirmationWatcher) {
	if run.state.Decided() || run.halt.IsSet() || ctx.Err() != nil {
		return
	}
	if !watcher.endpoint.watching.SetToIf(false, true) {
		return
	}
	run.recoverWG.Add(1)
	go func() {
		defer run.recoverWG.Done()
		defer watcher.endpoint.watching.UnSet()
		if watcher.run(ctx) == watchReverted {
			// the nonce is spent, resending can never confirm it
			run.reverted.Set()
			run.halt.Set()
		}
	}()
}
