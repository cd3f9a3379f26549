package txrace

import (
	"context"
	"sync"
	"time"

	"github.com/celer-network/tx-racer/store"
	"github.com/celer-network/tx-racer/store/models"
	"github.com/celer-network/tx-racer/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Driver builds the payloads of a race once, journals them, kicks off the funding
// action and hands the race to the Coordinator.
type Driver struct {
	config      *types.Config
	coordinator *Coordinator
	// optional, races are not journaled without one
	store   store.Store
	funding FundingAction
	metrics *Metrics
	logger  types.Logger

	fundingWG sync.WaitGroup
}

// DriverOpt configures optional collaborators of a Driver
type DriverOpt func(*Driver)

// WithStore journals every race in s and enables Resume
func WithStore(s store.Store) DriverOpt {
	return func(d *Driver) {
		d.store = s
	}
}

// WithFunding runs action alongside every new race
func WithFunding(action FundingAction) DriverOpt {
	return func(d *Driver) {
		d.funding = action
	}
}

func NewDriver(config *types.Config, coordinator *Coordinator, metrics *Metrics, opts ...DriverOpt) (*Driver, error) {
	if config == nil {
		return nil, errors.New("driver: config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "driver")
	}
	if coordinator == nil {
		return nil, errors.New("driver: coordinator is required")
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	cfg := *config
	d := &Driver{
		config:      &cfg,
		coordinator: coordinator,
		metrics:     metrics,
		logger:      config.Logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Race runs a new race on urls. The builder is called exactly once, before anything
// is sent. The returned outcome carries the id under which the race was journaled.
func (d *Driver) Race(ctx context.Context, builder PayloadBuilder, urls []string) (*RaceOutcome, error) {
	claim, rec, err := builder.BuildPayloads(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not build payloads")
	}

	race := &models.Race{
		ID:             uuid.New(),
		State:          models.RaceStateRacing,
		ClaimPayload:   claim.Bytes(),
		RecoverPayload: rec.Bytes(),
		ClaimHash:      claim.Hash(),
		RecoverHash:    rec.Hash(),
		Endpoints:      append([]string(nil), urls...),
		CreatedAt:      time.Now(),
	}
	if err := d.putRace(race); err != nil {
		return nil, err
	}

	if d.funding != nil {
		d.superviseFunding(ctx, race.ID)
	}
	return d.run(ctx, race, claim, rec)
}

// Resume races the journaled payloads of an unconfirmed race again, on the endpoints
// recorded for it. The payloads are never rebuilt, so the nonces stay the same.
func (d *Driver) Resume(ctx context.Context, raceID uuid.UUID) (*RaceOutcome, error) {
	if d.store == nil {
		return nil, errors.New("cannot resume without a race store")
	}
	race, err := d.store.GetRace(raceID)
	if err != nil {
		return nil, errors.Wrapf(err, "could not load race %s", raceID)
	}
	switch {
	case race.State == models.RaceStateConfirmed:
		return nil, errors.Errorf("race %s is already confirmed in tx %s", raceID, race.WinnerTxHash.Hex())
	case !race.Resumable():
		return nil, errors.Errorf("race %s cannot be resumed, state %s", raceID, race.State)
	}

	builder := &StoredPayloadBuilder{Store: d.store, RaceID: raceID}
	claim, rec, err := builder.BuildPayloads(ctx)
	if err != nil {
		return nil, err
	}

	race.State = models.RaceStateRacing
	race.Resumes++
	race.Error = ""
	if err := d.putRace(race); err != nil {
		return nil, err
	}
	d.logger.Infow("Driver: resuming race", "raceID", raceID, "resumes", race.Resumes)
	return d.run(ctx, race, claim, rec)
}

// WaitFunding blocks until every funding action started by this Driver returned, or ctx is done
func (d *Driver) WaitFunding(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.fundingWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) run(ctx context.Context, race *models.Race, claim, rec *SignedPayload) (*RaceOutcome, error) {
	raceCtx := ctx
	if d.config.RaceTimeout > 0 {
		var cancel context.CancelFunc
		raceCtx, cancel = context.WithTimeout(ctx, d.config.RaceTimeout)
		defer cancel()
	}

	d.logger.Infow("Driver: race started",
		"raceID", race.ID,
		"endpoints", len(race.Endpoints),
		"timeout", d.config.RaceTimeout,
	)
	outcome, err := d.coordinator.Race(raceCtx, race.Endpoints, claim, rec)
	if outcome != nil {
		outcome.RaceID = race.ID
	}

	if recordErr := d.record(race, outcome, err); recordErr != nil {
		d.logger.Errorw("Driver: could not journal race outcome", "raceID", race.ID, "err", recordErr)
	}
	return outcome, err
}

// superviseFunding runs the funding action detached from the race. Its error is
// reported on a channel of its own and only ever logged.
func (d *Driver) superviseFunding(ctx context.Context, raceID uuid.UUID) {
	errCh := make(chan error, 1)
	fundingCtx := context.WithoutCancel(ctx)

	d.fundingWG.Add(1)
	go func() {
		defer close(errCh)
		defer func() {
			if r := recover(); r != nil {
				errCh <- errors.Errorf("funding action panicked: %v", r)
			}
		}()
		errCh <- d.funding.Fund(fundingCtx)
	}()

	go func() {
		defer d.fundingWG.Done()
		for err := range errCh {
			if err != nil {
				d.metrics.funding("failed")
				d.logger.Errorw("Driver: funding action failed, the race is not affected", "raceID", raceID, "err", err)
				continue
			}
			d.metrics.funding("ok")
			d.logger.Infow("Driver: funding action done", "raceID", raceID)
		}
	}()
}

func (d *Driver) putRace(race *models.Race) error {
	if d.store == nil {
		return nil
	}
	return errors.Wrapf(d.store.PutRace(race), "could not journal race %s", race.ID)
}

func (d *Driver) record(race *models.Race, outcome *RaceOutcome, raceErr error) error {
	race.FinishedAt = time.Now()
	if raceErr != nil {
		race.Error = raceErr.Error()
	}
	if outcome == nil {
		race.State = models.RaceStateFailed
		return d.putRace(race)
	}

	switch outcome.Status {
	case OutcomeConfirmed:
		race.State = models.RaceStateConfirmed
		race.WinnerTxHash = outcome.Winner.TxHash
		race.WinnerEndpoint = outcome.Winner.Endpoint
		race.WinnerBlockNumber = outcome.Winner.BlockNumber
	case OutcomeNoConfirmation:
		race.State = models.RaceStateNoConfirmation
	case OutcomeFailed:
		race.State = models.RaceStateFailed
		if errors.Is(raceErr, ErrRecoverReverted) {
			race.State = models.RaceStateReverted
		}
	default:
		race.State = models.RaceStateFailed
	}
	race.ExcludedEndpoints = race.ExcludedEndpoints[:0]
	for _, e := range outcome.Excluded {
		race.ExcludedEndpoints = append(race.ExcludedEndpoints, e.URL)
	}
	return d.putRace(race)
}
