package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/celer-network/tx-racer/client"
	"github.com/celer-network/tx-racer/logger"
	"github.com/celer-network/tx-racer/store"
	"github.com/celer-network/tx-racer/store/tendermint"
	"github.com/celer-network/tx-racer/txrace"
	"github.com/celer-network/tx-racer/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
)

const (
	dbName = "races"

	// how long the process waits for a pending funding action before exiting
	fundingGracePeriod = 30 * time.Second
)

func loadOptions() (*types.Options, error) {
	var opts types.Options
	if err := viper.Unmarshal(&opts); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &opts, nil
}

func openStore(dir string) (*tendermint.TMStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "could not create %s", dir)
	}
	return tendermint.NewGoLevelDBStore(dbName, dir)
}

// environment holds what every racing command needs
type environment struct {
	config  *types.Config
	logger  *logger.ZapLogger
	metrics *txrace.Metrics
	store   store.Store

	metricsServer *http.Server
}

func newEnvironment(opts *types.Options) (*environment, error) {
	zl, err := logger.New(opts.LogLevel, false)
	if err != nil {
		return nil, err
	}
	config, err := opts.Config(zl)
	if err != nil {
		return nil, err
	}
	env := &environment{config: config, logger: zl}

	if opts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		env.metrics, err = txrace.NewMetrics(reg)
		if err != nil {
			return nil, err
		}
		env.startMetricsServer(opts.MetricsAddr, reg)
	} else {
		env.metrics = txrace.NewNopMetrics()
	}

	if opts.DBDir != "" {
		s, err := openStore(opts.DBDir)
		if err != nil {
			env.close()
			return nil, err
		}
		env.store = s
	}
	return env, nil
}

func (env *environment) startMetricsServer(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	env.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	env.logger.Infow("Starting prometheus", "addr", addr)
	go func() {
		err := env.metricsServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			env.logger.Errorw("failed to start prometheus server", "err", err)
		}
	}()
}

func (env *environment) driver(opts ...txrace.DriverOpt) (*txrace.Driver, error) {
	connector := client.NewConnector(env.config, nil)
	coordinator, err := txrace.NewCoordinator(env.config, connector, env.metrics)
	if err != nil {
		return nil, err
	}
	if env.store != nil {
		opts = append(opts, txrace.WithStore(env.store))
	}
	return txrace.NewDriver(env.config, coordinator, env.metrics, opts...)
}

func (env *environment) waitFunding(driver *txrace.Driver) {
	ctx, cancel := context.WithTimeout(context.Background(), fundingGracePeriod)
	defer cancel()
	if err := driver.WaitFunding(ctx); err != nil {
		env.logger.Warnw("funding action still pending, exiting anyway", "err", err)
	}
}

func (env *environment) close() {
	if env.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = env.metricsServer.Shutdown(ctx)
	}
	if env.store != nil {
		if err := env.store.Close(); err != nil {
			env.logger.Errorw("failed to close race journal", "err", err)
		}
	}
	_ = env.logger.Sync()
}

// signalContext is cancelled on Ctrl+C or SIGTERM, which ends a race with no_confirmation
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func askConfirmation(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, errors.Wrap(err, "could not read answer")
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func printOutcome(out io.Writer, outcome *txrace.RaceOutcome) {
	if outcome == nil {
		return
	}
	fmt.Fprintf(out, "race %s: %s after %s\n", outcome.RaceID, outcome.Status, outcome.Duration.Round(time.Millisecond))
	if outcome.Confirmed() {
		fmt.Fprintf(out, "  recover tx %s mined in block %d, seen by %s\n",
			outcome.Winner.TxHash.Hex(),
			outcome.Winner.BlockNumber,
			outcome.Winner.Endpoint,
		)
	}
	for _, e := range outcome.Endpoints {
		fmt.Fprintf(out, "  %-40s claim %d/%d  recover %d/%d  polls %d\n",
			e.URL,
			e.Claim.Accepted, e.Claim.Submitted,
			e.Recover.Accepted, e.Recover.Submitted,
			e.ReceiptPolls,
		)
		if e.RecoverErr != nil {
			fmt.Fprintf(out, "    recover aborted: %v\n", e.RecoverErr)
		}
	}
	for _, e := range outcome.Excluded {
		fmt.Fprintf(out, "  %-40s excluded: %v\n", e.URL, e.Err)
	}
}
