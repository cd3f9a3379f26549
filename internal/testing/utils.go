package testing

import (
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	eslogger "github.com/celer-network/tx-racer/logger"
	"github.com/celer-network/tx-racer/store"
	"github.com/celer-network/tx-racer/store/tendermint"
	"github.com/celer-network/tx-racer/types"
	"github.com/ethereum/go-ethereum/common"
	tmdb "github.com/tendermint/tm-db"
	"go.uber.org/zap"
)

// ChainID is the chain the fakes and the test config agree on
var ChainID = big.NewInt(883)

// NewStore creates a new Store for testing
func NewStore(t testing.TB) store.Store {
	t.Helper()

	return tendermint.NewTMStore(tmdb.NewMemDB())
}

// NewConfig creates a new Config for testing. Intervals are short and batches
// small so races finish in milliseconds.
func NewConfig(t testing.TB) *types.Config {
	t.Helper()

	// broadcast loops log every submission at debug level
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logger, err := zapConfig.Build()
	if err != nil {
		t.Fatalf("could not build logger: %v", err)
	}
	return &types.Config{
		Logger:               eslogger.NewZapLogger(logger.Sugar()),
		ChainID:              ChainID,
		ConnectMaxAttempts:   3,
		ConnectRetryInterval: 5 * time.Millisecond,
		BatchSize:            4,
		SubmitConcurrency:    4,
		WatcherMaxPolls:      30,
		WatcherPollInterval:  5 * time.Millisecond,
		RequestTimeout:       time.Second,
	}
}

// NewHash return random Keccak256
func NewHash() common.Hash {
	return common.BytesToHash(randomBytes(32))
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}
