package testing

import (
	"math/big"
	"testing"
	"time"

	"github.com/celer-network/tx-racer/store/models"
	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// NewAddress return a random new address
func NewAddress() common.Address {
	return common.BytesToAddress(randomBytes(20))
}

// NewSignedTx signs a dynamic fee transfer with a fresh key and returns the
// transaction together with its canonical encoding
func NewSignedTx(t testing.TB, nonce uint64) (*types.Transaction, []byte) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	to := NewAddress()
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   ChainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(2e9),
		GasFeeCap: big.NewInt(100e9),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(ChainID), key)
	require.NoError(t, err)

	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return signed, raw
}

// NewSignedTxHex is NewSignedTx, hex encoded the way payloads are handed in
func NewSignedTxHex(t testing.TB, nonce uint64) (*types.Transaction, string) {
	t.Helper()

	tx, raw := NewSignedTx(t, nonce)
	return tx, hexutil.Encode(raw)
}

// NewRace returns a journal entry in the racing state for two fresh payloads
func NewRace(t testing.TB, endpoints ...string) *models.Race {
	t.Helper()

	claim, claimRaw := NewSignedTx(t, 7)
	rec, recRaw := NewSignedTx(t, 8)
	return &models.Race{
		ID:             uuid.New(),
		State:          models.RaceStateRacing,
		ClaimPayload:   claimRaw,
		RecoverPayload: recRaw,
		ClaimHash:      claim.Hash(),
		RecoverHash:    rec.Hash(),
		Endpoints:      endpoints,
		CreatedAt:      time.Now(),
	}
}

// NewReceipt returns a receipt mined in blockNumber with the given status
func NewReceipt(txHash common.Hash, blockNumber int64, status uint64) *types.Receipt {
	return &types.Receipt{
		TxHash:      txHash,
		BlockNumber: big.NewInt(blockNumber),
		BlockHash:   NewHash(),
		Status:      status,
	}
}
