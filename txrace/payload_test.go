package txrace_test

import (
	"context"
	"testing"

	esTesting "github.com/celer-network/tx-racer/internal/testing"
	"github.com/celer-network/tx-racer/txrace"
	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedPayload(t *testing.T) {
	t.Parallel()

	tx, raw := esTesting.NewSignedTx(t, 11)
	payload, err := txrace.NewSignedPayload(txrace.RoleRecover, raw)
	require.NoError(t, err)

	assert.Equal(t, txrace.RoleRecover, payload.Role())
	assert.Equal(t, tx.Hash(), payload.Hash())
	assert.Equal(t, raw, payload.Bytes())

	t.Run("is a copy of the input", func(t *testing.T) {
		raw[0] ^= 0xff
		defer func() { raw[0] ^= 0xff }()
		assert.NotEqual(t, raw, payload.Bytes())
		assert.Equal(t, tx.Hash(), payload.Hash())
	})

	t.Run("callers cannot mutate it", func(t *testing.T) {
		b := payload.Bytes()
		b[0] ^= 0xff
		assert.Equal(t, raw, payload.Bytes())
	})

	t.Run("decodes to the same transaction every time", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			decoded, err := payload.Decode()
			require.NoError(t, err)
			assert.Equal(t, uint64(11), decoded.Nonce())
			assert.Equal(t, tx.Hash(), decoded.Hash())
			assert.Equal(t, raw, payload.Bytes())
		}
	})

	t.Run("empty payload", func(t *testing.T) {
		_, err := txrace.NewSignedPayload(txrace.RoleClaim, nil)
		assert.Error(t, err)
	})
}

func TestParseSignedPayload(t *testing.T) {
	t.Parallel()

	tx, hexStr := esTesting.NewSignedTxHex(t, 3)

	payload, err := txrace.ParseSignedPayload(txrace.RoleClaim, " "+hexStr+"\n")
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), payload.Hash())

	_, err = txrace.ParseSignedPayload(txrace.RoleClaim, "not hex")
	assert.Error(t, err)

	_, err = txrace.ParseSignedPayload(txrace.RoleClaim, hexutil.Encode([]byte{0x02, 0x01, 0x02}))
	assert.Error(t, err)
}

func TestStaticPayloadBuilder(t *testing.T) {
	t.Parallel()

	claimTx, claimHex := esTesting.NewSignedTxHex(t, 1)
	recTx, recHex := esTesting.NewSignedTxHex(t, 2)

	builder := &txrace.StaticPayloadBuilder{ClaimHex: claimHex, RecoverHex: recHex}
	claim, rec, err := builder.BuildPayloads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, claimTx.Hash(), claim.Hash())
	assert.Equal(t, txrace.RoleClaim, claim.Role())
	assert.Equal(t, recTx.Hash(), rec.Hash())
	assert.Equal(t, txrace.RoleRecover, rec.Role())

	_, _, err = (&txrace.StaticPayloadBuilder{ClaimHex: claimHex, RecoverHex: claimHex}).BuildPayloads(context.Background())
	assert.Error(t, err)

	_, _, err = (&txrace.StaticPayloadBuilder{ClaimHex: claimHex}).BuildPayloads(context.Background())
	assert.Error(t, err)
}

func TestStoredPayloadBuilder(t *testing.T) {
	t.Parallel()

	store := esTesting.NewStore(t)
	race := esTesting.NewRace(t, "http://a")
	require.NoError(t, store.PutRace(race))

	builder := &txrace.StoredPayloadBuilder{Store: store, RaceID: race.ID}
	claim, rec, err := builder.BuildPayloads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, race.ClaimPayload, claim.Bytes())
	assert.Equal(t, race.RecoverPayload, rec.Bytes())

	t.Run("unknown race", func(t *testing.T) {
		_, _, err := (&txrace.StoredPayloadBuilder{Store: store, RaceID: uuid.New()}).BuildPayloads(context.Background())
		assert.Error(t, err)
	})

	t.Run("corrupted payload", func(t *testing.T) {
		corrupted := esTesting.NewRace(t)
		corrupted.RecoverPayload[len(corrupted.RecoverPayload)-1] ^= 0xff
		require.NoError(t, store.PutRace(corrupted))

		_, _, err := (&txrace.StoredPayloadBuilder{Store: store, RaceID: corrupted.ID}).BuildPayloads(context.Background())
		assert.Error(t, err)
	})
}
