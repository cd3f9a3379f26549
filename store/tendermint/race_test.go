package tendermint_test

import (
	"testing"
	"time"

	esTesting "github.com/celer-network/tx-racer/internal/testing"
	"github.com/celer-network/tx-racer/store"
	"github.com/celer-network/tx-racer/store/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTMStore_Race(t *testing.T) {
	s := esTesting.NewStore(t)

	t.Run("missing race", func(t *testing.T) {
		_, err := s.GetRace(uuid.New())
		assert.Equal(t, store.ErrNotFound, err)
	})

	t.Run("race without id is rejected", func(t *testing.T) {
		race := esTesting.NewRace(t)
		race.ID = uuid.Nil
		assert.Error(t, s.PutRace(race))
	})

	t.Run("put and get keep the payloads byte for byte", func(t *testing.T) {
		race := esTesting.NewRace(t, "http://a", "ws://b")
		require.NoError(t, s.PutRace(race))

		stored, err := s.GetRace(race.ID)
		require.NoError(t, err)
		assert.Equal(t, race.ID, stored.ID)
		assert.Equal(t, models.RaceStateRacing, stored.State)
		assert.Equal(t, race.ClaimPayload, stored.ClaimPayload)
		assert.Equal(t, race.RecoverPayload, stored.RecoverPayload)
		assert.Equal(t, race.ClaimHash, stored.ClaimHash)
		assert.Equal(t, race.RecoverHash, stored.RecoverHash)
		assert.Equal(t, []string{"http://a", "ws://b"}, stored.Endpoints)
		assert.True(t, race.CreatedAt.Equal(stored.CreatedAt))
		assert.False(t, stored.Finished())
	})

	t.Run("updates replace the entry", func(t *testing.T) {
		race := esTesting.NewRace(t, "http://a")
		require.NoError(t, s.PutRace(race))

		race.State = models.RaceStateConfirmed
		race.WinnerTxHash = race.RecoverHash
		race.WinnerEndpoint = "http://a"
		race.WinnerBlockNumber = 42
		race.FinishedAt = time.Now()
		require.NoError(t, s.PutRace(race))

		stored, err := s.GetRace(race.ID)
		require.NoError(t, err)
		assert.True(t, stored.Finished())
		assert.Equal(t, race.RecoverHash, stored.WinnerTxHash)
		assert.Equal(t, uint64(42), stored.WinnerBlockNumber)
	})
}

func TestTMStore_GetRaces(t *testing.T) {
	s := esTesting.NewStore(t)

	races, err := s.GetRaces()
	require.NoError(t, err)
	assert.Empty(t, races)

	now := time.Now()
	first := esTesting.NewRace(t)
	first.CreatedAt = now.Add(-2 * time.Minute)
	second := esTesting.NewRace(t)
	second.CreatedAt = now.Add(-time.Minute)
	second.State = models.RaceStateNoConfirmation
	third := esTesting.NewRace(t)
	third.CreatedAt = now

	for _, race := range []*models.Race{third, first, second} {
		require.NoError(t, s.PutRace(race))
	}

	races, err = s.GetRaces()
	require.NoError(t, err)
	require.Len(t, races, 3)
	assert.Equal(t, first.ID, races[0].ID)
	assert.Equal(t, second.ID, races[1].ID)
	assert.Equal(t, third.ID, races[2].ID)

	unfinished, err := s.GetUnfinishedRaces()
	require.NoError(t, err)
	require.Len(t, unfinished, 2)
	assert.Equal(t, first.ID, unfinished[0].ID)
	assert.Equal(t, third.ID, unfinished[1].ID)

	require.NoError(t, s.DeleteRace(first.ID))
	_, err = s.GetRace(first.ID)
	assert.Equal(t, store.ErrNotFound, err)
}
