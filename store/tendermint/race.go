package tendermint

import (
	"sort"

	"github.com/celer-network/tx-racer/store/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	errStrDecodeRace = "could not decode Race"
)

var (
	prefixRace = []byte("rce")
)

func (s *TMStore) PutRace(race *models.Race) error {
	if race.ID == uuid.Nil {
		return errors.New("PutRace: race has no ID")
	}
	return set(s.nsRace, race.ID[:], race)
}

func (s *TMStore) GetRace(id uuid.UUID) (*models.Race, error) {
	var race models.Race
	err := get(s.nsRace, id[:], &race)
	if err != nil {
		return nil, err
	}
	return &race, nil
}

func (s *TMStore) DeleteRace(id uuid.UUID) error {
	return s.nsRace.Delete(id[:])
}

func (s *TMStore) GetRaces() ([]*models.Race, error) {
	return s.filterRaces(func(*models.Race) bool { return true })
}

func (s *TMStore) GetUnfinishedRaces() ([]*models.Race, error) {
	return s.filterRaces(func(race *models.Race) bool { return !race.Finished() })
}

func (s *TMStore) filterRaces(keep func(*models.Race) bool) ([]*models.Race, error) {
	iter, err := s.nsRace.Iterator(nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, errStrCreateIter)
	}
	defer iter.Close()

	var races []*models.Race
	for ; iter.Valid(); iter.Next() {
		var race models.Race
		if err := msgpack.Unmarshal(iter.Value(), &race); err != nil {
			return nil, errors.Wrap(err, errStrDecodeRace)
		}
		if keep(&race) {
			races = append(races, &race)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "race iteration failed")
	}
	sort.SliceStable(races, func(i, j int) bool {
		return races[i].CreatedAt.Before(races[j].CreatedAt)
	})
	return races, nil
}
