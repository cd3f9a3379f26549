package store

import (
	"errors"

	"github.com/celer-network/tx-racer/store/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no entity exists under the requested key
	ErrNotFound = errors.New("not found")
)

// Store is the race journal. It keeps the signed payloads of every race so that a
// race can be resumed with exactly the same bytes.
type Store interface {
	// PutRace inserts or replaces a race
	PutRace(race *models.Race) error

	GetRace(id uuid.UUID) (*models.Race, error)

	// GetRaces returns all races ordered by creation time, oldest first
	GetRaces() ([]*models.Race, error)

	// GetUnfinishedRaces returns races still in the racing state, e.g. after a crash
	GetUnfinishedRaces() ([]*models.Race, error)

	DeleteRace(id uuid.UUID) error

	Close() error
}
