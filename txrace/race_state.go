package txrace

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// Confirmation is the observation that decided a race
type Confirmation struct {
	TxHash      common.Hash
	Endpoint    string
	BlockNumber uint64
}

// RaceState is set at most once, by whichever watcher observes the recover
// confirmation first. Every worker reads it before starting more work.
type RaceState struct {
	winner    atomic.Pointer[Confirmation]
	done      chan struct{}
	closeOnce sync.Once
}

func NewRaceState() *RaceState {
	return &RaceState{done: make(chan struct{})}
}

// TrySetDecided records c as the winning confirmation. It returns true for exactly one
// caller; every later call returns false and changes nothing.
func (s *RaceState) TrySetDecided(c Confirmation) bool {
	if !s.winner.CompareAndSwap(nil, &c) {
		return false
	}
	s.closeOnce.Do(func() { close(s.done) })
	return true
}

func (s *RaceState) Decided() bool {
	return s.winner.Load() != nil
}

// Winner returns the deciding confirmation, or false while the race is undecided
func (s *RaceState) Winner() (Confirmation, bool) {
	c := s.winner.Load()
	if c == nil {
		return Confirmation{}, false
	}
	return *c, true
}

// Done is closed once the race is decided
func (s *RaceState) Done() <-chan struct{} {
	return s.done
}
