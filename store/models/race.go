package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type RaceState string

const (
	RaceStateRacing         = RaceState("racing")
	RaceStateConfirmed      = RaceState("confirmed")
	RaceStateNoConfirmation = RaceState("no_confirmation")
	RaceStateFailed         = RaceState("failed")

	// The recover tx was mined with a failed status, its nonce is spent
	RaceStateReverted = RaceState("reverted")
)

// Race is one journal entry. The payloads are stored verbatim and never re-signed.
type Race struct {
	ID             uuid.UUID
	State          RaceState
	ClaimPayload   []byte
	RecoverPayload []byte
	ClaimHash      common.Hash
	RecoverHash    common.Hash
	Endpoints      []string

	// Set once the race finishes
	WinnerTxHash      common.Hash
	WinnerEndpoint    string
	WinnerBlockNumber uint64
	ExcludedEndpoints []string
	Error             string

	CreatedAt  time.Time
	FinishedAt time.Time
	// Number of times the race was resumed after the first run
	Resumes int
}

// Finished reports whether the race reached a terminal state
func (r *Race) Finished() bool {
	return r.State != RaceStateRacing
}

// Resumable reports whether racing the stored payloads again can still succeed
func (r *Race) Resumable() bool {
	return r.State != RaceStateConfirmed && r.State != RaceStateReverted
}
