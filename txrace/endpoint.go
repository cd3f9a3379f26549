package txrace

import (
	"sync"
	"sync/atomic"

	"github.com/celer-network/tx-racer/client"
	"github.com/tevino/abool"
)

// Endpoint is one connected RPC node taking part in a race
type Endpoint struct {
	URL    string
	client client.Client

	// set while a confirmation watcher runs for this endpoint
	watching *abool.AtomicBool

	claim   roleCounters
	recover roleCounters
	polls   atomic.Int64

	errLock    sync.Mutex
	claimErr   error
	recoverErr error
	reverted   bool
}

type roleCounters struct {
	submitted atomic.Int64
	accepted  atomic.Int64
	rejected  atomic.Int64
}

func newEndpoint(url string, c client.Client) *Endpoint {
	return &Endpoint{
		URL:      url,
		client:   c,
		watching: abool.New(),
	}
}

func (e *Endpoint) counters(role Role) *roleCounters {
	if role == RoleRecover {
		return &e.recover
	}
	return &e.claim
}

func (e *Endpoint) setAborted(role Role, err error) {
	e.errLock.Lock()
	defer e.errLock.Unlock()
	if role == RoleRecover {
		e.recoverErr = err
	} else {
		e.claimErr = err
	}
}

func (e *Endpoint) setReverted() {
	e.errLock.Lock()
	defer e.errLock.Unlock()
	e.reverted = true
}

// RoleStats counts the submissions of one payload on one endpoint
type RoleStats struct {
	Submitted int64
	Accepted  int64
	Rejected  int64
}

// EndpointStats is a snapshot of what happened on one endpoint during a race
type EndpointStats struct {
	URL          string
	Claim        RoleStats
	Recover      RoleStats
	ReceiptPolls int64

	// Set when the broadcast loop of that role aborted on a fatal error
	ClaimErr   error
	RecoverErr error
	// The recover transaction was observed mined but reverted
	RecoverReverted bool
}

func (e *Endpoint) Stats() EndpointStats {
	e.errLock.Lock()
	defer e.errLock.Unlock()
	return EndpointStats{
		URL:             e.URL,
		Claim:           e.claim.snapshot(),
		Recover:         e.recover.snapshot(),
		ReceiptPolls:    e.polls.Load(),
		ClaimErr:        e.claimErr,
		RecoverErr:      e.recoverErr,
		RecoverReverted: e.reverted,
	}
}

func (c *roleCounters) snapshot() RoleStats {
	return RoleStats{
		Submitted: c.submitted.Load(),
		Accepted:  c.accepted.Load(),
		Rejected:  c.rejected.Load(),
	}
}
