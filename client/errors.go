package client

import (
	"context"
	"fmt"
	"regexp"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/pkg/errors"
)

// Node error messages differ between clients, so every class matches the wording
// of geth, erigon/nethermind and openethereum/parity.
var (
	nonceTooLow            = regexp.MustCompile(`(?i)(nonce too low|transaction nonce is too low|OldNonce|nonce has already been used)`)
	nonceTooHigh           = regexp.MustCompile(`(?i)(nonce too high|transaction nonce is too high|nonce gap)`)
	alreadyKnown           = regexp.MustCompile(`(?i)(already known|known transaction|AlreadyKnown|already imported|transaction already exists|already in mempool|ErrAlreadyKnown)`)
	replacementUnderpriced = regexp.MustCompile(`(?i)(replacement transaction underpriced|replacement underpriced|another transaction with same nonce in the queue)`)
	terminallyUnderpriced  = regexp.MustCompile(`(?i)(^|: )(transaction underpriced|max fee per gas less than block base fee|fee cap less than block base fee|feecap too low|gas price too low|transaction gas price.*is too low)`)
	temporarilyUnderpriced = regexp.MustCompile(`(?i)(too many transactions in the queue|transaction fee is too low)`)
	txPoolFull             = regexp.MustCompile(`(?i)(txpool is full|transaction pool limit reached|mempool is full|too many pending transactions)`)
	insufficientEth        = regexp.MustCompile(`(?i)(insufficient funds|insufficient balance|sender doesn't have enough funds)`)

	// fatal errors can never succeed, no matter how often the same bytes are resent
	fatal = regexp.MustCompile(`(?i)(invalid sender|invalid signature|invalid transaction v, r, s values|rlp: |typed transaction too short|transaction type not supported|invalid RLP|exceeds block gas limit|oversized data|intrinsic gas too low|gas uint64 overflow|negative value|invalid chain id|only replay-protected|tx type not supported|not permitted|cannot unmarshal|invalid argument 0)`)
)

// SendError wraps an error returned by eth_sendRawTransaction and classifies it.
// All methods are safe to call on a nil *SendError.
type SendError struct {
	err error
}

// NewSendError returns nil for a nil error
func NewSendError(err error) *SendError {
	if err == nil {
		return nil
	}
	return &SendError{err: err}
}

func (s *SendError) Error() string {
	if s == nil {
		return ""
	}
	return s.err.Error()
}

func (s *SendError) Cause() error {
	if s == nil {
		return nil
	}
	return s.err
}

func (s *SendError) Unwrap() error {
	return s.Cause()
}

func (s *SendError) is(re *regexp.Regexp) bool {
	if s == nil || s.err == nil {
		return false
	}
	return re.MatchString(s.err.Error())
}

// Fatal indicates the payload itself is unusable and resubmitting it is pointless
func (s *SendError) Fatal() bool {
	if s == nil {
		return false
	}
	if s.IsTransport() {
		return false
	}
	// a node that already has the tx may still report it with wording that overlaps a fatal class
	if s.IsTransactionAlreadyInMempool() || s.IsNonceTooLowError() {
		return false
	}
	return s.is(fatal)
}

// Retryable is any non-nil error that is not fatal, unknown errors included
func (s *SendError) Retryable() bool {
	return s != nil && !s.Fatal()
}

func (s *SendError) IsNonceTooLowError() bool {
	return s.is(nonceTooLow)
}

func (s *SendError) IsNonceTooHighError() bool {
	return s.is(nonceTooHigh)
}

func (s *SendError) IsTransactionAlreadyInMempool() bool {
	return s.is(alreadyKnown)
}

func (s *SendError) IsReplacementUnderpriced() bool {
	return s.is(replacementUnderpriced)
}

func (s *SendError) IsTerminallyUnderpriced() bool {
	return s.is(terminallyUnderpriced)
}

func (s *SendError) IsTemporarilyUnderpriced() bool {
	return s.is(temporarilyUnderpriced)
}

func (s *SendError) IsTxPoolFull() bool {
	return s.is(txPoolFull)
}

func (s *SendError) IsInsufficientEth() bool {
	return s.is(insufficientEth)
}

// IsTransport covers timeouts and cancellation, which say nothing about the payload
func (s *SendError) IsTransport() bool {
	if s == nil {
		return false
	}
	cause := errors.Cause(s.err)
	return errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled)
}

// Reason returns a short stable label for the error class, used for metrics
func (s *SendError) Reason() string {
	switch {
	case s == nil:
		return "accepted"
	case s.IsTransport():
		return "transport"
	case s.IsTransactionAlreadyInMempool():
		return "already_known"
	case s.IsNonceTooLowError():
		return "nonce_too_low"
	case s.Fatal():
		return "fatal"
	case s.IsNonceTooHighError():
		return "nonce_too_high"
	case s.IsReplacementUnderpriced():
		return "replacement_underpriced"
	case s.IsTerminallyUnderpriced(), s.IsTemporarilyUnderpriced():
		return "underpriced"
	case s.IsTxPoolFull():
		return "txpool_full"
	case s.IsInsufficientEth():
		return "insufficient_funds"
	}
	return "unknown"
}

// IsReceiptNotFound reports whether a receipt lookup failed only because the tx is not mined yet
func IsReceiptNotFound(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	return cause == ethereum.NotFound || cause.Error() == "not found"
}

// ConnectionError is returned when an endpoint could not be established within the retry bound.
// The endpoint is unusable for the rest of the race.
type ConnectionError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *ConnectionError) Cause() error {
	return e.Err
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
