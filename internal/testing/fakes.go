package testing

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/celer-network/tx-racer/client"
	"github.com/celer-network/tx-racer/types"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// SendFunc decides how a FakeEndpoint answers eth_sendRawTransaction
type SendFunc func(raw []byte) (common.Hash, error)

// ReceiptFunc decides how a FakeEndpoint answers eth_getTransactionReceipt. poll
// counts the lookups for txHash on this endpoint, starting at 1.
type ReceiptFunc func(poll int, txHash common.Hash) (*gethTypes.Receipt, error)

// FakeEndpoint is an in-memory client.Client. Configure it before handing it out,
// the behaviour funcs must be safe for concurrent use.
type FakeEndpoint struct {
	url     string
	chainID *big.Int

	SendFn     SendFunc
	ReceiptFn  ReceiptFunc
	ChainIDErr error

	sends  atomic.Int64
	closed atomic.Bool

	lock     sync.Mutex
	polls    map[common.Hash]int
	payloads map[common.Hash]map[string]struct{}
}

var _ client.Client = (*FakeEndpoint)(nil)

// NewFakeEndpoint accepts every payload and never finds a receipt
func NewFakeEndpoint(url string) *FakeEndpoint {
	return &FakeEndpoint{
		url:       url,
		chainID:   ChainID,
		SendFn:    Accept,
		ReceiptFn: AlwaysPending,
		polls:     make(map[common.Hash]int),
		payloads:  make(map[common.Hash]map[string]struct{}),
	}
}

func (f *FakeEndpoint) WithChainID(chainID *big.Int) *FakeEndpoint {
	f.chainID = chainID
	return f
}

func (f *FakeEndpoint) Dial(ctx context.Context) error { return nil }

func (f *FakeEndpoint) Close() { f.closed.Store(true) }

func (f *FakeEndpoint) URL() string { return f.url }

func (f *FakeEndpoint) ChainID(ctx context.Context) (*big.Int, error) {
	if f.ChainIDErr != nil {
		return nil, f.ChainIDErr
	}
	return f.chainID, nil
}

func (f *FakeEndpoint) SendRawTx(ctx context.Context, raw []byte) (common.Hash, error) {
	f.sends.Add(1)
	hash := crypto.Keccak256Hash(raw)
	f.lock.Lock()
	seen, ok := f.payloads[hash]
	if !ok {
		seen = make(map[string]struct{})
		f.payloads[hash] = seen
	}
	seen[string(raw)] = struct{}{}
	f.lock.Unlock()
	return f.SendFn(raw)
}

func (f *FakeEndpoint) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethTypes.Receipt, error) {
	f.lock.Lock()
	f.polls[txHash]++
	poll := f.polls[txHash]
	f.lock.Unlock()
	return f.ReceiptFn(poll, txHash)
}

// Sends is the number of eth_sendRawTransaction calls received
func (f *FakeEndpoint) Sends() int64 { return f.sends.Load() }

// Polls is the number of receipt lookups received for txHash
func (f *FakeEndpoint) Polls(txHash common.Hash) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.polls[txHash]
}

// DistinctPayloads is the number of different byte strings received under txHash
func (f *FakeEndpoint) DistinctPayloads(txHash common.Hash) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.payloads[txHash])
}

func (f *FakeEndpoint) Closed() bool { return f.closed.Load() }

// Accept answers like a node that took the transaction into its pool
func Accept(raw []byte) (common.Hash, error) {
	return crypto.Keccak256Hash(raw), nil
}

// Reject answers every send with a node error carrying msg
func Reject(msg string) SendFunc {
	return func([]byte) (common.Hash, error) {
		return common.Hash{}, errors.New(msg)
	}
}

// AlwaysPending never finds a receipt
func AlwaysPending(int, common.Hash) (*gethTypes.Receipt, error) {
	return nil, ethereum.NotFound
}

// MinedOnPoll finds a receipt for watched, with the given status, starting at poll n
func MinedOnPoll(watched common.Hash, n int, blockNumber int64, status uint64) ReceiptFunc {
	return func(poll int, txHash common.Hash) (*gethTypes.Receipt, error) {
		if txHash != watched || poll < n {
			return nil, ethereum.NotFound
		}
		return NewReceipt(txHash, blockNumber, status), nil
	}
}

// ConfirmedOnPoll finds a successful receipt for watched starting at poll n
func ConfirmedOnPoll(watched common.Hash, n int, blockNumber int64) ReceiptFunc {
	return MinedOnPoll(watched, n, blockNumber, gethTypes.ReceiptStatusSuccessful)
}

// FakeNetwork dials FakeEndpoints by url. Unknown urls refuse the connection.
type FakeNetwork struct {
	lock      sync.Mutex
	endpoints map[string]*FakeEndpoint
	dials     map[string]int
}

func NewFakeNetwork(endpoints ...*FakeEndpoint) *FakeNetwork {
	n := &FakeNetwork{
		endpoints: make(map[string]*FakeEndpoint),
		dials:     make(map[string]int),
	}
	for _, e := range endpoints {
		n.endpoints[e.URL()] = e
	}
	return n
}

// Dial is a client.DialFunc
func (n *FakeNetwork) Dial(ctx context.Context, url string, logger types.Logger) (client.Client, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.dials[url]++
	e, ok := n.endpoints[url]
	if !ok {
		return nil, errors.Errorf("dial tcp %s: connect: connection refused", url)
	}
	return e, nil
}

// Dials is the number of times url was dialed
func (n *FakeNetwork) Dials(url string) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.dials[url]
}
