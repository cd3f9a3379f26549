package client

import (
	"context"
	"math/big"
	"net/url"
	"strings"

	"github.com/celer-network/tx-racer/types"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

//go:generate mockery --name Client --output ../internal/mocks/ --case=underscore

// Client is the interface used to interact with a single ethereum endpoint.
type Client interface {
	Dial(ctx context.Context) error
	Close()
	URL() string

	ChainID(ctx context.Context) (*big.Int, error)
	SendRawTx(ctx context.Context, bytes []byte) (common.Hash, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethTypes.Receipt, error)
}

// GethClient is the subset of go-ethereum's ethclient used here
// https://github.com/ethereum/go-ethereum/blob/master/ethclient/ethclient.go
type GethClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethTypes.Receipt, error)
}

// RPCClient is the subset of go-ethereum's rpc.Client used here
type RPCClient interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

// Impl implements Client on top of a go-ethereum rpc.Client. Any transport
// supported by rpc.DialContext (http, https, ws, wss) is accepted.
type Impl struct {
	GethClient
	RPCClient
	url    string
	logger types.Logger
}

var _ Client = (*Impl)(nil)

// NewImpl creates a new, not yet dialed, client for the given endpoint
func NewImpl(rawURL string, logger types.Logger) (*Impl, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid endpoint URL %q", rawURL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, errors.Errorf("endpoint URL scheme must be http(s) or ws(s): %s", rawURL)
	}
	return &Impl{url: rawURL, logger: logger}, nil
}

// NewImplWithClients builds an Impl around already established clients
func NewImplWithClients(rawURL string, gethClient GethClient, rpcClient RPCClient, logger types.Logger) *Impl {
	return &Impl{GethClient: gethClient, RPCClient: rpcClient, url: rawURL, logger: logger}
}

func (client *Impl) Dial(ctx context.Context) error {
	client.logger.Debugw("eth.Client#Dial(...)", "url", client.url)
	if client.RPCClient != nil || client.GethClient != nil {
		return errors.Errorf("eth.Client.Dial(...) called twice for %s", client.url)
	}
	rpcClient, err := rpc.DialContext(ctx, client.url)
	if err != nil {
		return errors.Wrapf(err, "could not dial %s", client.url)
	}
	client.RPCClient = rpcClient
	client.GethClient = ethclient.NewClient(rpcClient)
	return nil
}

func (client *Impl) Close() {
	if client.RPCClient != nil {
		client.RPCClient.Close()
	}
}

func (client *Impl) URL() string {
	return client.url
}

func (client *Impl) ChainID(ctx context.Context) (*big.Int, error) {
	client.logger.Tracew("eth.Client#ChainID(...)", "url", client.url)
	return client.GethClient.ChainID(ctx)
}

// SendRawTx sends a signed transaction to the transaction pool.
func (client *Impl) SendRawTx(ctx context.Context, bytes []byte) (common.Hash, error) {
	client.logger.Tracew("eth.Client#SendRawTx(...)", "url", client.url)
	result := common.Hash{}
	err := client.RPCClient.CallContext(ctx, &result, "eth_sendRawTransaction", hexutil.Encode(bytes))
	return result, err
}

// TransactionReceipt wraps the GethClient's `TransactionReceipt` method so that we can ignore the
// error that arises when we're talking to a Parity node that has no receipt yet.
func (client *Impl) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethTypes.Receipt, error) {
	client.logger.Tracew("eth.Client#TransactionReceipt(...)",
		"url", client.url,
		"txHash", txHash,
	)
	receipt, err := client.GethClient.TransactionReceipt(ctx, txHash)
	if err != nil && strings.Contains(err.Error(), "missing required field") {
		return nil, ethereum.NotFound
	}
	return receipt, err
}
