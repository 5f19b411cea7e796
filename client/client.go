package client

import (
	"context"
	"math/big"
	"net/url"
	"strings"
	"sync"

	"github.com/celer-network/oracle-updater/types"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

//go:generate mockery --name Client --output ../internal/mocks/ --case=underscore

// Client is the interface used to interact with an ethereum node.
type Client interface {
	GethClient

	Dial(ctx context.Context) error
	Close()
}

// GethClient is the subset of go-ethereum's own ethclient used by the updater.
// https://github.com/ethereum/go-ethereum/blob/master/ethclient/ethclient.go
type GethClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethTypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethTypes.Receipt, error)
}

// Impl implements Client on top of ethclient, fanning sends out to any
// secondary nodes.
type Impl struct {
	GethClient
	rpcClient            *rpc.Client
	url                  *url.URL
	SecondaryGethClients []GethClient
	secondaryRPCClients  []*rpc.Client
	secondaryURLs        []*url.URL
	logger               types.Logger
}

var _ Client = (*Impl)(nil)

// NewImpl creates a new client implementation for the given chain
func NewImpl(chain *types.Chain, logger types.Logger) (*Impl, error) {
	rpcURL, err := parseRPCURL(chain.RPCURL)
	if err != nil {
		return nil, err
	}
	var secondaryURLs []*url.URL
	for _, raw := range chain.SecondaryRPCURLs {
		u, err := parseRPCURL(raw)
		if err != nil {
			return nil, err
		}
		secondaryURLs = append(secondaryURLs, u)
	}
	return &Impl{url: rpcURL, secondaryURLs: secondaryURLs, logger: logger}, nil
}

func parseRPCURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(types.ErrConfigInvalid, "bad rpc url %q: %v", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return u, nil
	}
	return nil, errors.Wrapf(types.ErrConfigInvalid, "rpc url scheme must be http(s) or ws(s): %s", raw)
}

func (client *Impl) Dial(ctx context.Context) error {
	client.logger.Debugw("eth.Client#Dial(...)", "url", client.url.Host)
	if client.rpcClient != nil {
		panic("eth.Client.Dial(...) should only be called once during the application's lifetime.")
	}

	rpcClient, err := rpc.DialContext(ctx, client.url.String())
	if err != nil {
		return errors.Wrap(types.ErrRPCFailure, err.Error())
	}
	client.rpcClient = rpcClient
	client.GethClient = ethclient.NewClient(rpcClient)

	for _, u := range client.secondaryURLs {
		secondary, err := rpc.DialContext(ctx, u.String())
		if err != nil {
			return errors.Wrap(types.ErrRPCFailure, err.Error())
		}
		client.secondaryRPCClients = append(client.secondaryRPCClients, secondary)
		client.SecondaryGethClients = append(client.SecondaryGethClients, ethclient.NewClient(secondary))
	}
	return nil
}

func (client *Impl) Close() {
	if client.rpcClient != nil {
		client.rpcClient.Close()
	}
	for _, c := range client.secondaryRPCClients {
		c.Close()
	}
}

// TransactionReceipt maps the "missing required field" error some nodes
// return for pending transactions to ethereum.NotFound.
func (client *Impl) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethTypes.Receipt, error) {
	client.logger.Tracew("eth.Client#TransactionReceipt(...)",
		"txHash", txHash,
	)
	receipt, err := client.GethClient.TransactionReceipt(ctx, txHash)
	if err != nil && strings.Contains(err.Error(), "missing required field") {
		return nil, ethereum.NotFound
	}
	return receipt, err
}

// SendTransaction also uses the secondary RPC URLs if set
func (client *Impl) SendTransaction(ctx context.Context, tx *gethTypes.Transaction) error {
	client.logger.Debugw("eth.Client#SendTransaction(...)",
		"txHash", tx.Hash(),
		"nonce", tx.Nonce(),
	)

	var wg sync.WaitGroup
	defer wg.Wait()
	for _, gethClient := range client.SecondaryGethClients {
		wg.Add(1)
		go func(gethClient GethClient) {
			defer wg.Done()
			err := NewSendError(gethClient.SendTransaction(ctx, tx))
			if err == nil || err.IsNonceTooLowError() || err.IsTransactionAlreadyInMempool() {
				// Expected since the primary send may well have succeeded already
				return
			}
			client.logger.Warnw("secondary eth client returned error", "err", err, "txHash", tx.Hash())
		}(gethClient)
	}

	return client.GethClient.SendTransaction(ctx, tx)
}

func (client *Impl) FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error) {
	client.logger.Tracew("eth.Client#FeeHistory(...)",
		"blockCount", blockCount,
		"rewardPercentiles", rewardPercentiles,
	)
	return client.GethClient.FeeHistory(ctx, blockCount, lastBlock, rewardPercentiles)
}

func (client *Impl) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	client.logger.Tracew("eth.Client#EstimateGas(...)",
		"to", call.To,
		"value", call.Value,
	)
	return client.GethClient.EstimateGas(ctx, call)
}

func (client *Impl) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	client.logger.Tracew("eth.Client#CallContract(...)",
		"to", msg.To,
		"blockNumber", blockNumber,
	)
	return client.GethClient.CallContract(ctx, msg, blockNumber)
}
