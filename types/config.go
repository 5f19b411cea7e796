package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the fully resolved configuration of one worker process. It is
// produced once by config.Load and never mutated afterwards.
type Config struct {
	Logger Logger
	Worker WorkerIdentity

	// Endpoints are already ranked for Worker, lowest priority value first.
	Endpoints       []Endpoint
	EndpointTimeout time.Duration
	HTTPCacheTTL    time.Duration
	// StreamMaxAge bounds how old a streamed price may be and still be used.
	StreamMaxAge time.Duration

	// OnChainCacheTTL of zero disables caching of on-chain reads.
	OnChainCacheTTL time.Duration

	Chains []*Chain

	Log        LogConfig
	Store      StoreConfig
	StatusAddr string
}

// WorkerIdentity determines polling cadence, gas tier, endpoint ranking and
// write delay. Index starts at 1.
type WorkerIdentity struct {
	Index int
}

// IsPrimary reports whether this worker submits without a write delay.
func (w WorkerIdentity) IsPrimary() bool {
	return w.Index == 1
}

type EndpointMode string

const (
	EndpointModeBoth             = EndpointMode("both")
	EndpointModeRESTOnly         = EndpointMode("rest-only")
	EndpointModeSubscriptionOnly = EndpointMode("subscription-only")
)

func (m EndpointMode) Valid() bool {
	switch m {
	case EndpointModeBoth, EndpointModeRESTOnly, EndpointModeSubscriptionOnly:
		return true
	}
	return false
}

// AllowsREST reports whether the endpoint may be polled request/response style.
func (m EndpointMode) AllowsREST() bool {
	return m == EndpointModeBoth || m == EndpointModeRESTOnly
}

// AllowsSubscription reports whether the endpoint may be used for streaming.
func (m EndpointMode) AllowsSubscription() bool {
	return m == EndpointModeBoth || m == EndpointModeSubscriptionOnly
}

// Endpoint is a price source as seen downstream of ranking. Priority data is
// intentionally absent.
type Endpoint struct {
	Name string
	URL  string
	Mode EndpointMode
}

// Chain owns the transaction configuration shared by all batches on it.
type Chain struct {
	Name    string
	ChainID *big.Int
	RPCURL  string
	// SecondaryRPCURLs receive a copy of every sent transaction.
	SecondaryRPCURLs []string

	// SignerKey is the hex private key used to sign updates on this chain.
	SignerKey string

	TxConfig         TxConfig
	MulticallAddress common.Address
	PythAddress      common.Address

	UptimeWebhookURL string
	UptimeInterval   time.Duration

	Batches []*Batch
	Oracles []*Oracle
}

// BatchByID returns the batch with the given id, or nil.
func (c *Chain) BatchByID(id string) *Batch {
	for _, b := range c.Batches {
		if b.ID == id {
			return b
		}
	}
	return nil
}

type TxConfig struct {
	// TxType is 0 for legacy and 2 for EIP-1559 transactions.
	TxType   uint8
	GasLimit GasLimitPolicy
	EIP1559  EIP1559Params

	// GasPriceMultiplier is scaled by the worker index.
	GasPriceMultiplier Rational

	ConfirmationPollingInterval time.Duration
	ConfirmationTimeout         time.Duration
	RequiredConfirmations       uint64

	// TransactionTimeout bounds fee estimation, signing and sending.
	TransactionTimeout time.Duration
}

type EIP1559Params struct {
	Percentile        float64
	HistoricalBlocks  uint64
	BaseFeeMultiplier Rational
}

type Oracle struct {
	Address common.Address
	Feeds   []*Feed
}

// Feed is one price series tracked on an oracle contract.
type Feed struct {
	ID          common.Hash
	Oracle      common.Address
	BatchID     string
	Description string

	Heartbeat           time.Duration
	UpdateThresholdBips uint64
	// EarlyUpdate of zero disables the early update rule.
	EarlyUpdate time.Duration
	UpdateFee   FeeOverride
}

// Batch is the atomic unit of submission.
type Batch struct {
	ID              string
	Feeds           []*Feed
	PollingInterval time.Duration
	WriteDelay      time.Duration
	CustomerID      string
}

// FeedIDs returns the ids of all member feeds in declaration order.
func (b *Batch) FeedIDs() []common.Hash {
	ids := make([]common.Hash, 0, len(b.Feeds))
	for _, f := range b.Feeds {
		ids = append(ids, f.ID)
	}
	return ids
}

type LogConfig struct {
	Level string
	Sinks []LogSinkConfig
}

type LogSinkConfig struct {
	Type   string
	Token  string
	Region string
	Level  string
	// URL overrides the default intake URL of the sink type.
	URL string
}

type StoreConfig struct {
	Backend string
	Dir     string
}
