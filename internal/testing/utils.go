package testing

import (
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/celer-network/oracle-updater/logger"
	"github.com/celer-network/oracle-updater/store"
	"github.com/celer-network/oracle-updater/store/tendermint"
	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	tmdb "github.com/tendermint/tm-db"
	"go.uber.org/zap"
)

const (
	BatchID   = "0-pyth-feeds"
	ChainName = "gravity"
)

// NewStore creates a new Store for testing
func NewStore(t testing.TB) store.Store {
	t.Helper()

	return tendermint.NewTMStore(tmdb.NewMemDB())
}

// NewLogger returns a development zap logger
func NewLogger(t testing.TB) types.Logger {
	t.Helper()

	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger.NewZapLogger(l.Sugar())
}

// NewConfig creates a new Config for testing with a single chain holding a
// single two-feed batch.
func NewConfig(t testing.TB, workerIndex int) *types.Config {
	t.Helper()

	return &types.Config{
		Logger: NewLogger(t),
		Worker: types.WorkerIdentity{Index: workerIndex},
		Endpoints: []types.Endpoint{
			{Name: "Pyth Official", URL: "https://hermes.pyth.network", Mode: types.EndpointModeBoth},
		},
		EndpointTimeout: time.Second,
		Chains:          []*types.Chain{NewChain(t, workerIndex)},
	}
}

// NewChain mirrors a production chain configuration for the given worker.
func NewChain(t testing.TB, workerIndex int) *types.Chain {
	t.Helper()

	batch := NewBatch(t, workerIndex)
	oracle := &types.Oracle{Address: NewAddress()}
	for i := 0; i < 2; i++ {
		f := NewFeed(t, oracle.Address)
		oracle.Feeds = append(oracle.Feeds, f)
		batch.Feeds = append(batch.Feeds, f)
	}

	return &types.Chain{
		Name:      ChainName,
		ChainID:   big.NewInt(1625),
		RPCURL:    "http://127.0.0.1:8545",
		SignerKey: "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291",
		TxConfig: types.TxConfig{
			TxType:   2,
			GasLimit: types.EstimatedGasLimit{Multiplier: types.Rational{Dividend: 2, Divisor: 1}},
			EIP1559: types.EIP1559Params{
				Percentile:        75,
				HistoricalBlocks:  20,
				BaseFeeMultiplier: types.Rational{Dividend: 125, Divisor: 100},
			},
			GasPriceMultiplier:          types.Rational{Dividend: 100 + 50*uint64(workerIndex-1), Divisor: 100},
			ConfirmationPollingInterval: 250 * time.Millisecond,
			ConfirmationTimeout:         2 * time.Second,
			RequiredConfirmations:       5,
			TransactionTimeout:          30 * time.Second,
		},
		MulticallAddress: common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11"),
		PythAddress:      common.HexToAddress("0x2880aB155794e7179c9eE2e38200202908C17B43"),
		Batches:          []*types.Batch{batch},
		Oracles:          []*types.Oracle{oracle},
	}
}

// NewBatch returns an empty batch with worker-staggered timing.
func NewBatch(t testing.TB, workerIndex int) *types.Batch {
	t.Helper()

	return &types.Batch{
		ID:              BatchID,
		PollingInterval: time.Second,
		WriteDelay:      15 * time.Second * time.Duration(workerIndex-1),
		CustomerID:      "pyth-gravity",
	}
}

// NewFeed returns a feed with a one minute heartbeat and a 10 bips threshold.
func NewFeed(t testing.TB, oracle common.Address) *types.Feed {
	t.Helper()

	return &types.Feed{
		ID:                  NewHash(),
		Oracle:              oracle,
		BatchID:             BatchID,
		Description:         "WETH/USD",
		Heartbeat:           time.Minute,
		UpdateThresholdBips: 10,
		UpdateFee:           types.NoFeeOverride{},
	}
}

// NewHash return random Keccak256
func NewHash() common.Hash {
	return common.BytesToHash(randomBytes(32))
}

// NewAddress return a random new address
func NewAddress() common.Address {
	return common.BytesToAddress(randomBytes(20))
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}
