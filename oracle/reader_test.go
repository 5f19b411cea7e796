package oracle_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/celer-network/oracle-updater/internal/mocks"
	esTesting "github.com/celer-network/oracle-updater/internal/testing"
	"github.com/celer-network/oracle-updater/oracle"
	"github.com/celer-network/oracle-updater/types"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReader_ReadPrices(t *testing.T) {
	t.Parallel()

	chain := esTesting.NewChain(t, 1)
	ids := chain.Batches[0].FeedIDs()
	published := time.Unix(1700000000, 0)
	toMulticall := mock.MatchedBy(func(msg ethereum.CallMsg) bool {
		return msg.To != nil && *msg.To == chain.MulticallAddress
	})

	t.Run("decodes every feed", func(t *testing.T) {
		ethClient := new(mocks.Client)
		ethClient.On("CallContract", mock.Anything, toMulticall, (*big.Int)(nil)).Return(esTesting.EncodePrices(t,
			types.PriceValue{Price: 10011, Conf: 3, Expo: -2, PublishTime: published},
			types.PriceValue{Price: -5, Conf: 1, Expo: 0, PublishTime: published.Add(time.Second)},
		), nil)

		values, err := oracle.NewReader(ethClient, chain, esTesting.NewLogger(t)).ReadPrices(context.Background(), ids)
		require.NoError(t, err)
		require.Len(t, values, 2)
		assert.Equal(t, int64(10011), values[ids[0]].Price)
		assert.Equal(t, int32(-2), values[ids[0]].Expo)
		assert.Equal(t, "100.11", values[ids[0]].Decimal().String())
		assert.True(t, published.Equal(values[ids[0]].PublishTime))
		assert.Equal(t, int64(-5), values[ids[1]].Price)
	})

	t.Run("unknown feed reads as zero", func(t *testing.T) {
		ethClient := new(mocks.Client)
		ethClient.On("CallContract", mock.Anything, toMulticall, (*big.Int)(nil)).Return(esTesting.EncodePrices(t,
			types.PriceValue{Price: 1, Expo: -8, PublishTime: published},
			types.PriceValue{},
		), nil)

		values, err := oracle.NewReader(ethClient, chain, esTesting.NewLogger(t)).ReadPrices(context.Background(), ids)
		require.NoError(t, err)
		assert.True(t, values[ids[1]].PublishTime.IsZero())
		assert.Equal(t, int64(0), values[ids[1]].Price)
	})

	t.Run("rpc failure", func(t *testing.T) {
		ethClient := new(mocks.Client)
		ethClient.On("CallContract", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

		_, err := oracle.NewReader(ethClient, chain, esTesting.NewLogger(t)).ReadPrices(context.Background(), ids)
		require.ErrorIs(t, err, types.ErrRPCFailure)
	})

	t.Run("result count mismatch", func(t *testing.T) {
		ethClient := new(mocks.Client)
		ethClient.On("CallContract", mock.Anything, mock.Anything, mock.Anything).Return(esTesting.EncodePrices(t,
			types.PriceValue{Price: 1, PublishTime: published},
		), nil)

		_, err := oracle.NewReader(ethClient, chain, esTesting.NewLogger(t)).ReadPrices(context.Background(), ids)
		require.ErrorIs(t, err, types.ErrRPCFailure)
	})
}

func TestReader_UpdateFee(t *testing.T) {
	chain := esTesting.NewChain(t, 1)
	ethClient := new(mocks.Client)
	ethClient.On("CallContract", mock.Anything, mock.MatchedBy(func(msg ethereum.CallMsg) bool {
		return msg.To != nil && *msg.To == chain.PythAddress
	}), (*big.Int)(nil)).Return(common.LeftPadBytes(big.NewInt(42).Bytes(), 32), nil)

	fee, err := oracle.NewReader(ethClient, chain, esTesting.NewLogger(t)).UpdateFee(context.Background(), [][]byte{{0x01}})
	require.NoError(t, err)
	assert.Equal(t, int64(42), fee.Int64())
}

func TestPackBatchUpdate(t *testing.T) {
	oracleA, oracleB := esTesting.NewAddress(), esTesting.NewAddress()
	feedA, feedB := esTesting.NewHash(), esTesting.NewHash()

	data, total, err := oracle.PackBatchUpdate([]oracle.FeedUpdate{
		{Oracle: oracleA, FeedID: feedA, UpdateData: [][]byte{{0xaa}}, Fee: big.NewInt(3)},
		{Oracle: oracleB, FeedID: feedB, UpdateData: [][]byte{{0xbb}, {0xcc}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total.Int64())

	method, err := oracle.MulticallABI.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "aggregate3Value", method.Name)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	calls := *abi.ConvertType(args[0], new([]oracle.Call3Value)).(*[]oracle.Call3Value)
	require.Len(t, calls, 2)
	assert.Equal(t, oracleA, calls[0].Target)
	assert.True(t, calls[0].AllowFailure)
	assert.Equal(t, int64(3), calls[0].Value.Int64())
	assert.Equal(t, int64(0), calls[1].Value.Int64())

	expected, err := oracle.PackUpdate(feedB, [][]byte{{0xbb}, {0xcc}})
	require.NoError(t, err)
	assert.Equal(t, expected, calls[1].CallData)

	_, _, err = oracle.PackBatchUpdate(nil)
	require.Error(t, err)
}
