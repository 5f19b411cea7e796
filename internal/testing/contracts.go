package testing

import (
	"math/big"
	"testing"

	"github.com/celer-network/oracle-updater/oracle"
	"github.com/celer-network/oracle-updater/types"
	"github.com/stretchr/testify/require"
)

// EncodePrices returns what Multicall3 aggregate3 answers for a batch of
// getPriceUnsafe calls. A zero PublishTime encodes a failed call, as for a
// feed the Pyth contract has never seen.
func EncodePrices(t testing.TB, values ...types.PriceValue) []byte {
	t.Helper()

	results := make([]oracle.Result, 0, len(values))
	for _, v := range values {
		if v.PublishTime.IsZero() {
			results = append(results, oracle.Result{Success: false, ReturnData: []byte{}})
			continue
		}
		ret, err := oracle.PythABI.Methods["getPriceUnsafe"].Outputs.Pack(struct {
			Price       int64
			Conf        uint64
			Expo        int32
			PublishTime *big.Int
		}{v.Price, v.Conf, v.Expo, big.NewInt(v.PublishTime.Unix())})
		require.NoError(t, err)
		results = append(results, oracle.Result{Success: true, ReturnData: ret})
	}
	out, err := oracle.MulticallABI.Methods["aggregate3"].Outputs.Pack(results)
	require.NoError(t, err)
	return out
}
