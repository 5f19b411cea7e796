package config_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/celer-network/oracle-updater/config"
	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const examplePath = "../config.example.yaml"

func setExampleEnv(t *testing.T) {
	t.Setenv("PYTH_HERMES_EXTRNODE_URL", "https://extrnode.example")
	t.Setenv("GRAVITY_RPC_URL", "https://rpc.gravity.example")
	t.Setenv("GRAVITY_SIGNER_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("GRAVITY_UPTIME_WEBHOOK_URL", "https://uptime.example/ping")
	t.Setenv("DATADOG_API_KEY", "dd-key")
	t.Setenv("DATADOG_REGION", "us5")
	t.Setenv("ADRASTIA_LOGTAIL_TOKEN", "")
	t.Setenv("ORACLE_WORKER_INDEX", "")
}

func endpointNames(c *types.Config) []string {
	var out []string
	for _, e := range c.Endpoints {
		out = append(out, e.Name)
	}
	return out
}

func TestLoad_Example(t *testing.T) {
	setExampleEnv(t)

	cfg, dropped, err := config.Load(examplePath, 0)
	require.NoError(t, err)
	assert.Empty(t, dropped)

	assert.Equal(t, 1, cfg.Worker.Index)
	assert.Equal(t, []string{"Extrnode", "Pyth Official"}, endpointNames(cfg))
	assert.Equal(t, "https://extrnode.example", cfg.Endpoints[0].URL)
	assert.Equal(t, 5*time.Second, cfg.EndpointTimeout)
	assert.Equal(t, time.Duration(0), cfg.HTTPCacheTTL)
	assert.Equal(t, time.Duration(0), cfg.OnChainCacheTTL)
	assert.Equal(t, ":8080", cfg.StatusAddr)
	assert.Equal(t, types.StoreConfig{Backend: "goleveldb", Dir: "./data"}, cfg.Store)

	require.Len(t, cfg.Log.Sinks, 2)
	assert.Equal(t, "dd-key", cfg.Log.Sinks[0].Token)
	assert.Equal(t, "us5", cfg.Log.Sinks[0].Region)
	assert.Equal(t, "notice", cfg.Log.Sinks[0].Level)
	assert.Empty(t, cfg.Log.Sinks[1].Token)

	require.Len(t, cfg.Chains, 1)
	chain := cfg.Chains[0]
	assert.Equal(t, "gravity", chain.Name)
	assert.Equal(t, int64(1625), chain.ChainID.Int64())
	assert.Equal(t, "https://rpc.gravity.example", chain.RPCURL)
	assert.Equal(t, common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11"), chain.MulticallAddress)
	assert.Equal(t, common.HexToAddress("0x2880aB155794e7179c9eE2e38200202908C17B43"), chain.PythAddress)
	assert.Equal(t, "https://uptime.example/ping", chain.UptimeWebhookURL)
	assert.Equal(t, time.Minute, chain.UptimeInterval)

	tx := chain.TxConfig
	assert.Equal(t, uint8(2), tx.TxType)
	assert.Equal(t, types.Rational{Dividend: 100, Divisor: 100}, tx.GasPriceMultiplier)
	assert.Equal(t, types.EstimatedGasLimit{Multiplier: types.Rational{Dividend: 2, Divisor: 1}}, tx.GasLimit)
	assert.Equal(t, types.EIP1559Params{
		Percentile:        75,
		HistoricalBlocks:  20,
		BaseFeeMultiplier: types.Rational{Dividend: 125, Divisor: 100},
	}, tx.EIP1559)
	assert.Equal(t, 250*time.Millisecond, tx.ConfirmationPollingInterval)
	assert.Equal(t, 2*time.Second, tx.ConfirmationTimeout)
	assert.Equal(t, uint64(5), tx.RequiredConfirmations)
	assert.Equal(t, 30*time.Second, tx.TransactionTimeout)

	require.Len(t, chain.Batches, 1)
	b := chain.Batches[0]
	assert.Equal(t, "0-pyth-feeds", b.ID)
	assert.Equal(t, "pyth-gravity", b.CustomerID)
	assert.Equal(t, time.Second, b.PollingInterval)
	assert.Equal(t, time.Duration(0), b.WriteDelay)
	require.Len(t, b.Feeds, 5)

	weth := b.Feeds[0]
	assert.Equal(t, common.HexToHash("0x9d4294bbcd1174d6f2003ec365831e64cc31d9f6f15a2b85399db8d5000960f6"), weth.ID)
	assert.Equal(t, common.HexToAddress("0x853E88C0Db7F55318AE03FE4Dd0a67Ffa10D8bc2"), weth.Oracle)
	assert.Equal(t, "WETH/USD", weth.Description)
	assert.Equal(t, time.Minute, weth.Heartbeat)
	assert.Equal(t, uint64(10), weth.UpdateThresholdBips)
	assert.Equal(t, time.Duration(0), weth.EarlyUpdate)
	assert.Equal(t, types.NoFeeOverride{}, weth.UpdateFee)

	require.Len(t, chain.Oracles, 1)
	assert.Len(t, chain.Oracles[0].Feeds, 5)
}

func TestLoad_WorkerStaggering(t *testing.T) {
	tests := []struct {
		worker     int
		polling    time.Duration
		writeDelay time.Duration
		multiplier types.Rational
		endpoints  []string
	}{
		{1, time.Second, 0, types.Rational{Dividend: 100, Divisor: 100}, []string{"Extrnode", "Pyth Official"}},
		{2, 4 * time.Second, 15 * time.Second, types.Rational{Dividend: 150, Divisor: 100}, []string{"Pyth Official", "Extrnode"}},
		{3, 10 * time.Second, 30 * time.Second, types.Rational{Dividend: 200, Divisor: 100}, []string{"Extrnode", "Pyth Official"}},
		{5, 10 * time.Second, time.Minute, types.Rational{Dividend: 300, Divisor: 100}, []string{"Extrnode", "Pyth Official"}},
	}
	for _, test := range tests {
		test := test
		t.Run(fmt.Sprintf("worker %d", test.worker), func(t *testing.T) {
			setExampleEnv(t)

			cfg, _, err := config.Load(examplePath, test.worker)
			require.NoError(t, err)

			assert.Equal(t, test.worker, cfg.Worker.Index)
			b := cfg.Chains[0].Batches[0]
			assert.Equal(t, test.polling, b.PollingInterval)
			assert.Equal(t, test.writeDelay, b.WriteDelay)
			assert.Equal(t, test.multiplier, cfg.Chains[0].TxConfig.GasPriceMultiplier)
			assert.Equal(t, test.endpoints, endpointNames(cfg))
		})
	}
}

func TestLoad_WorkerIndexFromEnv(t *testing.T) {
	setExampleEnv(t)
	t.Setenv("ORACLE_WORKER_INDEX", "2")

	cfg, _, err := config.Load(examplePath, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Worker.Index)
	assert.Equal(t, 15*time.Second, cfg.Chains[0].Batches[0].WriteDelay)

	// the flag wins over the environment
	cfg, _, err = config.Load(examplePath, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Worker.Index)
}

func TestLoad_DropsEndpointWithoutURL(t *testing.T) {
	setExampleEnv(t)
	t.Setenv("PYTH_HERMES_EXTRNODE_URL", "")

	cfg, dropped, err := config.Load(examplePath, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Extrnode"}, dropped)
	assert.Equal(t, []string{"Pyth Official"}, endpointNames(cfg))
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := config.Load("does-not-exist.yaml", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfigInvalid)
}

const minimal = `
workerIndex: 2
endpoints:
  - name: hermes
    url: https://hermes.example
chains:
  test:
    chainId: 31337
    rpcUrl: http://localhost:8545
    multicallAddress: "0xcA11bde05977b3631167028862bE2a173976CA11"
    pythAddress: "0x2880aB155794e7179c9eE2e38200202908C17B43"
    txConfig:
      txType: 0
      fixedGasLimit:
        "2": 500000
      gasPriceMultiplier: {dividend: 100, divisor: 100}
      confirmationPollingInterval: 1s
      confirmationTimeout: 10s
      requiredConfirmations: 1
      transactionTimeout: 20s
    batches:
      - batchId: fast
        pollingInterval:
          default: 2s
      - batchId: slow
    oracles:
      - address: "0x853E88C0Db7F55318AE03FE4Dd0a67Ffa10D8bc2"
        tokens:
          - feedId: "0x9d4294bbcd1174d6f2003ec365831e64cc31d9f6f15a2b85399db8d5000960f6"
            batch: 0
            heartbeat: 30s
            updateThreshold: 25
            earlyUpdate: 5s
            updateFee: "1000"
          - feedId: "0xc9d8b075a5c69303365ae23633d4e085199bf5c520a3b90fed1322a0342ffc33"
            batch: 1
            heartbeat: 1h
`

func TestResolve(t *testing.T) {
	t.Setenv("ORACLE_WORKER_INDEX", "")

	f, err := config.Parse([]byte(minimal))
	require.NoError(t, err)

	cfg, dropped, err := config.Resolve(f)
	require.NoError(t, err)
	assert.Empty(t, dropped)

	chain := cfg.Chains[0]
	assert.Equal(t, types.FixedGasLimit{Limit: 500000}, chain.TxConfig.GasLimit)
	assert.Equal(t, types.EIP1559Params{}, chain.TxConfig.EIP1559)
	assert.Equal(t, 20*time.Second, chain.TxConfig.TransactionTimeout)

	fast, slow := chain.BatchByID("fast"), chain.BatchByID("slow")
	require.NotNil(t, fast)
	require.NotNil(t, slow)
	assert.Equal(t, 2*time.Second, fast.PollingInterval)
	// default workers table, worker 2
	assert.Equal(t, 4*time.Second, slow.PollingInterval)
	assert.Equal(t, 15*time.Second, fast.WriteDelay)

	require.Len(t, fast.Feeds, 1)
	feed := fast.Feeds[0]
	assert.Equal(t, "fast", feed.BatchID)
	assert.Equal(t, uint64(25), feed.UpdateThresholdBips)
	assert.Equal(t, 5*time.Second, feed.EarlyUpdate)
	require.IsType(t, types.FixedFee{}, feed.UpdateFee)
	assert.Equal(t, "1000", feed.UpdateFee.(types.FixedFee).Amount.String())

	require.Len(t, slow.Feeds, 1)
	assert.Equal(t, time.Hour, slow.Feeds[0].Heartbeat)

	t.Run("fixed gas limit only for the named worker", func(t *testing.T) {
		f, err := config.Parse([]byte(minimal))
		require.NoError(t, err)
		f.WorkerIndex = 1

		cfg, _, err := config.Resolve(f)
		require.NoError(t, err)
		assert.Equal(t, types.EstimatedGasLimit{Multiplier: types.One}, cfg.Chains[0].TxConfig.GasLimit)
		assert.Equal(t, time.Duration(0), cfg.Chains[0].Batches[0].WriteDelay)
	})
}

func TestResolve_Invalid(t *testing.T) {
	t.Setenv("ORACLE_WORKER_INDEX", "")

	broken := `
workerIndex: 1
endpoints:
  - name: weird
    url: https://hermes.example
    mode: carrier-pigeon
chains:
  test:
    chainId: 31337
    rpcUrl: http://localhost:8545
    multicallAddress: "0xcA11bde05977b3631167028862bE2a173976CA11"
    pythAddress: not-an-address
    txConfig:
      txType: 1
      gasLimitMultiplier: {dividend: 3, divisor: 0}
      gasPriceMultiplier: {dividend: 100, divisor: 100}
      confirmationPollingInterval: 1s
      confirmationTimeout: 10s
    batches:
      - batchId: only
    oracles:
      - address: "0x853E88C0Db7F55318AE03FE4Dd0a67Ffa10D8bc2"
        tokens:
          - feedId: "0x9d4294bbcd1174d6f2003ec365831e64cc31d9f6f15a2b85399db8d5000960f6"
            batch: 4
            heartbeat: 30s
          - feedId: "0xc9d8b075a5c69303365ae23633d4e085199bf5c520a3b90fed1322a0342ffc33"
            batch: 0
          - feedId: "0x1234"
            batch: 0
            heartbeat: 30s
`
	f, err := config.Parse([]byte(broken))
	require.NoError(t, err)

	_, _, err = config.Resolve(f)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfigInvalid)
	for _, want := range []string{
		`unknown mode "carrier-pigeon"`,
		"no usable endpoint configured",
		"test.pythAddress",
		"unknown tx type 1",
		"rational 3/0 has a zero divisor",
		"unknown batch reference 4",
		"heartbeat is required",
		"must be 32 bytes of hex",
		`batch "only" has no feeds`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestResolve_FlatGasPriceStep(t *testing.T) {
	t.Setenv("ORACLE_WORKER_INDEX", "")

	f, err := config.Parse([]byte(minimal + `
workers:
  gasPriceMultiplierStep: 0
`))
	require.NoError(t, err)
	require.Zero(t, f.Workers.GasPriceMultiplierStep)

	_, _, err = config.Resolve(f)
	require.ErrorIs(t, err, types.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "gasPriceMultiplierStep must be positive")
}

func TestResolve_WorkerIndex(t *testing.T) {
	t.Setenv("ORACLE_WORKER_INDEX", "")

	f, err := config.Parse([]byte(minimal))
	require.NoError(t, err)
	f.WorkerIndex = 0

	_, _, err = config.Resolve(f)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "worker index must be at least 1")
}

func TestWorkerValue(t *testing.T) {
	table := map[string]int{"1": 10, config.DefaultKey: 99}

	v, ok := config.WorkerValue(table, types.WorkerIdentity{Index: 1})
	assert.True(t, ok)
	assert.Equal(t, 10, v)

	v, ok = config.WorkerValue(table, types.WorkerIdentity{Index: 7})
	assert.True(t, ok)
	assert.Equal(t, 99, v)

	_, ok = config.WorkerValue(map[string]int{"1": 10}, types.WorkerIdentity{Index: 2})
	assert.False(t, ok)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("ORACLE_TEST_HOST", "hermes.example")

	assert.Equal(t, "https://hermes.example/v2", config.ExpandEnv("https://${ORACLE_TEST_HOST}/v2"))
	assert.Equal(t, "token=", config.ExpandEnv("token=${ORACLE_TEST_UNSET_VARIABLE}"))
	assert.Equal(t, "$ORACLE_TEST_HOST", config.ExpandEnv("$ORACLE_TEST_HOST"))
}
