package config

import (
	"bytes"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/celer-network/oracle-updater/types"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "ORACLE"

// DefaultKey is the fallback entry of a worker-indexed table.
const DefaultKey = "default"

// File is the configuration document as written on disk. Worker-indexed tables
// are keyed by the worker index as a string plus an optional "default" entry.
type File struct {
	WorkerIndex      int                      `mapstructure:"workerIndex"`
	HTTPCacheSeconds int                      `mapstructure:"httpCacheSeconds"`
	EndpointTimeout  time.Duration            `mapstructure:"endpointTimeout"`
	StreamMaxAge     time.Duration            `mapstructure:"streamMaxAge"`
	OnChainCacheTTL  map[string]time.Duration `mapstructure:"onChainCacheTtl"`
	StatusAddr       string                   `mapstructure:"statusAddr"`

	Store     StoreFile            `mapstructure:"store"`
	Logging   LoggingFile          `mapstructure:"logging"`
	Workers   WorkersFile          `mapstructure:"workers"`
	Endpoints []EndpointFile       `mapstructure:"endpoints"`
	Chains    map[string]ChainFile `mapstructure:"chains"`
}

type StoreFile struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

type LoggingFile struct {
	Level string     `mapstructure:"level"`
	Sinks []SinkFile `mapstructure:"sinks"`
}

type SinkFile struct {
	Type   string `mapstructure:"type"`
	Token  string `mapstructure:"token"`
	Region string `mapstructure:"region"`
	Level  string `mapstructure:"level"`
	URL    string `mapstructure:"url"`
}

// WorkersFile holds the staggering applied to every batch and chain.
type WorkersFile struct {
	WriteDelayStep  time.Duration            `mapstructure:"writeDelayStep"`
	PollingInterval map[string]time.Duration `mapstructure:"pollingInterval"`
	// GasPriceMultiplierStep is added to the chain's base multiplier dividend
	// once per worker after the first, so it is in units of the chain's
	// divisor: over a 100/100 base a step of 50 adds 0.5x, over 1/1 it adds
	// 50x. It must be positive so that every later worker bids higher.
	GasPriceMultiplierStep uint64 `mapstructure:"gasPriceMultiplierStep"`
}

type EndpointFile struct {
	Name     string         `mapstructure:"name"`
	URL      string         `mapstructure:"url"`
	Mode     string         `mapstructure:"mode"`
	Priority map[string]int `mapstructure:"priority"`
}

type RationalFile struct {
	Dividend uint64 `mapstructure:"dividend"`
	Divisor  uint64 `mapstructure:"divisor"`
}

type ChainFile struct {
	ChainID          uint64        `mapstructure:"chainId"`
	RPCURL           string        `mapstructure:"rpcUrl"`
	SecondaryRPCURLs []string      `mapstructure:"secondaryRpcUrls"`
	SignerKey        string        `mapstructure:"signerKey"`
	MulticallAddress string        `mapstructure:"multicallAddress"`
	PythAddress      string        `mapstructure:"pythAddress"`
	UptimeWebhookURL string        `mapstructure:"uptimeWebhookUrl"`
	UptimeInterval   time.Duration `mapstructure:"uptimeInterval"`

	TxConfig TxConfigFile `mapstructure:"txConfig"`
	Batches  []BatchFile  `mapstructure:"batches"`
	Oracles  []OracleFile `mapstructure:"oracles"`
}

type TxConfigFile struct {
	TxType             uint8         `mapstructure:"txType"`
	GasLimitMultiplier *RationalFile `mapstructure:"gasLimitMultiplier"`
	// FixedGasLimit skips estimation for the workers it names.
	FixedGasLimit      map[string]uint64 `mapstructure:"fixedGasLimit"`
	TransactionTimeout time.Duration     `mapstructure:"transactionTimeout"`
	EIP1559            EIP1559File       `mapstructure:"eip1559"`
	GasPriceMultiplier RationalFile      `mapstructure:"gasPriceMultiplier"`

	ConfirmationPollingInterval time.Duration `mapstructure:"confirmationPollingInterval"`
	ConfirmationTimeout         time.Duration `mapstructure:"confirmationTimeout"`
	RequiredConfirmations       uint64        `mapstructure:"requiredConfirmations"`
}

type EIP1559File struct {
	Percentile        float64      `mapstructure:"percentile"`
	HistoricalBlocks  uint64       `mapstructure:"historicalBlocks"`
	BaseFeeMultiplier RationalFile `mapstructure:"baseFeeMultiplier"`
}

type BatchFile struct {
	ID         string `mapstructure:"batchId"`
	CustomerID string `mapstructure:"customerId"`
	// PollingInterval overrides workers.pollingInterval for this batch.
	PollingInterval map[string]time.Duration `mapstructure:"pollingInterval"`
}

type OracleFile struct {
	Address string      `mapstructure:"address"`
	Tokens  []TokenFile `mapstructure:"tokens"`
}

type TokenFile struct {
	FeedID          string        `mapstructure:"feedId"`
	Desc            string        `mapstructure:"desc"`
	Batch           int           `mapstructure:"batch"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
	UpdateThreshold uint64        `mapstructure:"updateThreshold"`
	EarlyUpdate     time.Duration `mapstructure:"earlyUpdate"`
	// UpdateFee in wei. Empty means the fee is queried from the Pyth contract.
	UpdateFee string `mapstructure:"updateFee"`
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${VAR} references with the environment value. Unset
// variables expand to the empty string. Bare $VAR is left alone.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(envRef.FindStringSubmatch(ref)[1])
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	_ = v.BindEnv("workerIndex", envPrefix+"_WORKER_INDEX")
	_ = v.BindEnv("statusAddr", envPrefix+"_STATUS_ADDR")

	v.SetDefault("workerIndex", 0)
	v.SetDefault("httpCacheSeconds", 0)
	v.SetDefault("endpointTimeout", "5s")
	v.SetDefault("streamMaxAge", "10s")
	v.SetDefault("store.backend", "memdb")
	v.SetDefault("logging.level", "info")
	v.SetDefault("workers.writeDelayStep", "15s")
	v.SetDefault("workers.pollingInterval", map[string]interface{}{
		"1":        "1s",
		"2":        "4s",
		DefaultKey: "10s",
	})
	v.SetDefault("workers.gasPriceMultiplierStep", 50)
	return v
}

// ReadFile parses a YAML document after expanding ${VAR} references. ORACLE_
// prefixed environment variables override top-level and nested scalar keys.
func ReadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(types.ErrConfigInvalid, "could not read %s: %v", path, err)
	}
	return Parse(raw)
}

// Parse is ReadFile for an in-memory document.
func Parse(raw []byte) (*File, error) {
	v := newViper()
	if err := v.ReadConfig(bytes.NewReader([]byte(ExpandEnv(string(raw))))); err != nil {
		return nil, errors.Wrapf(types.ErrConfigInvalid, "could not parse config: %v", err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, errors.Wrapf(types.ErrConfigInvalid, "could not decode config: %v", err)
	}
	return &f, nil
}

// Load reads path and resolves it for a worker. A workerIndex of zero defers
// to the file or ORACLE_WORKER_INDEX. The names of endpoints dropped for an
// empty URL are returned for the caller to log.
func Load(path string, workerIndex int) (*types.Config, []string, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if workerIndex != 0 {
		f.WorkerIndex = workerIndex
	}
	return Resolve(f)
}
