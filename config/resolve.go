package config

import (
	"fmt"
	"math/big"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/celer-network/oracle-updater/logger"
	"github.com/celer-network/oracle-updater/pricefeed"
	"github.com/celer-network/oracle-updater/store/tendermint"
	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// WorkerValue looks a worker up in a worker-indexed table, falling back to the
// "default" entry. The second result is false when neither exists.
func WorkerValue[T any](table map[string]T, worker types.WorkerIdentity) (T, bool) {
	if v, ok := table[strconv.Itoa(worker.Index)]; ok {
		return v, true
	}
	v, ok := table[DefaultKey]
	return v, ok
}

// resolver accumulates every validation problem so that a broken file is
// reported in one go.
type resolver struct {
	worker types.WorkerIdentity
	errs   error
}

func (r *resolver) fail(format string, args ...interface{}) {
	r.errs = multierr.Append(r.errs, errors.Errorf(format, args...))
}

func (r *resolver) rational(where string, f RationalFile) types.Rational {
	rat := types.Rational{Dividend: f.Dividend, Divisor: f.Divisor}
	if rat.Divisor == 0 {
		r.fail("%s: rational %d/0 has a zero divisor", where, rat.Dividend)
	}
	return rat
}

func (r *resolver) positive(where string, d time.Duration) {
	if d <= 0 {
		r.fail("%s must be positive, got %s", where, d)
	}
}

// Resolve validates f and produces the immutable configuration of the worker
// named by f.WorkerIndex. All problems are combined into one error wrapping
// types.ErrConfigInvalid.
func Resolve(f *File) (*types.Config, []string, error) {
	r := &resolver{worker: types.WorkerIdentity{Index: f.WorkerIndex}}
	if f.WorkerIndex < 1 {
		r.fail("worker index must be at least 1, got %d", f.WorkerIndex)
		// ranking and staggering are meaningless without a worker
		return nil, nil, wrapInvalid(r.errs)
	}

	config := &types.Config{
		Worker:          r.worker,
		EndpointTimeout: f.EndpointTimeout,
		HTTPCacheTTL:    time.Duration(f.HTTPCacheSeconds) * time.Second,
		StreamMaxAge:    f.StreamMaxAge,
		StatusAddr:      f.StatusAddr,
		Store:           types.StoreConfig{Backend: f.Store.Backend, Dir: f.Store.Dir},
	}
	if ttl, ok := WorkerValue(f.OnChainCacheTTL, r.worker); ok {
		config.OnChainCacheTTL = ttl
	}
	r.positive("endpointTimeout", f.EndpointTimeout)
	if f.HTTPCacheSeconds < 0 {
		r.fail("httpCacheSeconds must not be negative")
	}
	if f.OnChainCacheTTL != nil && config.OnChainCacheTTL < 0 {
		r.fail("onChainCacheTtl must not be negative")
	}
	if f.Workers.GasPriceMultiplierStep == 0 {
		r.fail("workers.gasPriceMultiplierStep must be positive")
	}

	switch f.Store.Backend {
	case "", tendermint.BackendMemDB:
	case tendermint.BackendGoLevelDB:
		if f.Store.Dir == "" {
			r.fail("store: goleveldb needs a dir")
		}
	default:
		r.fail("store: unknown backend %q", f.Store.Backend)
	}

	config.Log = r.logging(f.Logging)
	endpoints, dropped := r.endpoints(f.Endpoints)
	config.Endpoints = endpoints

	names := make([]string, 0, len(f.Chains))
	for name := range f.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		r.fail("no chains configured")
	}
	for _, name := range names {
		if chain := r.chain(name, f.Chains[name], f.Workers); chain != nil {
			config.Chains = append(config.Chains, chain)
		}
	}

	if r.errs != nil {
		return nil, dropped, wrapInvalid(r.errs)
	}
	return config, dropped, nil
}

func wrapInvalid(errs error) error {
	return errors.Wrap(types.ErrConfigInvalid, errs.Error())
}

func (r *resolver) logging(f LoggingFile) types.LogConfig {
	cfg := types.LogConfig{Level: f.Level}
	if _, err := logger.ParseLevel(f.Level); err != nil {
		r.fail("logging: %v", err)
	}
	for i, s := range f.Sinks {
		switch s.Type {
		case logger.SinkDatadog, logger.SinkLogtail:
		default:
			r.fail("logging.sinks[%d]: unknown sink type %q", i, s.Type)
		}
		if _, err := logger.ParseLevel(s.Level); err != nil {
			r.fail("logging.sinks[%d]: %v", i, err)
		}
		cfg.Sinks = append(cfg.Sinks, types.LogSinkConfig{
			Type:   s.Type,
			Token:  s.Token,
			Region: s.Region,
			Level:  s.Level,
			URL:    s.URL,
		})
	}
	return cfg
}

func (r *resolver) endpoints(files []EndpointFile) ([]types.Endpoint, []string) {
	var (
		entries []pricefeed.EndpointConfig
		dropped []string
	)
	for i, e := range files {
		where := fmt.Sprintf("endpoints[%d] (%s)", i, e.Name)
		mode := types.EndpointMode(strings.ToLower(e.Mode))
		if mode == "" {
			mode = types.EndpointModeBoth
		}
		if !mode.Valid() {
			r.fail("%s: unknown mode %q", where, e.Mode)
			continue
		}
		if strings.TrimSpace(e.URL) == "" {
			dropped = append(dropped, e.Name)
			continue
		}
		if u, err := url.Parse(e.URL); err != nil || u.Host == "" {
			r.fail("%s: invalid url", where)
			continue
		}
		priority := make(map[int]int, len(e.Priority))
		for k, p := range e.Priority {
			idx, err := strconv.Atoi(k)
			if err != nil {
				r.fail("%s: priority key %q is not a worker index", where, k)
				continue
			}
			priority[idx] = p
		}
		entries = append(entries, pricefeed.EndpointConfig{Name: e.Name, URL: e.URL, Mode: mode, Priority: priority})
	}
	if len(entries) == 0 {
		r.fail("no usable endpoint configured")
	}
	return pricefeed.RankEndpoints(entries, r.worker), dropped
}

func (r *resolver) chain(name string, f ChainFile, workers WorkersFile) *types.Chain {
	step := r.worker.Index - 1
	chain := &types.Chain{
		Name:             name,
		ChainID:          new(big.Int).SetUint64(f.ChainID),
		RPCURL:           f.RPCURL,
		SecondaryRPCURLs: f.SecondaryRPCURLs,
		SignerKey:        f.SignerKey,
		UptimeWebhookURL: f.UptimeWebhookURL,
		UptimeInterval:   f.UptimeInterval,
	}
	if f.ChainID == 0 {
		r.fail("%s: chainId is required", name)
	}
	if f.RPCURL == "" {
		r.fail("%s: rpcUrl is required", name)
	}
	chain.MulticallAddress = r.address(name+".multicallAddress", f.MulticallAddress)
	chain.PythAddress = r.address(name+".pythAddress", f.PythAddress)

	chain.TxConfig = r.txConfig(name, f.TxConfig, workers)

	for i, bf := range f.Batches {
		where := fmt.Sprintf("%s.batches[%d]", name, i)
		if bf.ID == "" {
			r.fail("%s: batchId is required", where)
		} else if chain.BatchByID(bf.ID) != nil {
			r.fail("%s: duplicate batchId %q", where, bf.ID)
		}
		table := bf.PollingInterval
		if len(table) == 0 {
			table = workers.PollingInterval
		}
		interval, ok := WorkerValue(table, r.worker)
		if !ok {
			r.fail("%s: no polling interval for worker %d", where, r.worker.Index)
		} else {
			r.positive(where+".pollingInterval", interval)
		}
		chain.Batches = append(chain.Batches, &types.Batch{
			ID:              bf.ID,
			CustomerID:      bf.CustomerID,
			PollingInterval: interval,
			WriteDelay:      workers.WriteDelayStep * time.Duration(step),
		})
	}
	if len(chain.Batches) == 0 {
		r.fail("%s: no batches configured", name)
	}

	for i, of := range f.Oracles {
		oracle := &types.Oracle{Address: r.address(fmt.Sprintf("%s.oracles[%d].address", name, i), of.Address)}
		for j, tf := range of.Tokens {
			feed := r.feed(fmt.Sprintf("%s.oracles[%d].tokens[%d]", name, i, j), tf, oracle.Address, chain.Batches)
			if feed == nil {
				continue
			}
			oracle.Feeds = append(oracle.Feeds, feed)
			b := chain.BatchByID(feed.BatchID)
			b.Feeds = append(b.Feeds, feed)
		}
		chain.Oracles = append(chain.Oracles, oracle)
	}
	for _, b := range chain.Batches {
		if len(b.Feeds) == 0 {
			r.fail("%s: batch %q has no feeds", name, b.ID)
		}
	}
	return chain
}

func (r *resolver) txConfig(name string, f TxConfigFile, workers WorkersFile) types.TxConfig {
	step := uint64(r.worker.Index - 1)
	base := r.rational(name+".txConfig.gasPriceMultiplier", f.GasPriceMultiplier)
	tx := types.TxConfig{
		TxType: f.TxType,
		GasPriceMultiplier: types.Rational{
			Dividend: base.Dividend + workers.GasPriceMultiplierStep*step,
			Divisor:  base.Divisor,
		},
		ConfirmationPollingInterval: f.ConfirmationPollingInterval,
		ConfirmationTimeout:         f.ConfirmationTimeout,
		RequiredConfirmations:       f.RequiredConfirmations,
		TransactionTimeout:          f.TransactionTimeout,
	}
	if tx.TransactionTimeout == 0 {
		tx.TransactionTimeout = 2 * workers.WriteDelayStep
	}

	switch f.TxType {
	case 0:
	case 2:
		tx.EIP1559 = types.EIP1559Params{
			Percentile:        f.EIP1559.Percentile,
			HistoricalBlocks:  f.EIP1559.HistoricalBlocks,
			BaseFeeMultiplier: r.rational(name+".txConfig.eip1559.baseFeeMultiplier", f.EIP1559.BaseFeeMultiplier),
		}
		if f.EIP1559.Percentile < 0 || f.EIP1559.Percentile > 100 {
			r.fail("%s: eip1559 percentile %v is out of range", name, f.EIP1559.Percentile)
		}
		if f.EIP1559.HistoricalBlocks == 0 {
			r.fail("%s: eip1559 historicalBlocks is required", name)
		}
	default:
		r.fail("%s: unknown tx type %d", name, f.TxType)
	}

	if limit, ok := WorkerValue(f.FixedGasLimit, r.worker); ok && limit > 0 {
		tx.GasLimit = types.FixedGasLimit{Limit: limit}
	} else {
		multiplier := types.One
		if f.GasLimitMultiplier != nil {
			multiplier = r.rational(name+".txConfig.gasLimitMultiplier", *f.GasLimitMultiplier)
		}
		tx.GasLimit = types.EstimatedGasLimit{Multiplier: multiplier}
	}

	r.positive(name+".txConfig.confirmationPollingInterval", f.ConfirmationPollingInterval)
	r.positive(name+".txConfig.confirmationTimeout", f.ConfirmationTimeout)
	r.positive(name+".txConfig.transactionTimeout", tx.TransactionTimeout)
	return tx
}

func (r *resolver) feed(where string, f TokenFile, oracle common.Address, batches []*types.Batch) *types.Feed {
	ok := true
	if id, err := hexutil.Decode("0x" + strings.TrimPrefix(f.FeedID, "0x")); err != nil || len(id) != common.HashLength {
		r.fail("%s: feedId %q must be 32 bytes of hex", where, f.FeedID)
		ok = false
	}
	if f.Batch < 0 || f.Batch >= len(batches) {
		r.fail("%s: unknown batch reference %d", where, f.Batch)
		ok = false
	}
	if f.Heartbeat <= 0 {
		r.fail("%s: heartbeat is required", where)
		ok = false
	}
	if f.EarlyUpdate < 0 || (f.EarlyUpdate > 0 && f.EarlyUpdate >= f.Heartbeat) {
		r.fail("%s: earlyUpdate must be shorter than the heartbeat", where)
		ok = false
	}

	var fee types.FeeOverride = types.NoFeeOverride{}
	if f.UpdateFee != "" {
		amount, valid := new(big.Int).SetString(f.UpdateFee, 10)
		if !valid || amount.Sign() < 0 {
			r.fail("%s: updateFee %q is not an amount of wei", where, f.UpdateFee)
			ok = false
		} else {
			fee = types.FixedFee{Amount: amount}
		}
	}
	if !ok {
		return nil
	}
	return &types.Feed{
		ID:                  common.HexToHash(f.FeedID),
		Oracle:              oracle,
		BatchID:             batches[f.Batch].ID,
		Description:         f.Desc,
		Heartbeat:           f.Heartbeat,
		UpdateThresholdBips: f.UpdateThreshold,
		EarlyUpdate:         f.EarlyUpdate,
		UpdateFee:           fee,
	}
}

func (r *resolver) address(where, s string) common.Address {
	if !common.IsHexAddress(s) {
		r.fail("%s: %q is not an address", where, s)
		return common.Address{}
	}
	return common.HexToAddress(s)
}
