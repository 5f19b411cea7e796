package txmanager

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/celer-network/oracle-updater/batch"
	"github.com/celer-network/oracle-updater/client"
	"github.com/celer-network/oracle-updater/fee"
	"github.com/celer-network/oracle-updater/oracle"
	"github.com/celer-network/oracle-updater/types"

	ethereum "github.com/ethereum/go-ethereum"
	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Submitter turns a candidate batch into one signed multicall transaction and
// hands it to the node.
//
// A nil error guarantees that at least one node accepted the transaction. It
// does not guarantee inclusion, which is the Tracker's concern.
type Submitter interface {
	Submit(ctx context.Context, candidate *batch.Candidate) (*Submission, error)
	From() gethCommon.Address
}

type ethSubmitter struct {
	ethClient client.Client
	chain     *types.Chain
	estimator *fee.Estimator
	reader    *oracle.Reader
	key       *ecdsa.PrivateKey
	from      gethCommon.Address
	logger    types.Logger

	// lock serializes nonce assignment for the chain's signer
	lock sync.Mutex
}

var _ Submitter = (*ethSubmitter)(nil)

// NewSubmitter returns a Submitter signing with the chain's key.
func NewSubmitter(ethClient client.Client, chain *types.Chain, logger types.Logger) (Submitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(chain.SignerKey, "0x"))
	if err != nil {
		return nil, errors.Wrapf(types.ErrConfigInvalid, "chain %s: invalid signer key", chain.Name)
	}
	return &ethSubmitter{
		ethClient: ethClient,
		chain:     chain,
		estimator: fee.NewEstimator(ethClient, chain.TxConfig, logger),
		reader:    oracle.NewReader(ethClient, chain, logger),
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		logger:    logger,
	}, nil
}

func (s *ethSubmitter) From() gethCommon.Address {
	return s.from
}

// Submit estimates fees, assigns a nonce, signs and sends. The whole call is
// bounded by the chain's transaction timeout.
func (s *ethSubmitter) Submit(ctx context.Context, candidate *batch.Candidate) (_ *Submission, err error) {
	defer WrapIfError(&err, "Submit failed")

	if timeout := s.chain.TxConfig.TransactionTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	updates, err := s.feedUpdates(ctx, candidate)
	if err != nil {
		return nil, err
	}
	data, value, err := oracle.PackBatchUpdate(updates)
	if err != nil {
		return nil, err
	}
	to := s.chain.MulticallAddress
	plan, err := s.estimator.Estimate(ctx, ethereum.CallMsg{From: s.from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	nonce, err := s.ethClient.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, errors.Wrapf(types.ErrRPCFailure, "PendingNonceAt: %v", err)
	}
	tx, err := newTransaction(s.chain.ChainID, nonce, to, value, data, plan)
	if err != nil {
		return nil, err
	}
	signedTx, err := gethTypes.SignTx(tx, gethTypes.LatestSignerForChainID(s.chain.ChainID), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "signTx failed")
	}

	s.logger.Infow("Submitter: sending batch update",
		"chain", s.chain.Name,
		"batchID", candidate.Batch.ID,
		"customerID", candidate.Batch.CustomerID,
		"feeds", len(updates),
		"txHash", signedTx.Hash().Hex(),
		"nonce", nonce,
		"price", plan.Price(),
		"multiplier", plan.Multiplier,
	)
	if err := sendTransaction(ctx, s.ethClient, signedTx, s.logger).Classify(); err != nil {
		return nil, err
	}
	return &Submission{TxHash: signedTx.Hash(), Nonce: nonce, Value: value, FeePlan: plan}, nil
}

// feedUpdates builds one oracle update per member value, with the fee either
// fixed by configuration or quoted by the Pyth contract.
//
// When one combined payload covers the whole batch only the first update
// carries it and pays for it. The calls run in order, so the remaining members
// read the prices it already posted to Pyth with an empty payload and no fee.
func (s *ethSubmitter) feedUpdates(ctx context.Context, candidate *batch.Candidate) ([]oracle.FeedUpdate, error) {
	feeds := make(map[gethCommon.Hash]*types.Feed, len(candidate.Batch.Feeds))
	for _, f := range candidate.Batch.Feeds {
		feeds[f.ID] = f
	}

	shared := candidate.SharedUpdateData()
	updates := make([]oracle.FeedUpdate, 0, len(candidate.Values))
	for i, v := range candidate.Values {
		feed, ok := feeds[v.FeedID]
		if !ok {
			return nil, errors.Errorf("feed %s is not a member of batch %s", v.FeedID.Hex(), candidate.Batch.ID)
		}
		if shared && i > 0 {
			updates = append(updates, oracle.FeedUpdate{
				Oracle:     feed.Oracle,
				FeedID:     feed.ID,
				UpdateData: [][]byte{},
				Fee:        new(big.Int),
			})
			continue
		}
		data := candidate.UpdateDataFor(v.FeedID)
		if len(data) == 0 {
			return nil, errors.Errorf("no update data for feed %s", v.FeedID.Hex())
		}

		var amount *big.Int
		switch override := feed.UpdateFee.(type) {
		case types.FixedFee:
			amount = override.Amount
		default:
			quoted, err := s.reader.UpdateFee(ctx, data)
			if err != nil {
				return nil, err
			}
			amount = quoted
		}
		updates = append(updates, oracle.FeedUpdate{
			Oracle:     feed.Oracle,
			FeedID:     feed.ID,
			UpdateData: data,
			Fee:        amount,
		})
	}
	return updates, nil
}
