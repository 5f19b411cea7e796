package txmanager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/celer-network/oracle-updater/batch"
	"github.com/celer-network/oracle-updater/cache"
	"github.com/celer-network/oracle-updater/internal/mocks"
	esTesting "github.com/celer-network/oracle-updater/internal/testing"
	"github.com/celer-network/oracle-updater/store"
	"github.com/celer-network/oracle-updater/store/models"
	"github.com/celer-network/oracle-updater/txmanager"
	"github.com/celer-network/oracle-updater/types"
	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeTracker blocks every Track call until the test hands it a result.
type fakeTracker struct {
	tracked chan gethCommon.Hash
	results chan txmanager.TrackResult
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		tracked: make(chan gethCommon.Hash, 10),
		results: make(chan txmanager.TrackResult, 10),
	}
}

func (ft *fakeTracker) Track(ctx context.Context, txHash gethCommon.Hash, progress func(uint64)) txmanager.TrackResult {
	ft.tracked <- txHash
	select {
	case res := <-ft.results:
		if progress != nil {
			progress(res.Confirmations)
		}
		return res
	case <-ctx.Done():
		return txmanager.TrackResult{Status: txmanager.TrackCancelled}
	}
}

type worker struct {
	chain       *types.Chain
	client      *mocks.Client
	tracker     *fakeTracker
	cache       *cache.OnChainCache
	store       store.Store
	coordinator *txmanager.Coordinator

	mutex sync.Mutex
	sent  []*gethTypes.Transaction
}

// workerChain gives a worker the shared batches with its own write delay and
// gas tier.
func workerChain(t *testing.T, base *types.Chain, index int) *types.Chain {
	ref := esTesting.NewChain(t, index)
	chain := *base
	chain.TxConfig = ref.TxConfig
	b := *base.Batches[0]
	b.WriteDelay = ref.Batches[0].WriteDelay
	chain.Batches = []*types.Batch{&b}
	return &chain
}

func newWorker(t *testing.T, base *types.Chain, index int, st store.Store) *worker {
	t.Helper()

	w := &worker{
		chain:   workerChain(t, base, index),
		client:  new(mocks.Client),
		tracker: newFakeTracker(),
		cache:   cache.New(0),
		store:   st,
	}
	mockFees(w.client)
	w.client.On("PendingNonceAt", mock.Anything, mock.Anything).Return(uint64(0), nil)

	logger := esTesting.NewLogger(t)
	submitter, err := txmanager.NewSubmitter(w.client, w.chain, logger)
	require.NoError(t, err)
	w.coordinator = txmanager.NewCoordinator(w.chain, types.WorkerIdentity{Index: index}, submitter, w.tracker, w.cache, st, logger)
	return w
}

func (w *worker) start(t *testing.T) {
	t.Helper()
	require.NoError(t, w.coordinator.Start())
	t.Cleanup(func() { w.coordinator.Stop() })
}

func (w *worker) acceptSends() {
	w.client.On("SendTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		w.mutex.Lock()
		defer w.mutex.Unlock()
		w.sent = append(w.sent, args.Get(1).(*gethTypes.Transaction))
	}).Return(nil)
}

func (w *worker) sentTxs() []*gethTypes.Transaction {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return append([]*gethTypes.Transaction(nil), w.sent...)
}

func (w *worker) batch() *types.Batch {
	return w.chain.Batches[0]
}

func (w *worker) observe(candidate *batch.Candidate, onChain map[gethCommon.Hash]types.PriceValue, now time.Time) txmanager.State {
	return w.coordinator.Observe(context.Background(), txmanager.Observation{
		Batch:      w.batch(),
		Candidate:  candidate,
		OnChain:    onChain,
		Generation: w.cache.Generation(w.chain.Name, w.batch().ID),
		Now:        now,
	})
}

func (w *worker) records(t *testing.T) []*models.SubmissionRecord {
	t.Helper()
	records, err := w.store.GetSubmissionRecords(w.chain.Name, w.batch().ID, 10)
	require.NoError(t, err)
	return records
}

func newBase(t *testing.T) *types.Chain {
	base := esTesting.NewChain(t, 1)
	withFixedFees(base, 1)
	return base
}

var t0 = time.Unix(1700000000, 0)

func TestCoordinator_StaggeredWorkers(t *testing.T) {
	t.Parallel()

	t.Run("later worker is superseded when the primary confirms within its delay", func(t *testing.T) {
		g := gomega.NewWithT(t)
		base := newBase(t)
		w1 := newWorker(t, base, 1, esTesting.NewStore(t))
		w2 := newWorker(t, base, 2, esTesting.NewStore(t))
		w1.start(t)
		w2.start(t)
		w1.acceptSends()
		w2.acceptSends()
		require.Equal(t, time.Duration(0), w1.batch().WriteDelay)
		require.Equal(t, 15*time.Second, w2.batch().WriteDelay)

		candidate := esTesting.NewCandidate(t, base.Batches[0], t0)

		assert.Equal(t, txmanager.StateAwaitingConfirmation, w1.observe(candidate, nil, t0))
		assert.Equal(t, txmanager.StateWaiting, w2.observe(candidate, nil, t0))
		assert.Len(t, w1.sentTxs(), 1)

		assert.Equal(t, txmanager.StateWaiting, w2.observe(candidate, nil, t0.Add(5*time.Second)))

		w1.tracker.results <- txmanager.TrackResult{Status: txmanager.TrackConfirmed, Confirmations: 5}
		g.Eventually(func() txmanager.State { return w1.coordinator.State(w1.batch().ID) }).Should(gomega.Equal(txmanager.StateIdle))
		assert.Equal(t, uint64(1), w1.cache.Generation(w1.chain.Name, w1.batch().ID))

		// Worker 2 now reads worker 1's write and finds nothing due.
		assert.Equal(t, txmanager.StateIdle, w2.observe(nil, esTesting.OnChainValues(candidate), t0.Add(6*time.Second)))

		assert.Empty(t, w2.sentTxs())
		w2.client.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)

		records := w2.records(t)
		require.Len(t, records, 1)
		assert.Equal(t, models.OutcomeSuperseded, records[0].Outcome)
		assert.Nil(t, records[0].TxHash)

		records = w1.records(t)
		require.Len(t, records, 1)
		assert.Equal(t, models.OutcomeConfirmed, records[0].Outcome)
		assert.Equal(t, w1.sentTxs()[0].Hash(), *records[0].TxHash)
	})

	t.Run("later worker escalates when the primary has not confirmed", func(t *testing.T) {
		base := newBase(t)
		w1 := newWorker(t, base, 1, esTesting.NewStore(t))
		w2 := newWorker(t, base, 2, esTesting.NewStore(t))
		w1.start(t)
		w2.start(t)
		w1.acceptSends()
		w2.acceptSends()

		candidate := esTesting.NewCandidate(t, base.Batches[0], t0)
		w1.observe(candidate, nil, t0)
		w2.observe(candidate, nil, t0)
		assert.Equal(t, txmanager.StateWaiting, w2.observe(candidate, nil, t0.Add(14999*time.Millisecond)))
		assert.Empty(t, w2.sentTxs())

		assert.Equal(t, txmanager.StateAwaitingConfirmation, w2.observe(candidate, nil, t0.Add(15*time.Second)))

		sent1, sent2 := w1.sentTxs(), w2.sentTxs()
		require.Len(t, sent1, 1)
		require.Len(t, sent2, 1)
		assert.Equal(t, 1, sent2[0].GasFeeCap().Cmp(sent1[0].GasFeeCap()))
		assert.Equal(t, 1, sent2[0].GasTipCap().Cmp(sent1[0].GasTipCap()))
	})
}

func TestCoordinator_Observe(t *testing.T) {
	t.Parallel()

	t.Run("non-due batch stays idle", func(t *testing.T) {
		w := newWorker(t, newBase(t), 1, esTesting.NewStore(t))
		w.start(t)

		assert.Equal(t, txmanager.StateIdle, w.observe(nil, nil, t0))
		assert.Empty(t, w.records(t))
	})

	t.Run("dedupes while awaiting confirmation", func(t *testing.T) {
		w := newWorker(t, newBase(t), 1, esTesting.NewStore(t))
		w.start(t)
		w.acceptSends()

		candidate := esTesting.NewCandidate(t, w.batch(), t0)
		w.observe(candidate, nil, t0)
		newer := esTesting.NewCandidate(t, w.batch(), t0.Add(time.Second))
		assert.Equal(t, txmanager.StateAwaitingConfirmation, w.observe(newer, nil, t0.Add(time.Second)))
		assert.Len(t, w.sentTxs(), 1)

		pending, err := w.store.GetPendingUpdate(w.chain.Name, w.batch().ID)
		require.NoError(t, err)
		assert.Equal(t, models.PendingUpdateAwaitingConfirmation, pending.State)
		assert.Equal(t, w.sentTxs()[0].Hash(), *pending.TxHash)
		require.NotNil(t, pending.FeePlan)
		assert.Equal(t, "100/100", pending.FeePlan.Multiplier)
	})

	t.Run("superseded before inclusion", func(t *testing.T) {
		w := newWorker(t, newBase(t), 1, esTesting.NewStore(t))
		w.start(t)
		w.acceptSends()

		candidate := esTesting.NewCandidate(t, w.batch(), t0)
		w.observe(candidate, nil, t0)
		<-w.tracker.tracked

		// Someone else wrote a different, newer value.
		other := esTesting.NewCandidate(t, w.batch(), t0.Add(time.Second))
		assert.Equal(t, txmanager.StateIdle, w.observe(nil, esTesting.OnChainValues(other), t0.Add(2*time.Second)))

		records := w.records(t)
		require.Len(t, records, 1)
		assert.Equal(t, models.OutcomeSuperseded, records[0].Outcome)
		_, err := w.store.GetPendingUpdate(w.chain.Name, w.batch().ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("own write keeps tracking", func(t *testing.T) {
		w := newWorker(t, newBase(t), 1, esTesting.NewStore(t))
		w.start(t)
		w.acceptSends()

		candidate := esTesting.NewCandidate(t, w.batch(), t0)
		w.observe(candidate, nil, t0)
		assert.Equal(t, txmanager.StateAwaitingConfirmation, w.observe(nil, esTesting.OnChainValues(candidate), t0.Add(time.Second)))
		assert.Empty(t, w.records(t))
	})

	t.Run("timed out returns to idle and retries", func(t *testing.T) {
		g := gomega.NewWithT(t)
		w := newWorker(t, newBase(t), 1, esTesting.NewStore(t))
		w.start(t)
		w.acceptSends()

		candidate := esTesting.NewCandidate(t, w.batch(), t0)
		w.observe(candidate, nil, t0)
		w.tracker.results <- txmanager.TrackResult{Status: txmanager.TrackTimedOut, Confirmations: 2}
		g.Eventually(func() txmanager.State { return w.coordinator.State(w.batch().ID) }).Should(gomega.Equal(txmanager.StateIdle))

		records := w.records(t)
		require.Len(t, records, 1)
		assert.Equal(t, models.OutcomeTimedOut, records[0].Outcome)
		assert.Equal(t, uint64(0), w.cache.Generation(w.chain.Name, w.batch().ID))

		assert.Equal(t, txmanager.StateAwaitingConfirmation, w.observe(candidate, nil, t0.Add(3*time.Second)))
		assert.Len(t, w.sentTxs(), 2)
	})

	t.Run("reverted is treated as timed out", func(t *testing.T) {
		g := gomega.NewWithT(t)
		w := newWorker(t, newBase(t), 1, esTesting.NewStore(t))
		w.start(t)
		w.acceptSends()

		w.observe(esTesting.NewCandidate(t, w.batch(), t0), nil, t0)
		w.tracker.results <- txmanager.TrackResult{Status: txmanager.TrackReverted, Confirmations: 1}
		g.Eventually(func() int { return len(w.records(t)) }).Should(gomega.Equal(1))
		assert.Equal(t, models.OutcomeTimedOut, w.records(t)[0].Outcome)
		assert.Equal(t, "reverted", w.records(t)[0].Reason)
	})

	t.Run("rejected send returns to idle", func(t *testing.T) {
		w := newWorker(t, newBase(t), 1, esTesting.NewStore(t))
		w.start(t)
		w.client.On("SendTransaction", mock.Anything, mock.Anything).Return(errors.New("nonce too low"))

		assert.Equal(t, txmanager.StateIdle, w.observe(esTesting.NewCandidate(t, w.batch(), t0), nil, t0))
		records := w.records(t)
		require.Len(t, records, 1)
		assert.Equal(t, models.OutcomeRejected, records[0].Outcome)
	})

	t.Run("observation read before a confirmed write is discarded", func(t *testing.T) {
		g := gomega.NewWithT(t)
		w := newWorker(t, newBase(t), 1, esTesting.NewStore(t))
		w.start(t)
		w.acceptSends()

		candidate := esTesting.NewCandidate(t, w.batch(), t0)
		staleGeneration := w.cache.Generation(w.chain.Name, w.batch().ID)
		w.observe(candidate, nil, t0)
		w.tracker.results <- txmanager.TrackResult{Status: txmanager.TrackConfirmed, Confirmations: 5}
		g.Eventually(func() txmanager.State { return w.coordinator.State(w.batch().ID) }).Should(gomega.Equal(txmanager.StateIdle))

		state := w.coordinator.Observe(context.Background(), txmanager.Observation{
			Batch:      w.batch(),
			Candidate:  candidate,
			Generation: staleGeneration,
			Now:        t0.Add(time.Second),
		})
		assert.Equal(t, txmanager.StateIdle, state)
		assert.Len(t, w.sentTxs(), 1)
	})
}

func TestCoordinator_Start(t *testing.T) {
	t.Parallel()

	t.Run("resumes tracking a broadcast update", func(t *testing.T) {
		g := gomega.NewWithT(t)
		st := esTesting.NewStore(t)
		w := newWorker(t, newBase(t), 1, st)
		txHash := esTesting.NewHash()
		pending := esTesting.NewPendingUpdate(t, w.chain.Name, w.batch().ID, models.PendingUpdateAwaitingConfirmation)
		pending.TxHash = &txHash
		require.NoError(t, st.PutPendingUpdate(pending))

		w.start(t)
		assert.Equal(t, txmanager.StateAwaitingConfirmation, w.coordinator.State(w.batch().ID))
		assert.Equal(t, txHash, <-w.tracker.tracked)

		w.tracker.results <- txmanager.TrackResult{Status: txmanager.TrackConfirmed, Confirmations: 5}
		g.Eventually(func() int { return len(w.records(t)) }).Should(gomega.Equal(1))
		assert.Equal(t, models.OutcomeConfirmed, w.records(t)[0].Outcome)
	})

	t.Run("keeps the write delay of a waiting update", func(t *testing.T) {
		st := esTesting.NewStore(t)
		w := newWorker(t, newBase(t), 2, st)
		w.acceptSends()
		pending := esTesting.NewPendingUpdate(t, w.chain.Name, w.batch().ID, models.PendingUpdateWaiting)
		pending.DueSince = t0
		require.NoError(t, st.PutPendingUpdate(pending))

		w.start(t)
		candidate := esTesting.NewCandidate(t, w.batch(), t0)
		assert.Equal(t, txmanager.StateWaiting, w.observe(candidate, nil, t0.Add(10*time.Second)))
		assert.Equal(t, txmanager.StateAwaitingConfirmation, w.observe(candidate, nil, t0.Add(15*time.Second)))
	})

	t.Run("interrupted submission is recorded as failed", func(t *testing.T) {
		st := esTesting.NewStore(t)
		w := newWorker(t, newBase(t), 1, st)
		require.NoError(t, st.PutPendingUpdate(esTesting.NewPendingUpdate(t, w.chain.Name, w.batch().ID, models.PendingUpdateSubmitting)))

		w.start(t)
		assert.Equal(t, txmanager.StateIdle, w.coordinator.State(w.batch().ID))
		records := w.records(t)
		require.Len(t, records, 1)
		assert.Equal(t, models.OutcomeFailed, records[0].Outcome)
	})

	t.Run("ignores other chains", func(t *testing.T) {
		st := esTesting.NewStore(t)
		w := newWorker(t, newBase(t), 1, st)
		require.NoError(t, st.PutPendingUpdate(esTesting.NewPendingUpdate(t, "other", w.batch().ID, models.PendingUpdateSubmitting)))

		w.start(t)
		_, err := st.GetPendingUpdate("other", w.batch().ID)
		require.NoError(t, err)
	})
}
