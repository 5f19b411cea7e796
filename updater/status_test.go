package updater_test

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	esTesting "github.com/celer-network/oracle-updater/internal/testing"
	"github.com/celer-network/oracle-updater/store/models"
	"github.com/celer-network/oracle-updater/updater"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestStatusServer(t *testing.T) {
	h := newHarness(t, 0)
	st := esTesting.NewStore(t)
	now := time.Now()
	set := esTesting.NewPriceSet(t, h.batch(), now.Add(-time.Second))
	h.fetcher.On("FetchLatest", mock.Anything, mock.Anything, mock.Anything).Return(set, nil)
	h.updater.Cycle(context.Background(), h.runtime, h.batch())

	txHash := esTesting.NewHash()
	require.NoError(t, st.PutSubmissionRecord(&models.SubmissionRecord{
		ID:       uuid.New(),
		Chain:    h.chain.Name,
		BatchID:  h.batch().ID,
		TxHash:   &txHash,
		Outcome:  models.OutcomeConfirmed,
		FeePlan:  &models.FeePlan{TxType: 2, GasFeeCap: big.NewInt(1280), GasTipCap: big.NewInt(30)},
		Recorded: now,
	}))

	server := updater.NewStatusServer("127.0.0.1:0", h.updater, st)

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
		assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "worker").Int())
	})

	t.Run("status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()

		b := gjson.Get(body, "chains.0.batches.0")
		assert.Equal(t, h.chain.Name, gjson.Get(body, "chains.0.name").String())
		assert.Equal(t, h.batch().ID, b.Get("id").String())
		assert.Equal(t, "pyth-gravity", b.Get("customerId").String())
		assert.Equal(t, "idle", b.Get("state").String())

		feed := b.Get("feeds.0")
		assert.Equal(t, h.batch().Feeds[0].ID.Hex(), feed.Get("id").String())
		assert.Equal(t, "3000", feed.Get("candidatePrice").String())
		assert.True(t, feed.Get("due").Bool())
		assert.Equal(t, "heartbeat", feed.Get("reason").String())
		assert.False(t, feed.Get("onChainPrice").Exists())

		history := b.Get("history").Array()
		require.Len(t, history, 1)
		assert.Equal(t, "confirmed", history[0].Get("outcome").String())
		assert.Equal(t, txHash.Hex(), history[0].Get("txHash").String())
		assert.Equal(t, "1280", history[0].Get("gasPrice").String())
	})
}
