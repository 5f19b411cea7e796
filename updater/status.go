package updater

import (
	"context"
	"net/http"
	"time"

	"github.com/celer-network/oracle-updater/store"
	"github.com/celer-network/oracle-updater/types"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const (
	historyLimit    = 5
	shutdownTimeout = 5 * time.Second
)

type FeedReport struct {
	ID             string     `json:"id"`
	Description    string     `json:"description"`
	OnChainPrice   string     `json:"onChainPrice,omitempty"`
	OnChainTime    *time.Time `json:"onChainPublishTime,omitempty"`
	CandidatePrice string     `json:"candidatePrice,omitempty"`
	Due            bool       `json:"due"`
	Reason         string     `json:"reason,omitempty"`
}

type RecordReport struct {
	Outcome  string    `json:"outcome"`
	TxHash   string    `json:"txHash,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	GasPrice string    `json:"gasPrice,omitempty"`
	Recorded time.Time `json:"recorded"`
}

type BatchReport struct {
	ID            string         `json:"id"`
	CustomerID    string         `json:"customerId"`
	State         string         `json:"state"`
	DueSince      *time.Time     `json:"dueSince,omitempty"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	TxHash        string         `json:"txHash,omitempty"`
	Confirmations uint64         `json:"confirmations"`
	Feeds         []FeedReport   `json:"feeds"`
	History       []RecordReport `json:"history"`
}

type ChainReport struct {
	Name    string        `json:"name"`
	Batches []BatchReport `json:"batches"`
}

// StatusServer exposes liveness and per batch state over HTTP.
type StatusServer struct {
	engine  *gin.Engine
	server  *http.Server
	updater *Updater
	store   store.Store
	worker  types.WorkerIdentity
	logger  types.Logger
}

func NewStatusServer(addr string, u *Updater, st store.Store) *StatusServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &StatusServer{
		engine:  engine,
		server:  &http.Server{Addr: addr, Handler: engine},
		updater: u,
		store:   st,
		worker:  u.config.Worker,
		logger:  u.logger,
	}
	engine.GET("/health", s.health)
	engine.GET("/status", s.status)
	return s
}

// Handler returns the router, for tests.
func (s *StatusServer) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled.
func (s *StatusServer) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Infow("StatusServer: listening", "addr", s.server.Addr)
		serverErr <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "status server shutdown")
		}
		if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "status server")
		}
		return nil
	}
}

func (s *StatusServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "worker": s.worker.Index})
}

func (s *StatusServer) status(c *gin.Context) {
	reports := make([]ChainReport, 0, len(s.updater.Chains()))
	for _, rt := range s.updater.Chains() {
		report, err := s.chainReport(rt)
		if err != nil {
			s.logger.Errorw("StatusServer: could not build report", "chain", rt.Chain.Name, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		reports = append(reports, report)
	}
	c.JSON(http.StatusOK, gin.H{"worker": s.worker.Index, "chains": reports})
}

func (s *StatusServer) chainReport(rt *ChainRuntime) (ChainReport, error) {
	report := ChainReport{Name: rt.Chain.Name}
	for _, st := range rt.Coordinator.Snapshot() {
		b := rt.Chain.BatchByID(st.BatchID)
		if b == nil {
			continue
		}
		br := BatchReport{
			ID:            b.ID,
			CustomerID:    b.CustomerID,
			State:         string(st.State),
			Confirmations: st.Confirmations,
			Feeds:         []FeedReport{},
			History:       []RecordReport{},
		}
		if !st.DueSince.IsZero() {
			dueSince, deadline := st.DueSince, st.Deadline
			br.DueSince, br.Deadline = &dueSince, &deadline
		}
		if st.TxHash != nil {
			br.TxHash = st.TxHash.Hex()
		}

		for _, f := range b.Feeds {
			fr := FeedReport{ID: f.ID.Hex(), Description: f.Description}
			if obs, ok := s.updater.Observed(rt.Chain.Name, f.ID); ok {
				if !obs.OnChain.PublishTime.IsZero() {
					published := obs.OnChain.PublishTime.UTC()
					fr.OnChainPrice = obs.OnChain.Decimal().String()
					fr.OnChainTime = &published
				}
				fr.CandidatePrice = obs.Candidate.Decimal().String()
				fr.Due = obs.Result.Due
				fr.Reason = string(obs.Result.Reason)
			}
			br.Feeds = append(br.Feeds, fr)
		}

		records, err := s.store.GetSubmissionRecords(rt.Chain.Name, b.ID, historyLimit)
		if err != nil {
			return report, err
		}
		for _, r := range records {
			rr := RecordReport{Outcome: string(r.Outcome), Reason: r.Reason, Recorded: r.Recorded.UTC()}
			if r.TxHash != nil {
				rr.TxHash = r.TxHash.Hex()
			}
			if r.FeePlan != nil && r.FeePlan.Price() != nil {
				rr.GasPrice = r.FeePlan.Price().String()
			}
			br.History = append(br.History, rr)
		}
		report.Batches = append(report.Batches, br)
	}
	return report, nil
}
