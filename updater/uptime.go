package updater

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/celer-network/oracle-updater/types"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

const (
	defaultUptimeInterval = time.Minute
	pingTimeout           = 10 * time.Second
)

// UptimePinger calls each chain's uptime webhook on a fixed cadence,
// independent of update activity. Failures are logged and otherwise ignored.
type UptimePinger struct {
	cron       *cron.Cron
	httpClient *http.Client
	logger     types.Logger
	baseCtx    context.Context
	cancel     context.CancelFunc
}

func NewUptimePinger(chains []*types.Chain, logger types.Logger) (*UptimePinger, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &UptimePinger{
		cron:       cron.New(),
		httpClient: &http.Client{Timeout: pingTimeout},
		logger:     logger,
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, chain := range chains {
		if chain.UptimeWebhookURL == "" {
			continue
		}
		interval := chain.UptimeInterval
		if interval <= 0 {
			interval = defaultUptimeInterval
		}
		name, url := chain.Name, chain.UptimeWebhookURL
		if _, err := p.cron.AddFunc("@every "+interval.String(), func() {
			if err := p.Ping(p.baseCtx, url); err != nil {
				p.logger.Warnw("UptimePinger: ping failed", "chain", name, "err", err)
			}
		}); err != nil {
			cancel()
			return nil, errors.Wrapf(types.ErrConfigInvalid, "chain %s: uptime interval %s: %v", name, interval, err)
		}
	}
	return p, nil
}

// Jobs returns the number of scheduled webhooks.
func (p *UptimePinger) Jobs() int {
	return len(p.cron.Entries())
}

func (p *UptimePinger) Start() error {
	p.cron.Start()
	p.logger.Infow("UptimePinger: started", "webhooks", p.Jobs())
	return nil
}

// Stop waits for running pings to finish.
func (p *UptimePinger) Stop() error {
	p.cancel()
	<-p.cron.Stop().Done()
	return nil
}

// Ping calls the webhook once.
func (p *UptimePinger) Ping(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "could not build ping request")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "ping request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook answered %s", resp.Status)
	}
	return nil
}
