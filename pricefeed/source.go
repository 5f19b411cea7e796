package pricefeed

import (
	"context"
	"strings"
	"time"

	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/common"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// StreamReader serves the most recent prices a subscription has received.
type StreamReader interface {
	// Latest returns prices for all ids, or false if any is missing or older
	// than maxAge.
	Latest(ids []common.Hash, maxAge time.Duration, now time.Time) (*types.PriceSet, bool)
}

type cachedSet struct {
	set       *types.PriceSet
	fetchedAt time.Time
}

// Source fetches a usable price set by trying ranked endpoints in order.
type Source struct {
	endpoints    []types.Endpoint
	rest         Fetcher
	streams      map[string]StreamReader
	timeout      time.Duration
	streamMaxAge time.Duration
	httpCacheTTL time.Duration
	responses    cmap.ConcurrentMap[string, cachedSet]
	logger       types.Logger
	now          func() time.Time
}

// NewSource creates a Source over already ranked endpoints.
func NewSource(config *types.Config, rest Fetcher) *Source {
	return &Source{
		endpoints:    config.Endpoints,
		rest:         rest,
		streams:      map[string]StreamReader{},
		timeout:      config.EndpointTimeout,
		streamMaxAge: config.StreamMaxAge,
		httpCacheTTL: config.HTTPCacheTTL,
		responses:    cmap.New[cachedSet](),
		logger:       config.Logger,
		now:          time.Now,
	}
}

// AttachStream registers a subscription for the named endpoint. It is only
// consulted when the endpoint's mode allows subscriptions.
func (s *Source) AttachStream(endpointName string, stream StreamReader) {
	s.streams[endpointName] = stream
}

// Endpoints returns the ranked endpoint list.
func (s *Source) Endpoints() []types.Endpoint {
	return s.endpoints
}

// Fetch returns the first usable price set covering every requested feed.
// When every endpoint fails the error wraps types.ErrEndpointFailure.
func (s *Source) Fetch(ctx context.Context, ids []common.Hash) (*types.PriceSet, error) {
	var errs error
	for _, endpoint := range s.endpoints {
		set, err := s.fetchFrom(ctx, endpoint, ids)
		if err == nil {
			return set, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Debugw("Source: endpoint failed, trying next",
			"endpoint", endpoint.Name,
			"err", err,
		)
		errs = multierr.Append(errs, err)
	}
	if errs == nil {
		errs = errors.New("no endpoints configured")
	}
	return nil, errors.Wrap(types.ErrEndpointFailure, errs.Error())
}

func (s *Source) fetchFrom(ctx context.Context, endpoint types.Endpoint, ids []common.Hash) (*types.PriceSet, error) {
	if endpoint.Mode.AllowsSubscription() {
		if stream, ok := s.streams[endpoint.Name]; ok {
			if set, ok := stream.Latest(ids, s.streamMaxAge, s.now()); ok {
				return set, nil
			}
			if !endpoint.Mode.AllowsREST() {
				return nil, errors.Errorf("%s: stream has no fresh prices", endpoint.Name)
			}
		}
	}
	if !endpoint.Mode.AllowsREST() {
		return nil, errors.Errorf("%s: subscription-only endpoint has no stream", endpoint.Name)
	}

	key := responseKey(endpoint, ids)
	if s.httpCacheTTL > 0 {
		if c, ok := s.responses.Get(key); ok && s.now().Sub(c.fetchedAt) < s.httpCacheTTL {
			return c.set, nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	set, err := s.rest.FetchLatest(fetchCtx, endpoint, ids)
	if err != nil {
		return nil, err
	}
	if err := covers(set, ids); err != nil {
		return nil, errors.Wrap(err, endpoint.Name)
	}
	if s.httpCacheTTL > 0 {
		s.responses.Set(key, cachedSet{set: set, fetchedAt: s.now()})
	}
	return set, nil
}

// covers checks that a set is usable for the requested feeds.
func covers(set *types.PriceSet, ids []common.Hash) error {
	for _, id := range ids {
		if _, ok := set.Prices[id]; !ok {
			return errors.Errorf("missing price for %s", id.Hex())
		}
	}
	if len(set.UpdateDataFor(ids)) == 0 {
		return errors.New("missing update data")
	}
	return nil
}

func responseKey(endpoint types.Endpoint, ids []common.Hash) string {
	var b strings.Builder
	b.WriteString(endpoint.Name)
	for _, id := range ids {
		b.WriteByte('|')
		b.WriteString(id.Hex())
	}
	return b.String()
}
