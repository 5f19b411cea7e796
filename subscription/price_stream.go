package subscription

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/celer-network/oracle-updater/pricefeed"
	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	handshakeTimeout = 10 * time.Second
	readLimit        = 1 << 20
)

type subscribeRequest struct {
	Type   string   `json:"type"`
	IDs    []string `json:"ids"`
	Binary bool     `json:"binary"`
}

// PriceStream keeps a Hermes websocket subscription open and remembers the
// latest update per feed. It reconnects with backoff until stopped.
type PriceStream struct {
	endpoint types.Endpoint
	ids      []common.Hash
	dialer   *websocket.Dialer
	sleeper  Sleeper
	logger   types.Logger

	mutex     sync.RWMutex
	latest    map[common.Hash]types.PriceUpdate
	conn      *websocket.Conn
	connected bool
	started   bool

	done     chan struct{}
	listenWg sync.WaitGroup
}

var _ pricefeed.StreamReader = (*PriceStream)(nil)

// NewPriceStream creates a stream for the given feeds. Can be passed an
// optional sleeper that dictates how often it tries to reconnect.
func NewPriceStream(endpoint types.Endpoint, ids []common.Hash, logger types.Logger, sleepers ...Sleeper) (*PriceStream, error) {
	if !endpoint.Mode.AllowsSubscription() {
		return nil, errors.Errorf("endpoint %s does not allow subscriptions", endpoint.Name)
	}
	var sleeper Sleeper
	if len(sleepers) > 0 {
		sleeper = sleepers[0]
	} else {
		sleeper = NewBackoffSleeper(0, 0)
	}
	return &PriceStream{
		endpoint: endpoint,
		ids:      ids,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		sleeper:  sleeper,
		logger:   logger,
		latest:   map[common.Hash]types.PriceUpdate{},
	}, nil
}

// StreamURL turns a Hermes base URL into its websocket URL.
func StreamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}

func (ps *PriceStream) Start() error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.started {
		return nil
	}
	ps.done = make(chan struct{})
	ps.listenWg.Add(1)
	go ps.listen()
	ps.started = true
	return nil
}

// Stop closes the connection and waits for the listener to exit.
func (ps *PriceStream) Stop() error {
	ps.mutex.Lock()
	if !ps.started {
		ps.mutex.Unlock()
		return nil
	}
	close(ps.done)
	if ps.conn != nil {
		ps.conn.Close()
	}
	ps.started = false
	ps.mutex.Unlock()

	ps.listenWg.Wait()
	ps.logger.Infow("PriceStream: stopped", "endpoint", ps.endpoint.Name)
	return nil
}

// Connected returns whether or not the stream currently holds a subscription.
func (ps *PriceStream) Connected() bool {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()
	return ps.connected
}

// Latest implements pricefeed.StreamReader. Freshness is judged on publish
// time, not on receipt time.
func (ps *PriceStream) Latest(ids []common.Hash, maxAge time.Duration, now time.Time) (*types.PriceSet, bool) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	set := &types.PriceSet{Endpoint: ps.endpoint.Name, Prices: make(map[common.Hash]types.PriceUpdate, len(ids))}
	for _, id := range ids {
		p, ok := ps.latest[id]
		if !ok || len(p.UpdateData) == 0 || now.Sub(p.Value.PublishTime) > maxAge {
			return nil, false
		}
		set.Prices[id] = p
	}
	return set, true
}

func (ps *PriceStream) listen() {
	defer ps.listenWg.Done()
	defer ps.closeConn()

	for {
		if !ps.subscribe() {
			return
		}
		if err := ps.receive(); err != nil {
			ps.logger.Warnw("PriceStream: subscription dropped", "endpoint", ps.endpoint.Name, "err", err)
			ps.closeConn()
			continue
		}
		return
	}
}

// subscribe periodically attempts to connect. It returns true on success and
// false if cut short by Stop.
func (ps *PriceStream) subscribe() bool {
	ps.sleeper.Reset()
	for {
		ps.logger.Debugw("PriceStream: connecting", "endpoint", ps.endpoint.Name, "in", ps.sleeper.Duration())
		select {
		case <-ps.done:
			return false
		case <-time.After(ps.sleeper.After()):
			if err := ps.connect(); err != nil {
				ps.logger.Warnw("PriceStream: failed to connect", "endpoint", ps.endpoint.Name, "err", err)
				continue
			}
			ps.logger.Infow("PriceStream: subscribed", "endpoint", ps.endpoint.Name, "feeds", len(ps.ids))
			return true
		}
	}
}

func (ps *PriceStream) connect() error {
	wsURL, err := StreamURL(ps.endpoint.URL)
	if err != nil {
		return err
	}
	conn, _, err := ps.dialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(readLimit)

	req := subscribeRequest{Type: "subscribe", Binary: true}
	for _, id := range ps.ids {
		req.IDs = append(req.IDs, id.Hex())
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return errors.Wrap(err, "could not send subscribe request")
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	select {
	case <-ps.done:
		conn.Close()
		return errors.New("stopped while connecting")
	default:
	}
	ps.conn = conn
	ps.connected = true
	return nil
}

func (ps *PriceStream) closeConn() {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	if ps.conn != nil {
		ps.conn.Close()
		ps.conn = nil
	}
	ps.connected = false
}

// receive returns nil only when the stream was stopped.
func (ps *PriceStream) receive() error {
	ps.mutex.RLock()
	conn := ps.conn
	ps.mutex.RUnlock()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ps.done:
				return nil
			default:
				return err
			}
		}
		if err := ps.handleMessage(msg); err != nil {
			return err
		}
	}
}

func (ps *PriceStream) handleMessage(msg []byte) error {
	if !gjson.ValidBytes(msg) {
		return errors.New("invalid message")
	}
	res := gjson.ParseBytes(msg)
	switch res.Get("type").String() {
	case "response":
		if res.Get("status").String() != "success" {
			return errors.Errorf("subscription refused: %s", res.Get("error").String())
		}
	case "price_update":
		update, err := pricefeed.ParsePriceFeed(res.Get("price_feed"))
		if err != nil {
			ps.logger.Debugw("PriceStream: ignoring bad update", "endpoint", ps.endpoint.Name, "err", err)
			return nil
		}
		ps.store(update)
	default:
		ps.logger.Tracew("PriceStream: ignoring message", "msg", json.RawMessage(msg))
	}
	return nil
}

// store keeps the newest update per feed.
func (ps *PriceStream) store(update types.PriceUpdate) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	if prev, ok := ps.latest[update.FeedID]; ok && prev.Value.PublishTime.After(update.Value.PublishTime) {
		return
	}
	ps.latest[update.FeedID] = update
}
