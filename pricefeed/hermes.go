package pricefeed

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const latestUpdatesPath = "/v2/updates/price/latest"

//go:generate mockery --name Fetcher --output ../internal/mocks/ --case=underscore

// Fetcher fetches the latest signed prices from one endpoint in a single
// request/response exchange.
type Fetcher interface {
	FetchLatest(ctx context.Context, endpoint types.Endpoint, ids []common.Hash) (*types.PriceSet, error)
}

// HermesClient talks to the Pyth Hermes REST API.
type HermesClient struct {
	client *http.Client
}

var _ Fetcher = (*HermesClient)(nil)

func NewHermesClient() *HermesClient {
	return &HermesClient{client: &http.Client{Timeout: 30 * time.Second}}
}

func (h *HermesClient) FetchLatest(ctx context.Context, endpoint types.Endpoint, ids []common.Hash) (*types.PriceSet, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("ids[]", id.Hex())
	}
	q.Set("encoding", "hex")
	q.Set("parsed", "true")
	reqURL := strings.TrimRight(endpoint.URL, "/") + latestUpdatesPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: could not build request", endpoint.Name)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: request failed", endpoint.Name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: could not read body", endpoint.Name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("%s: status %d: %s", endpoint.Name, resp.StatusCode, truncate(body, 200))
	}

	set, err := ParseLatestUpdates(body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: bad response", endpoint.Name)
	}
	set.Endpoint = endpoint.Name
	return set, nil
}

// ParseLatestUpdates decodes a Hermes latest-updates response.
func ParseLatestUpdates(body []byte) (*types.PriceSet, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid json")
	}
	res := gjson.ParseBytes(body)

	set := &types.PriceSet{Prices: map[common.Hash]types.PriceUpdate{}}
	for _, blob := range res.Get("binary.data").Array() {
		data := common.FromHex(blob.String())
		if len(data) == 0 {
			return nil, errors.New("empty update data")
		}
		set.UpdateData = append(set.UpdateData, data)
	}

	for _, p := range res.Get("parsed").Array() {
		update, err := ParsePriceFeed(p)
		if err != nil {
			return nil, err
		}
		set.Prices[update.FeedID] = update
	}
	return set, nil
}

// ParsePriceFeed decodes one Hermes price feed object. Prices and confidences
// arrive as decimal strings.
func ParsePriceFeed(p gjson.Result) (types.PriceUpdate, error) {
	id := p.Get("id").String()
	if id == "" {
		return types.PriceUpdate{}, errors.New("price feed without id")
	}
	price := p.Get("price")
	if !price.Get("price").Exists() || !price.Get("publish_time").Exists() {
		return types.PriceUpdate{}, errors.Errorf("price feed %s is incomplete", id)
	}
	update := types.PriceUpdate{
		FeedID: common.HexToHash(id),
		Value: types.PriceValue{
			Price:       price.Get("price").Int(),
			Conf:        price.Get("conf").Uint(),
			Expo:        int32(price.Get("expo").Int()),
			PublishTime: time.Unix(price.Get("publish_time").Int(), 0),
		},
	}
	if vaa := p.Get("vaa"); vaa.Exists() {
		update.UpdateData = decodeVAA(vaa.String())
	}
	return update, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// decodeVAA accepts the base64 form streams use and the hex form of REST.
func decodeVAA(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		return common.FromHex(s)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return common.FromHex(s)
	}
	return b
}
