package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceValue is a Pyth style fixed point price: Price * 10^Expo.
type PriceValue struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime time.Time
}

// Decimal renders the value for logs and the status endpoint.
func (p PriceValue) Decimal() decimal.Decimal {
	return decimal.New(p.Price, p.Expo)
}

// PriceUpdate is one fetched candidate for a feed.
type PriceUpdate struct {
	FeedID common.Hash
	Value  PriceValue
	// UpdateData is the per-feed signed blob when the source delivers one.
	UpdateData []byte
}

// PriceSet is the result of one successful fetch.
type PriceSet struct {
	Endpoint string
	Prices   map[common.Hash]PriceUpdate
	// UpdateData holds combined blobs covering every requested feed, if the
	// source delivered them that way.
	UpdateData [][]byte
}

// Aggregate reports whether the set carries combined blobs rather than one
// blob per feed.
func (s *PriceSet) Aggregate() bool {
	return len(s.UpdateData) > 0
}

// UpdateDataFor returns the signed payloads needed to write the given feeds.
func (s *PriceSet) UpdateDataFor(ids []common.Hash) [][]byte {
	if s.Aggregate() {
		return s.UpdateData
	}
	var data [][]byte
	for _, id := range ids {
		if p, ok := s.Prices[id]; ok && len(p.UpdateData) > 0 {
			data = append(data, p.UpdateData)
		}
	}
	return data
}
