package batch

import (
	"sort"
	"time"

	"github.com/celer-network/oracle-updater/staleness"
	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/common"
)

// Candidate is a batch with at least one due member, carrying the fetched
// value of every member since the whole batch is written atomically.
type Candidate struct {
	Batch  *types.Batch
	Values []types.PriceUpdate
	Due    map[common.Hash]staleness.Result
	Source string

	set *types.PriceSet
}

// UpdateDataFor returns the signed payload to submit for one member feed.
func (c *Candidate) UpdateDataFor(id common.Hash) [][]byte {
	return c.set.UpdateDataFor([]common.Hash{id})
}

// SharedUpdateData reports whether one combined payload covers every member.
func (c *Candidate) SharedUpdateData() bool {
	return c.set.Aggregate()
}

// Reasons lists the distinct rules that fired, sorted for stable logs.
func (c *Candidate) Reasons() []string {
	seen := map[staleness.Reason]bool{}
	var out []string
	for _, r := range c.Due {
		if !seen[r.Reason] {
			seen[r.Reason] = true
			out = append(out, string(r.Reason))
		}
	}
	sort.Strings(out)
	return out
}

// Evaluate runs the staleness rules for every member of a batch that has a
// fetched candidate.
func Evaluate(b *types.Batch, onChain map[common.Hash]types.PriceValue, set *types.PriceSet, now time.Time) map[common.Hash]staleness.Result {
	results := make(map[common.Hash]staleness.Result, len(b.Feeds))
	for _, feed := range b.Feeds {
		candidate, ok := set.Prices[feed.ID]
		if !ok {
			continue
		}
		results[feed.ID] = staleness.Evaluate(feed, onChain[feed.ID], candidate.Value, now)
	}
	return results
}

// Plan emits one candidate per batch that has a due member. Batches are
// independent and keep their input order.
func Plan(batches []*types.Batch, results map[common.Hash]staleness.Result, set *types.PriceSet) []*Candidate {
	var candidates []*Candidate
	for _, b := range batches {
		due := map[common.Hash]staleness.Result{}
		for _, feed := range b.Feeds {
			if r, ok := results[feed.ID]; ok && r.Due {
				due[feed.ID] = r
			}
		}
		if len(due) == 0 {
			continue
		}

		c := &Candidate{Batch: b, Due: due, Source: set.Endpoint, set: set}
		for _, feed := range b.Feeds {
			if v, ok := set.Prices[feed.ID]; ok {
				c.Values = append(c.Values, v)
			}
		}
		candidates = append(candidates, c)
	}
	return candidates
}
