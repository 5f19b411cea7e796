package pricefeed

import (
	"math"
	"sort"

	"github.com/celer-network/oracle-updater/types"
)

// EndpointConfig is an endpoint as declared in configuration, with its
// per-worker priority table.
type EndpointConfig struct {
	Name     string
	URL      string
	Mode     types.EndpointMode
	Priority map[int]int
}

// PriorityOf returns the endpoint's priority for a worker. An endpoint without
// an entry for the worker sorts after every ranked one.
func PriorityOf(e EndpointConfig, worker types.WorkerIdentity) int {
	if p, ok := e.Priority[worker.Index]; ok {
		return p
	}
	return math.MaxInt
}

// RankEndpoints orders endpoints ascending by priority for the worker. Ties
// keep declaration order. Priority data does not survive ranking.
func RankEndpoints(entries []EndpointConfig, worker types.WorkerIdentity) []types.Endpoint {
	sorted := make([]EndpointConfig, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return PriorityOf(sorted[i], worker) < PriorityOf(sorted[j], worker)
	})

	ranked := make([]types.Endpoint, 0, len(sorted))
	for _, e := range sorted {
		mode := e.Mode
		if mode == "" {
			mode = types.EndpointModeBoth
		}
		ranked = append(ranked, types.Endpoint{Name: e.Name, URL: e.URL, Mode: mode})
	}
	return ranked
}
