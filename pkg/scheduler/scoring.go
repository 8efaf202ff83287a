package scheduler

import (
	"sort"

	"github.com/arc-pbc-co/arcnet-scheduler/pkg/geohash"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/types"
)

// ScoredNode pairs a candidate node with its computed score.
type ScoredNode struct {
	Node  *types.Node
	Score float64
}

// EstimatedLatencyMS estimates request-to-node latency from the
// requester's and node's geohashes. A missing geohash on either side
// falls back to the spec's fixed 50ms estimate.
func EstimatedLatencyMS(requesterGeohash, nodeGeohash string) float64 {
	if requesterGeohash == "" || nodeGeohash == "" {
		return 50
	}
	return 1.0 + 0.1*geohash.DistanceKM(requesterGeohash, nodeGeohash)
}

// Score computes the scheduler's scoring function for node n relative
// to a requester at requesterGeohash:
//
//	score = (solar ? +1.0 : 0) + (battery > 0.8 ? +0.5 : 0)
//	        - 0.2 * (latency_ms / 10) - gpu_utilization
//
// Score is strictly decreasing in gpu_utilization and in estimated
// latency, holding all else equal.
func Score(requesterGeohash string, n *types.Node) float64 {
	var score float64
	if n.EnergySource == types.EnergySolar {
		score += 1.0
	}
	if n.BatteryLevel > 0.8 {
		score += 0.5
	}
	latency := EstimatedLatencyMS(requesterGeohash, n.Geohash)
	score -= 0.2 * (latency / 10)
	score -= n.GPUUtilization
	return score
}

// TopN scores every node in nodes relative to requesterGeohash, sorts
// descending by score, and returns at most n results. Ties are broken
// deterministically by ascending node id.
func TopN(nodes []*types.Node, requesterGeohash string, n int) []ScoredNode {
	scored := make([]ScoredNode, len(nodes))
	for i, node := range nodes {
		scored[i] = ScoredNode{Node: node, Score: Score(requesterGeohash, node)}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Node.ID.String() < scored[j].Node.ID.String()
	})

	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}
