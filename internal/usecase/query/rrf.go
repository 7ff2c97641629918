package query

import (
	"sort"

	"github.com/kailas-cloud/memex/internal/vector"
)

// rrfK is the Reciprocal Rank Fusion constant (standard value from Cormack et al. 2009).
const rrfK = 60

// fuseRRF merges vector and keyword hit lists via Reciprocal Rank Fusion.
// score(d) = sum of 1/(k + rank_i(d)) for each ranking where d appears.
// Ties keep the order in which ids were first seen, vector list first.
func fuseRRF(knn, keyword []vector.Hit, topK int) []vector.Hit {
	scores := make(map[string]float64, len(knn)+len(keyword))
	order := make([]string, 0, len(knn)+len(keyword))

	for _, list := range [][]vector.Hit{knn, keyword} {
		for rank, h := range list {
			if _, seen := scores[h.ID]; !seen {
				order = append(order, h.ID)
			}
			scores[h.ID] += 1.0 / float64(rrfK+rank+1)
		}
	}

	fused := make([]vector.Hit, len(order))
	for i, id := range order {
		fused[i] = vector.Hit{ID: id, Score: scores[id]}
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})

	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}
