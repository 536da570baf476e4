package funnel

import (
	"fmt"
	"sort"

	"tradefunnel/src/model"
)

type scored struct {
	c     model.Candidate
	score float64
}

// rank orders by score desc, then volume desc, then symbol asc.
func rank(items []scored) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.c.Volume != b.c.Volume {
			return a.c.Volume > b.c.Volume
		}
		return a.c.Symbol < b.c.Symbol
	})
}

func truncate(items []scored, limit int) []scored {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func candidates(items []scored) []model.Candidate {
	out := make([]model.Candidate, 0, len(items))
	for _, it := range items {
		out = append(out, it.c)
	}
	return out
}

// Rank returns a ranked copy of cs by composite score with the funnel tie-break.
func Rank(cs []model.Candidate) []model.Candidate {
	items := make([]scored, 0, len(cs))
	for _, c := range cs {
		items = append(items, scored{c: c, score: c.CompositeScore})
	}
	rank(items)
	return candidates(items)
}

// checkSubset verifies every output symbol was present in the input.
func checkSubset(in, out []model.Candidate) error {
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		seen[c.Symbol] = struct{}{}
	}
	for _, c := range out {
		if _, ok := seen[c.Symbol]; !ok {
			return fmt.Errorf("symbol %s introduced mid-funnel", c.Symbol)
		}
	}
	return nil
}
