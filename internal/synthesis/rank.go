package synthesis

import (
	"math"
	"sort"

	"github.com/runnervision/runnervision/internal/intent"
	"github.com/runnervision/runnervision/internal/routing"
)

// unknownRisk is used when no candidate has a known risk score.
const unknownRisk = 0.5

// Rank orders the candidates without side effects:
//  1. blocked candidates are excluded, unless that would exclude all of them;
//  2. safety emphasis, or the all-blocked fallback, ranks by ascending risk, with unknown
//     risk taken as the median of the known scores; otherwise candidates are ranked by how
//     close their length is to the target;
//  3. ties go to the lower id.
func Rank(in Input) Ranking {
	var r Ranking
	if len(in.Candidates) == 0 {
		return r
	}

	eligible := make([]routing.Candidate, 0, len(in.Candidates))
	for _, c := range in.Candidates {
		if ann, ok := in.Closures[c.ID]; ok && ann.Blocked {
			r.Excluded = append(r.Excluded, c.ID)
			continue
		}
		eligible = append(eligible, c)
	}

	allBlocked := len(eligible) == 0
	if allBlocked {
		eligible = append(eligible, in.Candidates...)
		r.Excluded = nil
		r.Warnings = append(r.Warnings, WarnAllBlocked)
	}
	sort.Ints(r.Excluded)

	keys := make(map[int]float64, len(eligible))
	if in.Intent.Emphasis == intent.EmphasisSafety || allBlocked {
		r.By = RankedByRisk
		estimated := 0
		fill := medianRisk(in, eligible)
		for _, c := range eligible {
			if ann, ok := in.Safety[c.ID]; ok {
				keys[c.ID] = ann.RiskScore
				continue
			}
			keys[c.ID] = fill
			estimated++
		}
		switch {
		case len(in.Safety) == 0:
			r.Warnings = append(r.Warnings, WarnRiskUnverified)
		case estimated > 0:
			r.Warnings = append(r.Warnings, RiskEstimatedWarning(estimated, len(eligible)))
		}
	} else {
		r.By = RankedByDistance
		target := in.Intent.Target(in.TargetKm)
		for _, c := range eligible {
			keys[c.ID] = math.Abs(c.LengthKm - target)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ki, kj := keys[eligible[i].ID], keys[eligible[j].ID]
		if ki != kj {
			return ki < kj
		}
		return eligible[i].ID < eligible[j].ID
	})

	r.IDs = routing.IDs(eligible)
	return r
}

// medianRisk is the median known risk among candidates, or unknownRisk when none is known.
func medianRisk(in Input, candidates []routing.Candidate) float64 {
	known := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		if ann, ok := in.Safety[c.ID]; ok {
			known = append(known, ann.RiskScore)
		}
	}
	if len(known) == 0 {
		return unknownRisk
	}
	sort.Float64s(known)
	mid := len(known) / 2
	if len(known)%2 == 1 {
		return known[mid]
	}
	return (known[mid-1] + known[mid]) / 2
}
