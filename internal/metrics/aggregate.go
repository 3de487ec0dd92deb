// Package metrics computes spike-rate and averaged statistics over a result
// batch, with an optional restriction to the first bad rewind per origin.
package metrics

import (
	"sort"

	"usitune/internal/runner"
	"usitune/internal/target"
)

// Report is the aggregate record. Pointer fields are null when there is no
// valid data to compute them from; that is a structured "no data" outcome,
// not an error.
type Report struct {
	Total            int      `json:"total"`
	Valid            int      `json:"valid"`
	BadCount         int      `json:"bad_count"`
	SpikeRatePercent *float64 `json:"spike_rate_percent"`
	AvgCP            *float64 `json:"avg_cp"`
	AvgDepth         *float64 `json:"avg_depth"`
	BadThresholdCP   int      `json:"bad_threshold_cp"`
	NoData           bool     `json:"no_data,omitempty"`
}

// Aggregate computes the report over a result set. valid counts results with
// a non-null score; bad counts valid results at or below the badness
// threshold; the spike rate is bad/valid as a percentage, null iff valid
// is zero.
func Aggregate(results []runner.EvalResult, badThresholdCP int) Report {
	rep := Report{Total: len(results), BadThresholdCP: badThresholdCP}

	var sumCP, sumDepth float64
	for _, r := range results {
		if r.EvalCP == nil {
			continue
		}
		rep.Valid++
		sumCP += float64(*r.EvalCP)
		sumDepth += float64(r.Depth)
		if *r.EvalCP <= badThresholdCP {
			rep.BadCount++
		}
	}

	if rep.Valid == 0 {
		rep.NoData = true
		return rep
	}
	rate := float64(rep.BadCount) / float64(rep.Valid) * 100.0
	avgCP := sumCP / float64(rep.Valid)
	avgDepth := sumDepth / float64(rep.Valid)
	rep.SpikeRatePercent = &rate
	rep.AvgCP = &avgCP
	rep.AvgDepth = &avgDepth
	return rep
}

// FirstBadPerOrigin selects, for each origin transcript, the result of the
// shallowest rewind that already evaluates at or below the badness
// threshold. That is the point where the cause of the blunder first shows.
// Origins with no qualifying rewind contribute nothing: no finding is a
// valid outcome, not an error.
func FirstBadPerOrigin(batch *target.Batch, results []runner.EvalResult, profileName string, badThresholdCP int) []runner.EvalResult {
	byKey := make(map[string]runner.EvalResult, len(results))
	for _, r := range results {
		if r.Profile == profileName {
			byKey[r.Tag] = r
		}
	}

	byOrigin := make(map[string][]target.Target)
	var originOrder []string
	for _, t := range batch.Targets {
		if t.OriginLog == "" {
			continue
		}
		if _, seen := byOrigin[t.OriginLog]; !seen {
			originOrder = append(originOrder, t.OriginLog)
		}
		byOrigin[t.OriginLog] = append(byOrigin[t.OriginLog], t)
	}

	var chosen []runner.EvalResult
	for _, origin := range originOrder {
		items := byOrigin[origin]
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].BackPlies < items[j].BackPlies
		})
		for _, t := range items {
			r, ok := byKey[t.Tag]
			if !ok || r.EvalCP == nil {
				continue
			}
			if *r.EvalCP <= badThresholdCP {
				chosen = append(chosen, r)
				break
			}
		}
	}
	return chosen
}
