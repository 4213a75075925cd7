package engine

import (
	"sort"

	"github.com/duskdb/duskdb/meas"
)

// toSet converts a requested id slice into the map form every tier's scan
// methods expect; an empty slice becomes an empty (nil) map, which each
// tier treats as "match every known id" rather than "match nothing".
func toSet(ids []uint32) map[uint32]struct{} {
	if len(ids) == 0 {
		return nil
	}

	out := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}

	return out
}

// tieredSample pairs a measurement with the priority of the tier it came
// from, so a merge can prefer "newer tier overrides older tier at equal
// time" (MEM > WAL > PAGE; by-step is disjoint from the three but carries
// its own priority for uniformity).
type tieredSample struct {
	m        meas.Measurement
	priority int
}

const (
	tierByStep = iota
	tierPage
	tierWAL
	tierMem
)

// dedupeSorted sorts samples by (id, time) and, within a tied (id, time)
// pair, keeps only the highest-priority tier's value — the newer tier
// overrides the older one at equal time. The result is in ascending
// (id, time) order, which is what Interval promises its caller.
func dedupeSorted(samples []tieredSample) []meas.Measurement {
	sortTiered(samples)

	out := make([]meas.Measurement, 0, len(samples))
	for _, s := range samples {
		if n := len(out); n > 0 && out[n-1].ID == s.m.ID && out[n-1].Time == s.m.Time {
			continue
		}
		out = append(out, s.m)
	}

	return out
}

// sortTiered orders by (id asc, time asc, priority desc) so the
// highest-priority tier within a tied (id, time) pair sorts first,
// letting dedupeSorted's "keep the first occurrence" rule pick it.
func sortTiered(samples []tieredSample) {
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].m.ID != samples[j].m.ID {
			return samples[i].m.ID < samples[j].m.ID
		}
		if samples[i].m.Time != samples[j].m.Time {
			return samples[i].m.Time < samples[j].m.Time
		}

		return samples[i].priority > samples[j].priority
	})
}

// pickLatestPerID reduces samples to the single greatest-time entry per
// series id, breaking exact-time ties by tier priority — the shared core
// of TimePoint and CurrentValue, which both ask "what's the latest
// qualifying value per id" over a bounded time window.
func pickLatestPerID(samples []tieredSample) map[uint32]meas.Measurement {
	best := make(map[uint32]meas.Measurement, len(samples))
	bestPriority := make(map[uint32]int, len(samples))

	for _, s := range samples {
		cur, ok := best[s.m.ID]
		switch {
		case !ok:
			best[s.m.ID] = s.m
			bestPriority[s.m.ID] = s.priority
		case s.m.Time > cur.Time:
			best[s.m.ID] = s.m
			bestPriority[s.m.ID] = s.priority
		case s.m.Time == cur.Time && s.priority > bestPriority[s.m.ID]:
			best[s.m.ID] = s.m
			bestPriority[s.m.ID] = s.priority
		}
	}

	return best
}
