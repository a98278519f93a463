package pipeline

import (
	"sort"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// RecordGroup is the normalized output of one source. Higher priority
// sources win conflicts.
type RecordGroup struct {
	Priority int
	Records  []model.NormalizedRecord
}

// Merge combines groups into one collection with at most one record per
// identity key. Groups are applied in ascending priority (stable for equal
// priorities) and within a group later rows overwrite earlier ones. Output
// keeps first-seen order. The second return value counts overwritten records.
func Merge(groups []RecordGroup) ([]model.NormalizedRecord, int) {
	ordered := make([]RecordGroup, len(groups))
	copy(ordered, groups)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	index := make(map[string]int)
	var out []model.NormalizedRecord
	duplicates := 0

	for _, g := range ordered {
		for _, rec := range g.Records {
			if pos, ok := index[rec.Key]; ok {
				out[pos] = rec
				duplicates++
				continue
			}
			index[rec.Key] = len(out)
			out = append(out, rec)
		}
	}
	return out, duplicates
}
