package pipeline

import (
	"sort"
	"strings"
	"time"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// DefaultTopN is the creative ranking size when none is configured.
const DefaultTopN = 20

// Status groups, in the order they are reported.
const (
	StatusGroupOpen  = "aberto"
	StatusGroupWon   = "ganho"
	StatusGroupLost  = "perdido"
	StatusGroupOther = "outros"
)

var statusGroupOrder = []string{StatusGroupOpen, StatusGroupWon, StatusGroupLost, StatusGroupOther}

// statusKeywords is checked won → lost → open so "ganho (fechado)" is never
// read as open.
var statusKeywords = []struct {
	group    string
	keywords []string
}{
	{StatusGroupWon, []string{"ganho", "won", "fechado", "concluido", "cliente", "converted"}},
	{StatusGroupLost, []string{"perdido", "cancelado", "desistiu", "no show", "falhou", "lost"}},
	{StatusGroupOpen, []string{"aberto", "em andamento", "pendente", "novo", "em analise", "open"}},
}

// categoryRoles lists the distributions computed for each resolved role.
var categoryRoles = []struct {
	category model.Category
	role     model.Role
	value    func(r *model.NormalizedRecord) string
}{
	{model.CategoryStatus, model.RoleStatus, func(r *model.NormalizedRecord) string { return r.Status }},
	{model.CategorySource, model.RoleSource, func(r *model.NormalizedRecord) string { return r.Origin }},
	{model.CategoryOwner, model.RoleOwner, func(r *model.NormalizedRecord) string { return r.Owner }},
	{model.CategoryPhase, model.RolePhase, func(r *model.NormalizedRecord) string { return r.Phase }},
	{model.CategoryTerm, model.RoleTerm, func(r *model.NormalizedRecord) string { return r.Term }},
}

// AggregateOptions tunes KPI derivation.
type AggregateOptions struct {
	TopN int
}

// Aggregate derives KPIs from normalized records. Totals and ratios exist
// only for roles the schema resolved; every ratio with a zero denominator
// is 0. A nil resolver is a programming error.
func Aggregate(records []model.NormalizedRecord, schema model.Schema, resolver *PhaseResolver, opts AggregateOptions) model.KPIResult {
	if resolver == nil {
		panic("pipeline: Aggregate called without a phase resolver")
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}

	res := model.KPIResult{
		Records:       len(records),
		Series:        []model.SeriesPoint{},
		Distributions: make(map[model.Category]model.Distribution),
	}

	var leads, mqls, cost float64
	for i := range records {
		leads += records[i].Leads
		mqls += records[i].MQLs
		cost += records[i].Cost
	}

	hasLeads, hasMQLs, hasCost := schema.HasLeads(), schema.HasMQLs(), schema.Has(model.RoleCostTotal)
	if hasLeads {
		res.Totals.Leads = model.Float(leads)
	}
	if hasMQLs {
		res.Totals.MQLs = model.Float(mqls)
	}
	if hasCost {
		res.Totals.Investment = model.Float(cost)
	}
	if hasCost && hasLeads {
		res.CostPerLead = model.Float(safeDiv(cost, leads))
	}
	if hasCost && hasMQLs {
		res.CostPerMQL = model.Float(safeDiv(cost, mqls))
	}
	if hasLeads && hasMQLs {
		res.MQLRate = model.Float(safeDiv(mqls, leads))
	}

	creativeOf := creativeIdentity(schema)

	if schema.Has(model.RoleDate) {
		res.Series = buildSeries(records, creativeOf)
	}

	for _, c := range categoryRoles {
		if !schema.Has(c.role) {
			continue
		}
		res.Distributions[c.category] = buildDistribution(records, c.value, c.category == model.CategoryPhase, resolver)
	}

	if schema.Has(model.RoleStatus) {
		res.StatusGroups = buildStatusGroups(records)
	}

	if creativeOf != nil {
		res.Creatives = buildCreativeRanking(records, creativeOf, opts.TopN)
	}

	return res
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finite(num / den)
}

// creativeIdentity returns the function naming a record's creative, or nil
// when the schema has neither a creative nor a campaign column.
func creativeIdentity(schema model.Schema) func(r *model.NormalizedRecord) string {
	hasCreative, hasCampaign := schema.Has(model.RoleCreativeID), schema.Has(model.RoleCampaignID)
	switch {
	case hasCreative && hasCampaign:
		return func(r *model.NormalizedRecord) string { return r.Campaign + " | " + r.Creative }
	case hasCreative:
		return func(r *model.NormalizedRecord) string { return r.Creative }
	case hasCampaign:
		return func(r *model.NormalizedRecord) string { return r.Campaign }
	}
	return nil
}

func buildSeries(records []model.NormalizedRecord, creativeOf func(*model.NormalizedRecord) string) []model.SeriesPoint {
	type bucket struct {
		day       time.Time
		point     model.SeriesPoint
		creatives map[string]struct{}
	}
	buckets := make(map[string]*bucket)

	for i := range records {
		r := &records[i]
		if r.Date == nil {
			continue
		}
		b, ok := buckets[r.DateLabel]
		if !ok {
			y, m, d := r.Date.Date()
			b = &bucket{
				day:       time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
				point:     model.SeriesPoint{Date: r.DateLabel},
				creatives: make(map[string]struct{}),
			}
			buckets[r.DateLabel] = b
		}
		b.point.Leads += r.Leads
		b.point.MQLs += r.MQLs
		b.point.Cost += r.Cost
		b.point.Records++
		if creativeOf != nil {
			b.creatives[creativeOf(r)] = struct{}{}
		}
	}

	sorted := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		b.point.Creatives = len(b.creatives)
		sorted = append(sorted, b)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].day.Before(sorted[j].day) })

	series := make([]model.SeriesPoint, len(sorted))
	for i, b := range sorted {
		series[i] = b.point
	}
	return series
}

func buildDistribution(records []model.NormalizedRecord, value func(*model.NormalizedRecord) string, byPhase bool, resolver *PhaseResolver) model.Distribution {
	counts := make(map[string]int)
	for i := range records {
		if v := value(&records[i]); v != "" {
			counts[v]++
		}
	}

	dist := make(model.Distribution, 0, len(counts))
	for label, n := range counts {
		b := model.Bucket{Label: label, Count: n}
		if byPhase {
			if pr := resolver.Resolve(label); pr.Resolved {
				b.Rank = pr.Rank
			}
		}
		dist = append(dist, b)
	}

	if byPhase {
		sort.Slice(dist, func(i, j int) bool { return resolver.Less(dist[i].Label, dist[j].Label) })
		return dist
	}
	sort.Slice(dist, func(i, j int) bool {
		if dist[i].Count != dist[j].Count {
			return dist[i].Count > dist[j].Count
		}
		return dist[i].Label < dist[j].Label
	})
	return dist
}

// StatusGroup buckets a CRM status into aberto, ganho, perdido or outros.
func StatusGroup(status string) string {
	s := normalizeLabel(status)
	for _, g := range statusKeywords {
		for _, kw := range g.keywords {
			if strings.Contains(s, kw) {
				return g.group
			}
		}
	}
	return StatusGroupOther
}

func buildStatusGroups(records []model.NormalizedRecord) model.Distribution {
	counts := make(map[string]int, len(statusGroupOrder))
	for i := range records {
		counts[StatusGroup(records[i].Status)]++
	}
	dist := make(model.Distribution, len(statusGroupOrder))
	for i, g := range statusGroupOrder {
		dist[i] = model.Bucket{Label: g, Count: counts[g]}
	}
	return dist
}

func buildCreativeRanking(records []model.NormalizedRecord, creativeOf func(*model.NormalizedRecord) string, topN int) *model.CreativeRanking {
	stats := make(map[string]*model.CreativeStat)
	for i := range records {
		r := &records[i]
		key := creativeOf(r)
		s, ok := stats[key]
		if !ok {
			s = &model.CreativeStat{Creative: key}
			stats[key] = s
		}
		s.Leads += r.Leads
		s.MQLs += r.MQLs
		s.Investment += r.Cost
		s.Appearances++
	}

	ranked := make([]model.CreativeStat, 0, len(stats))
	var sumLeads, sumMQLs float64
	for _, s := range stats {
		n := float64(s.Appearances)
		s.LeadsPerAppearance = safeDiv(s.Leads, n)
		s.MQLsPerAppearance = safeDiv(s.MQLs, n)
		s.ConversionRate = safeDiv(s.MQLs, s.Leads)
		s.CostPerLead = safeDiv(s.Investment, s.Leads)
		s.CostPerMQL = safeDiv(s.Investment, s.MQLs)
		sumLeads += s.Leads
		sumMQLs += s.MQLs
		ranked = append(ranked, *s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Leads != b.Leads {
			return a.Leads > b.Leads
		}
		if a.MQLs != b.MQLs {
			return a.MQLs > b.MQLs
		}
		return a.Creative < b.Creative
	})

	out := &model.CreativeRanking{Total: len(ranked), Top: []model.CreativeStat{}}
	if len(ranked) == 0 {
		return out
	}

	out.AvgLeads = sumLeads / float64(len(ranked))
	out.AvgMQLs = sumMQLs / float64(len(ranked))

	byLeads := ranked[0]
	out.TopByLeads = &byLeads
	byMQLs := ranked[0]
	for _, s := range ranked[1:] {
		if s.MQLs > byMQLs.MQLs {
			byMQLs = s
		}
	}
	out.TopByMQLs = &byMQLs

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	out.Top = ranked
	return out
}
