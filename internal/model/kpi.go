package model

import (
	"slices"
	"time"
)

// Category names a categorical dimension that gets a distribution.
type Category string

const (
	CategoryStatus Category = "status"
	CategorySource Category = "source"
	CategoryOwner  Category = "owner"
	CategoryPhase  Category = "phase"
	CategoryTerm   Category = "term"
)

// Bucket is one entry of a distribution. Rank is set only for phase buckets.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
	Rank  int    `json:"rank,omitempty"`
}

// Distribution is an ordered list of buckets.
type Distribution []Bucket

// SeriesPoint aggregates all records sharing a canonical date.
type SeriesPoint struct {
	Date      string  `json:"date"` // DD/MM/YYYY
	Leads     float64 `json:"leads"`
	MQLs      float64 `json:"mqls"`
	Cost      float64 `json:"cost"`
	Records   int     `json:"records"`
	Creatives int     `json:"creatives"`
}

// CreativeStat holds per-creative performance.
type CreativeStat struct {
	Creative           string  `json:"creative"`
	Leads              float64 `json:"leads"`
	MQLs               float64 `json:"mqls"`
	Investment         float64 `json:"investment"`
	Appearances        int     `json:"appearances"`
	LeadsPerAppearance float64 `json:"leads_per_appearance"`
	MQLsPerAppearance  float64 `json:"mqls_per_appearance"`
	ConversionRate     float64 `json:"conversion_rate"`
	CostPerLead        float64 `json:"cpl"`
	CostPerMQL         float64 `json:"cpmql"`
}

// CreativeRanking is the top-N creative table plus summary figures.
type CreativeRanking struct {
	Top        []CreativeStat `json:"top"`
	Total      int            `json:"total_creatives"`
	AvgLeads   float64        `json:"avg_leads_per_creative"`
	AvgMQLs    float64        `json:"avg_mqls_per_creative"`
	TopByLeads *CreativeStat  `json:"top_lead_creative,omitempty"`
	TopByMQLs  *CreativeStat  `json:"top_mql_creative,omitempty"`
}

// Totals are present only for roles the schema resolved. A nil field means
// "no data", which callers must distinguish from zero.
type Totals struct {
	Leads      *float64 `json:"total_leads,omitempty"`
	MQLs       *float64 `json:"total_mqls,omitempty"`
	Investment *float64 `json:"investment_total,omitempty"`
}

// KPIResult is the full derived output of one pipeline run.
type KPIResult struct {
	Records int    `json:"records"`
	Totals  Totals `json:"totals"`

	CostPerLead *float64 `json:"cost_per_lead,omitempty"`
	CostPerMQL  *float64 `json:"cost_per_mql,omitempty"`
	MQLRate     *float64 `json:"mql_rate,omitempty"`

	Series        []SeriesPoint             `json:"series"`
	Distributions map[Category]Distribution `json:"distributions"`
	StatusGroups  Distribution              `json:"status_groups,omitempty"`
	Creatives     *CreativeRanking          `json:"creatives,omitempty"`
}

// Diagnostics reports data-quality facts about a run.
type Diagnostics struct {
	InputRows        int  `json:"input_rows"`
	ProcessedRows    int  `json:"processed_rows"`
	DroppedRows      int  `json:"dropped_rows"`
	DuplicateRecords int  `json:"duplicate_records"`
	Truncated        bool `json:"truncated"`
	RowCap           int  `json:"row_cap,omitempty"`
}

// PipelineResult is what callers receive, fresh or from cache.
type PipelineResult struct {
	Fingerprint   string            `json:"fingerprint"`
	Schema        Schema            `json:"schema"`
	SourceSchemas map[string]Schema `json:"source_schemas,omitempty"`
	KPIs          KPIResult         `json:"kpis"`
	Diagnostics   Diagnostics       `json:"diagnostics"`
	FromCache     bool              `json:"from_cache"`
}

// CacheEntry is a stored pipeline result. Entries are read-only after
// creation.
type CacheEntry struct {
	Key       string          `json:"key"`
	Result    *PipelineResult `json:"result"`
	Snapshot  []Dataset       `json:"snapshot,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
}

// FreshAt reports whether the entry is still valid at now.
func (e *CacheEntry) FreshAt(now time.Time) bool {
	return now.Sub(e.CreatedAt) < e.TTL
}

// Clone returns a deep copy of r that shares no map, slice or pointer with it.
func (r *PipelineResult) Clone() *PipelineResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Schema = r.Schema.Clone()
	if r.SourceSchemas != nil {
		out.SourceSchemas = make(map[string]Schema, len(r.SourceSchemas))
		for name, s := range r.SourceSchemas {
			out.SourceSchemas[name] = s.Clone()
		}
	}
	out.KPIs = r.KPIs.Clone()
	return &out
}

// Clone returns a deep copy of k.
func (k KPIResult) Clone() KPIResult {
	out := k
	out.Totals = Totals{
		Leads:      cloneFloat(k.Totals.Leads),
		MQLs:       cloneFloat(k.Totals.MQLs),
		Investment: cloneFloat(k.Totals.Investment),
	}
	out.CostPerLead = cloneFloat(k.CostPerLead)
	out.CostPerMQL = cloneFloat(k.CostPerMQL)
	out.MQLRate = cloneFloat(k.MQLRate)
	out.Series = slices.Clone(k.Series)
	if k.Distributions != nil {
		out.Distributions = make(map[Category]Distribution, len(k.Distributions))
		for c, d := range k.Distributions {
			out.Distributions[c] = slices.Clone(d)
		}
	}
	out.StatusGroups = slices.Clone(k.StatusGroups)
	if k.Creatives != nil {
		cr := *k.Creatives
		cr.Top = slices.Clone(k.Creatives.Top)
		cr.TopByLeads = cloneStat(k.Creatives.TopByLeads)
		cr.TopByMQLs = cloneStat(k.Creatives.TopByMQLs)
		out.Creatives = &cr
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}

func cloneStat(s *CreativeStat) *CreativeStat {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Float returns a pointer to v, for optional KPI values.
func Float(v float64) *float64 {
	return &v
}
