package pipeline

import (
	"math"
	"strings"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// UnrankedPhase is the rank given to labels no tier recognizes. It sorts
// after every known stage.
const UnrankedPhase = math.MaxInt32

// Resolution tiers, in the order they are consulted.
const (
	TierAuthoritative = "authoritative"
	TierDefault       = "default"
	TierSubstring     = "substring"
	TierUnranked      = "unranked"
)

// minContainedLabel is the shortest label allowed to match a longer stage
// name by containment ("reuniao" → "reuniao agendada").
const minContainedLabel = 4

// DefaultPhases is the canonical sales-pipeline sequence, already normalized.
var DefaultPhases = []string{
	"novo lead",
	"primeiro contato",
	"qualificacao",
	"pre call agendada",
	"pre call realizada",
	"apresentacao",
	"reuniao agendada",
	"reuniao realizada",
	"proposta enviada",
	"negociacao",
	"contrato enviado",
	"contrato assinado",
}

// PhaseRank is the tagged result of resolving a label.
type PhaseRank struct {
	Rank     int    `json:"rank"`
	Resolved bool   `json:"resolved"`
	Tier     string `json:"tier"`
}

// phaseStep is one link of the fallback chain. It receives a normalized label.
type phaseStep struct {
	tier   string
	lookup func(label string) (int, bool)
}

// PhaseResolver ranks free-text pipeline stages.
type PhaseResolver struct {
	chain []phaseStep
}

// NewPhaseResolver builds the chain: authoritative table (when non-empty),
// built-in table, substring containment against the built-in table.
func NewPhaseResolver(authoritative model.PhaseRankTable) *PhaseResolver {
	var chain []phaseStep
	if len(authoritative) > 0 {
		chain = append(chain, phaseStep{tier: TierAuthoritative, lookup: exactLookup(normalizeTable(authoritative))})
	}
	chain = append(chain,
		phaseStep{tier: TierDefault, lookup: exactLookup(defaultPhaseTable())},
		phaseStep{tier: TierSubstring, lookup: containsLookup(DefaultPhases)},
	)
	return &PhaseResolver{chain: chain}
}

// Tiers returns the tiers the resolver consults, in order.
func (p *PhaseResolver) Tiers() []string {
	tiers := make([]string, 0, len(p.chain)+1)
	for _, s := range p.chain {
		tiers = append(tiers, s.tier)
	}
	return append(tiers, TierUnranked)
}

// Resolve walks the chain and reports which tier answered.
func (p *PhaseResolver) Resolve(label string) PhaseRank {
	norm := normalizeLabel(label)
	if norm != "" {
		for _, step := range p.chain {
			if rank, ok := step.lookup(norm); ok {
				return PhaseRank{Rank: rank, Resolved: true, Tier: step.tier}
			}
		}
	}
	return PhaseRank{Rank: UnrankedPhase, Tier: TierUnranked}
}

// Rank returns the numeric rank for label.
func (p *PhaseResolver) Rank(label string) int {
	return p.Resolve(label).Rank
}

// Less orders labels by rank, then lexically.
func (p *PhaseResolver) Less(a, b string) bool {
	ra, rb := p.Rank(a), p.Rank(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}

func defaultPhaseTable() map[string]int {
	table := make(map[string]int, len(DefaultPhases))
	for i, label := range DefaultPhases {
		table[label] = i + 1
	}
	return table
}

func normalizeTable(t model.PhaseRankTable) map[string]int {
	out := make(map[string]int, len(t))
	for label, rank := range t {
		out[normalizeLabel(label)] = rank
	}
	return out
}

func exactLookup(table map[string]int) func(string) (int, bool) {
	return func(label string) (int, bool) {
		rank, ok := table[label]
		return rank, ok
	}
}

// containsLookup first looks for the longest stage name contained in the
// label, then for the earliest stage name containing the label.
func containsLookup(stages []string) func(string) (int, bool) {
	return func(label string) (int, bool) {
		best, bestLen := 0, 0
		for i, stage := range stages {
			if len(stage) > bestLen && strings.Contains(label, stage) {
				best, bestLen = i+1, len(stage)
			}
		}
		if best > 0 {
			return best, true
		}
		if len(label) < minContainedLabel {
			return 0, false
		}
		for i, stage := range stages {
			if strings.Contains(stage, label) {
				return i + 1, true
			}
		}
		return 0, false
	}
}
