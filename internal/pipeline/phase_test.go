package pipeline

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/marketing-kpi/internal/model"
)

func TestPhaseResolver_AccentInsensitive(t *testing.T) {
	r := NewPhaseResolver(nil)

	accented := r.Resolve("Pré-Call Agendada")
	plain := r.Resolve("pre call agendada")

	assert.Equal(t, plain.Rank, accented.Rank)
	assert.Equal(t, 4, accented.Rank)
	assert.True(t, accented.Resolved)
	assert.Equal(t, TierDefault, accented.Tier)
}

func TestPhaseResolver_AuthoritativeFirst(t *testing.T) {
	r := NewPhaseResolver(model.PhaseRankTable{"Reunião Agendada": 1, "Triagem": 2})

	assert.Equal(t, PhaseRank{Rank: 1, Resolved: true, Tier: TierAuthoritative}, r.Resolve("reuniao agendada"))
	assert.Equal(t, PhaseRank{Rank: 2, Resolved: true, Tier: TierAuthoritative}, r.Resolve("TRIAGEM"))
	// Misses fall through to the built-in table.
	assert.Equal(t, PhaseRank{Rank: 1, Resolved: true, Tier: TierDefault}, r.Resolve("Novo Lead"))
}

func TestPhaseResolver_Substring(t *testing.T) {
	r := NewPhaseResolver(nil)

	got := r.Resolve("Proposta Enviada - Aguardando retorno")
	assert.Equal(t, PhaseRank{Rank: 9, Resolved: true, Tier: TierSubstring}, got)

	got = r.Resolve("Reunião")
	assert.Equal(t, PhaseRank{Rank: 7, Resolved: true, Tier: TierSubstring}, got)
}

func TestPhaseResolver_Unranked(t *testing.T) {
	r := NewPhaseResolver(nil)

	for _, label := range []string{"Perdido", "xyz", "", "   "} {
		got := r.Resolve(label)
		assert.False(t, got.Resolved, label)
		assert.Equal(t, TierUnranked, got.Tier, label)
		assert.Equal(t, UnrankedPhase, got.Rank, label)
	}

	for _, known := range DefaultPhases {
		assert.Greater(t, r.Rank("Perdido"), r.Rank(known))
	}
}

func TestPhaseResolver_LessOrdersUnknownLexically(t *testing.T) {
	r := NewPhaseResolver(nil)
	labels := []string{"Zeta", "Contrato Assinado", "Alpha", "Novo Lead"}

	sort.Slice(labels, func(i, j int) bool { return r.Less(labels[i], labels[j]) })

	assert.Equal(t, []string{"Novo Lead", "Contrato Assinado", "Alpha", "Zeta"}, labels)
}

func TestPhaseResolver_Tiers(t *testing.T) {
	assert.Equal(t, []string{TierDefault, TierSubstring, TierUnranked}, NewPhaseResolver(nil).Tiers())
	assert.Equal(t,
		[]string{TierAuthoritative, TierDefault, TierSubstring, TierUnranked},
		NewPhaseResolver(model.PhaseRankTable{"x": 1}).Tiers(),
	)
}
