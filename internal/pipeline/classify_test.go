package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketing-kpi/internal/model"
)

func TestClassify_AdSpendSheet(t *testing.T) {
	headers := []string{"Data", "Campanha", "Criativo", "Leads", "MQLs", "Investimento", "CPL"}

	schema := Classify(headers)

	assert.Equal(t, map[model.Role]string{
		model.RoleDate:        "Data",
		model.RoleCampaignID:  "Campanha",
		model.RoleCreativeID:  "Criativo",
		model.RoleLeadCount:   "Leads",
		model.RoleMQLCount:    "MQLs",
		model.RoleCostTotal:   "Investimento",
		model.RoleCostPerLead: "CPL",
	}, schema.Columns)
}

func TestClassify_CRMExport(t *testing.T) {
	headers := []string{
		"ID", "Nome do Lead", "E-mail", "Telefone", "Data de Criação",
		"Etapa", "Status", "Origem do Lead", "Responsável", "MQL?",
	}

	schema := Classify(headers)

	assert.Equal(t, map[model.Role]string{
		model.RoleCRMID:    "ID",
		model.RoleName:     "Nome do Lead",
		model.RoleEmail:    "E-mail",
		model.RolePhone:    "Telefone",
		model.RoleDate:     "Data de Criação",
		model.RolePhase:    "Etapa",
		model.RoleStatus:   "Status",
		model.RoleSource:   "Origem do Lead",
		model.RoleOwner:    "Responsável",
		model.RoleLeadFlag: "MQL?",
	}, schema.Columns)
	assert.False(t, schema.Has(model.RoleLeadCount))
	assert.True(t, schema.HasLeads())
	assert.True(t, schema.HasMQLs())
}

func TestClassify_Deterministic(t *testing.T) {
	headers := []string{"Dia", "Anúncio", "Total de Leads", "Custo", "utm_term", "Campaign Name"}

	first := Classify(headers)
	second := Classify(append([]string(nil), headers...))

	assert.Equal(t, first, second)
	assert.Equal(t, "utm_term", first.Columns[model.RoleTerm])
	assert.Equal(t, "Campaign Name", first.Columns[model.RoleCampaignID])
}

func TestClassify_ClaimedHeaderNotReconsidered(t *testing.T) {
	schema := Classify([]string{"Custo por Lead", "Custo"})

	assert.Equal(t, "Custo por Lead", schema.Columns[model.RoleCostPerLead])
	assert.Equal(t, "Custo", schema.Columns[model.RoleCostTotal])
	assert.False(t, schema.Has(model.RoleLeadCount))
}

func TestClassify_LeadCountExcludesURLAndEmail(t *testing.T) {
	schema := Classify([]string{"Lead URL", "Lead Email", "Total de Leads"})

	assert.Equal(t, "Total de Leads", schema.Columns[model.RoleLeadCount])
	assert.Equal(t, "Lead Email", schema.Columns[model.RoleEmail])
}

func TestClassify_UpdatedDateIgnored(t *testing.T) {
	schema := Classify([]string{"Data de Atualização", "Leads"})

	assert.False(t, schema.Has(model.RoleDate))
}

func TestClassify_NoHeaders(t *testing.T) {
	schema := Classify(nil)

	assert.Empty(t, schema.Columns)
	assert.Empty(t, schema.Resolved())
}

func TestExplain_RuleOrder(t *testing.T) {
	matches := Explain([]string{"Leads", "Data"})

	require.Len(t, matches, 2)
	assert.Equal(t, RoleMatch{Role: model.RoleDate, Column: "Data", Pattern: `^(data|date|dia)$`}, matches[0])
	assert.Equal(t, RoleMatch{Role: model.RoleLeadCount, Column: "Leads", Pattern: `^leads?$`}, matches[1])
}

func TestClassify_CountsNamedMidHeader(t *testing.T) {
	schema := Classify([]string{"Data", "Novos Leads", "Facebook MQLs", "Investimento"})

	assert.Equal(t, "Novos Leads", schema.Columns[model.RoleLeadCount])
	assert.Equal(t, "Facebook MQLs", schema.Columns[model.RoleMQLCount])
	assert.Equal(t, "Investimento", schema.Columns[model.RoleCostTotal])
}

func TestClassify_AnchoredCountBeatsContainment(t *testing.T) {
	schema := Classify([]string{"Facebook Leads", "Total de Leads"})

	assert.Equal(t, "Total de Leads", schema.Columns[model.RoleLeadCount])
}

func TestClassify_LeadContainmentSkipsLeadAttributes(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
	}{
		{"lead name", []string{"Nome do Lead"}},
		{"lead origin", []string{"Origem do Lead"}},
		{"lead type", []string{"Tipo de Lead"}},
		{"lead id suffix", []string{"Lead_ID"}},
		{"lead cost", []string{"Custo Lead Facebook"}},
		{"lead rate", []string{"Taxa de Leads"}},
		{"mql rate", []string{"Taxa de MQL"}},
		{"mql flag", []string{"É MQL?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema := Classify(tt.headers)
			assert.False(t, schema.Has(model.RoleLeadCount))
			assert.False(t, schema.Has(model.RoleMQLCount))
		})
	}
}
