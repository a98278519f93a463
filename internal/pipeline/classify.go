package pipeline

import (
	"regexp"
	"strings"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// columnRule binds a header pattern to a role. Headers containing any of the
// exclude fragments are skipped for this rule.
type columnRule struct {
	role    model.Role
	pattern *regexp.Regexp
	exclude []string
}

func rule(role model.Role, pattern string, exclude ...string) columnRule {
	return columnRule{role: role, pattern: regexp.MustCompile(pattern), exclude: exclude}
}

// metricFragments marks headers that hold numeric metrics rather than labels.
var metricFragments = []string{"lead", "mql", "custo", "cost", "cpl", "cpc", "cpm", "ctr", "investimento", "clique", "impress", "alcance", "reach", "taxa", "conversao"}

// countPrefix admits headers such as "Total de Leads" or "COUNT_LEAD" while
// keeping "Nome do Lead" and "Origem do Lead" out of the count roles.
const countPrefix = `^((total|qtd|quantidade|numero|num|count|n)[ _.]*(de |of )?)?`

// leadLabelFragments keep the containment rule for lead counts off headers
// that describe a lead rather than count leads, such as "Nome do Lead".
var leadLabelFragments = []string{
	"url", "email", "e-mail", "cpl", "%", "custo", "cost", "taxa", " rate",
	"nome", "name", "origem", "source", "status", "fase", "etapa", "tipo",
	"responsavel", "owner", "id ", " id", "_id",
}

// columnRules is evaluated top to bottom. Rules are grouped by role in role
// priority order; within a role, earlier patterns win over later ones.
// Patterns run against normalizeHeader output.
var columnRules = []columnRule{
	rule(model.RoleCRMID, `^(id|codigo|cod)$`),
	rule(model.RoleCRMID, `^(id|codigo|cod)[ _.-]?(do |da )?(lead|chamado|crm|cliente|contato)$`),
	rule(model.RoleCRMID, `^(lead|chamado|crm|contact|contato)[ _.-]?id$`),

	rule(model.RoleEmail, `e-?mail`),

	rule(model.RolePhone, `telefone|celular|whats ?app|phone|fone`),

	rule(model.RoleDate, `^(data|date|dia)$`),
	rule(model.RoleDate, `(^|[^a-z])(data|date|dia)([^a-z]|$)`, "atualiza", "updated", "modific", "nascimento"),
	rule(model.RoleDate, `criado em|created|timestamp`),

	rule(model.RoleCostPerLead, `^cpl$`),
	rule(model.RoleCostPerLead, `(custo|cost) (por|per) lead`),

	rule(model.RoleCostPerMQL, `^cpmql$`),
	rule(model.RoleCostPerMQL, `(custo|cost) (por|per) mql`),

	rule(model.RoleCostTotal, `investimento|investido|valor gasto|amount spent|spend`),
	rule(model.RoleCostTotal, `custo|cost|gasto`, " por ", " per ", "/"),

	rule(model.RoleLeadFlag, `^mql ?\?$`),
	rule(model.RoleLeadFlag, `^(e|eh|is) mql ?\??$`),

	rule(model.RoleMQLCount, `^mqls?$`),
	rule(model.RoleMQLCount, countPrefix+`mqls?([^a-z]|$)`, "%"),
	rule(model.RoleMQLCount, `mqls?([^a-z]|$)`, "%", "cpmql", "custo", "cost", "taxa", " rate", "?"),

	rule(model.RoleLeadCount, `^leads?$`),
	rule(model.RoleLeadCount, countPrefix+`leads?([^a-z]|$)`, "url", "email", "e-mail", "%"),
	rule(model.RoleLeadCount, `leads?([^a-z]|$)`, leadLabelFragments...),

	rule(model.RolePhase, `fase|etapa|stage|phase|funil|pipeline`),

	rule(model.RoleStatus, `status|situacao`),

	rule(model.RoleSource, `origem|source|fonte|canal|midia`),

	rule(model.RoleOwner, `responsavel|owner|consultor|vendedor|corretor|atendente`),

	rule(model.RoleTerm, `^(term|termo)$`),
	rule(model.RoleTerm, `utm[ _]term`),

	rule(model.RoleCreativeID, `criativo|creative`),
	rule(model.RoleCreativeID, `anuncio|ad name|^ad$|conteudo|content`),
	rule(model.RoleCreativeID, `banner|imagem|video|texto|titulo|copy|headline`),

	rule(model.RoleCampaignID, `campanha|campaign`),

	rule(model.RoleName, `^(nome|name)$`),
	rule(model.RoleName, `nome|name`, "campanha", "campaign", "anuncio", "criativo", "creative", "arquivo", "file", "ad set", "conjunto"),
}

// RoleMatch explains why a column was assigned to a role.
type RoleMatch struct {
	Role    model.Role `json:"role"`
	Column  string     `json:"column"`
	Pattern string     `json:"pattern"`
}

// Classify infers which headers hold dates, counts, cost and identifiers.
// It is a pure function of the header list.
func Classify(headers []string) model.Schema {
	schema := model.NewSchema()
	for _, m := range Explain(headers) {
		schema.Columns[m.Role] = m.Column
	}
	return schema
}

// Explain returns the matches Classify would apply, in rule order.
func Explain(headers []string) []RoleMatch {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = normalizeHeader(h)
	}

	claimed := make([]bool, len(headers))
	resolved := make(map[model.Role]bool)
	var matches []RoleMatch

	for _, r := range columnRules {
		if resolved[r.role] {
			continue
		}
		for i, h := range normalized {
			if claimed[i] || h == "" {
				continue
			}
			if !r.pattern.MatchString(h) || containsAny(h, r.exclude) {
				continue
			}
			if isCategoricalRole(r.role) && isMetricHeader(h) {
				continue
			}
			claimed[i] = true
			resolved[r.role] = true
			matches = append(matches, RoleMatch{Role: r.role, Column: headers[i], Pattern: r.pattern.String()})
			break
		}
	}
	return matches
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

// isCategoricalRole reports ad identifier roles, which must not claim metric
// headers such as "Leads do Criativo".
func isCategoricalRole(role model.Role) bool {
	switch role {
	case model.RoleCreativeID, model.RoleCampaignID:
		return true
	}
	return false
}

func isMetricHeader(h string) bool {
	return containsAny(h, metricFragments)
}
