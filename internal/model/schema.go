package model

import (
	"maps"
	"sort"
)

// Role is the semantic meaning inferred for a column.
type Role string

const (
	RoleDate        Role = "date"
	RoleLeadCount   Role = "lead_count"
	RoleMQLCount    Role = "mql_count"
	RoleLeadFlag    Role = "lead_flag" // categorical LEAD/MQL marker, one lead per row
	RoleCostTotal   Role = "cost_total"
	RoleCostPerLead Role = "cost_per_lead"
	RoleCostPerMQL  Role = "cost_per_mql"
	RoleCreativeID  Role = "creative_id"
	RoleCampaignID  Role = "campaign_id"
	RoleCRMID       Role = "crm_id"
	RoleName        Role = "name"
	RoleEmail       Role = "email"
	RolePhone       Role = "phone"
	RoleStatus      Role = "status"
	RoleSource      Role = "source"
	RoleOwner       Role = "owner"
	RolePhase       Role = "phase"
	RoleTerm        Role = "term"
)

// Schema maps resolved roles to the column that satisfies them. Unresolved
// roles are absent.
type Schema struct {
	Columns map[Role]string `json:"columns"`
}

// NewSchema returns an empty schema.
func NewSchema() Schema {
	return Schema{Columns: make(map[Role]string)}
}

// Clone returns a copy of s that shares no map with it.
func (s Schema) Clone() Schema {
	if s.Columns == nil {
		return s
	}
	return Schema{Columns: maps.Clone(s.Columns)}
}

// Column returns the column bound to role.
func (s Schema) Column(role Role) (string, bool) {
	col, ok := s.Columns[role]
	return col, ok
}

// Has reports whether role was resolved.
func (s Schema) Has(role Role) bool {
	_, ok := s.Columns[role]
	return ok
}

// Resolved returns the resolved roles sorted by name.
func (s Schema) Resolved() []Role {
	roles := make([]Role, 0, len(s.Columns))
	for r := range s.Columns {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// HasLeads reports whether lead totals can be derived, either from a count
// column or from a per-row lead flag.
func (s Schema) HasLeads() bool {
	return s.Has(RoleLeadCount) || s.Has(RoleLeadFlag)
}

// HasMQLs reports whether MQL totals can be derived.
func (s Schema) HasMQLs() bool {
	return s.Has(RoleMQLCount) || s.Has(RoleLeadFlag)
}

// Union merges schemas from several sources. The first source that resolved
// a role provides its column name.
func Union(schemas ...Schema) Schema {
	out := NewSchema()
	for _, s := range schemas {
		for role, col := range s.Columns {
			if _, ok := out.Columns[role]; !ok {
				out.Columns[role] = col
			}
		}
	}
	return out
}
