package model

import "time"

// NotAvailable is stored in categorical fields whose column exists but whose
// cell was blank.
const NotAvailable = "N/A"

// NormalizedRecord is one dataset row after type coercion.
type NormalizedRecord struct {
	// Key is the identity used for deduplication. Never empty.
	Key      string `json:"key"`
	Source   string `json:"source,omitempty"`
	Priority int    `json:"priority"`

	Date      *time.Time `json:"date"`
	DateLabel string     `json:"date_label,omitempty"` // DD/MM/YYYY

	Leads float64 `json:"leads"`
	MQLs  float64 `json:"mqls"`
	Cost  float64 `json:"cost"`

	Creative string `json:"creative,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Status   string `json:"status,omitempty"`
	Origin   string `json:"origin,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Phase    string `json:"phase,omitempty"`
	Term     string `json:"term,omitempty"`

	// Fields keeps the trimmed raw cells for callers that render rows.
	Fields Row `json:"fields,omitempty"`
}

// PhaseRankTable maps a normalized phase label to its rank.
type PhaseRankTable map[string]int
