package model

import "time"

// Run records one pipeline invocation for the history table.
type Run struct {
	ID          string      `json:"id"`
	Fingerprint string      `json:"fingerprint"`
	Sources     []string    `json:"sources"`
	Diagnostics Diagnostics `json:"diagnostics"`
	FromCache   bool        `json:"from_cache"`
	CreatedAt   time.Time   `json:"created_at"`
}
