package models

import "time"

// MutationType is the semantic action of an audited request
type MutationType string

const (
	MutationCreate MutationType = "CREATE"
	MutationUpdate MutationType = "UPDATE"
	MutationDelete MutationType = "DELETE"
)

// Valid reports whether m is one of the known mutation types
func (m MutationType) Valid() bool {
	switch m {
	case MutationCreate, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// AuditStatus is the outcome of the proxied request
type AuditStatus string

const (
	StatusSuccess AuditStatus = "SUCCESS"
	StatusFailure AuditStatus = "FAILURE"
)

// StatusFromCode maps an upstream HTTP status code to an audit status
func StatusFromCode(code int) AuditStatus {
	if code < 300 {
		return StatusSuccess
	}
	return StatusFailure
}

// AuditLogEntry represents a single audited mutation of an orchestrator object
type AuditLogEntry struct {
	ID                int64        `json:"id"`
	CreatedAt         time.Time    `json:"created_at"`
	RequestID         string       `json:"request_id,omitempty"`
	ActingUserID      string       `json:"acting_user_id"`
	ActingUserEmail   string       `json:"acting_user_email"`
	Organization      string       `json:"organization"`
	MutationType      MutationType `json:"mutation_type"`
	ObjectID          string       `json:"object_id"`
	ObjectType        string       `json:"object_type"`
	ObjectDisplayName string       `json:"object_display_name"`
	MutationData      string       `json:"mutation_data,omitempty"`
	URL               string       `json:"url"`
	IPAddress         string       `json:"ip_address"`
	Status            AuditStatus  `json:"status"`
	StatusCode        int          `json:"status_code"`
}

// AuditLogFilter narrows an audit log listing. Empty fields match everything.
type AuditLogFilter struct {
	Organization string
	ObjectType   string
	MutationType MutationType
	Limit        int
	Offset       int
}

const (
	DefaultAuditPageSize = 50
	MaxAuditPageSize     = 500
)

// Normalize clamps paging values to sane bounds
func (f *AuditLogFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultAuditPageSize
	}
	if f.Limit > MaxAuditPageSize {
		f.Limit = MaxAuditPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
