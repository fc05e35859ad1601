package model

import "time"

// AuditKind groups audit records.
type AuditKind string

const (
	AuditBreakerTrip   AuditKind = "breaker_trip"
	AuditRouteRejected AuditKind = "route_rejected"
	AuditExecution     AuditKind = "execution"
	AuditPoolExcluded  AuditKind = "pool_excluded"
)

// AuditRecord is one structured entry handed to the audit sink.
type AuditRecord struct {
	ID        string              `json:"id"`
	Timestamp time.Time           `json:"timestamp"`
	Kind      AuditKind           `json:"kind"`
	Type      string              `json:"type"`
	Status    string              `json:"status"`
	Key       string              `json:"key,omitempty"`
	Condition string              `json:"condition,omitempty"`
	Plan      *PlanView           `json:"plan,omitempty"`
	Route     *Route              `json:"route,omitempty"`
	Outcome   *TransactionOutcome `json:"outcome,omitempty"`
	Details   map[string]string   `json:"details,omitempty"`
}
