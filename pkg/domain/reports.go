package domain

import "time"

// IntegrityViolation is a finding produced when an audit entry fails
// verification. It is reported as data and never raised as an error.
type IntegrityViolation struct {
	EntryID  string `json:"entry_id"`
	RecordID string `json:"record_id"`
	EntityID string `json:"entity_id"`
	Reason   string `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Integrity finding reasons.
const (
	ReasonHashMismatch  = "hash_mismatch"
	ReasonEventMismatch = "event_mismatch"
	ReasonEventMissing  = "event_missing"
	ReasonChainBroken   = "chain_broken"
	ReasonSequenceGap   = "sequence_gap"
)

// IntegrityReport summarizes a verification sweep.
type IntegrityReport struct {
	EntityID   string               `json:"entity_id,omitempty"`
	Valid      bool                 `json:"valid"`
	Score      float64              `json:"score"`
	Total      int                  `json:"total"`
	Verified   int                  `json:"verified"`
	Broken     []IntegrityViolation `json:"broken"`
	VerifiedAt time.Time            `json:"verified_at"`
}

// ComplianceIssue describes one missing marker or anomaly found by a
// compliance check.
type ComplianceIssue struct {
	RuleSet string  `json:"rule_set,omitempty"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Penalty float64 `json:"penalty"`
}

// ComplianceResult is the outcome of scoring an entity against rule sets.
type ComplianceResult struct {
	EntityID  string            `json:"entity_id"`
	Kind      EntityKind        `json:"entity_kind"`
	Score     float64           `json:"score"`
	Compliant bool              `json:"compliant"`
	Threshold float64           `json:"threshold"`
	Issues    []ComplianceIssue `json:"issues"`
	RuleSets  []string          `json:"rule_sets"`
	CheckedAt time.Time         `json:"checked_at"`
	EventID   string            `json:"event_id,omitempty"`
}

// IssueCodes returns the codes of all issues in order.
func (r ComplianceResult) IssueCodes() []string {
	out := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		out = append(out, issue.Code)
	}
	return out
}
