package compliance

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"herbtrace/internal/status"
	"herbtrace/pkg/domain"
)

// DefaultComplianceThreshold is the minimum score at which an entity is
// considered compliant.
const DefaultComplianceThreshold = 80.0

// AnomalyPenalty is subtracted for every out-of-order lifecycle event.
const AnomalyPenalty = 5.0

const (
	startingScore = 100.0

	// IssueUnknownRuleSet is reported for rule set names that are not registered.
	IssueUnknownRuleSet = "unknown_rule_set"
	// IssueOutOfOrder is reported for lifecycle events recorded after a later stage.
	IssueOutOfOrder = "out_of_order_event"
)

// Subject is the history and metadata of the entity being checked.
type Subject struct {
	Kind        domain.EntityKind
	ID          string
	Location    domain.Location
	QualityData map[string]string
	Events      []domain.Event
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides DefaultComplianceThreshold.
func WithThreshold(threshold float64) Option {
	return func(e *Engine) { e.threshold = threshold }
}

// WithRuleSets registers additional rule sets, replacing built-ins of the same name.
func WithRuleSets(sets ...RuleSet) Option {
	return func(e *Engine) {
		for _, set := range sets {
			e.registerLocked(set)
		}
	}
}

// Engine evaluates subjects against registered rule sets.
type Engine struct {
	mu        sync.RWMutex
	ruleSets  map[string]RuleSet
	threshold float64
}

// NewEngine constructs an engine preloaded with the built-in rule sets.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{ruleSets: make(map[string]RuleSet), threshold: DefaultComplianceThreshold}
	for _, set := range BuiltinRuleSets() {
		e.registerLocked(set)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func (e *Engine) registerLocked(set RuleSet) {
	set.Name = normalizeName(set.Name)
	if set.Name == "" {
		return
	}
	e.ruleSets[set.Name] = set
}

// Register adds or replaces a rule set.
func (e *Engine) Register(set RuleSet) error {
	if normalizeName(set.Name) == "" {
		return domain.ValidationError{Field: "rule set name", Reason: "is required"}
	}
	for _, req := range set.Requirements {
		if err := validateRequirement(req); err != nil {
			return fmt.Errorf("rule set %s: %w", set.Name, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registerLocked(set)
	return nil
}

// Threshold returns the configured passing score.
func (e *Engine) Threshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

// RuleSet returns a registered rule set by name.
func (e *Engine) RuleSet(name string) (RuleSet, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set, ok := e.ruleSets[normalizeName(name)]
	return set, ok
}

// RuleSetNames returns the registered rule set names sorted.
func (e *Engine) RuleSetNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.ruleSets))
	for name := range e.ruleSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check scores subject against the named rule sets. An empty list checks every
// registered rule set. The result does not depend on map iteration order.
func (e *Engine) Check(subject Subject, ruleSets []string, now time.Time) domain.ComplianceResult {
	names := dedupeNames(ruleSets)
	if len(names) == 0 {
		names = e.RuleSetNames()
	}

	result := domain.ComplianceResult{
		EntityID:  subject.ID,
		Kind:      subject.Kind,
		Threshold: e.Threshold(),
		Issues:    []domain.ComplianceIssue{},
		RuleSets:  names,
		CheckedAt: now.UTC(),
	}
	score := startingScore
	present := eventTypes(subject.Events)

	for _, name := range names {
		set, ok := e.RuleSet(name)
		if !ok {
			result.Issues = append(result.Issues, domain.ComplianceIssue{
				RuleSet: name,
				Code:    IssueUnknownRuleSet,
				Message: "unknown rule set requested",
			})
			continue
		}
		for _, req := range set.Requirements {
			if !req.Applies(subject.Kind) || satisfied(req, subject, present) {
				continue
			}
			score -= req.Penalty
			result.Issues = append(result.Issues, domain.ComplianceIssue{
				RuleSet: set.Name,
				Code:    req.Code,
				Message: req.Message,
				Penalty: req.Penalty,
			})
		}
	}

	for _, anomaly := range status.Project(subject.Kind, subject.Events).Anomalies {
		score -= AnomalyPenalty
		result.Issues = append(result.Issues, domain.ComplianceIssue{
			Code:    IssueOutOfOrder,
			Message: fmt.Sprintf("%s recorded after entity reached %s (event %s)", anomaly.Type, anomaly.Current, anomaly.EventID),
			Penalty: AnomalyPenalty,
		})
	}

	if score < 0 {
		score = 0
	}
	result.Score = score
	result.Compliant = score >= result.Threshold
	return result
}

func dedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		n := normalizeName(name)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func eventTypes(events []domain.Event) map[domain.EventType]struct{} {
	out := make(map[domain.EventType]struct{}, len(events))
	for _, evt := range events {
		out[evt.Type] = struct{}{}
	}
	return out
}

func satisfied(req Requirement, subject Subject, present map[domain.EventType]struct{}) bool {
	switch req.Kind {
	case RequireEvent:
		_, ok := present[req.EventType]
		return ok
	case RequireQualityField:
		return strings.TrimSpace(subject.QualityData[req.Field]) != ""
	case RequireAttachment:
		for _, evt := range subject.Events {
			if req.EventType != "" && evt.Type != req.EventType {
				continue
			}
			if len(evt.Attachments) > 0 {
				return true
			}
		}
		return false
	case RequireLocation:
		if !subject.Location.IsZero() {
			return true
		}
		for _, evt := range subject.Events {
			if !evt.Location.IsZero() {
				return true
			}
		}
		return false
	}
	return false
}

func validateRequirement(req Requirement) error {
	if req.Code == "" {
		return domain.ValidationError{Field: "requirement code", Reason: "is required"}
	}
	if req.Penalty < 0 {
		return domain.ValidationError{Field: "requirement penalty", Reason: "must be >= 0"}
	}
	switch req.Kind {
	case RequireEvent:
		if req.EventType == "" {
			return domain.ValidationError{Field: req.Code, Reason: "event requirement needs event_type"}
		}
	case RequireQualityField:
		if req.Field == "" {
			return domain.ValidationError{Field: req.Code, Reason: "quality requirement needs field"}
		}
	case RequireAttachment, RequireLocation:
	default:
		return domain.ValidationError{Field: req.Code, Reason: fmt.Sprintf("unknown requirement kind %q", req.Kind)}
	}
	for _, k := range req.AppliesTo {
		if !k.Valid() {
			return domain.ValidationError{Field: req.Code, Reason: fmt.Sprintf("unknown entity kind %q", k)}
		}
	}
	return nil
}

// QualityData merges base quality data with the payloads of QUALITY_TESTED
// events in history order. Later tests override earlier values.
func QualityData(base map[string]string, events []domain.Event) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	ordered := append([]domain.Event(nil), events...)
	domain.SortEvents(ordered)
	for _, evt := range ordered {
		if evt.Type != domain.EventQualityTested {
			continue
		}
		for k, v := range evt.Payload {
			if v == nil {
				continue
			}
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
