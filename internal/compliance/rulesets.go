// Package compliance scores an entity's recorded history against named rule
// sets such as GACP and GMP.
package compliance

import (
	"herbtrace/pkg/domain"
)

// RequirementKind selects what a requirement looks for.
type RequirementKind string

// Requirement kinds.
const (
	RequireEvent        RequirementKind = "event"
	RequireQualityField RequirementKind = "quality_field"
	RequireAttachment   RequirementKind = "attachment"
	RequireLocation     RequirementKind = "location"
)

// Requirement is one marker an entity's history must contain.
type Requirement struct {
	Code      string              `json:"code"`
	Kind      RequirementKind     `json:"kind"`
	EventType domain.EventType    `json:"event_type,omitempty"`
	Field     string              `json:"field,omitempty"`
	AppliesTo []domain.EntityKind `json:"applies_to,omitempty"`
	Penalty   float64             `json:"penalty"`
	Message   string              `json:"message"`
}

// Applies reports whether the requirement is relevant for kind.
func (r Requirement) Applies(kind domain.EntityKind) bool {
	if len(r.AppliesTo) == 0 {
		return true
	}
	for _, k := range r.AppliesTo {
		if k == kind {
			return true
		}
	}
	return false
}

// RuleSet is a versioned group of requirements published by a standard.
type RuleSet struct {
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	Description  string        `json:"description,omitempty"`
	Requirements []Requirement `json:"requirements"`
}

// Built-in rule set names.
const (
	RuleSetGACP          = "GACP"
	RuleSetGMP           = "GMP"
	RuleSetDocumentation = "DOCUMENTATION"
)

var (
	cultivated = []domain.EntityKind{domain.EntityLot, domain.EntityPlant}
	processed  = []domain.EntityKind{domain.EntityLot, domain.EntityProduct}
)

func qualityField(field string, penalty float64) Requirement {
	return Requirement{
		Code:    "missing_quality_data:" + field,
		Kind:    RequireQualityField,
		Field:   field,
		Penalty: penalty,
		Message: "missing quality documentation: " + field,
	}
}

func eventMarker(t domain.EventType, kinds []domain.EntityKind, penalty float64) Requirement {
	return Requirement{
		Code:      "missing_event:" + string(t),
		Kind:      RequireEvent,
		EventType: t,
		AppliesTo: kinds,
		Penalty:   penalty,
		Message:   "missing required event " + string(t),
	}
}

// BuiltinRuleSets returns fresh copies of the rule sets shipped with herbtrace.
func BuiltinRuleSets() []RuleSet {
	return []RuleSet{
		{
			Name:        RuleSetGACP,
			Version:     "2024.1",
			Description: "Good agricultural and collection practice for cultivation",
			Requirements: []Requirement{
				qualityField("moisture_content", 15),
				qualityField("pesticide_residue", 15),
				qualityField("heavy_metals", 15),
				eventMarker(domain.EventHarvested, cultivated, 10),
				eventMarker(domain.EventInspected, []domain.EntityKind{domain.EntityPlant}, 10),
				{
					Code:    "missing_location",
					Kind:    RequireLocation,
					Penalty: 5,
					Message: "cultivation site location not recorded",
				},
			},
		},
		{
			Name:        RuleSetGMP,
			Version:     "2024.1",
			Description: "Good manufacturing practice for processing and packaging",
			Requirements: []Requirement{
				eventMarker(domain.EventProcessingStarted, []domain.EntityKind{domain.EntityLot}, 10),
				eventMarker(domain.EventProcessingCompleted, []domain.EntityKind{domain.EntityLot}, 10),
				eventMarker(domain.EventQualityTested, processed, 15),
				eventMarker(domain.EventPackaged, processed, 10),
				eventMarker(domain.EventLabeled, []domain.EntityKind{domain.EntityProduct}, 10),
				qualityField("microbial_count", 10),
				qualityField("identity_test", 10),
				{
					Code:      "missing_attachment:" + string(domain.EventQualityTested),
					Kind:      RequireAttachment,
					EventType: domain.EventQualityTested,
					AppliesTo: processed,
					Penalty:   10,
					Message:   "quality test results carry no certificate evidence",
				},
			},
		},
		{
			Name:        RuleSetDocumentation,
			Version:     "2024.1",
			Description: "Record keeping completeness",
			Requirements: []Requirement{
				{
					Code:    "missing_location",
					Kind:    RequireLocation,
					Penalty: 10,
					Message: "no location recorded for entity or its events",
				},
				{
					Code:    "missing_attachment",
					Kind:    RequireAttachment,
					Penalty: 15,
					Message: "no photographic or document evidence attached",
				},
				eventMarker(domain.EventInspected, []domain.EntityKind{domain.EntityPlant}, 10),
				eventMarker(domain.EventQualityTested, processed, 10),
			},
		},
	}
}
