package compliance

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ruleFile is the on-disk layout of externally maintained rule sets.
type ruleFile struct {
	RuleSets []RuleSet `json:"rule_sets"`
}

// ParseRuleSets decodes rule sets from r and validates every requirement.
func ParseRuleSets(r io.Reader) ([]RuleSet, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var file ruleFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode rule sets: %w", err)
	}
	probe := &Engine{ruleSets: map[string]RuleSet{}}
	for _, set := range file.RuleSets {
		if err := probe.Register(set); err != nil {
			return nil, err
		}
	}
	return file.RuleSets, nil
}

// LoadRuleSets reads rule sets from a JSON file.
func LoadRuleSets(path string) ([]RuleSet, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("open rule sets: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseRuleSets(f)
}
