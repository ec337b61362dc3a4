package core

import "herbtrace/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(LineageIntegrityRule())
	engine.Register(LifecycleTransitionRule())
	return engine
}
