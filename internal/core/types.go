package core

import "herbtrace/pkg/domain"

type (
	EntityKind         = domain.EntityKind
	EventType          = domain.EventType
	Lot                = domain.Lot
	Plant              = domain.Plant
	Event              = domain.Event
	AuditEntry         = domain.AuditEntry
	QRCode             = domain.QRCode
	Location           = domain.Location
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	IntegrityReport    = domain.IntegrityReport
	ComplianceResult   = domain.ComplianceResult
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityLot     = domain.EntityLot
	EntityPlant   = domain.EntityPlant
	EntityProduct = domain.EntityProduct
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
