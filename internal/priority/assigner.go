// Package priority maps activity types to the execution-priority tier the
// durable runtime uses for its own concurrency allocation.
package priority

import (
	"time"

	"github.com/djlord-it/sitepulse/internal/domain"
)

// Activity types known to the static table.
const (
	TypeCustomerOutreach  = "customer_outreach"
	TypeLeadFollowUp      = "lead_follow_up"
	TypeLeadSync          = "lead_sync"
	TypeDailyBatch        = "daily_batch"
	TypeDailyReport       = "daily_report"
	TypeResearch          = "research"
	TypeContentGeneration = "content_generation"
	TypeBulkEnrichment    = "bulk_enrichment"
	TypeFleetMaintenance  = "fleet_maintenance"
)

var defaultTable = map[string]domain.PriorityTier{
	TypeCustomerOutreach:  domain.TierHigh,
	TypeLeadFollowUp:      domain.TierHigh,
	TypeLeadSync:          domain.TierHigh,
	TypeDailyBatch:        domain.TierNormal,
	TypeDailyReport:       domain.TierNormal,
	TypeResearch:          domain.TierLow,
	TypeContentGeneration: domain.TierLow,
	TypeBulkEnrichment:    domain.TierLow,
	TypeFleetMaintenance:  domain.TierBackground,
}

var defaultBudgets = map[domain.PriorityTier]domain.TierBudget{
	domain.TierCritical:   {MaxConcurrency: 20, MaxDuration: 30 * time.Minute},
	domain.TierHigh:       {MaxConcurrency: 10, MaxDuration: 2 * time.Hour},
	domain.TierNormal:     {MaxConcurrency: 5, MaxDuration: 6 * time.Hour},
	domain.TierLow:        {MaxConcurrency: 2, MaxDuration: 12 * time.Hour},
	domain.TierBackground: {MaxConcurrency: 1, MaxDuration: 48 * time.Hour},
}

// Assigner is pure and safe for concurrent use once built.
type Assigner struct {
	table   map[string]domain.PriorityTier
	budgets map[domain.PriorityTier]domain.TierBudget
}

// NewAssigner returns an assigner with the built-in table and budgets.
func NewAssigner() *Assigner {
	a := &Assigner{
		table:   make(map[string]domain.PriorityTier, len(defaultTable)),
		budgets: make(map[domain.PriorityTier]domain.TierBudget, len(defaultBudgets)),
	}
	for k, v := range defaultTable {
		a.table[k] = v
	}
	for k, v := range defaultBudgets {
		a.budgets[k] = v
	}
	return a
}

// WithType adds or replaces a table entry. Call before sharing the assigner.
func (a *Assigner) WithType(activityType string, tier domain.PriorityTier) *Assigner {
	a.table[activityType] = tier
	return a
}

// WithBudget replaces the budget of one tier. Call before sharing the assigner.
func (a *Assigner) WithBudget(tier domain.PriorityTier, budget domain.TierBudget) *Assigner {
	a.budgets[tier] = budget
	return a
}

// Assign returns the override when given, the table entry when known, and normal otherwise.
func (a *Assigner) Assign(activityType string, override *domain.PriorityTier) domain.PriorityTier {
	if override != nil {
		return *override
	}
	if tier, ok := a.table[activityType]; ok {
		return tier
	}
	return domain.TierNormal
}

// Budget returns the runtime quota for tier; unknown tiers get the normal budget.
func (a *Assigner) Budget(tier domain.PriorityTier) domain.TierBudget {
	if b, ok := a.budgets[tier]; ok {
		return b
	}
	return a.budgets[domain.TierNormal]
}
