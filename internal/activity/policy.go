// Package activity holds the per-activity scheduling policy table: cadence,
// catch-up grace, staleness threshold and priority override for each
// activity key. These values are injected into the decision engine and the
// reaper instead of being spread across call sites.
package activity

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/priority"
	"github.com/djlord-it/sitepulse/internal/timing"
)

type Scope string

const (
	ScopeSite   Scope = "site"
	ScopeGlobal Scope = "global"
)

// Policy configures one activity. Field tags match the config file layout.
type Policy struct {
	Key     string `mapstructure:"key" json:"key"`
	Type    string `mapstructure:"type" json:"type"`
	Scope   Scope  `mapstructure:"scope" json:"scope"`
	Cadence string `mapstructure:"cadence" json:"cadence"`

	// CatchUpHours nil means timing.DefaultCatchUpHours.
	CatchUpHours *int `mapstructure:"catch_up_hours" json:"catch_up_hours,omitempty"`

	// StalenessThreshold is how long a RUNNING record may go without a
	// terminal report before the reaper reclaims it.
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold" json:"staleness_threshold"`

	// MinInterval suppresses a new run when the last one completed more
	// recently than this. Zero disables the guard.
	MinInterval time.Duration `mapstructure:"min_interval" json:"min_interval"`

	// Tier is an optional explicit priority override ("critical", "high", ...).
	Tier string `mapstructure:"tier" json:"tier,omitempty"`

	cadence Cadence
}

// CatchUp returns the effective catch-up grace in hours.
func (p Policy) CatchUp() int {
	if p.CatchUpHours == nil {
		return timing.DefaultCatchUpHours
	}
	return *p.CatchUpHours
}

// TierOverride returns the parsed override, or nil when none is set.
func (p Policy) TierOverride() *domain.PriorityTier {
	if p.Tier == "" {
		return nil
	}
	tier, err := domain.ParsePriorityTier(p.Tier)
	if err != nil {
		return nil
	}
	return &tier
}

// IsGlobal reports whether the activity runs once for the whole fleet.
func (p Policy) IsGlobal() bool {
	return p.Scope == ScopeGlobal
}

// Schedule returns the parsed cadence; valid after Table construction.
func (p Policy) Schedule() Cadence {
	return p.cadence
}

func (p *Policy) normalize() error {
	if p.Key == "" {
		return errors.New("activity key is required")
	}
	if p.Type == "" {
		p.Type = p.Key
	}
	if p.Scope == "" {
		p.Scope = ScopeSite
	}
	if p.Scope != ScopeSite && p.Scope != ScopeGlobal {
		return errors.Newf("activity %s: scope must be 'site' or 'global', got %q", p.Key, p.Scope)
	}
	if p.StalenessThreshold <= 0 {
		return errors.Newf("activity %s: staleness_threshold must be positive", p.Key)
	}
	if p.CatchUpHours != nil && *p.CatchUpHours < 0 {
		return errors.Newf("activity %s: catch_up_hours must not be negative", p.Key)
	}
	if p.MinInterval < 0 {
		return errors.Newf("activity %s: min_interval must not be negative", p.Key)
	}
	if p.Tier != "" {
		if _, err := domain.ParsePriorityTier(p.Tier); err != nil {
			return errors.Wrapf(err, "activity %s", p.Key)
		}
	}
	c, err := ParseCadence(p.Cadence)
	if err != nil {
		return errors.Wrapf(err, "activity %s", p.Key)
	}
	p.cadence = c
	return nil
}

// Table is the validated, keyed set of activity policies.
type Table struct {
	byKey map[string]Policy
	keys  []string
}

// NewTable validates policies and indexes them by key.
func NewTable(policies []Policy) (*Table, error) {
	t := &Table{byKey: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if err := p.normalize(); err != nil {
			return nil, err
		}
		if _, dup := t.byKey[p.Key]; dup {
			return nil, errors.Newf("activity %s: duplicate key", p.Key)
		}
		t.byKey[p.Key] = p
		t.keys = append(t.keys, p.Key)
	}
	sort.Strings(t.keys)
	return t, nil
}

// Lookup returns the policy for key.
func (t *Table) Lookup(key string) (Policy, bool) {
	p, ok := t.byKey[key]
	return p, ok
}

// All returns the policies ordered by key.
func (t *Table) All() []Policy {
	out := make([]Policy, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, t.byKey[k])
	}
	return out
}

func intPtr(n int) *int { return &n }

// DefaultPolicies is the built-in table used when the config file has none.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Key: "lead_sync", Type: priority.TypeLeadSync, Cadence: "*/30 * * * *",
			CatchUpHours: intPtr(2), StalenessThreshold: 6 * time.Hour, MinInterval: 25 * time.Minute,
		},
		{
			Key: "customer_outreach", Type: priority.TypeCustomerOutreach, Cadence: "@hourly",
			StalenessThreshold: 12 * time.Hour, MinInterval: 20 * time.Hour,
		},
		{
			Key: "daily_report", Type: priority.TypeDailyReport, Cadence: "@hourly",
			StalenessThreshold: 24 * time.Hour, MinInterval: 20 * time.Hour,
		},
		{
			Key: "lead_research", Type: priority.TypeResearch, Cadence: "0 */2 * * *",
			StalenessThreshold: 48 * time.Hour, MinInterval: 20 * time.Hour,
		},
		{
			Key: "content_generation", Type: priority.TypeContentGeneration, Cadence: "0 */2 * * *",
			StalenessThreshold: 24 * time.Hour, MinInterval: 20 * time.Hour,
		},
		{
			Key: "record_cleanup", Type: priority.TypeFleetMaintenance, Scope: ScopeGlobal, Cadence: "0 3 * * *",
			StalenessThreshold: 24 * time.Hour, MinInterval: 20 * time.Hour,
		},
	}
}
