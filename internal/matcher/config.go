// Package matcher implements the per-category reconciliation engine.
//
// For every payment channel a plant collects money through, the engine
// compares a theoretical amount declared by the point-of-sale controller
// against the money observed in an independent settlement feed and
// classifies the signed difference against a per-category tolerance band:
//   - Cash is matched against bank deposits inside an elastic date window
//   - Bank cards, credit and wallet are compared one to one
//   - Fuel cards are compared against the sum of two independent feeds
//
// Everything in this package is pure: no I/O, no clock, no logging.
//
// Example usage:
//
//	table := matcher.DefaultToleranceTable()
//	status := table.Classify(decimal.NewFromInt(-5), models.CategoryBankCards)
//
//	cash := matcher.NewCashMatcher(table)
//	outcome := cash.Reconcile(theoretical, deposits, "2025-01-15")
package matcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"

	"github.com/shopspring/decimal"
)

// FallbackCategory is the profile used for categories missing from a table
const FallbackCategory = models.CategoryBankCards

// ToleranceProfile holds the tolerance bands of one category.
// A difference of exactly zero is balanced; up to RoundingBand it is a
// rounding difference; up to MinorBand a minor anomaly; beyond that major.
type ToleranceProfile struct {
	// RoundingBand is the largest absolute difference treated as rounding
	RoundingBand decimal.Decimal `json:"rounding_band" mapstructure:"rounding_band"`

	// MinorBand is the largest absolute difference treated as a minor anomaly
	MinorBand decimal.Decimal `json:"minor_band" mapstructure:"minor_band"`

	// ElasticDays is the forward window in days for delayed settlement.
	// Only cash uses it.
	ElasticDays int `json:"elastic_days" mapstructure:"elastic_days"`
}

// Validate checks the band ordering of the profile
func (p ToleranceProfile) Validate() error {
	if p.RoundingBand.IsNegative() {
		return fmt.Errorf("rounding band cannot be negative: %s", p.RoundingBand.String())
	}
	if p.MinorBand.IsNegative() {
		return fmt.Errorf("minor band cannot be negative: %s", p.MinorBand.String())
	}
	if !p.RoundingBand.LessThan(p.MinorBand) {
		return fmt.Errorf("rounding band %s must be lower than minor band %s",
			p.RoundingBand.String(), p.MinorBand.String())
	}
	if p.ElasticDays < 0 {
		return fmt.Errorf("elastic days cannot be negative: %d", p.ElasticDays)
	}
	return nil
}

// ToleranceTable maps categories to their tolerance profiles.
// Categories without an entry use the bank-card profile.
type ToleranceTable struct {
	Profiles map[models.Category]ToleranceProfile `json:"profiles"`
}

func newProfile(rounding, minor string, elasticDays int) ToleranceProfile {
	return ToleranceProfile{
		RoundingBand: decimal.RequireFromString(rounding),
		MinorBand:    decimal.RequireFromString(minor),
		ElasticDays:  elasticDays,
	}
}

// DefaultToleranceTable returns the tolerances used in production
func DefaultToleranceTable() *ToleranceTable {
	return &ToleranceTable{
		Profiles: map[models.Category]ToleranceProfile{
			models.CategoryCash:      newProfile("5.00", "20.00", 3),
			models.CategoryBankCards: newProfile("1.00", "10.00", 0),
			models.CategoryFuelCards: newProfile("1.00", "10.00", 0),
			models.CategoryVouchers:  newProfile("0.50", "5.00", 0),
			models.CategoryWallet:    newProfile("0.10", "1.00", 0),
		},
	}
}

// Set replaces the profile of a category
func (t *ToleranceTable) Set(category models.Category, profile ToleranceProfile) {
	if t.Profiles == nil {
		t.Profiles = make(map[models.Category]ToleranceProfile)
	}
	t.Profiles[category] = profile
}

// Profile returns the profile of a category, falling back to the bank-card
// profile for categories the table does not know.
func (t *ToleranceTable) Profile(category models.Category) ToleranceProfile {
	if p, ok := t.Profiles[category]; ok {
		return p
	}
	return t.Profiles[FallbackCategory]
}

// Classify maps a signed difference to a status using the category's bands.
// Boundaries are inclusive on the lower status.
func (t *ToleranceTable) Classify(diff decimal.Decimal, category models.Category) models.Status {
	d := diff.Abs()
	profile := t.Profile(category)

	switch {
	case d.IsZero():
		return models.StatusBalanced
	case d.LessThanOrEqual(profile.RoundingBand):
		return models.StatusBalancedRounded
	case d.LessThanOrEqual(profile.MinorBand):
		return models.StatusMinorAnomaly
	default:
		return models.StatusMajorAnomaly
	}
}

// Validate checks every profile and the presence of the fallback profile
func (t *ToleranceTable) Validate() error {
	if t == nil || len(t.Profiles) == 0 {
		return fmt.Errorf("tolerance table is empty")
	}
	if _, ok := t.Profiles[FallbackCategory]; !ok {
		return fmt.Errorf("tolerance table must define the %s profile", FallbackCategory)
	}
	for category, profile := range t.Profiles {
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("invalid %s tolerance: %w", category, err)
		}
	}
	return nil
}

// Clone creates a deep copy of the table
func (t *ToleranceTable) Clone() *ToleranceTable {
	if t == nil {
		return nil
	}
	clone := &ToleranceTable{Profiles: make(map[models.Category]ToleranceProfile, len(t.Profiles))}
	for category, profile := range t.Profiles {
		clone.Profiles[category] = profile
	}
	return clone
}

// String returns a compact representation of the table, ordered by category
func (t *ToleranceTable) String() string {
	categories := make([]string, 0, len(t.Profiles))
	for category := range t.Profiles {
		categories = append(categories, string(category))
	}
	sort.Strings(categories)

	parts := make([]string, 0, len(categories))
	for _, name := range categories {
		p := t.Profiles[models.Category(name)]
		parts = append(parts, fmt.Sprintf("%s{rounding: %s, minor: %s, elastic: %d}",
			name, p.RoundingBand.StringFixed(2), p.MinorBand.StringFixed(2), p.ElasticDays))
	}
	return "ToleranceTable{" + strings.Join(parts, ", ") + "}"
}
