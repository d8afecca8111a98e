package models

import (
	"fmt"
	"strings"
)

// Category identifies the payment channel being reconciled
type Category string

const (
	CategoryCash      Category = "cash"
	CategoryBankCards Category = "bank_cards"
	CategoryFuelCards Category = "fuel_cards"
	CategoryVouchers  Category = "vouchers"
	CategoryWallet    Category = "wallet"
	CategoryCredit    Category = "credit"
)

// categoryAliases maps the names used by the point-of-sale exports to categories.
var categoryAliases = map[string]Category{
	"cash":              CategoryCash,
	"contanti":          CategoryCash,
	"bank_cards":        CategoryBankCards,
	"bank-cards":        CategoryBankCards,
	"carte_bancarie":    CategoryBankCards,
	"fuel_cards":        CategoryFuelCards,
	"fuel-cards":        CategoryFuelCards,
	"carte_petrolifere": CategoryFuelCards,
	"vouchers":          CategoryVouchers,
	"buoni":             CategoryVouchers,
	"wallet":            CategoryWallet,
	"satispay":          CategoryWallet,
	"credit":            CategoryCredit,
	"crediti":           CategoryCredit,
}

// AllCategories returns every known category in a stable order
func AllCategories() []Category {
	return []Category{
		CategoryCash,
		CategoryBankCards,
		CategoryFuelCards,
		CategoryVouchers,
		CategoryWallet,
		CategoryCredit,
	}
}

// String returns the string representation of Category
func (c Category) String() string {
	return string(c)
}

// IsValid checks if the category is one of the known channels
func (c Category) IsValid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory parses a category name or one of its aliases
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if c, ok := categoryAliases[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown category '%s'", s)
}

// Status is the terminal state of one category reconciliation
type Status string

const (
	StatusBalanced        Status = "BALANCED"
	StatusBalancedRounded Status = "BALANCED_ROUNDED"
	StatusMinorAnomaly    Status = "MINOR_ANOMALY"
	StatusMajorAnomaly    Status = "MAJOR_ANOMALY"
	StatusNotFound        Status = "NOT_FOUND"
	StatusAwaitingDeposit Status = "AWAITING_DEPOSIT"
)

// StatusPrecedence ranks statuses from worst to best for the global verdict.
// BALANCED_ROUNDED is folded into BALANCED before the lookup.
var StatusPrecedence = []Status{
	StatusMajorAnomaly,
	StatusMinorAnomaly,
	StatusAwaitingDeposit,
	StatusNotFound,
	StatusBalanced,
}

// AllStatuses returns every status value
func AllStatuses() []Status {
	return []Status{
		StatusBalanced,
		StatusBalancedRounded,
		StatusMinorAnomaly,
		StatusMajorAnomaly,
		StatusNotFound,
		StatusAwaitingDeposit,
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is one of the six known states
func (s Status) IsValid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// IsAnomaly reports whether the status is a minor or major anomaly
func (s Status) IsAnomaly() bool {
	return s == StatusMinorAnomaly || s == StatusMajorAnomaly
}

// IsBalanced reports whether the status counts as balanced
func (s Status) IsBalanced() bool {
	return s == StatusBalanced || s == StatusBalancedRounded
}

// Rank returns the index of the status in StatusPrecedence; lower is worse.
func (s Status) Rank() int {
	if s == StatusBalancedRounded {
		s = StatusBalanced
	}
	for i, candidate := range StatusPrecedence {
		if candidate == s {
			return i
		}
	}
	return len(StatusPrecedence)
}

// WorstStatus folds a set of statuses into one using StatusPrecedence.
// An empty set is balanced.
func WorstStatus(statuses ...Status) Status {
	worst := len(StatusPrecedence) - 1
	for _, s := range statuses {
		if r := s.Rank(); r < worst {
			worst = r
		}
	}
	return StatusPrecedence[worst]
}

// ParseStatus parses and validates a status string
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid status '%s'", s)
	}
	return status, nil
}

// Severity tiers a recurring anomaly pattern
type Severity string

const (
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Channel identifies the external feed a settlement record came from
type Channel string

const (
	ChannelBankCard Channel = "bank_card"
	ChannelFuelCard Channel = "fuel_card"
	ChannelVoucher  Channel = "voucher"
	ChannelWallet   Channel = "wallet"
	ChannelCredit   Channel = "credit"
)

// ParseChannel parses and validates a settlement channel
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bank_card", "numia", "pos":
		return ChannelBankCard, nil
	case "fuel_card", "ip_carte", "carta_petrolifera":
		return ChannelFuelCard, nil
	case "voucher", "ip_buoni", "buono":
		return ChannelVoucher, nil
	case "wallet", "satispay":
		return ChannelWallet, nil
	case "credit", "fattura1click":
		return ChannelCredit, nil
	default:
		return "", fmt.Errorf("invalid settlement channel '%s'", s)
	}
}
