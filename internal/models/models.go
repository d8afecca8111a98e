package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the normalized business date format
const DateLayout = "2006-01-02"

// AmountPlaces is the number of decimal digits amounts are rounded to
const AmountPlaces = 2

// RoundAmount rounds an amount to two decimal digits
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountPlaces)
}

// ParseDate parses a normalized date. Timestamps whose date part is followed
// by a space or 'T' are truncated to the date; any other trailing text is
// rejected.
func ParseDate(s string) (time.Time, error) {
	s = datePart(strings.TrimSpace(s))
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s': %w", s, err)
	}
	return t, nil
}

// datePart strips the time of a timestamp. Values that are not a date
// followed by a time separator are returned unchanged.
func datePart(s string) string {
	if len(s) > len(DateLayout) && (s[len(DateLayout)] == ' ' || s[len(DateLayout)] == 'T') {
		return s[:len(DateLayout)]
	}
	return s
}

// FormatDate formats a time as a normalized date
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ShiftDate returns the date offset by the given number of days
func ShiftDate(date string, days int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return FormatDate(t.AddDate(0, 0, days)), nil
}

// DeclaredTotals is the point-of-sale controller's view of one plant day.
// Missing values are zero.
type DeclaredTotals struct {
	PlantID          int             `json:"plant_id"`
	Date             string          `json:"date"`
	GrossTotal       decimal.Decimal `json:"gross_total"`
	PostpaidInvoices decimal.Decimal `json:"postpaid_invoices"`
	PrepaidInvoices  decimal.Decimal `json:"prepaid_invoices"`
	VoucherTotal     decimal.Decimal `json:"voucher_total"`
	CashTheoretical  decimal.Decimal `json:"cash_theoretical"`
	CreditTotal      decimal.Decimal `json:"credit_total"`
	WalletTotal      decimal.Decimal `json:"wallet_total"`
}

// InvoiceTotal returns postpaid plus prepaid invoices
func (d DeclaredTotals) InvoiceTotal() decimal.Decimal {
	return d.PostpaidInvoices.Add(d.PrepaidInvoices)
}

// Rounded returns a copy with every amount rounded to two decimals
func (d DeclaredTotals) Rounded() DeclaredTotals {
	d.GrossTotal = RoundAmount(d.GrossTotal)
	d.PostpaidInvoices = RoundAmount(d.PostpaidInvoices)
	d.PrepaidInvoices = RoundAmount(d.PrepaidInvoices)
	d.VoucherTotal = RoundAmount(d.VoucherTotal)
	d.CashTheoretical = RoundAmount(d.CashTheoretical)
	d.CreditTotal = RoundAmount(d.CreditTotal)
	d.WalletTotal = RoundAmount(d.WalletTotal)
	return d
}

// Validate performs basic validation on the declared totals
func (d DeclaredTotals) Validate() error {
	if d.PlantID <= 0 {
		return fmt.Errorf("plant id must be positive, got %d", d.PlantID)
	}
	if _, err := ParseDate(d.Date); err != nil {
		return err
	}
	amounts := map[string]decimal.Decimal{
		"gross_total":       d.GrossTotal,
		"postpaid_invoices": d.PostpaidInvoices,
		"prepaid_invoices":  d.PrepaidInvoices,
		"voucher_total":     d.VoucherTotal,
		"cash_theoretical":  d.CashTheoretical,
		"credit_total":      d.CreditTotal,
		"wallet_total":      d.WalletTotal,
	}
	for name, amount := range amounts {
		if amount.IsNegative() {
			return fmt.Errorf("%s cannot be negative: %s", name, amount.String())
		}
	}
	return nil
}

// Deposit is one cash deposit registered by the bank
type Deposit struct {
	PlantID int             `json:"plant_id"`
	Date    string          `json:"date"`
	Amount  decimal.Decimal `json:"amount"`
}

// SettlementRecord is one row of an external settlement feed
type SettlementRecord struct {
	PlantID int             `json:"plant_id"`
	Date    string          `json:"date"`
	Channel Channel         `json:"channel"`
	Amount  decimal.Decimal `json:"amount"`
}

// SumSettlements totals the records of the given channel
func SumSettlements(records []SettlementRecord, channel Channel) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		if r.Channel == channel {
			total = total.Add(r.Amount)
		}
	}
	return total
}

// MatchedDeposit is a deposit counted inside the elastic cash window
type MatchedDeposit struct {
	Date     string          `json:"date"`
	Amount   decimal.Decimal `json:"amount"`
	DaysLate int             `json:"days_late"`
}

// MatchMetadata carries channel-specific evidence for an outcome
type MatchMetadata struct {
	MatchedDeposits   []MatchedDeposit `json:"matched_deposits,omitempty"`
	SearchHorizonDays int              `json:"search_horizon_days,omitempty"`
	FeedATotal        *decimal.Decimal `json:"feed_a_total,omitempty"`
	FeedBTotal        *decimal.Decimal `json:"feed_b_total,omitempty"`
}

// ReconciliationOutcome is the result of comparing one category for one plant day
type ReconciliationOutcome struct {
	Category         Category        `json:"category"`
	Date             string          `json:"date"`
	TheoreticalValue decimal.Decimal `json:"theoretical_value"`
	ActualValue      decimal.Decimal `json:"actual_value"`
	Difference       decimal.Decimal `json:"difference"`
	Status           Status          `json:"status"`
	Note             string          `json:"note"`
	MatchMetadata    MatchMetadata   `json:"match_metadata"`
}

// PercentDeviation returns difference / theoretical * 100, or zero when the
// theoretical value is zero.
func (o ReconciliationOutcome) PercentDeviation() decimal.Decimal {
	if o.TheoreticalValue.IsZero() {
		return decimal.Zero
	}
	return o.Difference.Div(o.TheoreticalValue).Mul(decimal.NewFromInt(100)).Round(AmountPlaces)
}

// AbsoluteDifference returns the magnitude of the difference
func (o ReconciliationOutcome) AbsoluteDifference() decimal.Decimal {
	return o.Difference.Abs()
}

// String returns a string representation of the outcome
func (o ReconciliationOutcome) String() string {
	return fmt.Sprintf("Outcome{%s %s: theoretical %s, actual %s, diff %s, %s}",
		o.Date, o.Category, o.TheoreticalValue.StringFixed(AmountPlaces),
		o.ActualValue.StringFixed(AmountPlaces), o.Difference.StringFixed(AmountPlaces), o.Status)
}

// MarshalJSON renders amounts with two fixed decimals
func (o ReconciliationOutcome) MarshalJSON() ([]byte, error) {
	type Alias ReconciliationOutcome
	return json.Marshal(&struct {
		TheoreticalValue string `json:"theoretical_value"`
		ActualValue      string `json:"actual_value"`
		Difference       string `json:"difference"`
		PercentDeviation string `json:"percent_deviation"`
		Alias
	}{
		TheoreticalValue: o.TheoreticalValue.StringFixed(AmountPlaces),
		ActualValue:      o.ActualValue.StringFixed(AmountPlaces),
		Difference:       o.Difference.StringFixed(AmountPlaces),
		PercentDeviation: o.PercentDeviation().StringFixed(AmountPlaces),
		Alias:            Alias(o),
	})
}

// DailyVerdict is the combined result for one plant day
type DailyVerdict struct {
	PlantID      int                                `json:"plant_id"`
	Date         string                             `json:"date"`
	Outcomes     map[Category]ReconciliationOutcome `json:"outcomes"`
	GlobalStatus Status                             `json:"global_status"`
}

// Outcome returns the outcome for a category
func (v DailyVerdict) Outcome(c Category) (ReconciliationOutcome, bool) {
	o, ok := v.Outcomes[c]
	return o, ok
}

// SortedCategories returns the verdict's categories in the AllCategories order
func (v DailyVerdict) SortedCategories() []Category {
	order := make(map[Category]int)
	for i, c := range AllCategories() {
		order[c] = i
	}
	cats := make([]Category, 0, len(v.Outcomes))
	for c := range v.Outcomes {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		oi, iok := order[cats[i]]
		oj, jok := order[cats[j]]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return cats[i] < cats[j]
	})
	return cats
}

// Anomalies returns the outcomes flagged as minor or major anomalies
func (v DailyVerdict) Anomalies() []ReconciliationOutcome {
	var out []ReconciliationOutcome
	for _, c := range v.SortedCategories() {
		if o := v.Outcomes[c]; o.Status.IsAnomaly() {
			out = append(out, o)
		}
	}
	return out
}

// Key identifies the plant day a verdict belongs to
func (v DailyVerdict) Key() string {
	return DayKey(v.PlantID, v.Date)
}

// PlantDay identifies one plant on one business date
type PlantDay struct {
	PlantID int    `json:"plant_id" db:"plant_id"`
	Date    string `json:"date" db:"business_date"`
}

// Key returns the key of the plant day
func (pd PlantDay) Key() string {
	return DayKey(pd.PlantID, pd.Date)
}

// DayKey builds the key for a plant day
func DayKey(plantID int, date string) string {
	return fmt.Sprintf("%d:%s", plantID, date)
}

// AnomalyPattern is a recurring anomaly for one plant and category
type AnomalyPattern struct {
	PlantID                   int             `json:"plant_id"`
	Category                  Category        `json:"category"`
	OccurrenceCount           int             `json:"occurrence_count"`
	AverageAbsoluteDifference decimal.Decimal `json:"average_absolute_difference"`
	MostRecentDates           []string        `json:"most_recent_dates"`
	Severity                  Severity        `json:"severity"`
}

// String returns a string representation of the pattern
func (p AnomalyPattern) String() string {
	return fmt.Sprintf("Pattern{plant %d %s: %d occurrences, avg diff %s, %s}",
		p.PlantID, p.Category, p.OccurrenceCount,
		p.AverageAbsoluteDifference.StringFixed(AmountPlaces), p.Severity)
}
