package matcher

import (
	"fmt"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"

	"github.com/shopspring/decimal"
)

// CashMatcher reconciles declared cash against bank deposits that may land
// a few days after the business date.
type CashMatcher struct {
	table *ToleranceTable
}

// NewCashMatcher creates a cash matcher using the given tolerance table
func NewCashMatcher(table *ToleranceTable) *CashMatcher {
	if table == nil {
		table = DefaultToleranceTable()
	}
	return &CashMatcher{table: table}
}

// Reconcile sums every deposit dated within [referenceDate, referenceDate +
// elastic days] and compares the sum with the theoretical cash.
func (cm *CashMatcher) Reconcile(theoretical decimal.Decimal, deposits []models.Deposit, referenceDate string) models.ReconciliationOutcome {
	theoretical = models.RoundAmount(theoretical)

	ref, err := models.ParseDate(referenceDate)
	if err != nil {
		return models.ReconciliationOutcome{
			Category:         models.CategoryCash,
			Date:             referenceDate,
			TheoreticalValue: theoretical,
			ActualValue:      decimal.Zero,
			Difference:       theoretical,
			Status:           models.StatusNotFound,
			Note:             fmt.Sprintf("invalid reference date '%s'", referenceDate),
		}
	}

	horizon := cm.table.Profile(models.CategoryCash).ElasticDays
	index := NewDepositIndex(deposits)
	matched := index.InWindow(ref, ref.AddDate(0, 0, horizon))

	outcome := models.ReconciliationOutcome{
		Category:         models.CategoryCash,
		Date:             models.FormatDate(ref),
		TheoreticalValue: theoretical,
		MatchMetadata: models.MatchMetadata{
			MatchedDeposits:   matched,
			SearchHorizonDays: horizon,
		},
	}

	if len(matched) == 0 && theoretical.IsPositive() {
		outcome.ActualValue = decimal.Zero
		outcome.Difference = theoretical
		outcome.Status = models.StatusAwaitingDeposit
		outcome.Note = fmt.Sprintf("awaiting deposit (searched up to +%d days)", horizon)
		return outcome
	}

	actual := models.RoundAmount(SumMatched(matched))
	outcome.ActualValue = actual
	outcome.Difference = theoretical.Sub(actual)
	outcome.Status = cm.table.Classify(outcome.Difference, models.CategoryCash)

	switch {
	case outcome.Status == models.StatusBalancedRounded:
		outcome.Note = fmt.Sprintf("rounding difference of %s", outcome.Difference.StringFixed(models.AmountPlaces))
	case len(matched) > 0 && matched[0].DaysLate > 0:
		outcome.Note = fmt.Sprintf("deposit found %d days after", matched[0].DaysLate)
	}

	return outcome
}

// ReconcileDirect compares a theoretical amount one to one with the amount
// observed on the settlement side.
func ReconcileDirect(table *ToleranceTable, category models.Category, date string, theoretical, actual decimal.Decimal) models.ReconciliationOutcome {
	theoretical = models.RoundAmount(theoretical)
	actual = models.RoundAmount(actual)
	diff := theoretical.Sub(actual)
	status := table.Classify(diff, category)

	var note string
	switch {
	case status == models.StatusBalanced:
		note = "perfect match"
	case diff.IsPositive():
		note = "missing settlement transaction"
	default:
		note = "extra settlement transaction (double charge?)"
	}

	return models.ReconciliationOutcome{
		Category:         category,
		Date:             date,
		TheoreticalValue: theoretical,
		ActualValue:      actual,
		Difference:       diff,
		Status:           status,
		Note:             note,
	}
}

// ReconcileAggregate compares the invoiced fuel-card total with the sum of
// the card network feed (A) and the voucher network feed (B).
func ReconcileAggregate(table *ToleranceTable, date string, invoices, feedA, feedB decimal.Decimal) models.ReconciliationOutcome {
	invoices = models.RoundAmount(invoices)
	feedA = models.RoundAmount(feedA)
	feedB = models.RoundAmount(feedB)

	actual := feedA.Add(feedB)
	diff := invoices.Sub(actual)
	status := table.Classify(diff, models.CategoryFuelCards)

	var note string
	if status != models.StatusBalanced && diff.IsPositive() {
		switch {
		case feedB.IsZero():
			note = "voucher feed empty (feed B missing?)"
		case feedA.IsZero():
			note = "fuel-card feed empty (feed A missing?)"
		}
	}

	return models.ReconciliationOutcome{
		Category:         models.CategoryFuelCards,
		Date:             date,
		TheoreticalValue: invoices,
		ActualValue:      actual,
		Difference:       diff,
		Status:           status,
		Note:             note,
		MatchMetadata: models.MatchMetadata{
			FeedATotal: &feedA,
			FeedBTotal: &feedB,
		},
	}
}
