// Package reconciler drives the per-day reconciliation of every plant.
//
// DailyReconciler combines the category reconcilers of the matcher package
// into one DailyVerdict per plant day and derives its global status.
// DetectPatterns looks across stored verdicts for anomalies that keep
// coming back. BatchOrchestrator is the driver: it loads pending days from a
// Store, reconciles them on a bounded worker pool and persists the verdicts.
//
// Example usage:
//
//	daily := reconciler.NewDailyReconciler(matcher.DefaultToleranceTable())
//	verdict := daily.ReconcileDay(input)
//
//	orchestrator, err := reconciler.NewBatchOrchestrator(store, daily, reconciler.DefaultBatchConfig())
//	summary, err := orchestrator.Run(ctx, from, to)
package reconciler

import (
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/matcher"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
)

const creditNote = "check manual credit entries"

// DailyReconciler produces the verdict of one plant day
type DailyReconciler struct {
	table *matcher.ToleranceTable
	cash  *matcher.CashMatcher
}

// NewDailyReconciler creates a daily reconciler using the given tolerance table
func NewDailyReconciler(table *matcher.ToleranceTable) *DailyReconciler {
	if table == nil {
		table = matcher.DefaultToleranceTable()
	}
	return &DailyReconciler{
		table: table,
		cash:  matcher.NewCashMatcher(table),
	}
}

// Table returns the tolerance table used by the reconciler
func (dr *DailyReconciler) Table() *matcher.ToleranceTable {
	return dr.table
}

// ReconcileDay reconciles cash, bank cards and fuel cards for the day, plus
// credit and wallet when the day has any. Calling it again with the same
// input yields an identical verdict.
func (dr *DailyReconciler) ReconcileDay(in DayInput) models.DailyVerdict {
	declared := in.Declared.Rounded()
	date := declared.Date
	totals := in.Totals()

	outcomes := make(map[models.Category]models.ReconciliationOutcome, 5)

	outcomes[models.CategoryCash] = dr.cash.Reconcile(declared.CashTheoretical, in.Deposits, date)

	bank := matcher.ReconcileDirect(
		dr.table, models.CategoryBankCards, date,
		BankCardTheoretical(declared), totals.BankCards)
	explainSurplus(&bank, in.BankCardRecords)
	outcomes[models.CategoryBankCards] = bank

	outcomes[models.CategoryFuelCards] = matcher.ReconcileAggregate(
		dr.table, date, declared.InvoiceTotal(), totals.FuelCards, totals.Vouchers)

	if !declared.CreditTotal.IsZero() || len(in.CreditRecords) > 0 {
		credit := matcher.ReconcileDirect(dr.table, models.CategoryCredit, date,
			declared.CreditTotal, totals.Credit)
		if credit.Status != models.StatusBalanced {
			credit.Note = creditNote
		}
		outcomes[models.CategoryCredit] = credit
	}

	if !declared.WalletTotal.IsZero() || len(in.WalletRecords) > 0 {
		wallet := matcher.ReconcileDirect(dr.table, models.CategoryWallet, date,
			declared.WalletTotal, totals.Wallet)
		explainSurplus(&wallet, in.WalletRecords)
		outcomes[models.CategoryWallet] = wallet
	}

	return models.DailyVerdict{
		PlantID:      declared.PlantID,
		Date:         date,
		Outcomes:     outcomes,
		GlobalStatus: GlobalStatus(outcomes),
	}
}

// explainSurplus replaces the generic note of an anomalous surplus when
// repeated settlement records account for it
func explainSurplus(o *models.ReconciliationOutcome, records []models.SettlementRecord) {
	if !o.Status.IsAnomaly() {
		return
	}
	if note := matcher.DuplicateNote(records, o.Difference); note != "" {
		o.Note = note
	}
}

// GlobalStatus folds per-category outcomes into the worst status using
// models.StatusPrecedence.
func GlobalStatus(outcomes map[models.Category]models.ReconciliationOutcome) models.Status {
	statuses := make([]models.Status, 0, len(outcomes))
	for _, o := range outcomes {
		statuses = append(statuses, o.Status)
	}
	return models.WorstStatus(statuses...)
}
