package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// UpsertPlants registers plant names, replacing existing ones
func (s *SQLStore) UpsertPlants(ctx context.Context, names map[int]string) error {
	if len(names) == 0 {
		return nil
	}

	ids := make([]int, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	query := s.db.Rebind(`
		INSERT INTO plants (plant_id, name) VALUES (?, ?)
		ON CONFLICT (plant_id) DO UPDATE SET name = excluded.name`)

	return s.inTx(ctx, "upsert plants", func(ctx context.Context, tx *sqlx.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, query, id, names[id]); err != nil {
				return fmt.Errorf("failed to upsert plant %d: %w", id, err)
			}
		}
		return nil
	})
}

// UpsertDeclared stores declared totals, replacing the totals of plant days
// already present
func (s *SQLStore) UpsertDeclared(ctx context.Context, totals []models.DeclaredTotals) (int, error) {
	if len(totals) == 0 {
		return 0, nil
	}

	query := s.db.Rebind(`
		INSERT INTO declared_totals (plant_id, business_date, gross_total, postpaid_invoices,
			prepaid_invoices, voucher_total, cash_theoretical, credit_total, wallet_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (plant_id, business_date) DO UPDATE SET
			gross_total = excluded.gross_total,
			postpaid_invoices = excluded.postpaid_invoices,
			prepaid_invoices = excluded.prepaid_invoices,
			voucher_total = excluded.voucher_total,
			cash_theoretical = excluded.cash_theoretical,
			credit_total = excluded.credit_total,
			wallet_total = excluded.wallet_total`)

	err := s.inTx(ctx, "upsert declared totals", func(ctx context.Context, tx *sqlx.Tx) error {
		for _, t := range totals {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("invalid declared totals for %s: %w", models.DayKey(t.PlantID, t.Date), err)
			}
			d := t.Rounded()
			_, err := tx.ExecContext(ctx, query,
				d.PlantID, d.Date,
				fixed(d.GrossTotal), fixed(d.PostpaidInvoices), fixed(d.PrepaidInvoices),
				fixed(d.VoucherTotal), fixed(d.CashTheoretical), fixed(d.CreditTotal), fixed(d.WalletTotal))
			if err != nil {
				return fmt.Errorf("failed to upsert declared totals for %s: %w", models.DayKey(d.PlantID, d.Date), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(totals), nil
}

// ReplaceDeposits stores cash deposits. Deposits already stored for the
// plant days in the batch are removed first so a file can be imported again.
func (s *SQLStore) ReplaceDeposits(ctx context.Context, deposits []models.Deposit) (int, error) {
	if len(deposits) == 0 {
		return 0, nil
	}

	days := make([]models.PlantDay, 0, len(deposits))
	for _, d := range deposits {
		days = append(days, models.PlantDay{PlantID: d.PlantID, Date: d.Date})
	}

	del := s.db.Rebind(`DELETE FROM cash_deposits WHERE plant_id = ? AND business_date = ?`)
	insert := s.db.Rebind(`INSERT INTO cash_deposits (plant_id, business_date, amount) VALUES (?, ?, ?)`)

	err := s.inTx(ctx, "replace deposits", func(ctx context.Context, tx *sqlx.Tx) error {
		for _, day := range distinctDays(days) {
			if _, err := tx.ExecContext(ctx, del, day.PlantID, day.Date); err != nil {
				return fmt.Errorf("failed to clear deposits of %s: %w", day.Key(), err)
			}
		}
		for _, d := range deposits {
			if _, err := tx.ExecContext(ctx, insert, d.PlantID, d.Date, fixed(d.Amount)); err != nil {
				return fmt.Errorf("failed to insert deposit of %s: %w", models.DayKey(d.PlantID, d.Date), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(deposits), nil
}

// ReplaceSettlements stores settlement records, removing the records already
// stored for the same plant day and channel
func (s *SQLStore) ReplaceSettlements(ctx context.Context, records []models.SettlementRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	type channelDay struct {
		day     models.PlantDay
		channel models.Channel
	}
	seen := make(map[channelDay]bool)
	var targets []channelDay
	for _, r := range records {
		key := channelDay{models.PlantDay{PlantID: r.PlantID, Date: r.Date}, r.Channel}
		if !seen[key] {
			seen[key] = true
			targets = append(targets, key)
		}
	}

	del := s.db.Rebind(`DELETE FROM settlements WHERE plant_id = ? AND business_date = ? AND channel = ?`)
	insert := s.db.Rebind(`INSERT INTO settlements (plant_id, business_date, channel, amount) VALUES (?, ?, ?, ?)`)

	err := s.inTx(ctx, "replace settlements", func(ctx context.Context, tx *sqlx.Tx) error {
		for _, target := range targets {
			if _, err := tx.ExecContext(ctx, del, target.day.PlantID, target.day.Date, string(target.channel)); err != nil {
				return fmt.Errorf("failed to clear %s settlements of %s: %w", target.channel, target.day.Key(), err)
			}
		}
		for _, r := range records {
			if _, err := tx.ExecContext(ctx, insert, r.PlantID, r.Date, string(r.Channel), fixed(r.Amount)); err != nil {
				return fmt.Errorf("failed to insert settlement of %s: %w", models.DayKey(r.PlantID, r.Date), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

type txKey struct{}

// WithinTx runs fn in a single transaction. Store writes made with the
// context passed to fn join that transaction, so either all of them are
// committed or none is.
func (s *SQLStore) WithinTx(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return s.inTx(ctx, operation, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// inTx runs fn in the transaction carried by ctx, or in a new one
func (s *SQLStore) inTx(ctx context.Context, operation string, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx, tx)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin %s: %w", operation, err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", operation, err)
	}
	return nil
}

func distinctDays(days []models.PlantDay) []models.PlantDay {
	seen := make(map[string]bool, len(days))
	out := make([]models.PlantDay, 0, len(days))
	for _, d := range days {
		if seen[d.Key()] {
			continue
		}
		seen[d.Key()] = true
		out = append(out, d)
	}
	return out
}

func fixed(d decimal.Decimal) string {
	return models.RoundAmount(d).StringFixed(models.AmountPlaces)
}
