package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/logger"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = stderrors.New("record not found")

// SQLStore implements the reconciliation store on top of sqlx
type SQLStore struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  logger.Logger
}

// Open connects to the configured database and checks the connection
func Open(ctx context.Context, config Config) (*SQLStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlx.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	// sqlite allows a single writer
	if config.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewSQLStore(db, config.QueryTimeout), nil
}

// NewSQLStore wraps an open connection
func NewSQLStore(db *sqlx.DB, timeout time.Duration) *SQLStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SQLStore{
		db:      db,
		timeout: timeout,
		logger:  logger.GetGlobalLogger().WithComponent("storage").WithField("driver", db.DriverName()),
	}
}

// DB returns the underlying connection
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type declaredRow struct {
	PlantID          int             `db:"plant_id"`
	Date             string          `db:"business_date"`
	GrossTotal       decimal.Decimal `db:"gross_total"`
	PostpaidInvoices decimal.Decimal `db:"postpaid_invoices"`
	PrepaidInvoices  decimal.Decimal `db:"prepaid_invoices"`
	VoucherTotal     decimal.Decimal `db:"voucher_total"`
	CashTheoretical  decimal.Decimal `db:"cash_theoretical"`
	CreditTotal      decimal.Decimal `db:"credit_total"`
	WalletTotal      decimal.Decimal `db:"wallet_total"`
}

func (r declaredRow) toModel() models.DeclaredTotals {
	return models.DeclaredTotals{
		PlantID:          r.PlantID,
		Date:             r.Date,
		GrossTotal:       r.GrossTotal,
		PostpaidInvoices: r.PostpaidInvoices,
		PrepaidInvoices:  r.PrepaidInvoices,
		VoucherTotal:     r.VoucherTotal,
		CashTheoretical:  r.CashTheoretical,
		CreditTotal:      r.CreditTotal,
		WalletTotal:      r.WalletTotal,
	}
}

type amountRow struct {
	PlantID int             `db:"plant_id"`
	Date    string          `db:"business_date"`
	Channel string          `db:"channel"`
	Amount  decimal.Decimal `db:"amount"`
}

type reportRow struct {
	RunID            string          `db:"run_id"`
	PlantID          int             `db:"plant_id"`
	Date             string          `db:"business_date"`
	Category         string          `db:"category"`
	TheoreticalValue decimal.Decimal `db:"theoretical_value"`
	ActualValue      decimal.Decimal `db:"actual_value"`
	Difference       decimal.Decimal `db:"difference"`
	PercentDeviation decimal.Decimal `db:"percent_deviation"`
	Status           string          `db:"status"`
	Note             string          `db:"note"`
	Metadata         string          `db:"metadata"`
}

// ListPendingDays returns the plant days with declared totals in the range,
// ordered by date and plant
func (s *SQLStore) ListPendingDays(ctx context.Context, from, to string) ([]models.PlantDay, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`
		SELECT plant_id, business_date
		FROM declared_totals
		WHERE business_date >= ? AND business_date <= ?
		ORDER BY business_date, plant_id`)

	var days []models.PlantDay
	if err := s.db.SelectContext(ctx, &days, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to list plant days: %w", err)
	}
	return days, nil
}

// DeclaredTotals returns the declared totals of a plant day
func (s *SQLStore) DeclaredTotals(ctx context.Context, plantID int, date string) (models.DeclaredTotals, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`
		SELECT plant_id, business_date, gross_total, postpaid_invoices, prepaid_invoices,
			voucher_total, cash_theoretical, credit_total, wallet_total
		FROM declared_totals
		WHERE plant_id = ? AND business_date = ?`)

	var row declaredRow
	if err := s.db.GetContext(ctx, &row, query, plantID, date); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return models.DeclaredTotals{}, fmt.Errorf("declared totals of %s: %w", models.DayKey(plantID, date), ErrNotFound)
		}
		return models.DeclaredTotals{}, fmt.Errorf("failed to get declared totals: %w", err)
	}
	return row.toModel(), nil
}

// Deposits returns the cash deposits of a plant between from and to inclusive
func (s *SQLStore) Deposits(ctx context.Context, plantID int, from, to string) ([]models.Deposit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`
		SELECT plant_id, business_date, amount
		FROM cash_deposits
		WHERE plant_id = ? AND business_date >= ? AND business_date <= ?
		ORDER BY business_date`)

	var rows []amountRow
	if err := s.db.SelectContext(ctx, &rows, query, plantID, from, to); err != nil {
		return nil, fmt.Errorf("failed to query deposits: %w", err)
	}

	deposits := make([]models.Deposit, len(rows))
	for i, r := range rows {
		deposits[i] = models.Deposit{PlantID: r.PlantID, Date: r.Date, Amount: r.Amount}
	}
	return deposits, nil
}

// Settlements returns the settlement records of a plant day
func (s *SQLStore) Settlements(ctx context.Context, plantID int, date string) ([]models.SettlementRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`
		SELECT plant_id, business_date, channel, amount
		FROM settlements
		WHERE plant_id = ? AND business_date = ?
		ORDER BY channel`)

	var rows []amountRow
	if err := s.db.SelectContext(ctx, &rows, query, plantID, date); err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}

	records := make([]models.SettlementRecord, len(rows))
	for i, r := range rows {
		records[i] = models.SettlementRecord{
			PlantID: r.PlantID,
			Date:    r.Date,
			Channel: models.Channel(r.Channel),
			Amount:  r.Amount,
		}
	}
	return records, nil
}

// SaveVerdict replaces the stored outcomes of the verdict's plant day in a
// single transaction
func (s *SQLStore) SaveVerdict(ctx context.Context, runID string, verdict models.DailyVerdict) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	del := s.db.Rebind(`DELETE FROM reconciliation_reports WHERE plant_id = ? AND business_date = ?`)
	if _, err := tx.ExecContext(ctx, del, verdict.PlantID, verdict.Date); err != nil {
		return fmt.Errorf("failed to delete previous outcomes: %w", err)
	}

	insert := s.db.Rebind(`
		INSERT INTO reconciliation_reports (run_id, plant_id, business_date, category,
			theoretical_value, actual_value, difference, percent_deviation, status, note, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	for _, category := range verdict.SortedCategories() {
		outcome := verdict.Outcomes[category]

		metadata, err := json.Marshal(outcome.MatchMetadata)
		if err != nil {
			return fmt.Errorf("failed to marshal %s metadata: %w", category, err)
		}

		_, err = tx.ExecContext(ctx, insert,
			runID, verdict.PlantID, verdict.Date, string(category),
			outcome.TheoreticalValue.StringFixed(models.AmountPlaces),
			outcome.ActualValue.StringFixed(models.AmountPlaces),
			outcome.Difference.StringFixed(models.AmountPlaces),
			outcome.PercentDeviation().StringFixed(models.AmountPlaces),
			string(outcome.Status), outcome.Note, string(metadata))
		if err != nil {
			return fmt.Errorf("failed to insert %s outcome: %w", category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit verdict: %w", err)
	}
	return nil
}

// History rebuilds the stored verdicts of a date range, oldest first
func (s *SQLStore) History(ctx context.Context, from, to string) ([]models.DailyVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`
		SELECT run_id, plant_id, business_date, category, theoretical_value, actual_value,
			difference, percent_deviation, status, note, metadata
		FROM reconciliation_reports
		WHERE business_date >= ? AND business_date <= ?
		ORDER BY business_date, plant_id, category`)

	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to query reconciliation history: %w", err)
	}

	return groupVerdicts(rows)
}

func groupVerdicts(rows []reportRow) ([]models.DailyVerdict, error) {
	var verdicts []models.DailyVerdict
	index := make(map[string]int)

	for _, r := range rows {
		category, err := models.ParseCategory(r.Category)
		if err != nil {
			return nil, fmt.Errorf("stored outcome of %s: %w", models.DayKey(r.PlantID, r.Date), err)
		}
		status, err := models.ParseStatus(r.Status)
		if err != nil {
			return nil, fmt.Errorf("stored outcome of %s: %w", models.DayKey(r.PlantID, r.Date), err)
		}

		var metadata models.MatchMetadata
		if r.Metadata != "" {
			if err := json.Unmarshal([]byte(r.Metadata), &metadata); err != nil {
				return nil, fmt.Errorf("invalid metadata for %s %s: %w", models.DayKey(r.PlantID, r.Date), category, err)
			}
		}

		key := models.DayKey(r.PlantID, r.Date)
		i, ok := index[key]
		if !ok {
			i = len(verdicts)
			index[key] = i
			verdicts = append(verdicts, models.DailyVerdict{
				PlantID:  r.PlantID,
				Date:     r.Date,
				Outcomes: make(map[models.Category]models.ReconciliationOutcome),
			})
		}

		verdicts[i].Outcomes[category] = models.ReconciliationOutcome{
			Category:         category,
			Date:             r.Date,
			TheoreticalValue: r.TheoreticalValue,
			ActualValue:      r.ActualValue,
			Difference:       r.Difference,
			Status:           status,
			Note:             r.Note,
			MatchMetadata:    metadata,
		}
	}

	for i := range verdicts {
		statuses := make([]models.Status, 0, len(verdicts[i].Outcomes))
		for _, o := range verdicts[i].Outcomes {
			statuses = append(statuses, o.Status)
		}
		verdicts[i].GlobalStatus = models.WorstStatus(statuses...)
	}

	return verdicts, nil
}

// PlantNames returns the registered plant names by id
func (s *SQLStore) PlantNames(ctx context.Context) (map[int]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `SELECT plant_id, name FROM plants`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plants: %w", err)
	}
	defer rows.Close()

	names := make(map[int]string)
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan plant: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}
