package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/matcher"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "sqlmock"), time.Second), mock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"postgres", func(c *Config) { c.Driver = DriverPostgres; c.DSN = "postgres://localhost/recon" }, false},
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }, true},
		{"empty dsn", func(c *Config) { c.DSN = " " }, true},
		{"negative pool", func(c *Config) { c.MaxOpenConns = -1 }, true},
		{"negative timeout", func(c *Config) { c.QueryTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_StringHidesDSN(t *testing.T) {
	c := Config{Driver: DriverPostgres, DSN: "postgres://user:secret@db/recon"}
	assert.NotContains(t, c.String(), "secret")
}

func TestListPendingDays(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"plant_id", "business_date"}).
		AddRow(7, "2025-01-15").
		AddRow(12, "2025-01-15")
	mock.ExpectQuery("SELECT plant_id, business_date FROM declared_totals").
		WithArgs("2025-01-01", "2025-01-31").
		WillReturnRows(rows)

	days, err := store.ListPendingDays(context.Background(), "2025-01-01", "2025-01-31")
	require.NoError(t, err)
	assert.Equal(t, []models.PlantDay{{PlantID: 7, Date: "2025-01-15"}, {PlantID: 12, Date: "2025-01-15"}}, days)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeclaredTotals(t *testing.T) {
	store, mock := newMockStore(t)

	columns := []string{"plant_id", "business_date", "gross_total", "postpaid_invoices", "prepaid_invoices",
		"voucher_total", "cash_theoretical", "credit_total", "wallet_total"}
	mock.ExpectQuery("SELECT plant_id, business_date, gross_total").
		WithArgs(7, "2025-01-15").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(7, "2025-01-15", "1000.00", "100.00", "50.00", "30.00", "300.00", "0", "12.50"))

	declared, err := store.DeclaredTotals(context.Background(), 7, "2025-01-15")
	require.NoError(t, err)
	assert.Equal(t, 7, declared.PlantID)
	assert.True(t, declared.GrossTotal.Equal(dec("1000")))
	assert.True(t, declared.InvoiceTotal().Equal(dec("150")))
	assert.True(t, declared.WalletTotal.Equal(dec("12.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeclaredTotals_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT plant_id, business_date, gross_total").
		WithArgs(7, "2025-01-15").
		WillReturnError(sql.ErrNoRows)

	_, err := store.DeclaredTotals(context.Background(), 7, "2025-01-15")
	assert.True(t, stderrors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "7:2025-01-15")
}

func TestDepositsAndSettlements(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT plant_id, business_date, amount FROM cash_deposits").
		WithArgs(7, "2025-01-10", "2025-01-20").
		WillReturnRows(sqlmock.NewRows([]string{"plant_id", "business_date", "amount"}).
			AddRow(7, "2025-01-15", "150.00").
			AddRow(7, "2025-01-16", "150.00"))

	mock.ExpectQuery("SELECT plant_id, business_date, channel, amount FROM settlements").
		WithArgs(7, "2025-01-15").
		WillReturnRows(sqlmock.NewRows([]string{"plant_id", "business_date", "channel", "amount"}).
			AddRow(7, "2025-01-15", "bank_card", "520.00").
			AddRow(7, "2025-01-15", "voucher", "30.00"))

	deposits, err := store.Deposits(context.Background(), 7, "2025-01-10", "2025-01-20")
	require.NoError(t, err)
	require.Len(t, deposits, 2)
	assert.Equal(t, "2025-01-16", deposits[1].Date)

	records, err := store.Settlements(context.Background(), 7, "2025-01-15")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.ChannelBankCard, records[0].Channel)
	assert.True(t, models.SumSettlements(records, models.ChannelVoucher).Equal(dec("30")))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func sampleVerdict() models.DailyVerdict {
	table := matcher.DefaultToleranceTable()
	cash := matcher.NewCashMatcher(table).Reconcile(dec("300"),
		[]models.Deposit{{PlantID: 7, Date: "2025-01-16", Amount: dec("290")}}, "2025-01-15")
	bank := matcher.ReconcileDirect(table, models.CategoryBankCards, "2025-01-15", dec("520"), dec("520"))

	return models.DailyVerdict{
		PlantID: 7,
		Date:    "2025-01-15",
		Outcomes: map[models.Category]models.ReconciliationOutcome{
			models.CategoryCash:      cash,
			models.CategoryBankCards: bank,
		},
		GlobalStatus: models.WorstStatus(cash.Status, bank.Status),
	}
}

func TestSaveVerdict(t *testing.T) {
	store, mock := newMockStore(t)
	verdict := sampleVerdict()
	cash := verdict.Outcomes[models.CategoryCash]

	metadata, err := json.Marshal(cash.MatchMetadata)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM reconciliation_reports").
		WithArgs(7, "2025-01-15").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO reconciliation_reports").
		WithArgs("run-1", 7, "2025-01-15", "cash", "300.00", "290.00", "10.00", "3.33",
			"MINOR_ANOMALY", cash.Note, string(metadata)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO reconciliation_reports").
		WithArgs("run-1", 7, "2025-01-15", "bank_cards", "520.00", "520.00", "0.00", "0.00",
			"BALANCED", "perfect match", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = store.SaveVerdict(context.Background(), "run-1", verdict)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveVerdict_RollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM reconciliation_reports").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO reconciliation_reports").
		WillReturnError(stderrors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.SaveVerdict(context.Background(), "run-1", sampleVerdict())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert cash outcome")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory(t *testing.T) {
	store, mock := newMockStore(t)

	columns := []string{"run_id", "plant_id", "business_date", "category", "theoretical_value", "actual_value",
		"difference", "percent_deviation", "status", "note", "metadata"}
	mock.ExpectQuery("SELECT run_id, plant_id, business_date, category").
		WithArgs("2025-01-01", "2025-01-31").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", 7, "2025-01-15", "bank_cards", "520", "520", "0", "0", "BALANCED", "perfect match", "{}").
			AddRow("r1", 7, "2025-01-15", "cash", "300", "290", "10", "3.33", "MINOR_ANOMALY", "",
				`{"matched_deposits":[{"date":"2025-01-16","amount":"290","days_late":1}],"search_horizon_days":3}`).
			AddRow("r1", 12, "2025-01-16", "cash", "50", "0", "50", "100", "AWAITING_DEPOSIT", "awaiting deposit", "")).
		RowsWillBeClosed()

	history, err := store.History(context.Background(), "2025-01-01", "2025-01-31")
	require.NoError(t, err)
	require.Len(t, history, 2)

	first := history[0]
	assert.Equal(t, 7, first.PlantID)
	assert.Len(t, first.Outcomes, 2)
	assert.Equal(t, models.StatusMinorAnomaly, first.GlobalStatus)
	cash := first.Outcomes[models.CategoryCash]
	require.Len(t, cash.MatchMetadata.MatchedDeposits, 1)
	assert.Equal(t, 1, cash.MatchMetadata.MatchedDeposits[0].DaysLate)
	assert.Equal(t, 3, cash.MatchMetadata.SearchHorizonDays)

	assert.Equal(t, models.StatusAwaitingDeposit, history[1].GlobalStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory_RejectsUnknownStatus(t *testing.T) {
	store, mock := newMockStore(t)

	columns := []string{"run_id", "plant_id", "business_date", "category", "theoretical_value", "actual_value",
		"difference", "percent_deviation", "status", "note", "metadata"}
	mock.ExpectQuery("SELECT run_id").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", 7, "2025-01-15", "cash", "1", "1", "0", "0", "OK", "", "{}"))

	_, err := store.History(context.Background(), "2025-01-01", "2025-01-31")
	assert.Error(t, err)
}

func TestPlantNames(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT plant_id, name FROM plants").
		WillReturnRows(sqlmock.NewRows([]string{"plant_id", "name"}).
			AddRow(7, "Bergamo Nord").
			AddRow(12, "Seriate"))

	names, err := store.PlantNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]string{7: "Bergamo Nord", 12: "Seriate"}, names)
}

func TestUpsertDeclared(t *testing.T) {
	store, mock := newMockStore(t)

	totals := []models.DeclaredTotals{{
		PlantID:         7,
		Date:            "2025-01-15",
		GrossTotal:      dec("1000.004"),
		CashTheoretical: dec("300"),
	}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO declared_totals").
		WithArgs(7, "2025-01-15", "1000.00", "0.00", "0.00", "0.00", "300.00", "0.00", "0.00").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n, err := store.UpsertDeclared(context.Background(), totals)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_SharesOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO plants").WithArgs(7, "Bergamo Nord").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO declared_totals").WillReturnError(stderrors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), "import", func(ctx context.Context) error {
		if err := store.UpsertPlants(ctx, map[int]string{7: "Bergamo Nord"}); err != nil {
			return err
		}
		_, err := store.UpsertDeclared(ctx, []models.DeclaredTotals{
			{PlantID: 7, Date: "2025-01-15", GrossTotal: dec("1000"), CashTheoretical: dec("300")},
		})
		return err
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_Commits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cash_deposits").WithArgs(7, "2025-01-16").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO cash_deposits").WithArgs(7, "2025-01-16", "290.00").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM settlements").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO settlements").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), "import", func(ctx context.Context) error {
		if _, err := store.ReplaceDeposits(ctx, []models.Deposit{{PlantID: 7, Date: "2025-01-16", Amount: dec("290")}}); err != nil {
			return err
		}
		_, err := store.ReplaceSettlements(ctx, []models.SettlementRecord{
			{PlantID: 7, Date: "2025-01-16", Channel: models.ChannelBankCard, Amount: dec("700")},
		})
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDeclared_RejectsInvalid(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := store.UpsertDeclared(context.Background(), []models.DeclaredTotals{{PlantID: 0, Date: "2025-01-15"}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceDeposits(t *testing.T) {
	store, mock := newMockStore(t)

	deposits := []models.Deposit{
		{PlantID: 7, Date: "2025-01-15", Amount: dec("100")},
		{PlantID: 7, Date: "2025-01-15", Amount: dec("200")},
		{PlantID: 7, Date: "2025-01-16", Amount: dec("50.5")},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cash_deposits").WithArgs(7, "2025-01-15").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM cash_deposits").WithArgs(7, "2025-01-16").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO cash_deposits").WithArgs(7, "2025-01-15", "100.00").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO cash_deposits").WithArgs(7, "2025-01-15", "200.00").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO cash_deposits").WithArgs(7, "2025-01-16", "50.50").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n, err := store.ReplaceDeposits(context.Background(), deposits)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceSettlements(t *testing.T) {
	store, mock := newMockStore(t)

	records := []models.SettlementRecord{
		{PlantID: 7, Date: "2025-01-15", Channel: models.ChannelBankCard, Amount: dec("500")},
		{PlantID: 7, Date: "2025-01-15", Channel: models.ChannelBankCard, Amount: dec("20")},
		{PlantID: 7, Date: "2025-01-15", Channel: models.ChannelVoucher, Amount: dec("30")},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM settlements").WithArgs(7, "2025-01-15", "bank_card").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM settlements").WithArgs(7, "2025-01-15", "voucher").WillReturnResult(sqlmock.NewResult(0, 0))
	for _, r := range records {
		mock.ExpectExec("INSERT INTO settlements").
			WithArgs(7, "2025-01-15", string(r.Channel), r.Amount.StringFixed(2)).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	n, err := store.ReplaceSettlements(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	assert.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSQLiteRoundTrip runs the real schema on an in-memory SQLite database
func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Config{Driver: DriverSQLite, DSN: ":memory:", QueryTimeout: 5 * time.Second})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer store.Close()

	require.NoError(t, store.Migrate(ctx))
	// migrations are repeatable
	require.NoError(t, store.Migrate(ctx))

	_, err = store.UpsertDeclared(ctx, []models.DeclaredTotals{
		{PlantID: 7, Date: "2025-01-15", GrossTotal: dec("1000"), CashTheoretical: dec("300")},
	})
	require.NoError(t, err)
	_, err = store.UpsertDeclared(ctx, []models.DeclaredTotals{
		{PlantID: 7, Date: "2025-01-15", GrossTotal: dec("1100"), CashTheoretical: dec("300")},
	})
	require.NoError(t, err)

	declared, err := store.DeclaredTotals(ctx, 7, "2025-01-15")
	require.NoError(t, err)
	assert.True(t, declared.GrossTotal.Equal(dec("1100")), "upsert should replace, got %s", declared.GrossTotal)

	_, err = store.ReplaceDeposits(ctx, []models.Deposit{{PlantID: 7, Date: "2025-01-16", Amount: dec("290")}})
	require.NoError(t, err)
	_, err = store.ReplaceDeposits(ctx, []models.Deposit{{PlantID: 7, Date: "2025-01-16", Amount: dec("290")}})
	require.NoError(t, err)

	deposits, err := store.Deposits(ctx, 7, "2025-01-10", "2025-01-20")
	require.NoError(t, err)
	assert.Len(t, deposits, 1, "re-importing deposits should not duplicate them")

	require.NoError(t, store.SaveVerdict(ctx, "run-1", sampleVerdict()))
	require.NoError(t, store.SaveVerdict(ctx, "run-2", sampleVerdict()))

	history, err := store.History(ctx, "2025-01-01", "2025-01-31")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Len(t, history[0].Outcomes, 2)
	assert.Equal(t, models.StatusMinorAnomaly, history[0].GlobalStatus)

	require.NoError(t, store.UpsertPlants(ctx, map[int]string{7: "Bergamo Nord"}))
	names, err := store.PlantNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bergamo Nord", names[7])
}
