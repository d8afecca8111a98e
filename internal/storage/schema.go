package storage

import (
	"context"
	"fmt"
)

// schema is valid for both PostgreSQL and SQLite. Dates are stored as
// YYYY-MM-DD text so range filters compare lexically.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS plants (
		plant_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS declared_totals (
		plant_id INTEGER NOT NULL,
		business_date TEXT NOT NULL,
		gross_total NUMERIC(14,2) NOT NULL DEFAULT 0,
		postpaid_invoices NUMERIC(14,2) NOT NULL DEFAULT 0,
		prepaid_invoices NUMERIC(14,2) NOT NULL DEFAULT 0,
		voucher_total NUMERIC(14,2) NOT NULL DEFAULT 0,
		cash_theoretical NUMERIC(14,2) NOT NULL DEFAULT 0,
		credit_total NUMERIC(14,2) NOT NULL DEFAULT 0,
		wallet_total NUMERIC(14,2) NOT NULL DEFAULT 0,
		PRIMARY KEY (plant_id, business_date)
	)`,
	`CREATE TABLE IF NOT EXISTS cash_deposits (
		plant_id INTEGER NOT NULL,
		business_date TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cash_deposits_plant_date ON cash_deposits (plant_id, business_date)`,
	`CREATE TABLE IF NOT EXISTS settlements (
		plant_id INTEGER NOT NULL,
		business_date TEXT NOT NULL,
		channel TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settlements_plant_date ON settlements (plant_id, business_date)`,
	`CREATE TABLE IF NOT EXISTS reconciliation_reports (
		run_id TEXT NOT NULL,
		plant_id INTEGER NOT NULL,
		business_date TEXT NOT NULL,
		category TEXT NOT NULL,
		theoretical_value NUMERIC(14,2) NOT NULL,
		actual_value NUMERIC(14,2) NOT NULL,
		difference NUMERIC(14,2) NOT NULL,
		percent_deviation NUMERIC(10,2) NOT NULL,
		status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (plant_id, business_date, category)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_date ON reconciliation_reports (business_date)`,
}

// Migrate creates the tables and indexes that do not exist yet
func (s *SQLStore) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	s.logger.WithField("statements", len(schema)).Info("Schema is up to date")
	return nil
}
