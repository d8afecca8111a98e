package parsers

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/logger"

	"github.com/shopspring/decimal"
)

// Loader reads normalized input files into model records
type Loader struct {
	config *ParseConfig
	logger logger.Logger
}

// NewLoader creates a Loader with the given configuration
func NewLoader(config *ParseConfig) (*Loader, error) {
	if config == nil {
		config = DefaultParseConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parse_config", config, err).
			WithSuggestion("Check the delimiter and error limits of the import configuration")
	}
	return &Loader{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("loader"),
	}, nil
}

// DeclaredFile is the content of a declared totals file
type DeclaredFile struct {
	Totals     []models.DeclaredTotals
	PlantNames map[int]string
	Stats      *ParseStats
}

// rowHandler converts one record. It returns false without an error for
// rows that carry nothing to import.
type rowHandler func(pc *ParseContext, record []string, serialDates bool) (bool, *errors.EnhancedParseError)

// LoadDeclared reads per-day declared totals. A plant day listed twice keeps
// its last row.
func (l *Loader) LoadDeclared(ctx context.Context, path string) (*DeclaredFile, error) {
	result := &DeclaredFile{PlantNames: make(map[int]string)}
	position := make(map[string]int)

	stats, err := l.load(ctx, path, DeclaredLayout(), func(pc *ParseContext, record []string, serial bool) (bool, *errors.EnhancedParseError) {
		plantCell := pc.Value(record, ColPlant)
		plantID, perr := l.plant(pc, plantCell)
		if perr != nil {
			return false, perr
		}
		date, perr := l.date(pc, record, serial)
		if perr != nil {
			return false, perr
		}

		totals := models.DeclaredTotals{PlantID: plantID, Date: date}
		fields := []struct {
			column string
			target *decimal.Decimal
		}{
			{ColGrossTotal, &totals.GrossTotal},
			{ColPostpaidInvoices, &totals.PostpaidInvoices},
			{ColPrepaidInvoices, &totals.PrepaidInvoices},
			{ColVoucherTotal, &totals.VoucherTotal},
			{ColCashTheoretical, &totals.CashTheoretical},
			{ColCreditTotal, &totals.CreditTotal},
			{ColWalletTotal, &totals.WalletTotal},
		}
		for _, f := range fields {
			if !pc.Has(f.column) {
				continue
			}
			value := pc.Value(record, f.column)
			amount, err := models.ParseAmount(value)
			if err != nil {
				return false, errors.InvalidAmountError(pc.File, pc.LineNumber, f.column, value, err)
			}
			*f.target = amount
		}
		if err := totals.Validate(); err != nil {
			return false, errors.NewEnhancedParseError(errors.CodeOutOfRange,
				&errors.ParseContext{File: pc.File, Line: pc.LineNumber}, err.Error(), err)
		}

		if name := pc.Value(record, ColPlantName); name != "" {
			result.PlantNames[plantID] = name
		} else if label := plantLabel(plantCell); label != "" {
			if _, ok := result.PlantNames[plantID]; !ok {
				result.PlantNames[plantID] = label
			}
		}

		key := models.DayKey(plantID, date)
		if i, dup := position[key]; dup {
			l.logger.WithFields(logger.Fields{
				logger.FieldFile:    path,
				"line_number":       pc.LineNumber,
				logger.FieldPlantID: plantID,
				logger.FieldDate:    date,
			}).Warn("Plant day listed twice, keeping the last row")
			result.Totals[i] = totals
			return true, nil
		}
		position[key] = len(result.Totals)
		result.Totals = append(result.Totals, totals)
		return true, nil
	})
	result.Stats = stats
	return result, err
}

// LoadDeposits reads cash deposits. Rows with a zero amount are skipped.
func (l *Loader) LoadDeposits(ctx context.Context, path string) ([]models.Deposit, *ParseStats, error) {
	var deposits []models.Deposit

	stats, err := l.load(ctx, path, DepositLayout(), func(pc *ParseContext, record []string, serial bool) (bool, *errors.EnhancedParseError) {
		plantID, perr := l.plant(pc, pc.Value(record, ColPlant))
		if perr != nil {
			return false, perr
		}
		date, perr := l.date(pc, record, serial)
		if perr != nil {
			return false, perr
		}
		amount, perr := l.amount(pc, record)
		if perr != nil {
			return false, perr
		}
		if amount.IsZero() {
			return false, nil
		}
		deposits = append(deposits, models.Deposit{PlantID: plantID, Date: date, Amount: amount})
		return true, nil
	})
	return deposits, stats, err
}

// LoadSettlements reads settlement records. Rows without a channel take
// defaultChannel; when it is empty the channel column is required. Rows with
// a zero amount are skipped.
func (l *Loader) LoadSettlements(ctx context.Context, path string, defaultChannel models.Channel) ([]models.SettlementRecord, *ParseStats, error) {
	layout := SettlementLayout()
	if defaultChannel == "" {
		for i := range layout.Columns {
			if layout.Columns[i].Name == ColChannel {
				layout.Columns[i].Required = true
			}
		}
	}

	var records []models.SettlementRecord

	stats, err := l.load(ctx, path, layout, func(pc *ParseContext, record []string, serial bool) (bool, *errors.EnhancedParseError) {
		plantID, perr := l.plant(pc, pc.Value(record, ColPlant))
		if perr != nil {
			return false, perr
		}
		date, perr := l.date(pc, record, serial)
		if perr != nil {
			return false, perr
		}

		channel := defaultChannel
		if value := pc.Value(record, ColChannel); value != "" {
			parsed, err := models.ParseChannel(value)
			if err != nil {
				return false, errors.InvalidChannelError(pc.File, pc.LineNumber, ColChannel, value, err)
			}
			channel = parsed
		}
		if channel == "" {
			return false, errors.EmptyValueError(pc.File, pc.LineNumber, ColChannel)
		}

		amount, perr := l.amount(pc, record)
		if perr != nil {
			return false, perr
		}
		if amount.IsZero() {
			return false, nil
		}
		records = append(records, models.SettlementRecord{PlantID: plantID, Date: date, Channel: channel, Amount: amount})
		return true, nil
	})
	return records, stats, err
}

func (l *Loader) load(ctx context.Context, path string, layout Layout, handle rowHandler) (*ParseStats, error) {
	log := l.logger.WithFields(logger.Fields{logger.FieldFile: path, "layout": layout.Name})
	log.Info("Loading file")

	stats := NewParseStats(path)
	rows, err := openRows(path, l.config)
	if err != nil {
		log.WithError(err).Error("Failed to open file")
		return stats, err
	}
	defer rows.Close()

	pc := newParseContext(path)
	header, err := l.nextRecord(rows, pc)
	if err == io.EOF {
		return stats, errors.ParseError(errors.CodeEmptySheet, path, 0, "", "", fmt.Errorf("file has no header row")).
			WithSuggestion("Ensure the file contains a header row followed by data rows")
	}
	if err != nil {
		return stats, errors.ParseError(errors.CodeInvalidFormat, path, pc.LineNumber, "headers", "", err)
	}
	stats.TotalLines++
	if missing := pc.resolve(header, layout, l.config); len(missing) > 0 {
		log.WithFields(logger.Fields{
			"missing_columns":   missing,
			"available_headers": pc.Headers,
		}).Error("Required columns are missing")
		return stats, errors.MissingColumnError(path, missing, pc.Headers)
	}

	collector := errors.NewParseErrorCollector(l.config.MaxErrors, l.config.ContinueOnError)
	serial := rows.SerialDates()
	for {
		if err := ctx.Err(); err != nil {
			log.Warn("Loading was cancelled")
			return stats, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError,
				fmt.Sprintf("loading of %s was cancelled", path))
		}

		record, err := l.nextRecord(rows, pc)
		if err == io.EOF {
			break
		}
		var csvErr *csv.ParseError
		if err != nil && !stderrors.As(err, &csvErr) {
			log.WithError(err).Error("Failed to read file")
			return stats, errors.FileError(errors.CodeFileCorrupted, path, err)
		}
		stats.TotalLines++

		var perr *errors.EnhancedParseError
		switch {
		case err != nil:
			perr = errors.NewEnhancedParseError(errors.CodeInvalidFormat,
				&errors.ParseContext{File: path, Line: pc.LineNumber}, "malformed record", err)
		case l.config.MaxFieldSize > 0:
			perr = l.checkFieldSizes(pc, record)
		}
		if perr == nil && err == nil {
			stats.RecordsParsed++
			var imported bool
			imported, perr = handle(pc, record, serial)
			if perr == nil {
				if imported {
					stats.RecordsValid++
				} else {
					stats.Skipped++
				}
				continue
			}
		}

		stats.AddError(perr)
		log.WithField("line_number", pc.LineNumber).WithError(perr).Warn("Skipping invalid row")
		if !collector.Add(perr) || !l.config.ContinueOnError {
			log.WithField("errors", stats.ErrorCount).Error("Too many invalid rows, loading stopped")
			return stats, collector.GetSummary()
		}
	}

	log.WithFields(logger.Fields{
		"records": stats.RecordsValid,
		"skipped": stats.Skipped,
		"errors":  stats.ErrorCount,
	}).Info(stats.String())
	return stats, nil
}

// nextRecord returns the next record, skipping empty ones when configured
func (l *Loader) nextRecord(rows rowReader, pc *ParseContext) ([]string, error) {
	for {
		record, err := rows.Next()
		if err == io.EOF {
			return nil, err
		}
		pc.LineNumber++
		if err != nil {
			return nil, err
		}
		if l.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		return record, nil
	}
}

func (l *Loader) checkFieldSizes(pc *ParseContext, record []string) *errors.EnhancedParseError {
	for i, field := range record {
		if len(field) <= l.config.MaxFieldSize {
			continue
		}
		column := fmt.Sprintf("field_%d", i+1)
		if i < len(pc.Headers) {
			column = pc.Headers[i]
		}
		return errors.NewEnhancedParseError(errors.CodeInvalidData,
			&errors.ParseContext{File: pc.File, Line: pc.LineNumber, Column: column, Value: truncate(field, 32)},
			fmt.Sprintf("field exceeds maximum size of %d bytes", l.config.MaxFieldSize), nil)
	}
	return nil
}

func (l *Loader) plant(pc *ParseContext, value string) (int, *errors.EnhancedParseError) {
	if value == "" {
		return 0, errors.EmptyValueError(pc.File, pc.LineNumber, ColPlant)
	}
	id, err := models.ParsePlantCode(value)
	if err != nil {
		return 0, errors.InvalidPlantCodeError(pc.File, pc.LineNumber, ColPlant, value, err)
	}
	return id, nil
}

func (l *Loader) date(pc *ParseContext, record []string, serial bool) (string, *errors.EnhancedParseError) {
	value := pc.Value(record, ColDate)
	if value == "" {
		return "", errors.EmptyValueError(pc.File, pc.LineNumber, ColDate)
	}
	date, err := parseDateCell(value, serial)
	if err != nil {
		return "", errors.InvalidDateError(pc.File, pc.LineNumber, ColDate, value, err)
	}
	return date, nil
}

func (l *Loader) amount(pc *ParseContext, record []string) (decimal.Decimal, *errors.EnhancedParseError) {
	value := pc.Value(record, ColAmount)
	amount, err := models.ParseAmount(value)
	if err != nil {
		return decimal.Zero, errors.InvalidAmountError(pc.File, pc.LineNumber, ColAmount, value, err)
	}
	return amount, nil
}

var plantLabelPattern = regexp.MustCompile(`^\s*\d+\s*[-:/]?\s*(.*)$`)

// plantLabel returns the text after the numeric code, "OPT1" for "43809 - OPT1"
func plantLabel(cell string) string {
	m := plantLabelPattern.FindStringSubmatch(cell)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
