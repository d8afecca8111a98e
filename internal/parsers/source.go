package parsers

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"

	"github.com/xuri/excelize/v2"
)

// Supported file formats
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// DetectFormat returns the file format implied by the extension
func DetectFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", errors.FileError(errors.CodeUnsupportedExt, path,
			fmt.Errorf("unsupported extension %q", filepath.Ext(path)))
	}
}

// rowReader yields the rows of a file one at a time and returns io.EOF
// after the last row
type rowReader interface {
	Next() ([]string, error)
	Close() error
	// SerialDates reports whether date cells may hold spreadsheet serial
	// numbers instead of text
	SerialDates() bool
}

func openRows(path string, config *ParseConfig) (rowReader, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fileError(path, err)
	}
	if format == FormatXLSX {
		return openXLSX(path, config.Sheet)
	}
	return openCSV(path, config)
}

func fileError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return errors.FileError(errors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return errors.FileError(errors.CodeFilePermission, path, err)
	default:
		return errors.FileError(errors.CodeFileCorrupted, path, err)
	}
}

type csvRows struct {
	file   *os.File
	reader *csv.Reader
}

func openCSV(path string, config *ParseConfig) (*csvRows, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	reader := csv.NewReader(file)
	reader.Comma = config.Delimiter
	reader.Comment = config.Comment
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return &csvRows{file: file, reader: reader}, nil
}

func (r *csvRows) Next() ([]string, error) {
	return r.reader.Read()
}

func (r *csvRows) Close() error {
	return r.file.Close()
}

func (r *csvRows) SerialDates() bool {
	return false
}

type xlsxRows struct {
	file *excelize.File
	rows *excelize.Rows
}

// openXLSX streams the named sheet, or the first one when sheet is empty.
// Cells are read raw so formatted dates come back as serial numbers.
func openXLSX(path, sheet string) (*xlsxRows, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			f.Close()
			return nil, errors.ParseError(errors.CodeEmptySheet, path, 0, "", "", fmt.Errorf("workbook has no sheets"))
		}
		sheet = sheets[0]
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		available := strings.Join(f.GetSheetList(), ", ")
		f.Close()
		return nil, errors.ParseError(errors.CodeEmptySheet, path, 0, "", sheet, err).
			WithSuggestion(fmt.Sprintf("Available sheets: %s", available))
	}
	return &xlsxRows{file: f, rows: rows}, nil
}

func (r *xlsxRows) Next() ([]string, error) {
	if !r.rows.Next() {
		if err := r.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return r.rows.Columns(excelize.Options{RawCellValue: true})
}

func (r *xlsxRows) Close() error {
	rowsErr := r.rows.Close()
	if err := r.file.Close(); err != nil {
		return err
	}
	return rowsErr
}

func (r *xlsxRows) SerialDates() bool {
	return true
}

// parseDateCell normalizes a date cell. Spreadsheet serial numbers are
// accepted when the source stores dates that way.
func parseDateCell(value string, serial bool) (string, error) {
	date, err := models.NormalizeDate(value)
	if err == nil || !serial {
		return date, err
	}
	n, convErr := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if convErr != nil || n < 1 || n > 2958465 {
		return "", err
	}
	t, convErr := excelize.ExcelDateToTime(n, false)
	if convErr != nil {
		return "", err
	}
	return models.FormatDate(t), nil
}
