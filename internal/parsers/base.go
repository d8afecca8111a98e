// Package parsers loads already-normalized reconciliation inputs from CSV and
// XLSX files. Each file kind has a column layout; header names are matched
// case-insensitively against the canonical column name, its aliases and any
// aliases supplied through ParseConfig.
package parsers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
)

// ParseConfig holds configuration shared by all loaders
type ParseConfig struct {
	Delimiter       rune              `json:"delimiter" mapstructure:"delimiter"`
	Comment         rune              `json:"comment" mapstructure:"comment"`
	Sheet           string            `json:"sheet" mapstructure:"sheet"`
	SkipEmptyRows   bool              `json:"skip_empty_rows" mapstructure:"skip_empty_rows"`
	MaxFieldSize    int               `json:"max_field_size" mapstructure:"max_field_size"`
	MaxErrors       int               `json:"max_errors" mapstructure:"max_errors"`
	ContinueOnError bool              `json:"continue_on_error" mapstructure:"continue_on_error"`
	ColumnAliases   map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
}

// DefaultParseConfig returns the default parsing configuration
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:       ',',
		SkipEmptyRows:   true,
		MaxFieldSize:    4096,
		MaxErrors:       100,
		ContinueOnError: true,
	}
}

// Validate checks the parsing configuration
func (c *ParseConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '\r' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.Comment != 0 && c.Comment == c.Delimiter {
		return fmt.Errorf("comment character cannot equal the delimiter")
	}
	if c.MaxFieldSize < 0 {
		return fmt.Errorf("max field size cannot be negative")
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative")
	}
	return nil
}

// columnName returns the header configured for a canonical column, if any
func (c *ParseConfig) columnName(canonical string) (string, bool) {
	alias, ok := c.ColumnAliases[canonical]
	return alias, ok && strings.TrimSpace(alias) != ""
}

var headerSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeHeader lowercases a header and joins its words with underscores,
// so "Data\noperazione" and "data_operazione" are the same column
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Trim(headerSeparators.ReplaceAllString(h, "_"), "_")
}

// ParseContext tracks the position and resolved columns of a file being read
type ParseContext struct {
	File       string
	LineNumber int
	Headers    []string
	columns    map[string]int
}

func newParseContext(file string) *ParseContext {
	return &ParseContext{File: file, columns: make(map[string]int)}
}

// resolve maps every column of the layout to its header index. It returns
// the required columns that could not be found.
func (pc *ParseContext) resolve(headers []string, layout Layout, config *ParseConfig) []string {
	pc.Headers = make([]string, len(headers))
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		pc.Headers[i] = strings.TrimSpace(h)
		key := normalizeHeader(h)
		if _, seen := index[key]; !seen && key != "" {
			index[key] = i
		}
	}

	var missing []string
	for _, col := range layout.Columns {
		candidates := col.candidates()
		if alias, ok := config.columnName(col.Name); ok {
			candidates = []string{alias}
		}
		found := false
		for _, candidate := range candidates {
			if i, ok := index[normalizeHeader(candidate)]; ok {
				pc.columns[col.Name] = i
				found = true
				break
			}
		}
		if !found && col.Required {
			missing = append(missing, col.Name)
		}
	}
	return missing
}

// Has reports whether the column was found in the header row
func (pc *ParseContext) Has(column string) bool {
	_, ok := pc.columns[column]
	return ok
}

// GetColumnIndex returns the header index of a canonical column, or -1
func (pc *ParseContext) GetColumnIndex(column string) int {
	if i, ok := pc.columns[column]; ok {
		return i
	}
	return -1
}

// Value returns the trimmed cell of a column. Cells past the end of the
// record are empty; spreadsheets drop trailing blank cells.
func (pc *ParseContext) Value(record []string, column string) string {
	i := pc.GetColumnIndex(column)
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	File          string
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	Skipped       int
	ErrorCount    int
	Errors        []*errors.EnhancedParseError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(file string) *ParseStats {
	return &ParseStats{
		File:   file,
		Errors: make([]*errors.EnhancedParseError, 0),
	}
}

// AddError adds an error to the parsing statistics
func (ps *ParseStats) AddError(err *errors.EnhancedParseError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid, %d skipped), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.Skipped, ps.ErrorCount)
}

// GetSampleErrors returns a sample of the parsing errors for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}

	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for _, err := range ps.Errors[:limit] {
		samples = append(samples, err.Error())
	}
	return samples
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
