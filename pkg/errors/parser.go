package errors

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ParseContext provides context information for parsing operations
type ParseContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// EnhancedParseError extends the base ParseError with location and examples
type EnhancedParseError struct {
	*ReconcilerError
	Context     *ParseContext `json:"context"`
	Recoverable bool          `json:"recoverable"`
	Examples    []string      `json:"examples,omitempty"`
}

// Error implements the error interface with the location appended
func (e *EnhancedParseError) Error() string {
	msg := e.ReconcilerError.Error()
	if e.Context == nil {
		return msg
	}

	location := fmt.Sprintf("at %s", filepath.Base(e.Context.File))
	if e.Context.Line > 0 {
		location += fmt.Sprintf(":%d", e.Context.Line)
	}
	if e.Context.Column != "" {
		location += fmt.Sprintf(" column '%s'", e.Context.Column)
	}
	return msg + " " + location
}

// GetDetailedError returns a detailed multi-line error description
func (e *EnhancedParseError) GetDetailedError() string {
	var lines []string

	lines = append(lines, fmt.Sprintf("ERROR: %s", e.Message))

	if e.Context != nil {
		lines = append(lines, fmt.Sprintf("  → File: %s", e.Context.File))
		if e.Context.Line > 0 {
			lines = append(lines, fmt.Sprintf("  → Line: %d", e.Context.Line))
		}
		if e.Context.Column != "" {
			lines = append(lines, fmt.Sprintf("  → Column: %s", e.Context.Column))
		}
		if e.Context.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", e.Context.Value))
		}
		if e.Context.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", e.Context.Expected))
		}
	}

	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}

	if len(e.Examples) > 0 {
		lines = append(lines, "  → Examples:")
		for _, example := range e.Examples {
			lines = append(lines, fmt.Sprintf("    • %s", example))
		}
	}

	return strings.Join(lines, "\n")
}

// NewEnhancedParseError creates a new enhanced parse error
func NewEnhancedParseError(code ErrorCode, context *ParseContext, message string, cause error) *EnhancedParseError {
	base := build(CategoryParse, code, message, cause)

	if context != nil {
		base.WithContext("file", context.File).
			WithContext("line", context.Line).
			WithContext("column", context.Column).
			WithContext("value", context.Value)
	}

	return &EnhancedParseError{
		ReconcilerError: base,
		Context:         context,
		Recoverable:     true,
	}
}

// WithExamples adds example values to help fix the error
func (e *EnhancedParseError) WithExamples(examples ...string) *EnhancedParseError {
	e.Examples = examples
	return e
}

// WithSuggestion adds a suggestion and returns the EnhancedParseError
func (e *EnhancedParseError) WithSuggestion(suggestion string) *EnhancedParseError {
	e.ReconcilerError.WithSuggestion(suggestion)
	return e
}

// Common parse error constructors

// InvalidAmountError creates an error for an amount in neither Italian nor English notation
func InvalidAmountError(file string, line int, column string, value string, cause error) *EnhancedParseError {
	context := &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "decimal amount",
	}

	return NewEnhancedParseError(CodeInvalidAmount, context, "invalid amount format", cause).
		WithExamples("1234.56", "1.234,56", "1,234.56").
		WithSuggestion("Use a decimal amount; currency symbols are ignored")
}

// InvalidDateError creates an error for a date in none of the accepted layouts
func InvalidDateError(file string, line int, column string, value string, cause error) *EnhancedParseError {
	context := &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "date",
	}

	return NewEnhancedParseError(CodeInvalidDate, context, "invalid date format", cause).
		WithExamples("2025-01-15", "15/01/2025", "15-01-2025", "2025/01/15", "15.01.2025").
		WithSuggestion("Use one of the supported date layouts")
}

// InvalidPlantCodeError creates an error for a plant code without a leading number
func InvalidPlantCodeError(file string, line int, column string, value string, cause error) *EnhancedParseError {
	context := &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "numeric plant code",
	}

	return NewEnhancedParseError(CodeInvalidPlant, context, "invalid plant code", cause).
		WithExamples("43809", "43809 - OPT1").
		WithSuggestion("The plant column must start with the numeric plant code")
}

// InvalidChannelError creates an error for an unknown settlement channel
func InvalidChannelError(file string, line int, column string, value string, cause error) *EnhancedParseError {
	context := &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "settlement channel",
	}

	return NewEnhancedParseError(CodeInvalidChannel, context, "unknown settlement channel", cause).
		WithExamples("bank_card", "fuel_card", "voucher", "wallet", "credit").
		WithSuggestion("Use one of the supported channel names")
}

// MissingColumnError creates an error for missing required columns
func MissingColumnError(file string, expectedColumns []string, actualColumns []string) *EnhancedParseError {
	missing := findMissingColumns(expectedColumns, actualColumns)

	context := &ParseContext{
		File:     file,
		Line:     1,
		Expected: fmt.Sprintf("columns: %s", strings.Join(expectedColumns, ", ")),
	}

	message := fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", "))
	err := NewEnhancedParseError(CodeMissingColumn, context, message, nil).
		WithSuggestion("Add the missing columns to the header row")

	err.Recoverable = false
	return err
}

// EmptyValueError creates an error for empty required values
func EmptyValueError(file string, line int, column string) *EnhancedParseError {
	context := &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Expected: "non-empty value",
	}

	return NewEnhancedParseError(CodeMissingField, context, "required field is empty", nil).
		WithSuggestion("Provide a value for this required field")
}

// ParseErrorCollector collects row errors while a file is loaded
type ParseErrorCollector struct {
	errors          []*EnhancedParseError
	maxErrors       int
	continueOnError bool
}

// NewParseErrorCollector creates a new error collector
func NewParseErrorCollector(maxErrors int, continueOnError bool) *ParseErrorCollector {
	return &ParseErrorCollector{
		errors:          make([]*EnhancedParseError, 0),
		maxErrors:       maxErrors,
		continueOnError: continueOnError,
	}
}

// Add records an error and reports whether loading should continue
func (c *ParseErrorCollector) Add(err *EnhancedParseError) bool {
	if err == nil {
		return true
	}

	c.errors = append(c.errors, err)

	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		return false
	}

	return c.continueOnError || err.Recoverable
}

// HasErrors returns true if any errors have been collected
func (c *ParseErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// GetErrors returns all collected errors
func (c *ParseErrorCollector) GetErrors() []*EnhancedParseError {
	return c.errors
}

// GetReconcilerErrors converts all errors to base ReconcilerError type
func (c *ParseErrorCollector) GetReconcilerErrors() []*ReconcilerError {
	result := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		result[i] = err.ReconcilerError
	}
	return result
}

// GetSummary returns an error summary for all collected errors
func (c *ParseErrorCollector) GetSummary() *ErrorSummary {
	return NewErrorSummary(c.GetReconcilerErrors())
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}

	return missing
}

// FormatParseErrorsForUser formats parse errors grouped by file
func FormatParseErrorsForUser(errs []*EnhancedParseError) string {
	if len(errs) == 0 {
		return "No parse errors"
	}

	if len(errs) == 1 {
		return errs[0].GetDetailedError()
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Found %d parse errors:", len(errs)))
	lines = append(lines, "")

	errorsByFile := make(map[string][]*EnhancedParseError)
	for _, err := range errs {
		file := "unknown"
		if err.Context != nil {
			file = filepath.Base(err.Context.File)
		}
		errorsByFile[file] = append(errorsByFile[file], err)
	}

	files := make([]string, 0, len(errorsByFile))
	for file := range errorsByFile {
		files = append(files, file)
	}
	sort.Strings(files)

	const maxDetailedErrors = 3
	for _, file := range files {
		fileErrors := errorsByFile[file]
		lines = append(lines, fmt.Sprintf("File: %s (%d errors)", file, len(fileErrors)))

		for i, err := range fileErrors {
			if i == maxDetailedErrors {
				lines = append(lines, "")
				lines = append(lines, fmt.Sprintf("... and %d more errors in this file", len(fileErrors)-maxDetailedErrors))
				break
			}
			lines = append(lines, "")
			lines = append(lines, err.GetDetailedError())
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

// SuggestionsForCommonErrors lists fixes for the usual import problems
func SuggestionsForCommonErrors() string {
	return `Common solutions for import errors:

• Invalid amounts: use 1234.56, 1.234,56 or 1,234.56
• Invalid dates: use YYYY-MM-DD, DD/MM/YYYY, DD-MM-YYYY, YYYY/MM/DD or DD.MM.YYYY
• Invalid plant codes: the plant column must start with the numeric code
• Missing columns: check the header row of the file
• Unknown channels: use bank_card, fuel_card, voucher, wallet or credit

For more help, run 'reconciler import --help'.`
}
