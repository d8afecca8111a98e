package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name        string
		category    ErrorCategory
		code        ErrorCode
		message     string
		cause       error
		expectCode  int
		expectError string
	}{
		{
			name:        "file error",
			category:    CategoryFile,
			code:        CodeFileNotFound,
			message:     "file not found",
			cause:       errors.New("no such file"),
			expectCode:  2,
			expectError: "file not found: no such file",
		},
		{
			name:        "parse error",
			category:    CategoryParse,
			code:        CodeInvalidFormat,
			message:     "invalid format",
			cause:       nil,
			expectCode:  3,
			expectError: "invalid format",
		},
		{
			name:        "configuration error",
			category:    CategoryConfiguration,
			code:        CodeInvalidTolerance,
			message:     "invalid tolerance",
			cause:       errors.New("rounding above minor"),
			expectCode:  4,
			expectError: "invalid tolerance: rounding above minor",
		},
		{
			name:        "storage error",
			category:    CategoryStorage,
			code:        CodeQueryFailed,
			message:     "query failed",
			cause:       errors.New("connection reset"),
			expectCode:  7,
			expectError: "query failed: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.expectError {
				t.Errorf("expected error string %q, got %q", tt.expectError, err.Error())
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("expected error chain to contain %v", tt.cause)
			}
			if len(err.StackTrace) == 0 {
				t.Error("expected a stack trace")
			}
		})
	}
}

func TestWrap_NilError(t *testing.T) {
	if Wrap(nil, CategoryInternal, CodeUnexpectedError, "nothing") != nil {
		t.Error("expected nil when wrapping a nil error")
	}
}

func TestReconcilerErrorWithContext(t *testing.T) {
	err := New(CategoryValidation, CodeInvalidAmount, "invalid amount").
		WithContext("field", "gross_total").
		WithContext("value", "abc").
		WithSuggestion("use a decimal amount")

	if err.Context["field"] != "gross_total" {
		t.Errorf("expected field context, got %v", err.Context["field"])
	}
	if err.Suggestion != "use a decimal amount" {
		t.Errorf("unexpected suggestion %q", err.Suggestion)
	}
	if !strings.Contains(err.Error(), "(suggestion: use a decimal amount)") {
		t.Errorf("expected suggestion in error string, got %q", err.Error())
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("FileError", func(t *testing.T) {
		err := FileError(CodeUnsupportedExt, "declared.ods", nil)
		if err.Category != CategoryFile || err.Code != CodeUnsupportedExt {
			t.Errorf("unexpected category/code %s/%s", err.Category, err.Code)
		}
		if err.Context["file_path"] != "declared.ods" {
			t.Errorf("expected file_path context")
		}
		if !strings.Contains(err.Suggestion, ".xlsx") {
			t.Errorf("unexpected suggestion %q", err.Suggestion)
		}
	})

	t.Run("ParseError", func(t *testing.T) {
		err := ParseError(CodeInvalidData, "deposits.csv", 4, "amount", "x", errors.New("bad"))
		if err.Context["line"] != 4 || err.Context["column"] != "amount" {
			t.Errorf("unexpected context %v", err.Context)
		}
		if err.GetExitCode() != 3 {
			t.Errorf("expected exit code 3, got %d", err.GetExitCode())
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError(CodeInvalidChannel, "channel", "wire", nil)
		if !strings.Contains(err.Message, "wire") {
			t.Errorf("expected value in message, got %q", err.Message)
		}
	})

	t.Run("StorageError", func(t *testing.T) {
		cause := errors.New("deadlock detected")
		err := StorageError(CodeTransactionFailed, "save verdict 7:2025-01-15", cause)
		if err.Category != CategoryStorage || err.GetExitCode() != 7 {
			t.Errorf("unexpected category %s / exit code %d", err.Category, err.GetExitCode())
		}
		if err.Context["operation"] != "save verdict 7:2025-01-15" {
			t.Errorf("unexpected operation context %v", err.Context["operation"])
		}
		if !errors.Is(err, cause) {
			t.Error("expected cause in chain")
		}
	})

	t.Run("ReconciliationError", func(t *testing.T) {
		err := ReconciliationError(CodeRunAborted, "batch run", nil)
		if err.GetExitCode() != 5 {
			t.Errorf("expected exit code 5, got %d", err.GetExitCode())
		}
	})

	t.Run("NetworkError", func(t *testing.T) {
		err := NetworkError(CodeConnectionFailed, "redis:6379", errors.New("refused"))
		if err.GetExitCode() != 6 {
			t.Errorf("expected exit code 6, got %d", err.GetExitCode())
		}
	})
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconcilerError{
		New(CategoryParse, CodeInvalidAmount, "amount 1"),
		New(CategoryParse, CodeInvalidAmount, "amount 2"),
		New(CategoryParse, CodeInvalidDate, "date"),
		New(CategoryStorage, CodeQueryFailed, "query"),
		New(CategoryValidation, CodeMissingField, "field 1"),
		New(CategoryValidation, CodeMissingField, "field 2"),
	}

	summary := NewErrorSummary(errs)

	if summary.Total != 6 {
		t.Errorf("expected total 6, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryParse] != 3 {
		t.Errorf("expected 3 parse errors, got %d", summary.ByCategory[CategoryParse])
	}
	if summary.ByCode[CodeMissingField] != 2 {
		t.Errorf("expected 2 missing field errors, got %d", summary.ByCode[CodeMissingField])
	}
	if len(summary.SampleErrors) != 5 {
		t.Errorf("expected 5 sample errors, got %d", len(summary.SampleErrors))
	}
	if !summary.HasCategory(CategoryStorage) || summary.HasCategory(CategoryNetwork) {
		t.Error("unexpected HasCategory result")
	}
	if !summary.HasCode(CodeInvalidDate) || summary.HasCode(CodeLockFailed) {
		t.Error("unexpected HasCode result")
	}
	if summary.GetExitCode() != 7 {
		t.Errorf("expected exit code 7, got %d", summary.GetExitCode())
	}

	expected := "6 errors occurred (parse: 3, storage: 1, validation: 2)"
	if summary.Error() != expected {
		t.Errorf("expected %q, got %q", expected, summary.Error())
	}
}

func TestEmptyErrorSummary(t *testing.T) {
	summary := NewErrorSummary(nil)

	if summary.Total != 0 || summary.GetExitCode() != 0 {
		t.Errorf("unexpected empty summary %+v", summary)
	}
	if summary.Error() != "no errors" {
		t.Errorf("unexpected message %q", summary.Error())
	}
	if summary.Errors == nil {
		t.Error("expected non-nil error slice")
	}
}

func TestSingleErrorSummary(t *testing.T) {
	err := New(CategoryFile, CodeFileNotFound, "file missing")
	summary := NewErrorSummary([]*ReconcilerError{err})

	if summary.Error() != err.Error() {
		t.Errorf("expected %q, got %q", err.Error(), summary.Error())
	}
}

func TestAsReconcilerError(t *testing.T) {
	base := StorageError(CodeLockFailed, "7:2025-01-15", nil)
	wrapped := fmt.Errorf("worker failed: %w", base)

	got, ok := AsReconcilerError(wrapped)
	if !ok || got != base {
		t.Fatalf("expected to extract the storage error, got %v", got)
	}
	if !IsReconcilerError(wrapped) {
		t.Error("expected IsReconcilerError to follow the chain")
	}
	if _, ok := AsReconcilerError(errors.New("plain")); ok {
		t.Error("did not expect a plain error to match")
	}
}

func TestWrapIfNeeded(t *testing.T) {
	existing := New(CategoryParse, CodeInvalidDate, "bad date")
	if WrapIfNeeded(existing, CategoryInternal, CodeUnexpectedError, "x") != existing {
		t.Error("expected the existing error to be returned")
	}

	wrapped := WrapIfNeeded(errors.New("boom"), CategoryInternal, CodeUnexpectedError, "unexpected")
	if wrapped.Category != CategoryInternal {
		t.Errorf("expected internal category, got %s", wrapped.Category)
	}

	if WrapIfNeeded(nil, CategoryInternal, CodeUnexpectedError, "x") != nil {
		t.Error("expected nil for nil error")
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected int
	}{
		{CategoryFile, 2},
		{CategoryParse, 3},
		{CategoryValidation, 3},
		{CategoryConfiguration, 4},
		{CategoryReconciliation, 5},
		{CategoryInternal, 5},
		{CategoryNetwork, 6},
		{CategoryStorage, 7},
		{ErrorCategory("other"), 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := New(tt.category, CodeUnexpectedError, "x")
			if err.GetExitCode() != tt.expected {
				t.Errorf("expected exit code %d, got %d", tt.expected, err.GetExitCode())
			}
		})
	}
}

func TestParseErrorCollector(t *testing.T) {
	collector := NewParseErrorCollector(3, true)

	if !collector.Add(InvalidAmountError("deposits.csv", 2, "amount", "abc", nil)) {
		t.Error("expected to continue after the first error")
	}
	if !collector.Add(InvalidDateError("deposits.csv", 3, "date", "31/31/2025", nil)) {
		t.Error("expected to continue after the second error")
	}
	if collector.Add(InvalidPlantCodeError("deposits.csv", 4, "plant", "PV", nil)) {
		t.Error("expected to stop at the error limit")
	}

	if !collector.HasErrors() || len(collector.GetErrors()) != 3 {
		t.Fatalf("expected 3 collected errors, got %d", len(collector.GetErrors()))
	}

	summary := collector.GetSummary()
	if summary.ByCode[CodeInvalidAmount] != 1 || summary.ByCategory[CategoryParse] != 3 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestParseErrorCollector_StopsOnUnrecoverable(t *testing.T) {
	collector := NewParseErrorCollector(100, false)

	if collector.Add(MissingColumnError("declared.csv", []string{"plant_id", "date"}, []string{"plant_id"})) {
		t.Error("expected to stop on a missing column")
	}
}

func TestEnhancedParseError_Formatting(t *testing.T) {
	err := InvalidDateError("/tmp/in/deposits.csv", 7, "date", "2025-13-01", nil)

	if !strings.HasSuffix(err.Error(), "at deposits.csv:7 column 'date'") {
		t.Errorf("unexpected error string %q", err.Error())
	}

	detailed := err.GetDetailedError()
	for _, want := range []string{"ERROR: invalid date format", "→ Line: 7", "→ Value: '2025-13-01'", "15/01/2025"} {
		if !strings.Contains(detailed, want) {
			t.Errorf("expected %q in detailed error:\n%s", want, detailed)
		}
	}
}

func TestMissingColumnError(t *testing.T) {
	err := MissingColumnError("settlements.csv", []string{"plant_id", "date", "channel", "amount"}, []string{"Plant_ID", "date"})

	if !strings.Contains(err.Message, "channel, amount") {
		t.Errorf("expected missing columns in message, got %q", err.Message)
	}
	if err.Recoverable {
		t.Error("missing column errors are not recoverable")
	}
}

func TestFormatParseErrorsForUser(t *testing.T) {
	if FormatParseErrorsForUser(nil) != "No parse errors" {
		t.Error("unexpected output for no errors")
	}

	var errs []*EnhancedParseError
	for i := 0; i < 5; i++ {
		errs = append(errs, InvalidAmountError("b.csv", i+2, "amount", "x", nil))
	}
	errs = append(errs, EmptyValueError("a.csv", 2, "date"))

	out := FormatParseErrorsForUser(errs)
	if !strings.HasPrefix(out, "Found 6 parse errors:") {
		t.Errorf("unexpected header in %q", out)
	}
	if strings.Index(out, "File: a.csv") > strings.Index(out, "File: b.csv") {
		t.Error("expected files in alphabetical order")
	}
	if !strings.Contains(out, "... and 2 more errors in this file") {
		t.Errorf("expected truncation note in %q", out)
	}
}
