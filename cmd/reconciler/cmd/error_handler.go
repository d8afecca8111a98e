package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
		out:     os.Stderr,
	}
}

// HandleError prints err for the user and returns the exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	// row errors carry their own position and suggestion
	var summary *errors.ErrorSummary
	if stderrors.As(err, &summary) {
		return h.handleErrorSummary(summary)
	}
	var parseErr *errors.EnhancedParseError
	if stderrors.As(err, &parseErr) {
		return h.handleParseError(parseErr)
	}

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}

	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(h.out, "\nContext:\n")
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleParseError(err *errors.EnhancedParseError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Error())
	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}
	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(errors.CategoryParse))
	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleErrorSummary(summary *errors.ErrorSummary) int {
	fmt.Fprintf(h.out, "Error: %s\n\n", summary.Error())
	for _, err := range summary.SampleErrors {
		if file, ok := err.Context["file"]; ok {
			fmt.Fprintf(h.out, "  • %s:%v: %s\n", file, err.Context["line"], err.Message)
			continue
		}
		fmt.Fprintf(h.out, "  • %s\n", err.Message)
	}
	if hidden := summary.Total - len(summary.SampleErrors); hidden > 0 {
		fmt.Fprintf(h.out, "  ... and %d more\n", hidden)
	}
	if summary.HasCode(errors.CodeInvalidChannel) {
		fmt.Fprintf(h.out, "\nSuggestion: Pass the channel as --settlements <file>=<channel> when the file has no channel column\n")
	}
	if summary.HasCategory(errors.CategoryParse) {
		fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(errors.CategoryParse))
	}
	if h.verbose {
		fmt.Fprintf(h.out, "%s\n", errors.SuggestionsForCommonErrors())
	}
	return summary.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	// cobra flag and argument errors end up here
	fmt.Fprintf(h.out, "Error: %v\n", err)
	fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")
	return 1
}

func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Only .csv, .txt, .xlsx and .xlsm files are supported
• Ensure you have proper permissions to access the file`

	case errors.CategoryParse:
		return `Parse error help:
• Check that the header row names the plant, date and amount columns
• Dates may be written as YYYY-MM-DD, DD/MM/YYYY, DD-MM-YYYY or DD.MM.YYYY
• Amounts may use Italian (1.234,56) or English (1,234.56) separators
• Map unusual headers with parse.column_aliases in the config file`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Verify date formats use YYYY-MM-DD
• Ensure --from is not after --to`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• RECON_ environment variables override the config file`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Verdicts saved before the failure are kept; rerun to complete the range
• Use --verbose to see which plant day failed`

	case errors.CategoryNetwork:
		return `Network error help:
• Check that the Redis server in redis.addr is reachable
• Remove redis.addr to use in-process locking`

	case errors.CategoryStorage:
		return `Storage error help:
• Check database.driver and database.dsn
• Run 'reconciler migrate' to create the schema
• SQLite allows one writer: make sure no other process holds the file`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help`
	}
}

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return stderrors.Is(err, fs.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
