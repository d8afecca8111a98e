// Package reporter renders anomaly reports built from stored reconciliation
// verdicts.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per flagged outcome, for spreadsheet applications
//   - HTML: a standalone page for sharing by mail or browser
//
// Example usage:
//
//	report := reporter.BuildReport(history, reporter.BuildOptions{From: from, To: to})
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatHTML    OutputFormat = "html"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatHTML:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`
	Output string       `json:"output" mapstructure:"output"`
	Title  string       `json:"title" mapstructure:"title"`

	IncludeDetails  bool `json:"include_details" mapstructure:"include_details"`
	IncludeTrend    bool `json:"include_trend" mapstructure:"include_trend"`
	IncludePatterns bool `json:"include_patterns" mapstructure:"include_patterns"`

	// MaxAnomalies limits the detail rows of console and HTML output; zero
	// prints all of them
	MaxAnomalies      int     `json:"max_anomalies" mapstructure:"max_anomalies"`
	CriticalThreshold float64 `json:"critical_threshold" mapstructure:"critical_threshold"`
	TableMaxWidth     int     `json:"table_max_width" mapstructure:"table_max_width"`

	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		Title:             "Reconciliation anomaly report",
		IncludeDetails:    true,
		IncludeTrend:      true,
		IncludePatterns:   true,
		MaxAnomalies:      50,
		CriticalThreshold: DefaultCriticalThreshold,
		TableMaxWidth:     120,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}
	if c.MaxAnomalies < 0 {
		return fmt.Errorf("max anomalies cannot be negative, got %d", c.MaxAnomalies)
	}
	if c.CriticalThreshold < 0 || c.CriticalThreshold > 100 {
		return fmt.Errorf("critical threshold must be between 0 and 100, got %.1f", c.CriticalThreshold)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid csv delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator renders anomaly reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport renders the report to the provided writer
func (rg *ReportGenerator) GenerateReport(report *AnomalyReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("anomaly report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	case FormatHTML:
		return rg.generateHTMLReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// errWriter remembers the first write error so console sections can be
// printed without checking every call
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (rg *ReportGenerator) generateConsoleReport(report *AnomalyReport, writer io.Writer) error {
	w := &errWriter{w: writer}
	rule := strings.Repeat("=", min(rg.config.TableMaxWidth, 72))

	w.printf("%s\n", strings.ToUpper(rg.config.Title))
	w.printf("Period:    %s to %s\n", report.From, report.To)
	w.printf("Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	w.printf("%s\n\n", rule)

	w.printf("=== SUMMARY ===\n")
	w.printf("Days checked:   %d\n", report.TotalDays)
	w.printf("Balanced days:  %d (%.1f%%)\n", report.BalancedDays, rg.calculatePercentage(report.BalancedDays, report.TotalDays))
	w.printf("Anomalous days: %d (%.1f%%)\n", report.AnomalousDays, report.AnomalyRate)
	for _, s := range models.AllStatuses() {
		if n := report.ByStatus[s]; n > 0 {
			w.printf("  %-18s %d\n", s, n)
		}
	}
	w.printf("\n")

	if len(report.ByCategory) > 0 {
		w.printf("=== ANOMALIES BY CATEGORY ===\n")
		w.printf("%-12s %8s %14s\n", "Category", "Count", "Abs. diff")
		for _, cs := range report.ByCategory {
			w.printf("%-12s %8d %14s\n", cs.Category, cs.Count, cs.TotalDifference.StringFixed(2))
		}
		w.printf("\n")
	}

	if len(report.ByPlant) > 0 {
		w.printf("=== ANOMALIES BY PLANT ===\n")
		w.printf("%-8s %-24s %8s %14s\n", "Plant", "Name", "Days", "Abs. diff")
		for _, ps := range report.ByPlant {
			w.printf("%-8d %-24s %8d %14s\n", ps.PlantID, truncate(ps.Name, 24), ps.AnomalousDays, ps.TotalDifference.StringFixed(2))
		}
		w.printf("\n")
	}

	if len(report.CriticalPlants) > 0 {
		w.printf("=== CRITICAL PLANTS ===\n")
		for _, cp := range report.CriticalPlants {
			w.printf("  %d %s: %.1f%% of %d days anomalous, abs. diff %s\n",
				cp.PlantID, cp.Name, cp.AnomalyRate, cp.DaysChecked, cp.TotalDifference.StringFixed(2))
		}
		w.printf("\n")
	}

	if rg.config.IncludeTrend && report.TotalDays > 0 {
		w.printf("=== WEEKLY TREND ===\n")
		for _, wt := range report.WeeklyTrend {
			w.printf("  %-10s %4d days, %4d anomalous (%.1f%%)\n", wt.Name, wt.TotalDays, wt.AnomalousDays, wt.Rate)
		}
		w.printf("\n")
	}

	if rg.config.IncludePatterns && len(report.Patterns) > 0 {
		w.printf("=== RECURRING PATTERNS ===\n")
		for _, p := range report.Patterns {
			w.printf("  [%s] plant %d %s: %d occurrences, avg diff %s, last %s\n",
				p.Severity, p.PlantID, p.Category, p.OccurrenceCount,
				p.AverageAbsoluteDifference.StringFixed(2), strings.Join(p.MostRecentDates, ", "))
		}
		w.printf("\n")
	}

	if rg.config.IncludeDetails && len(report.Anomalies) > 0 {
		w.printf("=== ANOMALY DETAILS ===\n")
		entries, hidden := rg.limitEntries(report.Anomalies)
		for _, e := range entries {
			w.printf("%s plant %d %s: %s\n", e.Date, e.PlantID, e.PlantName, e.Status)
			for _, d := range e.Details {
				w.printf("    %-12s theoretical %12s  actual %12s  diff %10s  %s\n",
					d.Category, d.TheoreticalValue.StringFixed(2), d.ActualValue.StringFixed(2),
					d.Difference.StringFixed(2), d.Status)
				if d.Note != "" {
					w.printf("    %-12s %s\n", "", d.Note)
				}
			}
		}
		if hidden > 0 {
			w.printf("... and %d more anomalous days\n", hidden)
		}
	}

	return w.err
}

func (rg *ReportGenerator) generateJSONReport(report *AnomalyReport, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterReportForOutput(report))
}

// csvHeaders lists the columns of the CSV report
var csvHeaders = []string{
	"plant_id", "plant_name", "date", "global_status", "category",
	"theoretical_value", "actual_value", "difference", "percent_deviation",
	"status", "note",
}

func (rg *ReportGenerator) generateCSVReport(report *AnomalyReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, e := range report.Anomalies {
		for _, d := range e.Details {
			record := []string{
				strconv.Itoa(e.PlantID),
				e.PlantName,
				e.Date,
				string(e.Status),
				string(d.Category),
				d.TheoreticalValue.StringFixed(2),
				d.ActualValue.StringFixed(2),
				d.Difference.StringFixed(2),
				d.PercentDeviation().StringFixed(2),
				string(d.Status),
				d.Note,
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write anomaly record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) limitEntries(entries []AnomalyEntry) ([]AnomalyEntry, int) {
	if rg.config.MaxAnomalies == 0 || len(entries) <= rg.config.MaxAnomalies {
		return entries, 0
	}
	return entries[:rg.config.MaxAnomalies], len(entries) - rg.config.MaxAnomalies
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// filterReportForOutput drops the sections disabled in the configuration
func (rg *ReportGenerator) filterReportForOutput(report *AnomalyReport) *AnomalyReport {
	out := *report
	if !rg.config.IncludeDetails {
		out.Anomalies = nil
	}
	if !rg.config.IncludeTrend {
		out.WeeklyTrend = nil
	}
	if !rg.config.IncludePatterns {
		out.Patterns = nil
	}
	return &out
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
