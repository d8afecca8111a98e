package cmd

import (
	"io"
	"os"
	"path/filepath"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/reporter"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	reportFrom string
	reportTo   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render an anomaly report from the stored verdicts",
	Long: `Report summarizes the verdicts of a range: balanced and anomalous days,
anomalies by category and plant, the weekday trend, critical plants and
recurring patterns, followed by the detail of every anomalous day.

Examples:
  reconciler report --from 2025-01-01 --to 2025-01-31
  reconciler report --output-format csv --output-file anomalie.csv
  reconciler report --output-format html --output-file gennaio.html --critical-threshold 20`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportFrom, "from", "", "first business date (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "last business date (YYYY-MM-DD, default today)")
	reportCmd.Flags().StringP("output-format", "f", "", "output format: console, json, csv, html")
	reportCmd.Flags().StringP("output-file", "o", "", "output file path (default: stdout)")
	reportCmd.Flags().Float64("critical-threshold", 0, "anomaly rate in percent from which a plant is critical")
	reportCmd.Flags().Int("max-anomalies", 0, "anomalous days detailed in console and HTML output")

	viper.BindPFlag("report.format", reportCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("report.output", reportCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("report.critical_threshold", reportCmd.Flags().Lookup("critical-threshold"))
	viper.BindPFlag("report.max_anomalies", reportCmd.Flags().Lookup("max-anomalies"))
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	reportConfig, err := appConfig.ReportConfig()
	if err != nil {
		return err
	}

	from, to, err := resolveRange(reportFrom, reportTo)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := reporter.Collect(ctx, store, reporter.BuildOptions{
		From:              from,
		To:                to,
		CriticalThreshold: reportConfig.CriticalThreshold,
		MinOccurrences:    appConfig.Run.MinOccurrences,
	})
	if err != nil {
		return err
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	var output io.Writer = cmd.OutOrStdout()
	if reportConfig.Output != "" {
		if dir := filepath.Dir(reportConfig.Output); dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, dir, err).
					WithSuggestion("Create the output directory first")
			}
		}
		file, err := os.Create(reportConfig.Output)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, reportConfig.Output, err)
		}
		defer file.Close()
		output = file
	}

	return generator.GenerateReportSafely(report, output)
}
