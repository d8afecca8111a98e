package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/reconciler"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	patternsFrom string
	patternsTo   string
	patternsJSON bool
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List anomalies that recur for the same plant and category",
	Long: `Patterns scans the stored verdicts of a range and lists every plant and
category with at least --min-occurrences minor or major anomalies. A pattern
is HIGH severity when it occurs at least twice that often.

Examples:
  reconciler patterns --from 2025-01-01 --to 2025-03-31
  reconciler patterns --min-occurrences 5 --json`,
	RunE: runPatterns,
}

func init() {
	rootCmd.AddCommand(patternsCmd)

	patternsCmd.Flags().StringVar(&patternsFrom, "from", "", "first business date (YYYY-MM-DD)")
	patternsCmd.Flags().StringVar(&patternsTo, "to", "", "last business date (YYYY-MM-DD, default today)")
	patternsCmd.Flags().Int("min-occurrences", 0, "anomalies needed for a pattern (default from config)")
	patternsCmd.Flags().BoolVar(&patternsJSON, "json", false, "print patterns as JSON")

	viper.BindPFlag("run.min_occurrences", patternsCmd.Flags().Lookup("min-occurrences"))
}

func runPatterns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	from, to, err := resolveRange(patternsFrom, patternsTo)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	orchestrator, err := reconciler.NewBatchOrchestrator(store, nil, appConfig.Run)
	if err != nil {
		return err
	}

	patterns, err := orchestrator.Patterns(ctx, from, to)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if patternsJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(patterns)
	}

	if len(patterns) == 0 {
		fmt.Fprintf(out, "No recurring anomalies between %s and %s\n", from, to)
		return nil
	}
	fmt.Fprintf(out, "Recurring anomalies between %s and %s:\n", from, to)
	printPatterns(out, patterns)
	return nil
}

func printPatterns(w io.Writer, patterns []models.AnomalyPattern) {
	for _, p := range patterns {
		fmt.Fprintf(w, "  [%-6s] plant %-6d %-12s %3d times, avg diff %10s, last %s\n",
			p.Severity, p.PlantID, p.Category, p.OccurrenceCount,
			p.AverageAbsoluteDifference.StringFixed(models.AmountPlaces), strings.Join(p.MostRecentDates, ", "))
	}
}
