package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/reconciler"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// defaultRangeDays is the length of the range used when --from is omitted
	defaultRangeDays = 30
	lockKeyPrefix    = "recon:lock:"
	redisPingLimit   = 5 * time.Second
)

var (
	runFrom       string
	runTo         string
	runPlant      int
	runDate       string
	metricsFile   string
	showProgress  bool
	maxListedDays int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile every imported plant day of a date range",
	Long: `Run reconciles each plant day that has declared totals in the range,
saves one verdict per day (replacing earlier verdicts of the same day) and
then looks for anomalies that keep coming back.

Without --from and --to the last 30 days up to today are processed.
With --plant and --date a single day is reconciled and printed.

Examples:
  reconciler run --from 2025-01-01 --to 2025-01-31
  reconciler run --from 2025-01-01 --to 2025-01-31 --workers 8 --progress
  reconciler run --plant 43809 --date 2025-01-15
  reconciler run --metrics-file recon.prom`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFrom, "from", "", "first business date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runTo, "to", "", "last business date (YYYY-MM-DD, default today)")
	runCmd.Flags().Int("workers", 0, "plant days reconciled in parallel (default from config)")
	runCmd.Flags().IntVar(&runPlant, "plant", 0, "reconcile a single plant day: plant code")
	runCmd.Flags().StringVar(&runDate, "date", "", "reconcile a single plant day: business date")
	runCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics of the run to this file")
	runCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress on stderr")
	runCmd.Flags().IntVar(&maxListedDays, "max-listed", 20, "anomalous days listed in the summary, 0 for all")

	viper.BindPFlag("run.workers", runCmd.Flags().Lookup("workers"))
}

// resolveRange fills the missing bounds of a date range
func resolveRange(from, to string) (string, string, error) {
	if to == "" {
		to = models.FormatDate(time.Now())
	}
	if from == "" {
		f, err := models.ShiftDate(to, -defaultRangeDays)
		if err != nil {
			return "", "", errors.ValidationError(errors.CodeInvalidDate, "to", to, err)
		}
		from = f
	}
	return from, to, nil
}

// newOrchestrator wires the store, tolerances, locker and metrics of a run.
// The returned cleanup closes the Redis client when one was opened.
func newOrchestrator(ctx context.Context, store reconciler.Store, metrics *reconciler.Metrics) (*reconciler.BatchOrchestrator, func(), error) {
	table, err := appConfig.ToleranceTable()
	if err != nil {
		return nil, nil, err
	}

	opts := []reconciler.BatchOption{reconciler.WithMetrics(metrics)}
	cleanup := func() {}

	if appConfig.Redis.Enabled() {
		client := appConfig.Redis.Client()
		pingCtx, cancel := context.WithTimeout(ctx, redisPingLimit)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, errors.NetworkError(errors.CodeConnectionFailed, appConfig.Redis.Addr, err)
		}
		opts = append(opts, reconciler.WithLocker(
			reconciler.NewRedisLocker(client, lockKeyPrefix, appConfig.Redis.LockTTL)))
		cleanup = func() { client.Close() }
		logger.GetGlobalLogger().WithComponent("cli").
			WithField("redis", appConfig.Redis.Addr).Debug("Using Redis plant-day locks")
	}

	orchestrator, err := reconciler.NewBatchOrchestrator(store, reconciler.NewDailyReconciler(table), appConfig.Run, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orchestrator, cleanup, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	singleDay := runPlant != 0 || runDate != ""
	if singleDay && (runPlant == 0 || runDate == "") {
		return errors.ValidationError(errors.CodeMissingField, "plant/date", nil,
			fmt.Errorf("--plant and --date must be given together"))
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	metrics, err := reconciler.NewMetrics(registry)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "register metrics", err)
	}

	orchestrator, cleanup, err := newOrchestrator(ctx, store, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()

	if singleDay {
		verdict, err := orchestrator.ReconcileOne(ctx, runPlant, runDate)
		if err != nil {
			return err
		}
		printVerdict(out, verdict)
		return writeMetrics(metrics)
	}

	from, to, err := resolveRange(runFrom, runTo)
	if err != nil {
		return err
	}

	if showProgress {
		stderr := cmd.ErrOrStderr()
		orchestrator.AddProgressCallback(func(p reconciler.BatchProgress) {
			fmt.Fprintf(stderr, "\r[%d/%d] plant %d %s (%.1f%% complete)",
				p.Completed+p.Failed, p.Total, p.Current.PlantID, p.Current.Date, p.PercentComplete())
		})
	}

	summary, runErr := orchestrator.Run(ctx, from, to)
	if showProgress {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if summary != nil {
		printRunSummary(out, summary)
	}
	if err := writeMetrics(metrics); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func writeMetrics(metrics *reconciler.Metrics) error {
	if metricsFile == "" {
		return nil
	}
	f, err := os.Create(metricsFile)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, metricsFile, err)
	}
	defer f.Close()
	if err := metrics.WriteText(f); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, metricsFile, err)
	}
	return nil
}

func printRunSummary(w io.Writer, s *reconciler.RunSummary) {
	fmt.Fprintf(w, "Run %s: %s to %s\n", s.RunID, s.From, s.To)
	fmt.Fprintf(w, "Plant days: %d reconciled, %d failed, %d anomalous (%v)\n",
		len(s.Verdicts), s.Failed, s.AnomalousDays(), s.Duration.Round(time.Millisecond))
	for _, status := range models.AllStatuses() {
		if n := s.ByStatus[status]; n > 0 {
			fmt.Fprintf(w, "  %-18s %d\n", status, n)
		}
	}

	listed := 0
	for _, v := range s.Verdicts {
		if !v.GlobalStatus.IsAnomaly() {
			continue
		}
		if maxListedDays > 0 && listed == maxListedDays {
			fmt.Fprintf(w, "  ... and %d more anomalous days\n", s.AnomalousDays()-listed)
			break
		}
		if listed == 0 {
			fmt.Fprintf(w, "\nAnomalous days (worst first):\n")
		}
		listed++
		fmt.Fprintf(w, "  %s plant %d %s\n", v.Date, v.PlantID, v.GlobalStatus)
		for _, o := range v.Anomalies() {
			fmt.Fprintf(w, "      %-12s diff %10s  %s\n", o.Category, o.Difference.StringFixed(models.AmountPlaces), o.Note)
		}
	}

	if len(s.Patterns) > 0 {
		fmt.Fprintf(w, "\nRecurring anomalies:\n")
		printPatterns(w, s.Patterns)
	}
}

func printVerdict(w io.Writer, v models.DailyVerdict) {
	fmt.Fprintf(w, "Plant %d on %s: %s\n", v.PlantID, v.Date, v.GlobalStatus)
	for _, c := range v.SortedCategories() {
		o := v.Outcomes[c]
		fmt.Fprintf(w, "  %-12s theoretical %12s  actual %12s  diff %10s  %-18s %s\n",
			c, o.TheoreticalValue.StringFixed(models.AmountPlaces), o.ActualValue.StringFixed(models.AmountPlaces),
			o.Difference.StringFixed(models.AmountPlaces), o.Status, o.Note)
	}
}
