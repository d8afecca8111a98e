package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/logger"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

// Store is the persistence the batch orchestrator reads plant days from and
// writes verdicts to
type Store interface {
	ListPendingDays(ctx context.Context, from, to string) ([]models.PlantDay, error)
	DeclaredTotals(ctx context.Context, plantID int, date string) (models.DeclaredTotals, error)
	Deposits(ctx context.Context, plantID int, from, to string) ([]models.Deposit, error)
	Settlements(ctx context.Context, plantID int, date string) ([]models.SettlementRecord, error)
	SaveVerdict(ctx context.Context, runID string, verdict models.DailyVerdict) error
	History(ctx context.Context, from, to string) ([]models.DailyVerdict, error)
}

// BatchConfig holds the settings of a batch run
type BatchConfig struct {
	Workers             int `json:"workers" mapstructure:"workers"`
	DepositLookbackDays int `json:"deposit_lookback_days" mapstructure:"deposit_lookback_days"`
	MinOccurrences      int `json:"min_occurrences" mapstructure:"min_occurrences"`
	PatternLookbackDays int `json:"pattern_lookback_days" mapstructure:"pattern_lookback_days"`
}

// DefaultBatchConfig returns the settings used when none are configured
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Workers:             4,
		DepositLookbackDays: 5,
		MinOccurrences:      DefaultMinOccurrences,
		PatternLookbackDays: 30,
	}
}

// Validate checks the batch settings
func (c BatchConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.DepositLookbackDays < 0 {
		return fmt.Errorf("deposit lookback days cannot be negative, got %d", c.DepositLookbackDays)
	}
	if c.MinOccurrences <= 0 {
		return fmt.Errorf("min occurrences must be positive, got %d", c.MinOccurrences)
	}
	if c.PatternLookbackDays < 0 {
		return fmt.Errorf("pattern lookback days cannot be negative, got %d", c.PatternLookbackDays)
	}
	return nil
}

// BatchProgress reports how far a run has got
type BatchProgress struct {
	RunID     string
	Total     int
	Completed int
	Failed    int
	Current   models.PlantDay
	Elapsed   time.Duration
}

// PercentComplete returns the share of processed days
func (p BatchProgress) PercentComplete() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed+p.Failed) / float64(p.Total) * 100
}

// ProgressCallback is called after every processed plant day
type ProgressCallback func(BatchProgress)

// RunSummary is the outcome of a batch run
type RunSummary struct {
	RunID    string
	From     string
	To       string
	Days     int
	Failed   int
	ByStatus map[models.Status]int
	Verdicts []models.DailyVerdict
	Patterns []models.AnomalyPattern
	Duration time.Duration
}

// AnomalousDays counts verdicts whose global status is an anomaly
func (s *RunSummary) AnomalousDays() int {
	return s.ByStatus[models.StatusMinorAnomaly] + s.ByStatus[models.StatusMajorAnomaly]
}

// BatchOrchestrator reconciles every pending plant day of a date range
type BatchOrchestrator struct {
	store   Store
	daily   *DailyReconciler
	config  BatchConfig
	locker  KeyLocker
	metrics *Metrics
	logger  logger.Logger

	mu                sync.Mutex
	progressCallbacks []ProgressCallback
}

// BatchOption customizes a BatchOrchestrator
type BatchOption func(*BatchOrchestrator)

// WithLocker replaces the in-process locker, e.g. with a RedisLocker
func WithLocker(locker KeyLocker) BatchOption {
	return func(bo *BatchOrchestrator) {
		if locker != nil {
			bo.locker = locker
		}
	}
}

// WithMetrics records run statistics on m
func WithMetrics(m *Metrics) BatchOption {
	return func(bo *BatchOrchestrator) {
		bo.metrics = m
	}
}

// NewBatchOrchestrator creates a batch orchestrator
func NewBatchOrchestrator(store Store, daily *DailyReconciler, config BatchConfig, opts ...BatchOption) (*BatchOrchestrator, error) {
	if store == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "store", nil, nil)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "run", config, err)
	}
	if daily == nil {
		daily = NewDailyReconciler(nil)
	}

	bo := &BatchOrchestrator{
		store:  store,
		daily:  daily,
		config: config,
		locker: NewLocalLocker(),
		logger: logger.GetGlobalLogger().WithComponent("batch_orchestrator"),
	}
	for _, opt := range opts {
		opt(bo)
	}
	return bo, nil
}

// AddProgressCallback adds a progress callback function
func (bo *BatchOrchestrator) AddProgressCallback(callback ProgressCallback) {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	bo.progressCallbacks = append(bo.progressCallbacks, callback)
}

// Run reconciles the plant days declared between from and to (inclusive),
// persists one verdict per day and then looks for recurring anomalies.
// The first storage error cancels the remaining days; days already saved
// stay saved and are counted in the returned summary.
func (bo *BatchOrchestrator) Run(ctx context.Context, from, to string) (*RunSummary, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := bo.logger.WithField(logger.FieldRunID, runID)

	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	days, err := bo.store.ListPendingDays(ctx, from, to)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list pending days", err)
	}

	summary := &RunSummary{
		RunID:    runID,
		From:     from,
		To:       to,
		Days:     len(days),
		ByStatus: make(map[models.Status]int),
	}

	log.WithFields(logger.Fields{
		"from":    from,
		"to":      to,
		"days":    len(days),
		"workers": bo.config.Workers,
	}).Info("Starting batch reconciliation")

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "reconcile",
		Unit:      "days",
		Total:     int64(len(days)),
		Logger:    log,
	})

	progress := BatchProgress{RunID: runID, Total: len(days)}
	var progressMu sync.Mutex
	report := func(day models.PlantDay, failed bool) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if failed {
			progress.Failed++
			tracker.Fail()
		} else {
			progress.Completed++
			tracker.Increment()
		}
		progress.Current = day
		progress.Elapsed = time.Since(start)
		bo.notify(progress)
	}

	p := pool.NewWithResults[models.DailyVerdict]().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(bo.config.Workers)

	for _, day := range days {
		day := day
		p.Go(func(ctx context.Context) (models.DailyVerdict, error) {
			verdict, err := bo.processDay(ctx, runID, day)
			report(day, err != nil)
			if err != nil {
				bo.metrics.ObserveError()
				return models.DailyVerdict{}, err
			}
			bo.metrics.ObserveVerdict(verdict)
			return verdict, nil
		})
	}

	verdicts, runErr := p.Wait()

	sortVerdicts(verdicts)
	summary.Verdicts = verdicts
	for _, v := range verdicts {
		summary.ByStatus[v.GlobalStatus]++
	}
	summary.Failed = progress.Failed

	if runErr != nil {
		summary.Duration = time.Since(start)
		bo.metrics.ObserveRun(summary.Duration)
		tracker.CompleteWithError(runErr)
		return summary, errors.ReconciliationError(errors.CodeRunAborted, "batch run", runErr).
			WithContext("run_id", runID).
			WithContext("saved_days", len(verdicts))
	}

	patterns, err := bo.detectPatterns(ctx, from, to)
	if err != nil {
		summary.Duration = time.Since(start)
		tracker.CompleteWithError(err)
		return summary, err
	}
	summary.Patterns = patterns
	summary.Duration = time.Since(start)
	bo.metrics.ObserveRun(summary.Duration)
	tracker.Complete()

	log.WithFields(logger.Fields{
		"days":      summary.Days,
		"anomalous": summary.AnomalousDays(),
		"patterns":  len(patterns),
		"duration":  summary.Duration.String(),
	}).Info("Batch reconciliation completed")

	return summary, nil
}

// ReconcileOne reconciles and saves a single plant day outside a batch
func (bo *BatchOrchestrator) ReconcileOne(ctx context.Context, plantID int, date string) (models.DailyVerdict, error) {
	normalized, err := models.NormalizeDate(date)
	if err != nil {
		return models.DailyVerdict{}, errors.ValidationError(errors.CodeInvalidDate, "date", date, err)
	}
	verdict, err := bo.processDay(ctx, uuid.NewString(), models.PlantDay{PlantID: plantID, Date: normalized})
	if err != nil {
		bo.metrics.ObserveError()
		return models.DailyVerdict{}, err
	}
	bo.metrics.ObserveVerdict(verdict)
	return verdict, nil
}

func (bo *BatchOrchestrator) processDay(ctx context.Context, runID string, day models.PlantDay) (models.DailyVerdict, error) {
	if err := ctx.Err(); err != nil {
		return models.DailyVerdict{}, err
	}
	log := logger.WithPlantDay(bo.logger, day.PlantID, day.Date).WithField(logger.FieldRunID, runID)

	in, err := bo.loadDay(ctx, day)
	if err != nil {
		log.WithError(err).Error("Failed to load plant day")
		return models.DailyVerdict{}, err
	}

	verdict := bo.daily.ReconcileDay(in)

	unlock, err := bo.locker.Lock(ctx, day.Key())
	if err != nil {
		return models.DailyVerdict{}, errors.StorageError(errors.CodeLockFailed, "lock plant day", err).
			WithContext("key", day.Key())
	}

	saveErr := bo.store.SaveVerdict(ctx, runID, verdict)
	if err := unlock(); err != nil {
		log.WithError(err).Warn("Failed to release plant day lock")
	}
	if saveErr != nil {
		log.WithError(saveErr).Error("Failed to save verdict")
		return models.DailyVerdict{}, errors.StorageError(errors.CodeTransactionFailed, "save verdict", saveErr).
			WithContext("key", day.Key())
	}

	log.WithField(logger.FieldStatus, verdict.GlobalStatus).Debug("Plant day reconciled")
	return verdict, nil
}

func (bo *BatchOrchestrator) loadDay(ctx context.Context, day models.PlantDay) (DayInput, error) {
	declared, err := bo.store.DeclaredTotals(ctx, day.PlantID, day.Date)
	if err != nil {
		return DayInput{}, errors.StorageError(errors.CodeQueryFailed, "load declared totals", err).
			WithContext("key", day.Key())
	}

	// invalid dates still reconcile, the cash matcher reports them as NOT_FOUND
	var deposits []models.Deposit
	from, fromErr := models.ShiftDate(day.Date, -bo.config.DepositLookbackDays)
	to, toErr := models.ShiftDate(day.Date, bo.depositHorizon())
	if fromErr == nil && toErr == nil {
		deposits, err = bo.store.Deposits(ctx, day.PlantID, from, to)
		if err != nil {
			return DayInput{}, errors.StorageError(errors.CodeQueryFailed, "load deposits", err).
				WithContext("key", day.Key())
		}
	}

	settlements, err := bo.store.Settlements(ctx, day.PlantID, day.Date)
	if err != nil {
		return DayInput{}, errors.StorageError(errors.CodeQueryFailed, "load settlements", err).
			WithContext("key", day.Key())
	}

	in, dropped := NewDayInput(declared, deposits, settlements)
	if dropped > 0 {
		logger.WithPlantDay(bo.logger, day.PlantID, day.Date).
			WithField("dropped", dropped).
			Warn("Ignored settlement records with an unknown channel")
	}
	return in, nil
}

// depositHorizon is the number of days after a business date to load
// deposits for. It never falls short of the cash elastic window.
func (bo *BatchOrchestrator) depositHorizon() int {
	horizon := bo.config.DepositLookbackDays
	if elastic := bo.daily.Table().Profile(models.CategoryCash).ElasticDays; elastic > horizon {
		horizon = elastic
	}
	return horizon
}

func (bo *BatchOrchestrator) detectPatterns(ctx context.Context, from, to string) ([]models.AnomalyPattern, error) {
	historyFrom, err := models.ShiftDate(from, -bo.config.PatternLookbackDays)
	if err != nil {
		historyFrom = from
	}

	history, err := bo.store.History(ctx, historyFrom, to)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "load verdict history", err)
	}
	return DetectPatterns(history, bo.config.MinOccurrences), nil
}

// Patterns runs pattern detection over the stored verdicts of a range
func (bo *BatchOrchestrator) Patterns(ctx context.Context, from, to string) ([]models.AnomalyPattern, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}
	history, err := bo.store.History(ctx, from, to)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "load verdict history", err)
	}
	return DetectPatterns(history, bo.config.MinOccurrences), nil
}

func (bo *BatchOrchestrator) notify(progress BatchProgress) {
	bo.mu.Lock()
	callbacks := make([]ProgressCallback, len(bo.progressCallbacks))
	copy(callbacks, bo.progressCallbacks)
	bo.mu.Unlock()

	for _, callback := range callbacks {
		callback(progress)
	}
}

func normalizeRange(from, to string) (string, string, error) {
	f, err := models.NormalizeDate(from)
	if err != nil {
		return "", "", errors.ValidationError(errors.CodeInvalidDate, "from", from, err)
	}
	t, err := models.NormalizeDate(to)
	if err != nil {
		return "", "", errors.ValidationError(errors.CodeInvalidDate, "to", to, err)
	}
	if t < f {
		return "", "", errors.ValidationError(errors.CodeOutOfRange, "to", to,
			fmt.Errorf("end date %s is before start date %s", t, f))
	}
	return f, t, nil
}

// sortVerdicts orders verdicts worst first, then by plant and date
func sortVerdicts(verdicts []models.DailyVerdict) {
	sort.SliceStable(verdicts, func(i, j int) bool {
		a, b := verdicts[i], verdicts[j]
		if a.GlobalStatus.Rank() != b.GlobalStatus.Rank() {
			return a.GlobalStatus.Rank() < b.GlobalStatus.Rank()
		}
		if a.PlantID != b.PlantID {
			return a.PlantID < b.PlantID
		}
		return a.Date < b.Date
	})
}
