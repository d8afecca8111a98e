package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/matcher"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeStore keeps everything in memory
type fakeStore struct {
	mu          sync.Mutex
	declared    map[string]models.DeclaredTotals
	deposits    []models.Deposit
	settlements []models.SettlementRecord
	saved       map[string]models.DailyVerdict
	saveCalls   int
	runIDs      map[string]bool

	failSaveFor string
	failList    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		declared: make(map[string]models.DeclaredTotals),
		saved:    make(map[string]models.DailyVerdict),
		runIDs:   make(map[string]bool),
	}
}

func (s *fakeStore) addDay(in DayInput) {
	s.declared[models.DayKey(in.Declared.PlantID, in.Declared.Date)] = in.Declared
	s.deposits = append(s.deposits, in.Deposits...)
	for _, group := range [][]models.SettlementRecord{in.BankCardRecords, in.FuelCardRecords, in.VoucherRecords, in.WalletRecords, in.CreditRecords} {
		s.settlements = append(s.settlements, group...)
	}
}

func (s *fakeStore) ListPendingDays(_ context.Context, from, to string) ([]models.PlantDay, error) {
	if s.failList != nil {
		return nil, s.failList
	}
	var days []models.PlantDay
	for _, d := range s.declared {
		if d.Date >= from && d.Date <= to {
			days = append(days, models.PlantDay{PlantID: d.PlantID, Date: d.Date})
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Key() < days[j].Key() })
	return days, nil
}

func (s *fakeStore) DeclaredTotals(_ context.Context, plantID int, date string) (models.DeclaredTotals, error) {
	d, ok := s.declared[models.DayKey(plantID, date)]
	if !ok {
		return models.DeclaredTotals{}, fmt.Errorf("no declared totals for %d on %s", plantID, date)
	}
	return d, nil
}

func (s *fakeStore) Deposits(_ context.Context, plantID int, from, to string) ([]models.Deposit, error) {
	var out []models.Deposit
	for _, d := range s.deposits {
		if d.PlantID == plantID && d.Date >= from && d.Date <= to {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) Settlements(_ context.Context, plantID int, date string) ([]models.SettlementRecord, error) {
	var out []models.SettlementRecord
	for _, r := range s.settlements {
		if r.PlantID == plantID && r.Date == date {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveVerdict(_ context.Context, runID string, verdict models.DailyVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if verdict.Key() == s.failSaveFor {
		return stderrors.New("database is locked")
	}
	s.runIDs[runID] = true
	s.saved[verdict.Key()] = verdict
	return nil
}

func (s *fakeStore) History(_ context.Context, from, to string) ([]models.DailyVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DailyVerdict
	for _, v := range s.saved {
		if v.Date >= from && v.Date <= to {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].PlantID < out[j].PlantID
	})
	return out, nil
}

// dayFor returns a balanced day of the plant, or one whose cash deposit is
// 15.00 short when minor is set
func dayFor(plantID int, date string, minor bool) DayInput {
	in := balancedDay()
	in.Declared.PlantID = plantID
	in.Declared.Date = date
	deposit := "300.00"
	if minor {
		deposit = "285.00"
	}
	in.Deposits = []models.Deposit{{PlantID: plantID, Date: date, Amount: d(deposit)}}
	for _, group := range []*[]models.SettlementRecord{&in.BankCardRecords, &in.FuelCardRecords, &in.VoucherRecords} {
		records := make([]models.SettlementRecord, len(*group))
		for i, r := range *group {
			r.PlantID = plantID
			r.Date = date
			records[i] = r
		}
		*group = records
	}
	return in
}

func TestBatchConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *BatchConfig)
		wantErr bool
	}{
		{"defaults", func(c *BatchConfig) {}, false},
		{"no workers", func(c *BatchConfig) { c.Workers = 0 }, true},
		{"negative lookback", func(c *BatchConfig) { c.DepositLookbackDays = -1 }, true},
		{"zero lookback", func(c *BatchConfig) { c.DepositLookbackDays = 0 }, false},
		{"no min occurrences", func(c *BatchConfig) { c.MinOccurrences = 0 }, true},
		{"negative pattern lookback", func(c *BatchConfig) { c.PatternLookbackDays = -3 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultBatchConfig()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewBatchOrchestrator_Errors(t *testing.T) {
	if _, err := NewBatchOrchestrator(nil, nil, DefaultBatchConfig()); err == nil {
		t.Error("expected an error without a store")
	}

	config := DefaultBatchConfig()
	config.Workers = 0
	_, err := NewBatchOrchestrator(newFakeStore(), nil, config)
	if err == nil {
		t.Fatal("expected an error for an invalid configuration")
	}
	if rerr, ok := errors.AsReconcilerError(err); !ok || rerr.Category != errors.CategoryConfiguration {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestBatchOrchestrator_Run(t *testing.T) {
	store := newFakeStore()
	// four days apart so no deposit falls in a neighbour's cash window
	for _, date := range []string{"2025-01-01", "2025-01-05", "2025-01-09"} {
		store.addDay(dayFor(7, date, true))
		store.addDay(dayFor(12, date, false))
	}
	// outside the run range
	store.addDay(dayFor(12, "2025-02-01", false))

	metrics, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	bo, err := NewBatchOrchestrator(store, NewDailyReconciler(nil), DefaultBatchConfig(), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewBatchOrchestrator() error = %v", err)
	}

	var mu sync.Mutex
	var updates []BatchProgress
	bo.AddProgressCallback(func(p BatchProgress) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, p)
	})

	summary, err := bo.Run(context.Background(), "2025-01-01", "09/01/2025")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.To != "2025-01-09" {
		t.Errorf("To = %s, want normalized 2025-01-09", summary.To)
	}
	if summary.Days != 6 || len(summary.Verdicts) != 6 {
		t.Fatalf("Days = %d, verdicts = %d, want 6", summary.Days, len(summary.Verdicts))
	}
	if summary.ByStatus[models.StatusMinorAnomaly] != 3 || summary.ByStatus[models.StatusBalanced] != 3 {
		t.Errorf("ByStatus = %v", summary.ByStatus)
	}
	if summary.AnomalousDays() != 3 {
		t.Errorf("AnomalousDays() = %d, want 3", summary.AnomalousDays())
	}

	// worst first, then plant and date
	first, last := summary.Verdicts[0], summary.Verdicts[5]
	if first.PlantID != 7 || first.Date != "2025-01-01" || first.GlobalStatus != models.StatusMinorAnomaly {
		t.Errorf("first verdict = %s %s", first.Key(), first.GlobalStatus)
	}
	if last.PlantID != 12 || last.Date != "2025-01-09" {
		t.Errorf("last verdict = %s", last.Key())
	}

	if len(store.saved) != 6 {
		t.Errorf("saved %d verdicts, want 6", len(store.saved))
	}
	if len(store.runIDs) != 1 || !store.runIDs[summary.RunID] {
		t.Errorf("verdicts were saved under run ids %v, want %s", store.runIDs, summary.RunID)
	}

	if len(summary.Patterns) != 1 {
		t.Fatalf("Patterns = %v, want the recurring cash anomaly of plant 7", summary.Patterns)
	}
	if p := summary.Patterns[0]; p.PlantID != 7 || p.Category != models.CategoryCash || p.OccurrenceCount != 3 {
		t.Errorf("pattern = %s", p)
	}

	if len(updates) != 6 {
		t.Errorf("got %d progress updates, want 6", len(updates))
	} else if pct := updates[5].PercentComplete(); pct != 100 {
		t.Errorf("final progress = %.1f%%, want 100%%", pct)
	}

	if got := testutil.ToFloat64(metrics.DaysTotal.WithLabelValues("MINOR_ANOMALY")); got != 3 {
		t.Errorf("recon_days_total{MINOR_ANOMALY} = %v, want 3", got)
	}
}

func TestBatchOrchestrator_LateDepositWithinLookback(t *testing.T) {
	store := newFakeStore()
	in := dayFor(7, "2025-01-10", false)
	in.Deposits = []models.Deposit{
		{PlantID: 7, Date: "2025-01-13", Amount: d("300.00")},
		// before the reference date, never matched
		{PlantID: 7, Date: "2025-01-08", Amount: d("300.00")},
	}
	store.addDay(in)

	bo, err := NewBatchOrchestrator(store, nil, DefaultBatchConfig())
	if err != nil {
		t.Fatalf("NewBatchOrchestrator() error = %v", err)
	}

	verdict, err := bo.ReconcileOne(context.Background(), 7, "10/01/2025")
	if err != nil {
		t.Fatalf("ReconcileOne() error = %v", err)
	}
	cash, _ := verdict.Outcome(models.CategoryCash)
	if cash.Status != models.StatusBalanced {
		t.Errorf("cash status = %s, want BALANCED", cash.Status)
	}
	if len(cash.MatchMetadata.MatchedDeposits) != 1 || cash.MatchMetadata.MatchedDeposits[0].DaysLate != 3 {
		t.Errorf("matched deposits = %+v", cash.MatchMetadata.MatchedDeposits)
	}
	if _, ok := store.saved[models.DayKey(7, "2025-01-10")]; !ok {
		t.Error("verdict was not saved")
	}
}

func TestBatchOrchestrator_ElasticWindowBeyondLookback(t *testing.T) {
	store := newFakeStore()
	in := dayFor(7, "2025-01-10", false)
	in.Deposits = []models.Deposit{{PlantID: 7, Date: "2025-01-16", Amount: d("300.00")}}
	store.addDay(in)

	table := matcher.DefaultToleranceTable()
	cash := table.Profile(models.CategoryCash)
	cash.ElasticDays = 7
	table.Set(models.CategoryCash, cash)

	config := DefaultBatchConfig()
	config.DepositLookbackDays = 5
	bo, err := NewBatchOrchestrator(store, NewDailyReconciler(table), config)
	if err != nil {
		t.Fatalf("NewBatchOrchestrator() error = %v", err)
	}

	verdict, err := bo.ReconcileOne(context.Background(), 7, "2025-01-10")
	if err != nil {
		t.Fatalf("ReconcileOne() error = %v", err)
	}
	outcome, _ := verdict.Outcome(models.CategoryCash)
	if outcome.Status != models.StatusBalanced {
		t.Errorf("cash status = %s (%s), want BALANCED", outcome.Status, outcome.Note)
	}
	if len(outcome.MatchMetadata.MatchedDeposits) != 1 || outcome.MatchMetadata.MatchedDeposits[0].DaysLate != 6 {
		t.Errorf("matched deposits = %+v", outcome.MatchMetadata.MatchedDeposits)
	}
}

func TestBatchOrchestrator_ReprocessReplaces(t *testing.T) {
	store := newFakeStore()
	store.addDay(dayFor(7, "2025-01-10", true))

	bo, err := NewBatchOrchestrator(store, nil, DefaultBatchConfig())
	if err != nil {
		t.Fatalf("NewBatchOrchestrator() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := bo.Run(context.Background(), "2025-01-10", "2025-01-10"); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d verdicts, want 1", len(store.saved))
	}
	if store.saveCalls != 2 {
		t.Errorf("SaveVerdict called %d times, want 2", store.saveCalls)
	}
}

func TestBatchOrchestrator_AbortsOnStorageError(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 5; i++ {
		store.addDay(dayFor(7, fmt.Sprintf("2025-01-%02d", i), false))
	}
	store.failSaveFor = models.DayKey(7, "2025-01-01")

	config := DefaultBatchConfig()
	config.Workers = 1
	bo, err := NewBatchOrchestrator(store, nil, config)
	if err != nil {
		t.Fatalf("NewBatchOrchestrator() error = %v", err)
	}

	summary, err := bo.Run(context.Background(), "2025-01-01", "2025-01-05")
	if err == nil {
		t.Fatal("expected the run to fail")
	}

	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		t.Fatalf("expected a ReconcilerError, got %T", err)
	}
	if rerr.Code != errors.CodeRunAborted {
		t.Errorf("Code = %s, want %s", rerr.Code, errors.CodeRunAborted)
	}
	if !errors.IsReconcilerError(rerr.Cause) {
		t.Errorf("cause should be the storage error, got %v", rerr.Cause)
	}

	if summary == nil {
		t.Fatal("expected a partial summary")
	}
	if summary.Failed == 0 {
		t.Error("expected at least one failed day")
	}
	if len(summary.Verdicts) != len(store.saved) {
		t.Errorf("summary has %d verdicts but %d were saved", len(summary.Verdicts), len(store.saved))
	}
	if len(store.saved) == 5 {
		t.Error("run should have stopped before saving every day")
	}
}

func TestBatchOrchestrator_RangeErrors(t *testing.T) {
	bo, err := NewBatchOrchestrator(newFakeStore(), nil, DefaultBatchConfig())
	if err != nil {
		t.Fatalf("NewBatchOrchestrator() error = %v", err)
	}

	tests := []struct {
		name     string
		from, to string
		code     errors.ErrorCode
	}{
		{"bad from", "yesterday", "2025-01-01", errors.CodeInvalidDate},
		{"bad to", "2025-01-01", "", errors.CodeInvalidDate},
		{"reversed", "2025-01-05", "2025-01-01", errors.CodeOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bo.Run(context.Background(), tt.from, tt.to)
			rerr, ok := errors.AsReconcilerError(err)
			if !ok {
				t.Fatalf("expected a ReconcilerError, got %v", err)
			}
			if rerr.Code != tt.code {
				t.Errorf("Code = %s, want %s", rerr.Code, tt.code)
			}
		})
	}
}

func TestBatchOrchestrator_ListFailure(t *testing.T) {
	store := newFakeStore()
	store.failList = stderrors.New("connection refused")

	bo, err := NewBatchOrchestrator(store, nil, DefaultBatchConfig())
	if err != nil {
		t.Fatalf("NewBatchOrchestrator() error = %v", err)
	}

	_, err = bo.Run(context.Background(), "2025-01-01", "2025-01-31")
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Category != errors.CategoryStorage {
		t.Fatalf("expected a storage error, got %v", err)
	}
	if rerr.GetExitCode() != 7 {
		t.Errorf("exit code = %d, want 7", rerr.GetExitCode())
	}
}

func TestBatchOrchestrator_EmptyRange(t *testing.T) {
	bo, err := NewBatchOrchestrator(newFakeStore(), nil, DefaultBatchConfig())
	if err != nil {
		t.Fatalf("NewBatchOrchestrator() error = %v", err)
	}

	summary, err := bo.Run(context.Background(), "2025-01-01", "2025-01-31")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Days != 0 || len(summary.Verdicts) != 0 || len(summary.Patterns) != 0 {
		t.Errorf("unexpected summary for an empty range: %+v", summary)
	}
}

func TestBatchOrchestrator_Patterns(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 6; i++ {
		store.addDay(dayFor(3, fmt.Sprintf("2025-01-%02d", i), true))
	}

	config := DefaultBatchConfig()
	config.MinOccurrences = 3
	bo, err := NewBatchOrchestrator(store, nil, config)
	if err != nil {
		t.Fatalf("NewBatchOrchestrator() error = %v", err)
	}
	if _, err := bo.Run(context.Background(), "2025-01-01", "2025-01-06"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	patterns, err := bo.Patterns(context.Background(), "2025-01-01", "2025-01-06")
	if err != nil {
		t.Fatalf("Patterns() error = %v", err)
	}
	if len(patterns) != 1 || patterns[0].Severity != models.SeverityHigh {
		t.Errorf("patterns = %v, want one HIGH pattern", patterns)
	}

	patterns, err = bo.Patterns(context.Background(), "2025-01-01", "2025-01-02")
	if err != nil {
		t.Fatalf("Patterns() error = %v", err)
	}
	if len(patterns) != 0 {
		t.Errorf("patterns = %v, want none for two days", patterns)
	}
}
