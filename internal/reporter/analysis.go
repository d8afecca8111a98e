package reporter

import (
	"math"
	"sort"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/reconciler"

	"github.com/shopspring/decimal"
)

// DefaultCriticalThreshold is the anomaly rate, in percent, from which a
// plant is listed as critical
const DefaultCriticalThreshold = 30.0

// AnomalyReport summarizes the verdicts of a period
type AnomalyReport struct {
	GeneratedAt    time.Time               `json:"generated_at"`
	From           string                  `json:"from"`
	To             string                  `json:"to"`
	TotalDays      int                     `json:"total_days"`
	BalancedDays   int                     `json:"balanced_days"`
	AnomalousDays  int                     `json:"anomalous_days"`
	AnomalyRate    float64                 `json:"anomaly_rate"`
	ByStatus       map[models.Status]int   `json:"by_status"`
	ByCategory     []CategorySummary       `json:"by_category"`
	ByPlant        []PlantSummary          `json:"by_plant"`
	Anomalies      []AnomalyEntry          `json:"anomalies"`
	WeeklyTrend    []WeekdayTrend          `json:"weekly_trend"`
	CriticalPlants []CriticalPlant         `json:"critical_plants"`
	Patterns       []models.AnomalyPattern `json:"patterns,omitempty"`
}

// CategorySummary counts the flagged outcomes of one category
type CategorySummary struct {
	Category        models.Category `json:"category"`
	Count           int             `json:"count"`
	TotalDifference decimal.Decimal `json:"total_difference"`
}

// PlantSummary counts the anomalous days of one plant
type PlantSummary struct {
	PlantID         int             `json:"plant_id"`
	Name            string          `json:"name"`
	AnomalousDays   int             `json:"anomalous_days"`
	TotalDifference decimal.Decimal `json:"total_difference"`
}

// AnomalyEntry is one anomalous plant day with its flagged outcomes
type AnomalyEntry struct {
	PlantID   int                            `json:"plant_id"`
	PlantName string                         `json:"plant_name"`
	Date      string                         `json:"date"`
	Status    models.Status                  `json:"status"`
	Details   []models.ReconciliationOutcome `json:"details"`
}

// TotalDifference sums the absolute differences of the flagged outcomes
func (e AnomalyEntry) TotalDifference() decimal.Decimal {
	total := decimal.Zero
	for _, d := range e.Details {
		total = total.Add(d.AbsoluteDifference())
	}
	return total
}

// WeekdayTrend counts days and anomalous days for one day of the week
type WeekdayTrend struct {
	Weekday       time.Weekday `json:"weekday"`
	Name          string       `json:"name"`
	TotalDays     int          `json:"total_days"`
	AnomalousDays int          `json:"anomalous_days"`
	Rate          float64      `json:"rate"`
}

// CriticalPlant is a plant whose anomaly rate reaches the threshold
type CriticalPlant struct {
	PlantID         int             `json:"plant_id"`
	Name            string          `json:"name"`
	AnomalyRate     float64         `json:"anomaly_rate"`
	TotalDifference decimal.Decimal `json:"total_difference"`
	DaysChecked     int             `json:"days_checked"`
}

// BuildOptions controls which verdicts a report covers
type BuildOptions struct {
	From              string
	To                string
	PlantNames        map[int]string
	CriticalThreshold float64
	// MinOccurrences enables pattern detection over the period when positive
	MinOccurrences int
	Now            func() time.Time
}

// BuildReport aggregates verdicts into an AnomalyReport. Verdicts outside
// [From, To] are ignored; an empty bound is open. A day is balanced when its
// global status is BALANCED or BALANCED_ROUNDED and anomalous otherwise.
func BuildReport(verdicts []models.DailyVerdict, opts BuildOptions) *AnomalyReport {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	threshold := opts.CriticalThreshold
	if threshold <= 0 {
		threshold = DefaultCriticalThreshold
	}

	selected := make([]models.DailyVerdict, 0, len(verdicts))
	for _, v := range verdicts {
		if opts.From != "" && v.Date < opts.From {
			continue
		}
		if opts.To != "" && v.Date > opts.To {
			continue
		}
		selected = append(selected, v)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Date != selected[j].Date {
			return selected[i].Date < selected[j].Date
		}
		return selected[i].PlantID < selected[j].PlantID
	})

	report := &AnomalyReport{
		GeneratedAt: now(),
		From:        opts.From,
		To:          opts.To,
		TotalDays:   len(selected),
		ByStatus:    make(map[models.Status]int),
	}
	if len(selected) > 0 {
		if report.From == "" {
			report.From = selected[0].Date
		}
		if report.To == "" {
			report.To = selected[len(selected)-1].Date
		}
	}

	byCategory := make(map[models.Category]*CategorySummary)
	byPlant := make(map[int]*PlantSummary)

	for _, v := range selected {
		report.ByStatus[v.GlobalStatus]++
		if v.GlobalStatus.IsBalanced() {
			report.BalancedDays++
		}
		if !v.GlobalStatus.IsAnomaly() {
			continue
		}

		entry := AnomalyEntry{
			PlantID:   v.PlantID,
			PlantName: opts.PlantNames[v.PlantID],
			Date:      v.Date,
			Status:    v.GlobalStatus,
		}
		for _, c := range v.SortedCategories() {
			o := v.Outcomes[c]
			if !o.Status.IsAnomaly() && o.Status != models.StatusNotFound {
				continue
			}
			entry.Details = append(entry.Details, o)

			cs, ok := byCategory[c]
			if !ok {
				cs = &CategorySummary{Category: c}
				byCategory[c] = cs
			}
			cs.Count++
			cs.TotalDifference = cs.TotalDifference.Add(o.AbsoluteDifference())
		}
		if len(entry.Details) == 0 {
			continue
		}
		report.Anomalies = append(report.Anomalies, entry)

		ps, ok := byPlant[v.PlantID]
		if !ok {
			ps = &PlantSummary{PlantID: v.PlantID, Name: opts.PlantNames[v.PlantID]}
			byPlant[v.PlantID] = ps
		}
		ps.AnomalousDays++
		ps.TotalDifference = ps.TotalDifference.Add(entry.TotalDifference())
	}
	report.AnomalousDays = report.TotalDays - report.BalancedDays
	report.AnomalyRate = rate(report.AnomalousDays, report.TotalDays)

	sortEntries(report.Anomalies)

	for _, c := range models.AllCategories() {
		if cs, ok := byCategory[c]; ok {
			report.ByCategory = append(report.ByCategory, *cs)
			delete(byCategory, c)
		}
	}
	for _, cs := range byCategory {
		report.ByCategory = append(report.ByCategory, *cs)
	}

	for _, ps := range byPlant {
		report.ByPlant = append(report.ByPlant, *ps)
	}
	sort.Slice(report.ByPlant, func(i, j int) bool {
		a, b := report.ByPlant[i], report.ByPlant[j]
		if a.AnomalousDays != b.AnomalousDays {
			return a.AnomalousDays > b.AnomalousDays
		}
		return a.PlantID < b.PlantID
	})

	report.WeeklyTrend = WeeklyTrend(selected)
	report.CriticalPlants = CriticalPlants(selected, opts.PlantNames, threshold)
	if opts.MinOccurrences > 0 {
		report.Patterns = reconciler.DetectPatterns(selected, opts.MinOccurrences)
	}
	return report
}

// sortEntries orders anomalies worst status first, then by the size of the
// differences, then by date and plant
func sortEntries(entries []AnomalyEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if ra, rb := a.Status.Rank(), b.Status.Rank(); ra != rb {
			return ra < rb
		}
		if c := a.TotalDifference().Cmp(b.TotalDifference()); c != 0 {
			return c > 0
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.PlantID < b.PlantID
	})
}

var weekdayOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// WeeklyTrend counts days and non-balanced days per day of the week, Monday
// first. Verdicts with an unparseable date are ignored.
func WeeklyTrend(verdicts []models.DailyVerdict) []WeekdayTrend {
	counts := make(map[time.Weekday]*WeekdayTrend, len(weekdayOrder))
	for _, wd := range weekdayOrder {
		counts[wd] = &WeekdayTrend{Weekday: wd, Name: wd.String()}
	}

	for _, v := range verdicts {
		t, err := models.ParseDate(v.Date)
		if err != nil {
			continue
		}
		wt := counts[t.Weekday()]
		wt.TotalDays++
		if !v.GlobalStatus.IsBalanced() {
			wt.AnomalousDays++
		}
	}

	trend := make([]WeekdayTrend, 0, len(weekdayOrder))
	for _, wd := range weekdayOrder {
		wt := counts[wd]
		wt.Rate = rate(wt.AnomalousDays, wt.TotalDays)
		trend = append(trend, *wt)
	}
	return trend
}

// CriticalPlants lists plants whose share of non-balanced days is at least
// threshold percent, highest rate first
func CriticalPlants(verdicts []models.DailyVerdict, names map[int]string, threshold float64) []CriticalPlant {
	type tally struct {
		total, anomalous int
		diff             decimal.Decimal
	}
	byPlant := make(map[int]*tally)
	for _, v := range verdicts {
		t, ok := byPlant[v.PlantID]
		if !ok {
			t = &tally{}
			byPlant[v.PlantID] = t
		}
		t.total++
		if v.GlobalStatus.IsBalanced() {
			continue
		}
		t.anomalous++
		for _, o := range v.Outcomes {
			t.diff = t.diff.Add(o.AbsoluteDifference())
		}
	}

	var critical []CriticalPlant
	for id, t := range byPlant {
		r := rate(t.anomalous, t.total)
		if t.total == 0 || r < threshold {
			continue
		}
		critical = append(critical, CriticalPlant{
			PlantID:         id,
			Name:            names[id],
			AnomalyRate:     r,
			TotalDifference: models.RoundAmount(t.diff),
			DaysChecked:     t.total,
		})
	}
	sort.Slice(critical, func(i, j int) bool {
		if critical[i].AnomalyRate != critical[j].AnomalyRate {
			return critical[i].AnomalyRate > critical[j].AnomalyRate
		}
		return critical[i].PlantID < critical[j].PlantID
	})
	return critical
}

// rate returns part/total as a percentage rounded to one decimal
func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}
