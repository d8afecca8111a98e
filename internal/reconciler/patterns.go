package reconciler

import (
	"sort"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultMinOccurrences is the number of anomalies that makes a pattern
const DefaultMinOccurrences = 3

// maxRecentDates bounds AnomalyPattern.MostRecentDates
const maxRecentDates = 5

type patternKey struct {
	plantID  int
	category models.Category
}

type patternGroup struct {
	count    int
	totalAbs decimal.Decimal
	dates    []string
}

// DetectPatterns groups minor and major anomalies of the history by plant
// and category and returns the groups seen at least minOccurrences times,
// most frequent first. The history is expected oldest first; it is never
// modified.
func DetectPatterns(history []models.DailyVerdict, minOccurrences int) []models.AnomalyPattern {
	if minOccurrences <= 0 {
		minOccurrences = DefaultMinOccurrences
	}

	groups := make(map[patternKey]*patternGroup)
	for _, verdict := range history {
		for _, category := range verdict.SortedCategories() {
			outcome := verdict.Outcomes[category]
			if !outcome.Status.IsAnomaly() {
				continue
			}
			key := patternKey{plantID: verdict.PlantID, category: category}
			g, ok := groups[key]
			if !ok {
				g = &patternGroup{totalAbs: decimal.Zero}
				groups[key] = g
			}
			g.count++
			g.totalAbs = g.totalAbs.Add(outcome.Difference.Abs())
			g.dates = append(g.dates, verdict.Date)
		}
	}

	patterns := make([]models.AnomalyPattern, 0, len(groups))
	for key, g := range groups {
		if g.count < minOccurrences {
			continue
		}

		recent := g.dates
		if len(recent) > maxRecentDates {
			recent = recent[len(recent)-maxRecentDates:]
		}

		severity := models.SeverityMedium
		if g.count >= 2*minOccurrences {
			severity = models.SeverityHigh
		}

		patterns = append(patterns, models.AnomalyPattern{
			PlantID:                   key.plantID,
			Category:                  key.category,
			OccurrenceCount:           g.count,
			AverageAbsoluteDifference: g.totalAbs.Div(decimal.NewFromInt(int64(g.count))).Round(models.AmountPlaces),
			MostRecentDates:           append([]string(nil), recent...),
			Severity:                  severity,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].OccurrenceCount != patterns[j].OccurrenceCount {
			return patterns[i].OccurrenceCount > patterns[j].OccurrenceCount
		}
		if patterns[i].PlantID != patterns[j].PlantID {
			return patterns[i].PlantID < patterns[j].PlantID
		}
		return patterns[i].Category < patterns[j].Category
	})

	return patterns
}
