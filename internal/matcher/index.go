package matcher

import (
	"sort"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"

	"github.com/shopspring/decimal"
)

// DepositIndex keeps deposits sorted by date for window lookups
type DepositIndex struct {
	entries []depositEntry

	// Skipped counts deposits whose date could not be parsed
	Skipped int
}

type depositEntry struct {
	date    time.Time
	deposit models.Deposit
}

// NewDepositIndex builds an index over the given deposits. Deposits with an
// unparseable date are skipped. The input slice is not modified.
func NewDepositIndex(deposits []models.Deposit) *DepositIndex {
	index := &DepositIndex{entries: make([]depositEntry, 0, len(deposits))}

	for _, d := range deposits {
		date, err := models.ParseDate(d.Date)
		if err != nil {
			index.Skipped++
			continue
		}
		index.entries = append(index.entries, depositEntry{date: date, deposit: d})
	}

	sort.SliceStable(index.entries, func(i, j int) bool {
		return index.entries[i].date.Before(index.entries[j].date)
	})

	return index
}

// Len returns the number of indexed deposits
func (idx *DepositIndex) Len() int {
	return len(idx.entries)
}

// InWindow returns the deposits dated within [from, to], both inclusive,
// in date order together with their offset in days from 'from'.
func (idx *DepositIndex) InWindow(from, to time.Time) []models.MatchedDeposit {
	start := sort.Search(len(idx.entries), func(i int) bool {
		return !idx.entries[i].date.Before(from)
	})

	var matched []models.MatchedDeposit
	for i := start; i < len(idx.entries); i++ {
		e := idx.entries[i]
		if e.date.After(to) {
			break
		}
		matched = append(matched, models.MatchedDeposit{
			Date:     models.FormatDate(e.date),
			Amount:   e.deposit.Amount,
			DaysLate: daysBetween(from, e.date),
		})
	}
	return matched
}

// SumMatched totals the amounts of matched deposits
func SumMatched(matched []models.MatchedDeposit) decimal.Decimal {
	total := decimal.Zero
	for _, m := range matched {
		total = total.Add(m.Amount)
	}
	return total
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
