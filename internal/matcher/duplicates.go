package matcher

import (
	"fmt"
	"sort"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"

	"github.com/shopspring/decimal"
)

// DuplicateGroup is a set of settlement records of one plant day that carry
// the same channel and amount
type DuplicateGroup struct {
	PlantID int
	Date    string
	Channel models.Channel
	Amount  decimal.Decimal
	Count   int
}

// Excess is the amount settled beyond the first record of the group
func (g DuplicateGroup) Excess() decimal.Decimal {
	return g.Amount.Mul(decimal.NewFromInt(int64(g.Count - 1)))
}

// DetectDuplicates groups settlement records with the same plant, date,
// channel and amount. Only groups with more than one record are returned,
// largest excess first.
func DetectDuplicates(records []models.SettlementRecord) []DuplicateGroup {
	type key struct {
		plant   int
		date    string
		channel models.Channel
		amount  string
	}

	counts := make(map[key]*DuplicateGroup)
	var order []key
	for _, r := range records {
		amount := models.RoundAmount(r.Amount)
		if amount.IsZero() {
			continue
		}
		k := key{r.PlantID, r.Date, r.Channel, amount.StringFixed(models.AmountPlaces)}
		if g, ok := counts[k]; ok {
			g.Count++
			continue
		}
		counts[k] = &DuplicateGroup{PlantID: r.PlantID, Date: r.Date, Channel: r.Channel, Amount: amount, Count: 1}
		order = append(order, k)
	}

	var groups []DuplicateGroup
	for _, k := range order {
		if g := counts[k]; g.Count > 1 {
			groups = append(groups, *g)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Excess().GreaterThan(groups[j].Excess())
	})
	return groups
}

// DuplicateNote explains a settlement surplus (a negative difference) with
// repeated records when the excess of one group, or of all groups together,
// equals the surplus. It returns "" when duplicates do not account for it.
func DuplicateNote(records []models.SettlementRecord, difference decimal.Decimal) string {
	if !difference.IsNegative() {
		return ""
	}
	surplus := models.RoundAmount(difference.Neg())

	groups := DetectDuplicates(records)
	total := decimal.Zero
	for _, g := range groups {
		if g.Excess().Equal(surplus) {
			return fmt.Sprintf("duplicate settlement of %s charged %d times", g.Amount.StringFixed(models.AmountPlaces), g.Count)
		}
		total = total.Add(g.Excess())
	}
	if len(groups) > 1 && total.Equal(surplus) {
		return fmt.Sprintf("%d duplicated settlements account for the surplus", len(groups))
	}
	return ""
}
