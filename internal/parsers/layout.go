package parsers

import (
	"fmt"
	"strings"
)

// Canonical column names
const (
	ColPlant            = "plant"
	ColPlantName        = "plant_name"
	ColDate             = "date"
	ColAmount           = "amount"
	ColChannel          = "channel"
	ColGrossTotal       = "gross_total"
	ColPostpaidInvoices = "postpaid_invoices"
	ColPrepaidInvoices  = "prepaid_invoices"
	ColVoucherTotal     = "voucher_total"
	ColCashTheoretical  = "cash_theoretical"
	ColCreditTotal      = "credit_total"
	ColWalletTotal      = "wallet_total"
)

// Column describes one column of an input file
type Column struct {
	Name     string   `json:"name"`
	Aliases  []string `json:"aliases,omitempty"`
	Required bool     `json:"required"`
}

func (c Column) candidates() []string {
	return append([]string{c.Name}, c.Aliases...)
}

// Layout is the set of columns a file kind is read with
type Layout struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Validate checks that the layout has unique, non-empty column names
func (l Layout) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("layout name cannot be empty")
	}
	if len(l.Columns) == 0 {
		return fmt.Errorf("layout %s has no columns", l.Name)
	}
	seen := make(map[string]bool, len(l.Columns))
	for _, c := range l.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("layout %s has a column without a name", l.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("layout %s declares column %s twice", l.Name, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Required returns the names of the required columns
func (l Layout) Required() []string {
	var names []string
	for _, c := range l.Columns {
		if c.Required {
			names = append(names, c.Name)
		}
	}
	return names
}

// The aliases cover the headers of the point-of-sale controller, bank and
// card portal exports.
var (
	plantColumn = Column{Name: ColPlant, Required: true,
		Aliases: []string{"plant_id", "codice_pv", "codicepv", "pv", "esercente", "impianto"}}
	dateColumn = Column{Name: ColDate, Required: true,
		Aliases: []string{"business_date", "data_contabile", "datacontabile", "data_operazione", "data_e_ora", "data"}}
	amountColumn = Column{Name: ColAmount, Required: true,
		Aliases: []string{"importo", "value"}}
)

// DeclaredLayout reads the controller's per-day declared totals
func DeclaredLayout() Layout {
	return Layout{
		Name: "declared",
		Columns: []Column{
			plantColumn,
			dateColumn,
			{Name: ColPlantName, Aliases: []string{"name", "nome_impianto", "descrizione_pv"}},
			{Name: ColGrossTotal, Aliases: []string{"corrispettivo_totale", "totale"}},
			{Name: ColPostpaidInvoices, Aliases: []string{"fatture_postpagate_totale", "fatture_postpagate"}},
			{Name: ColPrepaidInvoices, Aliases: []string{"fatture_prepagate_totale", "fatture_prepagate"}},
			{Name: ColVoucherTotal, Aliases: []string{"buoni_totale", "buoni"}},
			{Name: ColCashTheoretical, Aliases: []string{"incasso_contanti", "contanti_teorico"}},
			{Name: ColCreditTotal, Aliases: []string{"crediti_totale", "crediti"}},
			{Name: ColWalletTotal, Aliases: []string{"satispay_totale", "satispay"}},
		},
	}
}

// DepositLayout reads cash deposits registered by the bank
func DepositLayout() Layout {
	return Layout{
		Name:    "deposits",
		Columns: []Column{plantColumn, dateColumn, amountColumn},
	}
}

// SettlementLayout reads external settlement feeds. The channel column is
// optional when the loader is given a default channel.
func SettlementLayout() Layout {
	return Layout{
		Name: "settlements",
		Columns: []Column{
			plantColumn,
			dateColumn,
			amountColumn,
			{Name: ColChannel, Aliases: []string{"canale", "tipo", "source"}},
		},
	}
}
