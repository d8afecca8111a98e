package reconciler

import (
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"

	"github.com/shopspring/decimal"
)

// DayInput holds everything needed to reconcile one plant day.
// Records are expected to be normalized already; missing values are zero.
type DayInput struct {
	Declared        models.DeclaredTotals
	Deposits        []models.Deposit
	BankCardRecords []models.SettlementRecord
	FuelCardRecords []models.SettlementRecord
	VoucherRecords  []models.SettlementRecord
	WalletRecords   []models.SettlementRecord
	CreditRecords   []models.SettlementRecord
}

// NewDayInput partitions mixed settlement records by channel.
// Records of an unknown channel are dropped and counted.
func NewDayInput(declared models.DeclaredTotals, deposits []models.Deposit, settlements []models.SettlementRecord) (DayInput, int) {
	in := DayInput{
		Declared: declared,
		Deposits: deposits,
	}

	dropped := 0
	for _, r := range settlements {
		switch r.Channel {
		case models.ChannelBankCard:
			in.BankCardRecords = append(in.BankCardRecords, r)
		case models.ChannelFuelCard:
			in.FuelCardRecords = append(in.FuelCardRecords, r)
		case models.ChannelVoucher:
			in.VoucherRecords = append(in.VoucherRecords, r)
		case models.ChannelWallet:
			in.WalletRecords = append(in.WalletRecords, r)
		case models.ChannelCredit:
			in.CreditRecords = append(in.CreditRecords, r)
		default:
			dropped++
		}
	}
	return in, dropped
}

// ChannelTotals are the observed settlement totals of a plant day
type ChannelTotals struct {
	BankCards decimal.Decimal
	FuelCards decimal.Decimal
	Vouchers  decimal.Decimal
	Wallet    decimal.Decimal
	Credit    decimal.Decimal
}

// Totals sums the settlement records of each channel
func (in DayInput) Totals() ChannelTotals {
	return ChannelTotals{
		BankCards: sumRecords(in.BankCardRecords),
		FuelCards: sumRecords(in.FuelCardRecords),
		Vouchers:  sumRecords(in.VoucherRecords),
		Wallet:    sumRecords(in.WalletRecords),
		Credit:    sumRecords(in.CreditRecords),
	}
}

// BankCardTheoretical derives the bank-card amount the plant should have
// collected: gross minus invoices, vouchers and cash, floored at zero.
func BankCardTheoretical(d models.DeclaredTotals) decimal.Decimal {
	residual := d.GrossTotal.
		Sub(d.InvoiceTotal()).
		Sub(d.VoucherTotal).
		Sub(d.CashTheoretical)
	if residual.IsNegative() {
		return decimal.Zero
	}
	return models.RoundAmount(residual)
}

func sumRecords(records []models.SettlementRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return models.RoundAmount(total)
}
