package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceKind distinguishes the two balance streams tracked per reserve.
type BalanceKind int

const (
	KindSupply BalanceKind = iota
	KindDebt
)

func (k BalanceKind) String() string {
	if k == KindDebt {
		return "debt"
	}
	return "supply"
}

// DetailSource tells where a DailyDetail row originated.
type DetailSource string

const (
	// SourceHistory rows are computed from chain-indexed snapshots or rates.
	SourceHistory DetailSource = "history"
	// SourceLiveBalance marks the synthetic closing point derived from a
	// live balance query instead of an indexed snapshot.
	SourceLiveBalance DetailSource = "today-point-from-live-balance"
)

// DailyDetail is one accrual calculator output row.
type DailyDetail struct {
	Date      string    `json:"date"`
	Timestamp time.Time `json:"timestamp"`
	// Amount is the running position size after the day's activity and interest.
	Amount         decimal.Decimal `json:"amount"`
	PeriodInterest decimal.Decimal `json:"periodInterest"`
	TotalInterest  decimal.Decimal `json:"totalInterest"`
	// TransactionAmount is the dominant capital movement of the period, zero if none.
	TransactionAmount decimal.Decimal `json:"transactionAmount"`
	TransactionType   TxType          `json:"transactionType"`
	DailyRate         decimal.Decimal `json:"dailyRate,omitempty"`
	Source            DetailSource    `json:"source"`
}

// AccrualResult bundles one token/kind accrual series with its running totals.
// TotalAdded counts deposits for a supply stream and borrows for a debt
// stream; TotalRemoved counts withdrawals respectively repays.
type AccrualResult struct {
	Kind          BalanceKind     `json:"kind"`
	Details       []DailyDetail   `json:"dailyDetails"`
	TotalInterest decimal.Decimal `json:"totalInterest"`
	TotalAdded    decimal.Decimal `json:"totalAdded"`
	TotalRemoved  decimal.Decimal `json:"totalRemoved"`
	CurrentAmount decimal.Decimal `json:"currentAmount"`
}

// StatementTx is one capital movement attached to a statement date.
type StatementTx struct {
	Type   TxType          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

// DailyStatement merges the debt and supply series of one token for one date.
type DailyStatement struct {
	Date           string          `json:"date"`
	Timestamp      time.Time       `json:"timestamp"`
	Debt           decimal.Decimal `json:"debt"`
	Supply         decimal.Decimal `json:"supply"`
	BorrowInterest decimal.Decimal `json:"borrowInterest"`
	SupplyInterest decimal.Decimal `json:"supplyInterest"`
	TotalInterest  decimal.Decimal `json:"totalInterest"`
	Transactions   []StatementTx   `json:"transactions,omitempty"`
}
