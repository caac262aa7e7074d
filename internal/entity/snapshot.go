package entity

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSnapshot is one compounding-index observation for one reserve at one
// point in time. CurrentBalance equals ScaledBalance*Index/RAY at the source;
// calculators must not assume the equality holds between snapshots.
type BalanceSnapshot struct {
	Timestamp      time.Time
	CurrentBalance *big.Int
	ScaledBalance  *big.Int
	Index          *big.Int // ray-scaled, 1 ray = 10^27
	ReserveSymbol  string
}

// RateSnapshot carries one reserve's average rates for one calendar day.
// Date is a YYYYMMDD key computed in UTC and used as the join key.
type RateSnapshot struct {
	Date                  string
	Timestamp             time.Time
	LiquidityRateAvg      decimal.Decimal // annualized fraction, 0.05 = 5%
	VariableBorrowRateAvg decimal.Decimal
}

// DayKey formats the UTC calendar day of t as YYYYMMDD.
func DayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

// MidnightUTC truncates t to the start of its UTC calendar day.
func MidnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
