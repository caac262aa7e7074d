package accrual

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
)

var (
	daysPerYear   = decimal.NewFromInt(365)
	secondsPerDay = decimal.NewFromInt(86400)
)

// RateCalculator computes interest when only discrete daily rate averages are
// available instead of a compounding index. Days without transactions accrue
// once on the running amount; days with transactions are weighted by the
// elapsed fraction of the day between events, so a large deposit at 23:00
// does not earn a full day of interest.
type RateCalculator struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewRateCalculator(logger *zap.Logger) *RateCalculator {
	return &RateCalculator{logger: logger, now: time.Now}
}

// WithNow overrides the end boundary clock.
func (c *RateCalculator) WithNow(now func() time.Time) *RateCalculator {
	c.now = now
	return c
}

// Compute walks one UTC calendar day at a time from the midnight before the
// first transaction through the current moment. A missing rate snapshot for a
// date yields zero interest for that date; rates are never fabricated. The
// seeding day (the day of the very first transaction) accrues no interest:
// the position only starts earning or owing from the following midnight.
func (c *RateCalculator) Compute(kind entity.BalanceKind, txs []entity.Transaction, rates map[string]entity.RateSnapshot) entity.AccrualResult {
	result := entity.AccrualResult{
		Kind:          kind,
		TotalInterest: decimal.Zero,
		TotalAdded:    decimal.Zero,
		TotalRemoved:  decimal.Zero,
		CurrentAmount: decimal.Zero,
	}
	if len(txs) == 0 {
		return result
	}

	sorted := make([]entity.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	byDay := make(map[string][]entity.Transaction, len(sorted))
	for _, tx := range sorted {
		key := entity.DayKey(tx.Timestamp)
		byDay[key] = append(byDay[key], tx)
	}

	start := entity.MidnightUTC(sorted[0].Timestamp)
	seedDay := entity.DayKey(sorted[0].Timestamp)
	end := c.now().UTC()

	running := decimal.Zero
	totalInterest := decimal.Zero

	for dayStart := start; dayStart.Before(end); dayStart = dayStart.AddDate(0, 0, 1) {
		dayKey := entity.DayKey(dayStart)
		dayEnd := dayStart.AddDate(0, 0, 1)
		if dayEnd.After(end) {
			dayEnd = end
		}

		perDay := c.dailyRate(kind, rates, dayKey)
		seeding := dayKey == seedDay

		dayInterest := decimal.Zero
		dominant := entity.StatementTx{Amount: decimal.Zero}

		dayTxs := byDay[dayKey]
		if len(dayTxs) == 0 {
			if !perDay.IsZero() {
				dayInterest = running.Mul(perDay).Mul(fractionOfDay(dayStart, dayEnd))
			}
		} else {
			cursor := dayStart
			for _, tx := range dayTxs {
				if !seeding && !perDay.IsZero() {
					dayInterest = dayInterest.Add(running.Mul(perDay).Mul(fractionOfDay(cursor, tx.Timestamp)))
				}
				running = c.applyCapital(running, tx, &result)
				if tx.Amount.GreaterThan(dominant.Amount) {
					dominant = entity.StatementTx{Type: tx.Type, Amount: tx.Amount}
				}
				cursor = tx.Timestamp
			}
			if !seeding && !perDay.IsZero() {
				dayInterest = dayInterest.Add(running.Mul(perDay).Mul(fractionOfDay(cursor, dayEnd)))
			}
		}

		totalInterest = totalInterest.Add(dayInterest)
		running = running.Add(dayInterest)

		result.Details = append(result.Details, entity.DailyDetail{
			Date:              dayKey,
			Timestamp:         dayStart,
			Amount:            running,
			PeriodInterest:    dayInterest,
			TotalInterest:     totalInterest,
			TransactionAmount: dominant.Amount,
			TransactionType:   dominant.Type,
			DailyRate:         perDay,
			Source:            entity.SourceHistory,
		})
	}

	result.TotalInterest = totalInterest
	result.CurrentAmount = running
	return result
}

// applyCapital folds one transaction's capital effect into the running
// amount, clamping at zero so a missing-event or rounding artifact never
// propagates a negative position.
func (c *RateCalculator) applyCapital(running decimal.Decimal, tx entity.Transaction, result *entity.AccrualResult) decimal.Decimal {
	increase := false
	switch tx.Type {
	case entity.TxDeposit, entity.TxBorrow:
		increase = true
	case entity.TxWithdraw, entity.TxRepay:
		increase = false
	default:
		increase = tx.Direction == entity.DirectionIn
	}

	if increase {
		result.TotalAdded = result.TotalAdded.Add(tx.Amount)
		return running.Add(tx.Amount)
	}

	result.TotalRemoved = result.TotalRemoved.Add(tx.Amount)
	next := running.Sub(tx.Amount)
	if next.IsNegative() {
		c.logger.Warn("capital movement would drive running balance negative, clamping to zero",
			zap.String("hash", tx.Hash.Hex()),
			zap.String("token", tx.Token))
		return decimal.Zero
	}
	return next
}

// dailyRate resolves the annualized average for the day and scales it to a
// per-day rate. Absent snapshots yield zero rather than an estimate.
func (c *RateCalculator) dailyRate(kind entity.BalanceKind, rates map[string]entity.RateSnapshot, dayKey string) decimal.Decimal {
	snap, ok := rates[dayKey]
	if !ok {
		return decimal.Zero
	}
	annual := snap.LiquidityRateAvg
	if kind == entity.KindDebt {
		annual = snap.VariableBorrowRateAvg
	}
	return annual.Div(daysPerYear)
}

func fractionOfDay(from, to time.Time) decimal.Decimal {
	elapsed := to.Unix() - from.Unix()
	if elapsed <= 0 {
		return decimal.Zero
	}
	if elapsed >= 86400 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(elapsed).Div(secondsPerDay)
}
