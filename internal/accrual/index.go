package accrual

import (
	"math/big"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
)

// IndexCalculator turns a sequence of compounding-index balance snapshots into
// a per-day interest series with exact integer ray arithmetic. All quotients
// are floored and period interest is clamped to >= 0, so a provider glitch
// that moves an index backward yields zero interest, never negative.
type IndexCalculator struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewIndexCalculator creates a calculator. The logger is required; tests pass
// zap.NewNop().
func NewIndexCalculator(logger *zap.Logger) *IndexCalculator {
	return &IndexCalculator{logger: logger, now: time.Now}
}

// WithNow overrides the clock used for the synthetic closing point.
func (c *IndexCalculator) WithNow(now func() time.Time) *IndexCalculator {
	c.now = now
	return c
}

// Compute folds the snapshot history into daily details and running totals.
// Snapshots are re-sorted defensively and deduplicated to one per UTC day
// (keeping the most recent, since same-day ordering from the source is not
// guaranteed monotonic). A non-nil liveBalance appends a synthetic
// "today" point closing the gap between the last indexed snapshot and now.
func (c *IndexCalculator) Compute(kind entity.BalanceKind, snapshots []entity.BalanceSnapshot, liveBalance *big.Int) entity.AccrualResult {
	result := entity.AccrualResult{
		Kind:          kind,
		TotalInterest: decimal.Zero,
		TotalAdded:    decimal.Zero,
		TotalRemoved:  decimal.Zero,
		CurrentAmount: decimal.Zero,
	}

	retained := c.dedupByDay(snapshots)
	if len(retained) == 0 {
		return result
	}

	totalInterest := big.NewInt(0)
	totalAdded := big.NewInt(0)
	totalRemoved := big.NewInt(0)

	first := retained[0]
	result.Details = append(result.Details, entity.DailyDetail{
		Date:              entity.DayKey(first.Timestamp),
		Timestamp:         first.Timestamp,
		Amount:            decimal.NewFromBigInt(bigOrZero(first.CurrentBalance), 0),
		PeriodInterest:    decimal.Zero,
		TotalInterest:     decimal.Zero,
		TransactionAmount: decimal.Zero,
		Source:            entity.SourceHistory,
	})

	for i := 1; i < len(retained); i++ {
		prev, cur := retained[i-1], retained[i]

		deltaScaled := new(big.Int).Sub(bigOrZero(cur.ScaledBalance), bigOrZero(prev.ScaledBalance))
		movement := big.NewInt(0)
		txType := entity.TxOthers
		switch deltaScaled.Sign() {
		case 1:
			movement = rayMulFloor(deltaScaled, cur.Index)
			totalAdded.Add(totalAdded, movement)
			if kind == entity.KindDebt {
				txType = entity.TxBorrow
			} else {
				txType = entity.TxDeposit
			}
		case -1:
			movement = rayMulFloor(new(big.Int).Neg(deltaScaled), cur.Index)
			totalRemoved.Add(totalRemoved, movement)
			if kind == entity.KindDebt {
				txType = entity.TxRepay
			} else {
				txType = entity.TxWithdraw
			}
		}

		indexDelta := new(big.Int).Sub(bigOrZero(cur.Index), bigOrZero(prev.Index))
		periodInterest := big.NewInt(0)
		if indexDelta.Sign() > 0 {
			periodInterest = rayMulFloor(bigOrZero(prev.ScaledBalance), indexDelta)
			if periodInterest.Sign() < 0 {
				periodInterest = big.NewInt(0)
			}
		} else if indexDelta.Sign() < 0 {
			c.logger.Warn("compounding index moved backward, treating period as zero interest",
				zap.String("reserve", cur.ReserveSymbol),
				zap.Time("at", cur.Timestamp))
		}
		totalInterest.Add(totalInterest, periodInterest)

		result.Details = append(result.Details, entity.DailyDetail{
			Date:              entity.DayKey(cur.Timestamp),
			Timestamp:         cur.Timestamp,
			Amount:            decimal.NewFromBigInt(bigOrZero(cur.CurrentBalance), 0),
			PeriodInterest:    decimal.NewFromBigInt(periodInterest, 0),
			TotalInterest:     decimal.NewFromBigInt(new(big.Int).Set(totalInterest), 0),
			TransactionAmount: decimal.NewFromBigInt(movement, 0),
			TransactionType:   txType,
			Source:            entity.SourceHistory,
		})
	}

	lastBalance := bigOrZero(retained[len(retained)-1].CurrentBalance)
	result.CurrentAmount = decimal.NewFromBigInt(lastBalance, 0)

	if liveBalance != nil {
		if detail, ok := c.todayPoint(result.Details, lastBalance, liveBalance, totalInterest); ok {
			result.Details = append(result.Details, detail)
			result.CurrentAmount = decimal.NewFromBigInt(liveBalance, 0)
		}
	}

	result.TotalInterest = decimal.NewFromBigInt(totalInterest, 0)
	result.TotalAdded = decimal.NewFromBigInt(totalAdded, 0)
	result.TotalRemoved = decimal.NewFromBigInt(totalRemoved, 0)
	return result
}

// todayPoint attributes the growth between the last indexed balance and the
// live balance to interest, after removing the capital movement already
// recorded for the last period. A live balance at or below the last indexed
// one yields no point: without a fresh index read a shrink is
// indistinguishable from an unindexed withdrawal.
func (c *IndexCalculator) todayPoint(details []entity.DailyDetail, lastBalance, liveBalance, totalInterest *big.Int) (entity.DailyDetail, bool) {
	increase := new(big.Int).Sub(liveBalance, lastBalance)
	if increase.Sign() <= 0 {
		return entity.DailyDetail{}, false
	}

	interest := new(big.Int).Set(increase)
	if last := details[len(details)-1]; !last.TransactionAmount.IsZero() {
		interest.Sub(interest, last.TransactionAmount.BigInt())
	}
	if interest.Sign() < 0 {
		interest = big.NewInt(0)
	}
	totalInterest.Add(totalInterest, interest)

	now := c.now().UTC()
	return entity.DailyDetail{
		Date:              entity.DayKey(now),
		Timestamp:         now,
		Amount:            decimal.NewFromBigInt(liveBalance, 0),
		PeriodInterest:    decimal.NewFromBigInt(interest, 0),
		TotalInterest:     decimal.NewFromBigInt(new(big.Int).Set(totalInterest), 0),
		TransactionAmount: decimal.Zero,
		Source:            entity.SourceLiveBalance,
	}, true
}

// dedupByDay sorts snapshots ascending and keeps the last snapshot of each
// UTC calendar day. Records missing scaled balance or index are skipped.
func (c *IndexCalculator) dedupByDay(snapshots []entity.BalanceSnapshot) []entity.BalanceSnapshot {
	sorted := make([]entity.BalanceSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if s.ScaledBalance == nil || s.Index == nil {
			c.logger.Warn("skipping malformed balance snapshot",
				zap.String("reserve", s.ReserveSymbol),
				zap.Time("at", s.Timestamp))
			continue
		}
		sorted = append(sorted, s)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	retained := make([]entity.BalanceSnapshot, 0, len(sorted))
	for _, s := range sorted {
		if len(retained) > 0 && entity.DayKey(retained[len(retained)-1].Timestamp) == entity.DayKey(s.Timestamp) {
			retained[len(retained)-1] = s
			continue
		}
		retained = append(retained, s)
	}
	return retained
}
