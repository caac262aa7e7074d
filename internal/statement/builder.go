// Package statement folds per-kind accrual series into date-keyed statements
// ready for reporting.
package statement

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
)

// Build merges one debt and one supply DailyDetail series for the same token
// into one DailyStatement list over the union of their dates, sorted
// ascending. It is a pure function of its inputs: rerunning with the same
// series yields the same statements.
func Build(debt, supply []entity.DailyDetail) []entity.DailyStatement {
	byDate := make(map[string]*entity.DailyStatement)

	merge := func(details []entity.DailyDetail, isDebt bool) {
		for _, d := range details {
			row, ok := byDate[d.Date]
			if !ok {
				row = &entity.DailyStatement{
					Date:           d.Date,
					Timestamp:      d.Timestamp,
					Debt:           decimal.Zero,
					Supply:         decimal.Zero,
					BorrowInterest: decimal.Zero,
					SupplyInterest: decimal.Zero,
				}
				byDate[d.Date] = row
			}
			if d.Timestamp.Before(row.Timestamp) {
				row.Timestamp = d.Timestamp
			}
			if isDebt {
				row.Debt = d.Amount
				row.BorrowInterest = row.BorrowInterest.Add(d.PeriodInterest)
			} else {
				row.Supply = d.Amount
				row.SupplyInterest = row.SupplyInterest.Add(d.PeriodInterest)
			}
			if !d.TransactionAmount.IsZero() {
				row.Transactions = append(row.Transactions, entity.StatementTx{
					Type:   d.TransactionType,
					Amount: d.TransactionAmount,
				})
			}
		}
	}

	merge(debt, true)
	merge(supply, false)

	statements := make([]entity.DailyStatement, 0, len(byDate))
	for _, row := range byDate {
		row.TotalInterest = row.BorrowInterest.Add(row.SupplyInterest)
		statements = append(statements, *row)
	}
	sort.Slice(statements, func(i, j int) bool {
		if statements[i].Timestamp.Equal(statements[j].Timestamp) {
			return statements[i].Date < statements[j].Date
		}
		return statements[i].Timestamp.Before(statements[j].Timestamp)
	})
	return statements
}
