// Package tracker orchestrates one per-address report: cache consult,
// concurrent source fetches, reconciliation, accrual and statement building.
package tracker

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Baptiste-Yucca/gainorloss/internal/accrual"
	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
	"github.com/Baptiste-Yucca/gainorloss/internal/reconcile"
	"github.com/Baptiste-Yucca/gainorloss/internal/statement"
)

// BalanceHistorySource supplies compounding-index balance snapshots.
type BalanceHistorySource interface {
	BalanceSnapshots(ctx context.Context, address common.Address, reserveSymbol string, kind entity.BalanceKind) ([]entity.BalanceSnapshot, error)
}

// RateHistorySource supplies daily average rates keyed by UTC date.
type RateHistorySource interface {
	RateSnapshots(ctx context.Context, reserveSymbol string, fromDate time.Time) (map[string]entity.RateSnapshot, error)
}

// LiveBalanceSource supplies the current balance for the synthetic closing point.
type LiveBalanceSource interface {
	CurrentBalance(ctx context.Context, address, tokenContract common.Address) (*big.Int, error)
}

// TransactionCache is the persistent per-address transaction store.
type TransactionCache interface {
	Has(address common.Address) (bool, error)
	Load(address common.Address) ([]entity.Transaction, error)
	Store(address common.Address, txs []entity.Transaction) (int, error)
}

// PositionReport is one side (borrow or supply) of a token report.
type PositionReport struct {
	DailyDetails  []entity.DailyDetail `json:"dailyDetails"`
	TotalInterest decimal.Decimal      `json:"totalInterest"`
	TotalAdded    decimal.Decimal      `json:"totalAdded"`
	TotalRemoved  decimal.Decimal      `json:"totalRemoved"`
	CurrentAmount decimal.Decimal      `json:"currentAmount"`
}

// TokenSummary aggregates a token's interest totals.
type TokenSummary struct {
	TotalBorrowInterest decimal.Decimal `json:"totalBorrowInterest"`
	TotalSupplyInterest decimal.Decimal `json:"totalSupplyInterest"`
	NetInterest         decimal.Decimal `json:"netInterest"`
}

// TokenReport is the full accounting for one token and protocol version.
type TokenReport struct {
	Token          string                  `json:"token"`
	Version        entity.Version          `json:"version"`
	Borrow         PositionReport          `json:"borrow"`
	Supply         PositionReport          `json:"supply"`
	DailyStatement []entity.DailyStatement `json:"dailyStatement"`
	Summary        TokenSummary            `json:"summary"`
}

// Report is the caller-facing result for one address: best-effort, with the
// tokens whose sources degraded listed rather than failing the whole run.
type Report struct {
	Address      string                 `json:"address"`
	Tokens       map[string]TokenReport `json:"perToken"`
	Transactions []entity.Transaction   `json:"transactions"`
	Summary      TokenSummary           `json:"summary"`
	Degraded     []string               `json:"degraded,omitempty"`
	GeneratedAt  time.Time              `json:"generatedAt"`
}

// Tracker computes interest reports for lending positions. It owns no mutable
// state across invocations; every dependency is injected.
type Tracker struct {
	logger     *zap.Logger
	reserves   []entity.Reserve
	balances   BalanceHistorySource
	rates      RateHistorySource
	live       LiveBalanceSource
	cache      TransactionCache
	reconciler *reconcile.Reconciler
	now        func() time.Time
}

// New wires a tracker from its collaborators.
func New(logger *zap.Logger, reserves []entity.Reserve, balances BalanceHistorySource, rates RateHistorySource, live LiveBalanceSource, cache TransactionCache, reconciler *reconcile.Reconciler) *Tracker {
	return &Tracker{
		logger:     logger,
		reserves:   reserves,
		balances:   balances,
		rates:      rates,
		live:       live,
		cache:      cache,
		reconciler: reconciler,
		now:        time.Now,
	}
}

// WithNow overrides the clock, for deterministic tests.
func (t *Tracker) WithNow(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// tokenFetch holds everything read for one reserve before computation starts.
// Each fetch goroutine writes only its own fields; nothing is shared until
// the errgroup joins.
type tokenFetch struct {
	reserve       entity.Reserve
	debtSnapshots []entity.BalanceSnapshot
	supplySnaps   []entity.BalanceSnapshot
	liveSupply    *big.Int
	liveDebt      *big.Int
	historyFailed bool
}

// Track builds the full report for one address. Individual source failures
// degrade the affected token and are reported in Report.Degraded; only a
// total outage across every source and token returns an error.
func (t *Tracker) Track(ctx context.Context, address common.Address) (*Report, error) {
	cached, err := t.loadCached(address)
	if err != nil {
		// cache trouble is a degraded start, not a fatal one
		t.logger.Warn("transaction cache unavailable, proceeding without it", zap.Error(err))
		cached = nil
	}
	exclude := make(map[common.Hash]struct{}, len(cached))
	for _, tx := range cached {
		exclude[tx.Hash] = struct{}{}
	}

	fetches := make([]tokenFetch, len(t.reserves))
	var reconciled reconcile.Result
	var reconcileErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reconciled, reconcileErr = t.reconciler.Reconcile(gctx, address, t.reserves, exclude)
		return nil
	})
	for i := range t.reserves {
		fetches[i].reserve = t.reserves[i]
		f := &fetches[i]
		g.Go(func() error { return t.fetchHistories(gctx, address, f) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if reconcileErr != nil {
		// a total outage means "unable to answer right now", never "zero activity"
		var total *reconcile.TotalFailureError
		if errors.As(reconcileErr, &total) {
			return nil, errors.Wrap(reconcileErr, "data temporarily unavailable")
		}
		t.logger.Warn("transfer reconciliation degraded", zap.Error(reconcileErr))
	}

	newTxs := t.mergeReconciled(reconciled)
	if len(newTxs) > 0 && t.cache != nil {
		if _, err := t.cache.Store(address, newTxs); err != nil {
			t.logger.Warn("failed to persist reconciled transactions", zap.Error(err))
		}
	}
	allTxs := append(append([]entity.Transaction{}, cached...), newTxs...)

	report := &Report{
		Address:      address.Hex(),
		Tokens:       make(map[string]TokenReport, len(t.reserves)),
		Transactions: allTxs,
		Degraded:     reconciled.Degraded,
		GeneratedAt:  t.now().UTC(),
		Summary: TokenSummary{
			TotalBorrowInterest: decimal.Zero,
			TotalSupplyInterest: decimal.Zero,
			NetInterest:         decimal.Zero,
		},
	}

	for i := range fetches {
		if fetches[i].historyFailed {
			report.Degraded = appendUnique(report.Degraded, fetches[i].reserve.Symbol)
		}
		tokenReport := t.buildTokenReport(ctx, &fetches[i], tokenTxs(allTxs, fetches[i].reserve))
		report.Tokens[tokenReport.Token] = tokenReport
		report.Summary.TotalBorrowInterest = report.Summary.TotalBorrowInterest.Add(tokenReport.Summary.TotalBorrowInterest)
		report.Summary.TotalSupplyInterest = report.Summary.TotalSupplyInterest.Add(tokenReport.Summary.TotalSupplyInterest)
	}
	report.Summary.NetInterest = report.Summary.TotalSupplyInterest.Sub(report.Summary.TotalBorrowInterest)
	return report, nil
}

// fetchHistories reads the balance snapshot histories and live balances for
// one reserve. Failures are logged and leave the corresponding field empty:
// the computation falls back to the rate-based path or skips the closing
// point, per the degradation contract.
func (t *Tracker) fetchHistories(ctx context.Context, address common.Address, f *tokenFetch) error {
	var err error
	f.supplySnaps, err = t.balances.BalanceSnapshots(ctx, address, f.reserve.Symbol, entity.KindSupply)
	if err != nil {
		t.logger.Warn("supply balance history unavailable",
			zap.String("token", f.reserve.Symbol), zap.Error(err))
		f.historyFailed = true
	}
	f.debtSnapshots, err = t.balances.BalanceSnapshots(ctx, address, f.reserve.Symbol, entity.KindDebt)
	if err != nil {
		t.logger.Warn("debt balance history unavailable",
			zap.String("token", f.reserve.Symbol), zap.Error(err))
		f.historyFailed = true
	}

	if t.live != nil {
		if f.liveSupply, err = t.live.CurrentBalance(ctx, address, f.reserve.AToken); err != nil {
			t.logger.Warn("live supply balance unavailable",
				zap.String("token", f.reserve.Symbol), zap.Error(err))
			f.liveSupply = nil
		}
		if f.liveDebt, err = t.live.CurrentBalance(ctx, address, f.reserve.DebtToken); err != nil {
			t.logger.Warn("live debt balance unavailable",
				zap.String("token", f.reserve.Symbol), zap.Error(err))
			f.liveDebt = nil
		}
	}
	return nil
}

// buildTokenReport runs the calculators for one token. The index-based
// calculator is used whenever snapshot history exists; transactions plus
// daily rates are the fallback when only transfer records are available.
func (t *Tracker) buildTokenReport(ctx context.Context, f *tokenFetch, txs reconcile.TokenTransactions) TokenReport {
	indexCalc := accrual.NewIndexCalculator(t.logger).WithNow(t.now)
	rateCalc := accrual.NewRateCalculator(t.logger).WithNow(t.now)

	supply := t.position(ctx, f, indexCalc, rateCalc, entity.KindSupply, f.supplySnaps, f.liveSupply,
		append(append([]entity.Transaction{}, txs.Supplies...), txs.Withdraws...))
	borrow := t.position(ctx, f, indexCalc, rateCalc, entity.KindDebt, f.debtSnapshots, f.liveDebt,
		append(append([]entity.Transaction{}, txs.Borrows...), txs.Repays...))

	summary := TokenSummary{
		TotalBorrowInterest: borrow.TotalInterest,
		TotalSupplyInterest: supply.TotalInterest,
		NetInterest:         supply.TotalInterest.Sub(borrow.TotalInterest),
	}

	return TokenReport{
		Token:          f.reserve.Symbol,
		Version:        f.reserve.Version,
		Borrow:         borrow,
		Supply:         supply,
		DailyStatement: statement.Build(borrow.DailyDetails, supply.DailyDetails),
		Summary:        summary,
	}
}

func (t *Tracker) position(ctx context.Context, f *tokenFetch, indexCalc *accrual.IndexCalculator, rateCalc *accrual.RateCalculator, kind entity.BalanceKind, snapshots []entity.BalanceSnapshot, live *big.Int, txs []entity.Transaction) PositionReport {
	var result entity.AccrualResult
	switch {
	case len(snapshots) > 0:
		result = indexCalc.Compute(kind, snapshots, live)
	case len(txs) > 0:
		rates, err := t.fetchRates(ctx, f.reserve.Symbol, txs)
		if err != nil {
			t.logger.Warn("rate history unavailable, interest reported as zero",
				zap.String("token", f.reserve.Symbol), zap.Error(err))
			rates = map[string]entity.RateSnapshot{}
		}
		result = rateCalc.Compute(kind, txs, rates)
	default:
		result = entity.AccrualResult{
			Kind:          kind,
			TotalInterest: decimal.Zero,
			TotalAdded:    decimal.Zero,
			TotalRemoved:  decimal.Zero,
			CurrentAmount: decimal.Zero,
		}
	}

	return PositionReport{
		DailyDetails:  result.Details,
		TotalInterest: result.TotalInterest,
		TotalAdded:    result.TotalAdded,
		TotalRemoved:  result.TotalRemoved,
		CurrentAmount: result.CurrentAmount,
	}
}

// fetchRates pulls daily rate averages from the midnight before the earliest
// transaction. Rate history pagination is sequential, so this runs after the
// reconciliation join rather than inside the fetch fan-out.
func (t *Tracker) fetchRates(ctx context.Context, symbol string, txs []entity.Transaction) (map[string]entity.RateSnapshot, error) {
	earliest := txs[0].Timestamp
	for _, tx := range txs[1:] {
		if tx.Timestamp.Before(earliest) {
			earliest = tx.Timestamp
		}
	}
	return t.rates.RateSnapshots(ctx, symbol, entity.MidnightUTC(earliest))
}

func (t *Tracker) loadCached(address common.Address) ([]entity.Transaction, error) {
	if t.cache == nil {
		return nil, nil
	}
	has, err := t.cache.Has(address)
	if err != nil || !has {
		return nil, err
	}
	return t.cache.Load(address)
}

// mergeReconciled flattens the reconciler output into one slice for
// persistence and the caller-facing transaction list.
func (t *Tracker) mergeReconciled(result reconcile.Result) []entity.Transaction {
	var out []entity.Transaction
	for _, token := range result.Tokens {
		out = append(out, token.All()...)
	}
	return out
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// tokenTxs buckets an already-merged transaction list back into the
// reconciler output shape for one reserve, so cached and fresh records feed
// the calculators identically.
func tokenTxs(txs []entity.Transaction, reserve entity.Reserve) reconcile.TokenTransactions {
	var out reconcile.TokenTransactions
	for _, tx := range txs {
		if tx.Token != reserve.Symbol || tx.Version != reserve.Version {
			continue
		}
		switch tx.Type {
		case entity.TxDeposit:
			out.Supplies = append(out.Supplies, tx)
		case entity.TxWithdraw:
			out.Withdraws = append(out.Withdraws, tx)
		case entity.TxBorrow:
			out.Borrows = append(out.Borrows, tx)
		case entity.TxRepay:
			out.Repays = append(out.Repays, tx)
		default:
			if tx.Direction == entity.DirectionIn {
				out.Supplies = append(out.Supplies, tx)
			} else {
				out.Withdraws = append(out.Withdraws, tx)
			}
		}
	}
	out.Total = len(out.Supplies) + len(out.Withdraws) + len(out.Borrows) + len(out.Repays)
	return out
}
