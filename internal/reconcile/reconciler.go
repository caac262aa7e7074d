package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
)

func decimalFromBig(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, 0)
}

// ErrSourceUnavailable wraps any per-source fetch failure so callers can tell
// "source errored" apart from "source genuinely has no data".
var ErrSourceUnavailable = errors.New("transfer source unavailable")

// TotalFailureError is raised only when every configured source failed for
// every token. It means "unable to answer right now", never "zero activity".
type TotalFailureError struct {
	Tokens []string
}

func (e *TotalFailureError) Error() string {
	return fmt.Sprintf("all transfer sources failed for all tokens: %s", strings.Join(e.Tokens, ", "))
}

// TransferSource supplies raw token transfers for one address and contract.
// Each source is independently callable and independently fallible.
type TransferSource interface {
	Name() string
	Transfers(ctx context.Context, address, tokenContract common.Address) ([]entity.RawTransfer, error)
}

// TokenTransactions is the reconciled output for one token: typed,
// deduplicated and chronologically ordered.
type TokenTransactions struct {
	Supplies  []entity.Transaction `json:"supplies"`
	Withdraws []entity.Transaction `json:"withdraws"`
	Borrows   []entity.Transaction `json:"borrows"`
	Repays    []entity.Transaction `json:"repays"`
	Total     int                  `json:"total"`
}

// All returns every reconciled transaction of the token in one slice.
func (t TokenTransactions) All() []entity.Transaction {
	out := make([]entity.Transaction, 0, t.Total)
	out = append(out, t.Supplies...)
	out = append(out, t.Withdraws...)
	out = append(out, t.Borrows...)
	out = append(out, t.Repays...)
	return out
}

// Result carries reconciled transactions per token symbol plus the tokens for
// which every source failed (best-effort degradation the caller surfaces).
type Result struct {
	Tokens   map[string]TokenTransactions
	Degraded []string
}

// Reconciler merges transfer records from prioritized sources into one
// deduplicated typed ledger per token. Source selection is per token: a
// primary failure for one token falls back to the next source for that token
// only.
type Reconciler struct {
	logger  *zap.Logger
	sources []TransferSource
}

// New creates a reconciler querying the given sources in priority order.
func New(logger *zap.Logger, sources ...TransferSource) *Reconciler {
	return &Reconciler{logger: logger, sources: sources}
}

// Reconcile fetches and reconciles transfers for every configured reserve.
// Hashes in exclude are already accounted for by an authoritative source and
// are discarded before classification. An error is returned only on total
// outage (every source failed for every token).
func (r *Reconciler) Reconcile(ctx context.Context, address common.Address, reserves []entity.Reserve, exclude map[common.Hash]struct{}) (Result, error) {
	type outcome struct {
		txs TokenTransactions
		err error
	}

	// one fetch per token runs concurrently; source fallback within a token
	// is inherently sequential. Each goroutine writes only its own slot.
	outcomes := make([]outcome, len(reserves))
	g, gctx := errgroup.WithContext(ctx)
	for i := range reserves {
		i := i
		g.Go(func() error {
			raw, err := r.fetchWithFallback(gctx, address, reserves[i])
			if err != nil {
				outcomes[i].err = err
				return nil
			}
			outcomes[i].txs = r.reconcileToken(address, reserves[i], raw, exclude)
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Tokens: make(map[string]TokenTransactions, len(reserves))}
	for i, reserve := range reserves {
		if outcomes[i].err != nil {
			r.logger.Warn("every transfer source failed for token",
				zap.String("token", reserve.Symbol),
				zap.Error(outcomes[i].err))
			result.Degraded = append(result.Degraded, reserve.Symbol)
			result.Tokens[reserve.Symbol] = TokenTransactions{}
			continue
		}
		result.Tokens[reserve.Symbol] = outcomes[i].txs
	}

	if len(reserves) > 0 && len(result.Degraded) == len(reserves) {
		return result, &TotalFailureError{Tokens: result.Degraded}
	}
	return result, nil
}

// fetchWithFallback tries each source in priority order and returns the first
// successful payload. Failures are logged and wrapped as ErrSourceUnavailable.
func (r *Reconciler) fetchWithFallback(ctx context.Context, address common.Address, reserve entity.Reserve) ([]entity.RawTransfer, error) {
	var lastErr error
	for _, src := range r.sources {
		raw, err := src.Transfers(ctx, address, reserve.Underlying)
		if err != nil {
			r.logger.Warn("transfer source failed, trying next",
				zap.String("source", src.Name()),
				zap.String("token", reserve.Symbol),
				zap.Error(err))
			lastErr = errors.Wrapf(ErrSourceUnavailable, "%s: %v", src.Name(), err)
			continue
		}
		return raw, nil
	}
	if lastErr == nil {
		lastErr = errors.Wrap(ErrSourceUnavailable, "no transfer sources configured")
	}
	return nil, lastErr
}

// reconcileToken filters, classifies and deduplicates one token's raw
// transfers. Groups sharing a hash collapse to a single representative leg
// only when classified as a disperse; all other same-hash legs are distinct
// economic movements and are all kept.
func (r *Reconciler) reconcileToken(address common.Address, reserve entity.Reserve, raw []entity.RawTransfer, exclude map[common.Hash]struct{}) TokenTransactions {
	byHash := make(map[common.Hash][]entity.Transaction)
	order := make([]common.Hash, 0, len(raw))

	for _, transfer := range raw {
		if _, known := exclude[transfer.Hash]; known {
			continue
		}
		if transfer.Value == nil || (transfer.Hash == common.Hash{}) {
			r.logger.Warn("skipping malformed transfer record",
				zap.String("token", reserve.Symbol),
				zap.Time("at", transfer.Timestamp))
			continue
		}

		direction := entity.DirectionOut
		if transfer.To == address {
			direction = entity.DirectionIn
		}

		tx := entity.Transaction{
			Hash:      transfer.Hash,
			Amount:    decimalFromBig(transfer.Value),
			Timestamp: transfer.Timestamp,
			Type:      classify(transfer.FunctionLabel),
			Token:     reserve.Symbol,
			Version:   reserve.Version,
			Direction: direction,
		}
		if _, seen := byHash[tx.Hash]; !seen {
			order = append(order, tx.Hash)
		}
		byHash[tx.Hash] = append(byHash[tx.Hash], tx)
	}

	var out TokenTransactions
	for _, hash := range order {
		legs := byHash[hash]
		if groupType(legs) == entity.TxDisperse {
			// one on-chain call fanning out to many legs: keep one representative
			sort.SliceStable(legs, func(i, j int) bool { return legs[i].Timestamp.Before(legs[j].Timestamp) })
			legs = legs[:1]
		}
		for _, tx := range legs {
			out.bucket(tx)
		}
	}

	for _, list := range [][]entity.Transaction{out.Supplies, out.Withdraws, out.Borrows, out.Repays} {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	}
	out.Total = len(out.Supplies) + len(out.Withdraws) + len(out.Borrows) + len(out.Repays)
	return out
}

// groupType resolves the type of a same-hash group: disperse wins if any leg
// resolved to it, otherwise the group has no single type and every leg keeps
// its own.
func groupType(legs []entity.Transaction) entity.TxType {
	for _, tx := range legs {
		if tx.Type == entity.TxDisperse {
			return entity.TxDisperse
		}
	}
	return entity.TxOthers
}

// bucket routes a transaction into the output arrays. Unclassified records
// keep their TxOthers (or TxDisperse) type but are bucketed conservatively by
// direction so totals never drop an economic movement.
func (t *TokenTransactions) bucket(tx entity.Transaction) {
	switch tx.Type {
	case entity.TxDeposit:
		t.Supplies = append(t.Supplies, tx)
	case entity.TxWithdraw:
		t.Withdraws = append(t.Withdraws, tx)
	case entity.TxBorrow:
		t.Borrows = append(t.Borrows, tx)
	case entity.TxRepay:
		t.Repays = append(t.Repays, tx)
	default:
		if tx.Direction == entity.DirectionIn {
			t.Supplies = append(t.Supplies, tx)
		} else {
			t.Withdraws = append(t.Withdraws, tx)
		}
	}
}
