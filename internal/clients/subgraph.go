package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
	"github.com/Baptiste-Yucca/gainorloss/pkg/retrier"
)

const subgraphPageSize = 1000

// rayExponent converts ray-scaled subgraph rates (1 ray = 10^27) into
// annualized decimal fractions.
const rayExponent = -27

// SubgraphClient reads balance snapshot history and daily reserve rates from
// a protocol subgraph over GraphQL.
type SubgraphClient struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	retry   *retrier.Retrier
	logger  *zap.Logger
}

func NewSubgraphClient(url string, logger *zap.Logger) *SubgraphClient {
	return &SubgraphClient{
		url:     url,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(sourceRequestInterval), 1),
		retry:   retrier.New(retrier.WithInitialInterval(sourceRequestInterval), retrier.WithMaxRetries(2)),
		logger:  logger,
	}
}

const balanceHistoryQuery = `query ($user: String!, $symbol: String!, $cursor: Int!, $first: Int!) {
  balanceHistoryItems(
    first: $first
    orderBy: timestamp
    orderDirection: asc
    where: { userReserve_: { user: $user }, reserve_: { symbol: $symbol }, timestamp_gt: $cursor }
  ) {
    timestamp
    scaledATokenBalance
    currentATokenBalance
    scaledVariableDebt
    currentVariableDebt
    index
    reserve { symbol }
  }
}`

const rateHistoryQuery = `query ($symbol: String!, $cursor: Int!, $first: Int!) {
  reserveParamsHistoryItems(
    first: $first
    orderBy: timestamp
    orderDirection: asc
    where: { reserve_: { symbol: $symbol }, timestamp_gt: $cursor }
  ) {
    timestamp
    liquidityRate
    variableBorrowRate
  }
}`

type balanceHistoryItem struct {
	Timestamp            int64  `json:"timestamp"`
	ScaledATokenBalance  string `json:"scaledATokenBalance"`
	CurrentATokenBalance string `json:"currentATokenBalance"`
	ScaledVariableDebt   string `json:"scaledVariableDebt"`
	CurrentVariableDebt  string `json:"currentVariableDebt"`
	Index                string `json:"index"`
	Reserve              struct {
		Symbol string `json:"symbol"`
	} `json:"reserve"`
}

type rateHistoryItem struct {
	Timestamp          int64  `json:"timestamp"`
	LiquidityRate      string `json:"liquidityRate"`
	VariableBorrowRate string `json:"variableBorrowRate"`
}

// BalanceSnapshots pages through the user's balance history for one reserve
// and kind. Pagination is sequential by timestamp cursor. Out-of-order or
// malformed items are tolerated: the calculators re-sort, and broken records
// are skipped with a log line.
func (c *SubgraphClient) BalanceSnapshots(ctx context.Context, address common.Address, reserveSymbol string, kind entity.BalanceKind) ([]entity.BalanceSnapshot, error) {
	var out []entity.BalanceSnapshot
	cursor := int64(0)
	for {
		variables := map[string]any{
			"user":   strings.ToLower(address.Hex()),
			"symbol": reserveSymbol,
			"cursor": cursor,
			"first":  subgraphPageSize,
		}
		var payload struct {
			BalanceHistoryItems []balanceHistoryItem `json:"balanceHistoryItems"`
		}
		if err := c.query(ctx, balanceHistoryQuery, variables, &payload); err != nil {
			return nil, errors.Wrapf(err, "balance history %s", reserveSymbol)
		}

		for _, item := range payload.BalanceHistoryItems {
			snapshot, err := parseSnapshot(item, kind)
			if err != nil {
				c.logger.Warn("skipping malformed balance snapshot",
					zap.String("reserve", reserveSymbol),
					zap.Int64("timestamp", item.Timestamp),
					zap.Error(err))
				continue
			}
			out = append(out, snapshot)
			if item.Timestamp > cursor {
				cursor = item.Timestamp
			}
		}

		if len(payload.BalanceHistoryItems) < subgraphPageSize {
			return out, nil
		}
	}
}

// RateSnapshots returns the reserve's daily average rates keyed by UTC
// YYYYMMDD date, from fromDate through the latest indexed item.
func (c *SubgraphClient) RateSnapshots(ctx context.Context, reserveSymbol string, fromDate time.Time) (map[string]entity.RateSnapshot, error) {
	type dayAccum struct {
		liquidity decimal.Decimal
		borrow    decimal.Decimal
		count     int64
		first     time.Time
	}
	days := make(map[string]*dayAccum)

	cursor := fromDate.UTC().Unix()
	for {
		variables := map[string]any{
			"symbol": reserveSymbol,
			"cursor": cursor,
			"first":  subgraphPageSize,
		}
		var payload struct {
			ReserveParamsHistoryItems []rateHistoryItem `json:"reserveParamsHistoryItems"`
		}
		if err := c.query(ctx, rateHistoryQuery, variables, &payload); err != nil {
			return nil, errors.Wrapf(err, "rate history %s", reserveSymbol)
		}

		for _, item := range payload.ReserveParamsHistoryItems {
			liquidity, lerr := rayRate(item.LiquidityRate)
			borrow, berr := rayRate(item.VariableBorrowRate)
			if lerr != nil || berr != nil {
				c.logger.Warn("skipping malformed rate item",
					zap.String("reserve", reserveSymbol),
					zap.Int64("timestamp", item.Timestamp))
				continue
			}
			at := time.Unix(item.Timestamp, 0).UTC()
			key := entity.DayKey(at)
			acc, ok := days[key]
			if !ok {
				acc = &dayAccum{first: at}
				days[key] = acc
			}
			acc.liquidity = acc.liquidity.Add(liquidity)
			acc.borrow = acc.borrow.Add(borrow)
			acc.count++
			if item.Timestamp > cursor {
				cursor = item.Timestamp
			}
		}

		if len(payload.ReserveParamsHistoryItems) < subgraphPageSize {
			break
		}
	}

	out := make(map[string]entity.RateSnapshot, len(days))
	for key, acc := range days {
		n := decimal.NewFromInt(acc.count)
		out[key] = entity.RateSnapshot{
			Date:                  key,
			Timestamp:             acc.first,
			LiquidityRateAvg:      acc.liquidity.Div(n),
			VariableBorrowRateAvg: acc.borrow.Div(n),
		}
	}
	return out, nil
}

func parseSnapshot(item balanceHistoryItem, kind entity.BalanceKind) (entity.BalanceSnapshot, error) {
	scaledRaw, currentRaw := item.ScaledATokenBalance, item.CurrentATokenBalance
	if kind == entity.KindDebt {
		scaledRaw, currentRaw = item.ScaledVariableDebt, item.CurrentVariableDebt
	}

	scaled, ok := new(big.Int).SetString(scaledRaw, 10)
	if !ok {
		return entity.BalanceSnapshot{}, errors.Errorf("unparseable scaled balance %q", scaledRaw)
	}
	current, ok := new(big.Int).SetString(currentRaw, 10)
	if !ok {
		return entity.BalanceSnapshot{}, errors.Errorf("unparseable current balance %q", currentRaw)
	}
	index, ok := new(big.Int).SetString(item.Index, 10)
	if !ok {
		return entity.BalanceSnapshot{}, errors.Errorf("unparseable index %q", item.Index)
	}

	return entity.BalanceSnapshot{
		Timestamp:      time.Unix(item.Timestamp, 0).UTC(),
		CurrentBalance: current,
		ScaledBalance:  scaled,
		Index:          index,
		ReserveSymbol:  item.Reserve.Symbol,
	}, nil
}

func rayRate(raw string) (decimal.Decimal, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero, errors.Errorf("unparseable ray rate %q", raw)
	}
	return decimal.NewFromBigInt(v, rayExponent), nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// query performs a paced GraphQL POST with backoff on transient failures and
// decodes data into out. GraphQL-level errors are not retried.
func (c *SubgraphClient) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return errors.Wrap(err, "marshal query")
	}

	return c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retrier.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return retrier.Permanent(errors.Wrap(err, "build request"))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return errors.Wrap(err, "request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("unexpected status %d", resp.StatusCode)
		}

		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []graphqlError  `json:"errors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return errors.Wrap(err, "decode response")
		}
		if len(envelope.Errors) > 0 {
			msgs := make([]string, 0, len(envelope.Errors))
			for _, e := range envelope.Errors {
				msgs = append(msgs, e.Message)
			}
			return retrier.Permanent(errors.Errorf("graphql: %s", strings.Join(msgs, "; ")))
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return retrier.Permanent(errors.Wrap(err, "decode data"))
		}
		return nil
	})
}
