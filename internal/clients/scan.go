// Package clients holds the thin upstream API clients the engine reads from:
// Etherscan-compatible scan APIs for token transfers and live balances, and
// the protocol subgraph for balance and rate history. Clients are paced per
// source with a token-bucket limiter and retry transient failures with
// backoff; persistent failures bubble up to the per-token source fallback.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
	"github.com/Baptiste-Yucca/gainorloss/pkg/retrier"
)

const (
	// scanPageSize is the records-per-page ceiling of Etherscan-compatible APIs.
	scanPageSize = 1000
	// sourceRequestInterval keeps each source under its requests-per-second cap.
	sourceRequestInterval = 200 * time.Millisecond
)

// ScanClient talks to one Etherscan-compatible REST API. Two instances with
// different base URLs act as the primary and secondary transfer sources; the
// same client also serves the live token balance query.
type ScanClient struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   *retrier.Retrier
	logger  *zap.Logger
}

// NewScanClient creates a scan client named for logging and source selection.
func NewScanClient(name, baseURL, apiKey string, logger *zap.Logger) *ScanClient {
	return &ScanClient{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(sourceRequestInterval), 1),
		retry:   retrier.New(retrier.WithInitialInterval(sourceRequestInterval), retrier.WithMaxRetries(2)),
		logger:  logger,
	}
}

// Name identifies the source in logs and degradation reports.
func (c *ScanClient) Name() string { return c.name }

type scanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type scanTransfer struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	TimeStamp       string `json:"timeStamp"`
	ContractAddress string `json:"contractAddress"`
	FunctionName    string `json:"functionName"`
}

// Transfers pages through account/tokentx for one address and token contract.
// Pages are fetched sequentially: each cursor depends on the previous page.
// Records with unparseable fields are skipped and logged, never fatal.
func (c *ScanClient) Transfers(ctx context.Context, address, tokenContract common.Address) ([]entity.RawTransfer, error) {
	var out []entity.RawTransfer
	for page := 1; ; page++ {
		params := url.Values{
			"module":          {"account"},
			"action":          {"tokentx"},
			"address":         {address.Hex()},
			"contractaddress": {tokenContract.Hex()},
			"page":            {strconv.Itoa(page)},
			"offset":          {strconv.Itoa(scanPageSize)},
			"sort":            {"asc"},
		}

		var rows []scanTransfer
		if err := c.get(ctx, params, &rows); err != nil {
			return nil, errors.Wrapf(err, "%s tokentx page %d", c.name, page)
		}

		for _, row := range rows {
			transfer, err := c.parseTransfer(row)
			if err != nil {
				c.logger.Warn("skipping malformed transfer record",
					zap.String("source", c.name),
					zap.String("hash", row.Hash),
					zap.Error(err))
				continue
			}
			out = append(out, transfer)
		}

		if len(rows) < scanPageSize {
			return out, nil
		}
	}
}

// CurrentBalance fetches the live token balance used for the synthetic
// closing point of the index calculator.
func (c *ScanClient) CurrentBalance(ctx context.Context, address, tokenContract common.Address) (*big.Int, error) {
	params := url.Values{
		"module":          {"account"},
		"action":          {"tokenbalance"},
		"address":         {address.Hex()},
		"contractaddress": {tokenContract.Hex()},
		"tag":             {"latest"},
	}

	var raw string
	if err := c.get(ctx, params, &raw); err != nil {
		return nil, errors.Wrapf(err, "%s tokenbalance", c.name)
	}
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.Errorf("%s tokenbalance: unparseable amount %q", c.name, raw)
	}
	return balance, nil
}

func (c *ScanClient) parseTransfer(row scanTransfer) (entity.RawTransfer, error) {
	if !common.IsHexAddress(row.From) || !common.IsHexAddress(row.To) {
		return entity.RawTransfer{}, errors.New("invalid from/to address")
	}
	value, ok := new(big.Int).SetString(row.Value, 10)
	if !ok {
		return entity.RawTransfer{}, errors.Errorf("unparseable value %q", row.Value)
	}
	unix, err := strconv.ParseInt(row.TimeStamp, 10, 64)
	if err != nil {
		return entity.RawTransfer{}, errors.Wrap(err, "unparseable timestamp")
	}
	hash := common.HexToHash(row.Hash)
	if hash == (common.Hash{}) {
		return entity.RawTransfer{}, errors.New("missing transaction hash")
	}

	return entity.RawTransfer{
		Hash:          hash,
		From:          common.HexToAddress(row.From),
		To:            common.HexToAddress(row.To),
		Value:         value,
		Timestamp:     time.Unix(unix, 0).UTC(),
		TokenContract: common.HexToAddress(row.ContractAddress),
		FunctionLabel: row.FunctionName,
	}, nil
}

// get performs a paced GET with backoff on transient failures and decodes the
// result payload. A "no records" status is not an error: it decodes to an
// empty result. API-level rejections are not retried; escalating to the next
// source is the reconciler's job.
func (c *ScanClient) get(ctx context.Context, params url.Values, result any) error {
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	endpoint := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	return c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retrier.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retrier.Permanent(errors.Wrap(err, "build request"))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return errors.Wrap(err, "request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("unexpected status %d", resp.StatusCode)
		}

		var envelope scanEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return errors.Wrap(err, "decode response")
		}
		if envelope.Status != "1" {
			if envelope.Message == "No transactions found" {
				return nil
			}
			return retrier.Permanent(errors.Errorf("api error: %s", envelope.Message))
		}
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return retrier.Permanent(errors.Wrap(err, "decode result"))
		}
		return nil
	})
}
