package reconcile

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
)

var (
	user      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	other     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	usdcToken = common.HexToAddress("0x3333333333333333333333333333333333333333")
	daiToken  = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

// fakeSource returns canned transfers per token contract, or an error for
// contracts listed in fail.
type fakeSource struct {
	name  string
	data  map[common.Address][]entity.RawTransfer
	fail  map[common.Address]bool
	calls atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Transfers(_ context.Context, _, tokenContract common.Address) ([]entity.RawTransfer, error) {
	f.calls.Add(1)
	if f.fail[tokenContract] {
		return nil, errors.New("boom")
	}
	return f.data[tokenContract], nil
}

func rawTransfer(hash string, to common.Address, value int64, label string) entity.RawTransfer {
	return entity.RawTransfer{
		Hash:          common.HexToHash(hash),
		From:          other,
		To:            to,
		Value:         big.NewInt(value),
		Timestamp:     time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		TokenContract: usdcToken,
		FunctionLabel: label,
	}
}

func reserves() []entity.Reserve {
	return []entity.Reserve{
		{Symbol: "USDC", Version: entity.VersionV2, Underlying: usdcToken},
		{Symbol: "DAI", Version: entity.VersionV2, Underlying: daiToken},
	}
}

func TestReconciler_ClassifiesAndBuckets(t *testing.T) {
	primary := &fakeSource{name: "primary", data: map[common.Address][]entity.RawTransfer{
		usdcToken: {
			rawTransfer("0x01", user, 100, "deposit(address asset, uint256 amount)"),
			rawTransfer("0x02", other, 40, "withdraw(address asset, uint256 amount)"),
			rawTransfer("0x03", user, 500, "borrow(address asset, uint256 amount)"),
			rawTransfer("0x04", other, 200, "repayWithPermit(address asset)"),
			rawTransfer("0x05", user, 7, "somethingUnknown(bytes data)"),
		},
	}}

	result, err := New(zap.NewNop(), primary).Reconcile(context.Background(), user, reserves()[:1], nil)
	require.NoError(t, err)

	usdc := result.Tokens["USDC"]
	require.Equal(t, 5, usdc.Total)
	// the unknown in-direction record lands with the supplies, keeping TxOthers visible
	require.Len(t, usdc.Supplies, 2)
	assert.Equal(t, entity.TxOthers, usdc.Supplies[1].Type)
	assert.Len(t, usdc.Withdraws, 1)
	assert.Len(t, usdc.Borrows, 1)
	assert.Len(t, usdc.Repays, 1)
	assert.Equal(t, entity.DirectionIn, usdc.Borrows[0].Direction)
}

func TestReconciler_PerTokenFallback(t *testing.T) {
	primary := &fakeSource{
		name: "primary",
		data: map[common.Address][]entity.RawTransfer{
			daiToken: {rawTransfer("0x0b", user, 10, "deposit(address)")},
		},
		fail: map[common.Address]bool{usdcToken: true},
	}
	secondary := &fakeSource{
		name: "secondary",
		data: map[common.Address][]entity.RawTransfer{
			usdcToken: {rawTransfer("0x0a", user, 20, "deposit(address)")},
		},
	}

	result, err := New(zap.NewNop(), primary, secondary).Reconcile(context.Background(), user, reserves(), nil)
	require.NoError(t, err, "a per-token failure must not propagate")

	assert.Equal(t, 1, result.Tokens["USDC"].Total, "USDC served by the secondary")
	assert.Equal(t, 1, result.Tokens["DAI"].Total, "DAI served by the primary")
	assert.Empty(t, result.Degraded)
	assert.Equal(t, int32(1), secondary.calls.Load(), "secondary consulted only for the failed token")
}

func TestReconciler_TotalFailure(t *testing.T) {
	primary := &fakeSource{name: "primary", fail: map[common.Address]bool{usdcToken: true, daiToken: true}}
	secondary := &fakeSource{name: "secondary", fail: map[common.Address]bool{usdcToken: true, daiToken: true}}

	result, err := New(zap.NewNop(), primary, secondary).Reconcile(context.Background(), user, reserves(), nil)

	var total *TotalFailureError
	require.ErrorAs(t, err, &total)
	assert.ElementsMatch(t, []string{"USDC", "DAI"}, total.Tokens)
	assert.ElementsMatch(t, []string{"USDC", "DAI"}, result.Degraded)
}

func TestReconciler_DedupIdempotence(t *testing.T) {
	primary := &fakeSource{name: "primary", data: map[common.Address][]entity.RawTransfer{
		usdcToken: {
			rawTransfer("0x01", user, 100, "deposit(address)"),
			rawTransfer("0x02", other, 50, "withdraw(address)"),
		},
	}}
	r := New(zap.NewNop(), primary)

	first, err := r.Reconcile(context.Background(), user, reserves()[:1], nil)
	require.NoError(t, err)
	require.Equal(t, 2, first.Tokens["USDC"].Total)

	exclude := make(map[common.Hash]struct{})
	for _, tx := range first.Tokens["USDC"].All() {
		exclude[tx.Hash] = struct{}{}
	}

	second, err := r.Reconcile(context.Background(), user, reserves()[:1], exclude)
	require.NoError(t, err)
	assert.Zero(t, second.Tokens["USDC"].Total, "rerun with the first run's hashes yields nothing new")
}

func TestReconciler_DisperseCollapsesToOneLeg(t *testing.T) {
	primary := &fakeSource{name: "primary", data: map[common.Address][]entity.RawTransfer{
		usdcToken: {
			rawTransfer("0xdd", user, 10, "disperseToken(address token, address[] recipients)"),
			rawTransfer("0xdd", user, 20, "disperseToken(address token, address[] recipients)"),
			rawTransfer("0xdd", user, 30, "disperseToken(address token, address[] recipients)"),
		},
	}}

	result, err := New(zap.NewNop(), primary).Reconcile(context.Background(), user, reserves()[:1], nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Tokens["USDC"].Total, "disperse legs collapse to one representative")
}

func TestReconciler_NonDisperseSameHashKeepsAllLegs(t *testing.T) {
	primary := &fakeSource{name: "primary", data: map[common.Address][]entity.RawTransfer{
		usdcToken: {
			rawTransfer("0xcc", user, 100, "deposit(address)"),
			rawTransfer("0xcc", user, 500, "borrow(address)"),
		},
	}}

	result, err := New(zap.NewNop(), primary).Reconcile(context.Background(), user, reserves()[:1], nil)
	require.NoError(t, err)

	usdc := result.Tokens["USDC"]
	assert.Equal(t, 2, usdc.Total, "distinct legs sharing a hash are all kept")
	assert.Len(t, usdc.Supplies, 1)
	assert.Len(t, usdc.Borrows, 1)
}

func TestReconciler_SkipsMalformedRecords(t *testing.T) {
	broken := rawTransfer("0x01", user, 0, "deposit(address)")
	broken.Value = nil
	primary := &fakeSource{name: "primary", data: map[common.Address][]entity.RawTransfer{
		usdcToken: {broken, rawTransfer("0x02", user, 10, "deposit(address)")},
	}}

	result, err := New(zap.NewNop(), primary).Reconcile(context.Background(), user, reserves()[:1], nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Tokens["USDC"].Total)
}

func TestClassify(t *testing.T) {
	cases := map[string]entity.TxType{
		"deposit(address asset)":          entity.TxDeposit,
		"supplyWithPermit(address asset)": entity.TxDeposit,
		"withdraw(address asset)":         entity.TxWithdraw,
		"borrow(address asset)":           entity.TxBorrow,
		"repayWithATokens(address)":       entity.TxRepay,
		"disperseEther(address[])":        entity.TxDisperse,
		"transfer(address,uint256)":       entity.TxOthers,
		"":                                entity.TxOthers,
	}
	for label, want := range cases {
		assert.Equal(t, want, classify(label), "label %q", label)
	}
}
