package entity

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TxType is the closed set of reconciled transaction kinds.
type TxType int

const (
	// TxOthers is the explicit "could not classify the function label" variant.
	// Reconciliation buckets such records by direction instead of discarding them.
	TxOthers TxType = iota
	// TxDeposit moves funds into a supply position.
	TxDeposit
	// TxWithdraw removes funds from a supply position.
	TxWithdraw
	// TxBorrow opens or increases a debt position.
	TxBorrow
	// TxRepay decreases a debt position.
	TxRepay
	// TxDisperse is a batch call fanning one transaction out to many legs.
	TxDisperse
)

func (t TxType) String() string {
	switch t {
	case TxDeposit:
		return "deposit"
	case TxWithdraw:
		return "withdraw"
	case TxBorrow:
		return "borrow"
	case TxRepay:
		return "repay"
	case TxDisperse:
		return "disperse"
	default:
		return "others"
	}
}

// ParseTxType is the inverse of TxType.String, used when loading persisted
// transactions. Unknown labels resolve to TxOthers.
func ParseTxType(s string) TxType {
	switch s {
	case "deposit":
		return TxDeposit
	case "withdraw":
		return TxWithdraw
	case "borrow":
		return TxBorrow
	case "repay":
		return TxRepay
	case "disperse":
		return TxDisperse
	default:
		return TxOthers
	}
}

// Direction tells whether the subject address received or sent the funds.
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// Version tags the protocol generation a record belongs to.
type Version string

const (
	VersionV2 Version = "v2"
	VersionV3 Version = "v3"
)

// Transaction is the reconciled, typed unit consumed by the accrual
// calculators and exposed to callers.
type Transaction struct {
	Hash      common.Hash     `json:"txHash"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	Type      TxType          `json:"type"`
	Token     string          `json:"token"`
	Version   Version         `json:"version"`
	Direction Direction       `json:"direction"`
}
