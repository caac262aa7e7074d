package entity

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RawTransfer is a single token-movement record as reported by one transfer
// source. The same on-chain event may appear once per source, and one
// transaction may legitimately produce several RawTransfers sharing a hash
// (e.g. a disperse call).
type RawTransfer struct {
	Hash          common.Hash
	From          common.Address
	To            common.Address
	Value         *big.Int
	Timestamp     time.Time
	TokenContract common.Address
	FunctionLabel string // nullable upstream; empty means unknown
}

// Reserve describes one configured token position the engine tracks.
type Reserve struct {
	Symbol     string
	Decimals   int32
	Version    Version
	Underlying common.Address
	AToken     common.Address
	DebtToken  common.Address
}
