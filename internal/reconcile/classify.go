package reconcile

import (
	"strings"

	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
)

// labelTypes maps normalized function selector labels, as reported by scan
// APIs, to transaction types. Labels not present here resolve to
// entity.TxOthers so an unknown selector is a visible unclassified record,
// never a silently guessed one.
var labelTypes = map[string]entity.TxType{
	"deposit":             entity.TxDeposit,
	"supply":              entity.TxDeposit,
	"supplywithpermit":    entity.TxDeposit,
	"depositeth":          entity.TxDeposit,
	"withdraw":            entity.TxWithdraw,
	"redeem":              entity.TxWithdraw,
	"withdraweth":         entity.TxWithdraw,
	"borrow":              entity.TxBorrow,
	"borroweth":           entity.TxBorrow,
	"repay":               entity.TxRepay,
	"repaywithpermit":     entity.TxRepay,
	"repaywithatokens":    entity.TxRepay,
	"repayeth":            entity.TxRepay,
	"disperse":            entity.TxDisperse,
	"dispersetoken":       entity.TxDisperse,
	"disperseether":       entity.TxDisperse,
	"dispersetokensimple": entity.TxDisperse,
	"multisendtoken":      entity.TxDisperse,
	"multisend":           entity.TxDisperse,
}

// classify resolves a raw function selector label to a transaction type.
// Scan APIs report labels as full signatures ("repay(address asset, ...)"),
// so everything after the first parenthesis is ignored.
func classify(label string) entity.TxType {
	name := label
	if idx := strings.IndexByte(name, '('); idx >= 0 {
		name = name[:idx]
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return entity.TxOthers
	}
	if t, ok := labelTypes[name]; ok {
		return t
	}
	return entity.TxOthers
}
