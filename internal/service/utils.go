package service

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// orderWalletIDs returns the two IDs in ascending order, the canonical lock
// order for every two-wallet atomic unit.
func orderWalletIDs(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if b.String() < a.String() {
		return b, a
	}
	return a, b
}

// feeFromMetadata recovers the fee recorded on a cash operation so an expiry
// reversal can refund it along with the principal.
func feeFromMetadata(meta map[string]any) decimal.Decimal {
	raw, ok := meta["fee"]
	if !ok {
		return decimal.Zero
	}
	s, ok := raw.(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// maxReferenceRetries bounds regeneration attempts after a reference or
// token collision.
const maxReferenceRetries = 3
