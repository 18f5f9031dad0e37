// Package gateway delivers value to external providers: airtime to mobile
// operators and payments to billers. The ledger debit always happens first;
// a failed delivery is reversed by the calling service.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Delivery is one outbound provider call.
type Delivery struct {
	// Provider is the operator or biller code, e.g. MATTEL or ELECTRICITY.
	Provider string
	// Target is the subscriber number or biller account being funded.
	Target    string
	Amount    decimal.Decimal
	Reference string
}

// Provider sends a delivery to the external network. Implementations must
// honor ctx cancellation.
type Provider interface {
	Deliver(ctx context.Context, d Delivery) error
}
