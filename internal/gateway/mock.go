package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Mock simulates operator and biller networks for local runs and tests.
// It introduces a small delay and fails a configurable fraction of calls.
type Mock struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
	// MaxDelay caps the simulated network latency. Zero means no delay.
	MaxDelay time.Duration
}

// NewMock creates a mock provider that always succeeds instantly.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Deliver(ctx context.Context, d Delivery) error {
	if m.MaxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(m.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("provider call canceled: %w", ctx.Err())
		}
	}

	if m.FailureRate > 0 && rand.Float64() < m.FailureRate {
		return fmt.Errorf("provider %s temporarily unavailable", d.Provider)
	}

	zap.L().Info("mock delivery completed",
		zap.String("provider", d.Provider),
		zap.String("target", d.Target),
		zap.String("reference", d.Reference),
		zap.String("amount", d.Amount.StringFixed(2)))
	return nil
}
