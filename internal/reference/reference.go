// Package reference produces globally unique, human-auditable operation
// references and single-use cash-out tokens. Uniqueness is probabilistic
// here; the storage layer's unique constraints are the real guard, and
// inserts are retried once on conflict with a fresh value.
package reference

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand"
	"sync"

	"github.com/sahelpay/sahelpay/internal/domain"
)

const suffixLen = 12 // hex chars

// Generator produces references and tokens from an explicit entropy source,
// seedable for deterministic tests.
type Generator struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// New returns a generator seeded from crypto/rand.
func New() *Generator {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// there is no useful recovery at this layer.
		panic(fmt.Sprintf("reference: seed entropy unavailable: %v", err))
	}
	return NewSeeded(int64(binary.LittleEndian.Uint64(b[:])))
}

// NewSeeded returns a deterministic generator for tests.
func NewSeeded(seed int64) *Generator {
	return &Generator{rng: mrand.New(mrand.NewSource(seed))}
}

// Reference returns "<PREFIX>-<12 hex upper>".
func (g *Generator) Reference(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf := make([]byte, suffixLen/2)
	for i := range buf {
		buf[i] = byte(g.rng.Intn(256))
	}
	return fmt.Sprintf("%s-%X", prefix, buf)
}

// Token returns a fixed-length numeric cash-out token.
func (g *Generator) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	lo := int64(1)
	for i := 1; i < domain.TokenLength; i++ {
		lo *= 10
	}
	hi := lo*10 - 1
	return fmt.Sprintf("%d", lo+g.rng.Int63n(hi-lo+1))
}
