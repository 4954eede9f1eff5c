package wire

import (
	"math/rand"
	"sync/atomic"
)

// Generator produces call ids. Ids must not collide within the lifetime of
// a single connection with high probability; no ordering between ids and
// call issuance order is implied.
type Generator interface {
	Generate() CallID
}

// RandomGenerator draws uniform 64-bit ids. This is the default policy.
type RandomGenerator struct{}

func (RandomGenerator) Generate() CallID {
	return CallID(rand.Uint64())
}

// SequenceGenerator hands out monotonically increasing ids, the
// alternative policy for hosts where predictable ids aid debugging.
type SequenceGenerator struct {
	n atomic.Uint64
}

func (g *SequenceGenerator) Generate() CallID {
	return CallID(g.n.Add(1))
}
