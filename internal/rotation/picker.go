// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rotation

import (
	"math/rand/v2"
	"sync"

	"github.com/ManuGH/camroom/internal/catalog"
)

// maxPickTries bounds the retries spent avoiding an immediate repeat.
const maxPickTries = 8

// Picker draws entries uniformly at random.
type Picker struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPicker creates a picker. A nil src seeds from the runtime.
func NewPicker(src rand.Source) *Picker {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Picker{rnd: rand.New(src)}
}

// Pick returns a random entry of pool, preferring one whose id differs from
// currentID. It reports false for an empty pool.
func (p *Picker) Pick(pool []catalog.Entry, currentID string) (catalog.Entry, bool) {
	if len(pool) == 0 {
		return catalog.Entry{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e := pool[p.rnd.IntN(len(pool))]
	for try := 1; try < maxPickTries && len(pool) > 1 && e.ID == currentID; try++ {
		e = pool[p.rnd.IntN(len(pool))]
	}
	return e, true
}
