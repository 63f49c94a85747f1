// Package allocator hands out fresh block spans from a monotone
// watermark. It never reclaims freed space; that's the responsibility
// of higher layers (content segments), which keeps crash recovery
// simple - a block id, once allocated, is never reused within the same
// open-to-close epoch of a volume.
package allocator

import (
	"sync"

	"github.com/marmos91/dittovault/pkg/block"
)

// Allocator is a mutex-protected monotone block counter.
type Allocator struct {
	mu        sync.Mutex
	watermark uint64
}

// New returns an Allocator whose first Allocate call starts at
// watermark. Callers restore this from the volume's last committed
// super-block watermark when reopening.
func New(watermark uint64) *Allocator {
	return &Allocator{watermark: watermark}
}

// Allocate reserves n contiguous blocks and advances the watermark past
// them. n must be greater than zero.
func (a *Allocator) Allocate(n uint32) block.Span {
	a.mu.Lock()
	defer a.mu.Unlock()

	span := block.Span{Begin: a.watermark, Count: n}
	a.watermark += uint64(n)
	return span
}

// Watermark returns the next block index that will be handed out.
func (a *Allocator) Watermark() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.watermark
}

// Truncate rolls the watermark back to w, discarding any allocations
// made beyond it. Used at recovery to discard blocks a crashed commit
// staged but never made it into a published super-block.
func (a *Allocator) Truncate(w uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w < a.watermark {
		a.watermark = w
	}
}
