package channels

import (
	"context"
	"sync"
	"time"

	"github.com/franzego/notifyhub/internal/config"
)

// Pacer hands out send slots for one channel. A window holds policy.Size
// slots and the next window opens policy.Delay after the current one fills.
// It is safe for concurrent use.
type Pacer struct {
	mu     sync.Mutex
	size   int
	delay  time.Duration
	used   int
	reopen time.Time
}

func NewPacer(policy config.BatchPolicy) *Pacer {
	size := policy.Size
	if size <= 0 {
		size = 1
	}
	return &Pacer{size: size, delay: policy.Delay}
}

// Wait blocks until a slot is free or ctx ends.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.delay <= 0 {
		return ctx.Err()
	}
	for {
		p.mu.Lock()
		if p.used < p.size {
			p.used++
			if p.used == p.size {
				p.reopen = time.Now().Add(p.delay)
			}
			p.mu.Unlock()
			return ctx.Err()
		}
		wait := time.Until(p.reopen)
		if wait <= 0 {
			p.used = 0
			p.mu.Unlock()
			continue
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
