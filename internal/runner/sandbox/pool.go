package sandbox

import (
	"context"
	"sync"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
)

// Pool caps how many boundaries exist at once. A slot must be held from
// before Prepare until after Teardown.
type Pool struct {
	slots  chan struct{}
	reject bool
}

// NewPool returns a pool of size slots. With reject set, Acquire fails
// immediately instead of waiting when the pool is full.
func NewPool(size int, reject bool) *Pool {
	return &Pool{
		slots:  make(chan struct{}, size),
		reject: reject,
	}
}

func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	if p.reject {
		select {
		case p.slots <- struct{}{}:
		default:
			return nil, models.ErrPoolSaturated
		}
	} else {
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-p.slots })
	}, nil
}

func (p *Pool) InUse() int {
	return len(p.slots)
}

func (p *Pool) Capacity() int {
	return cap(p.slots)
}
