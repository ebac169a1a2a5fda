package execx

import "context"

// Pool bounds filesystem- and CPU-heavy work (venv creation, dependency
// installs, hashing) so it never saturates the scheduler. Callers block until
// a slot is free or their context is done.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a pool admitting at most size concurrent calls.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Do runs fn once a slot is available.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn()
}
