// Package threadpool implements named worker pools (READ, DROP, COMMON)
// with bounded concurrency and task-kind assertions to catch misrouted
// submissions — a task built for one pool can't accidentally be submitted
// to another.
//
// Fan-out-and-wait is built on golang.org/x/sync/errgroup; the capacity
// bound is a channel-of-tokens semaphore, the same shape as
// golang.org/x/sync/semaphore without adding that module as a second
// dependency for one primitive.
package threadpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Kind names one of the three pools: READ for parallel tier fan-out,
// DROP for the background WAL-to-page worker, COMMON for everything else.
type Kind uint8

const (
	READ Kind = iota
	DROP
	COMMON
)

func (k Kind) String() string {
	switch k {
	case READ:
		return "READ"
	case DROP:
		return "DROP"
	case COMMON:
		return "COMMON"
	default:
		return "UNKNOWN"
	}
}

// Pool is one named, capacity-bounded worker pool.
type Pool struct {
	kind   Kind
	tokens chan struct{}
}

// NewPool returns a Pool of the given kind with capacity concurrent slots.
func NewPool(kind Kind, capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}

	return &Pool{kind: kind, tokens: make(chan struct{}, capacity)}
}

// Kind returns the pool's kind tag.
func (p *Pool) Kind() Kind { return p.kind }

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case p.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release() { <-p.tokens }

// Group is a batch of tasks submitted to one pool, waited on together.
// Every task must carry the pool's own Kind, asserted on Submit, to catch
// a task meant for one pool being submitted to another.
type Group struct {
	pool *Pool
	eg   *errgroup.Group
	ctx  context.Context
}

// NewGroup starts a Group of tasks bound to pool and ctx.
func (p *Pool) NewGroup(ctx context.Context) *Group {
	eg, gctx := errgroup.WithContext(ctx)

	return &Group{pool: p, eg: eg, ctx: gctx}
}

// Submit runs fn once a capacity slot is free, asserting that kind matches
// the pool's own kind.
func (g *Group) Submit(kind Kind, fn func(ctx context.Context) error) {
	if kind != g.pool.kind {
		g.eg.Go(func() error {
			return fmt.Errorf("threadpool: task kind %s submitted to %s pool", kind, g.pool.kind)
		})
		return
	}

	g.eg.Go(func() error {
		if err := g.pool.acquire(g.ctx); err != nil {
			return err
		}
		defer g.pool.release()

		return fn(g.ctx)
	})
}

// Wait blocks until every submitted task has returned, returning the first
// non-nil error (if any), per errgroup semantics.
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// Manager owns the three named pools an Engine dispatches work to.
type Manager struct {
	Read   *Pool
	Drop   *Pool
	Common *Pool
}

// NewManager builds a Manager with the given per-pool capacities.
func NewManager(readCap, dropCap, commonCap int) *Manager {
	return &Manager{
		Read:   NewPool(READ, readCap),
		Drop:   NewPool(DROP, dropCap),
		Common: NewPool(COMMON, commonCap),
	}
}
