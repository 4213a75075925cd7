package threadpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroup_RunsAllTasksAndWaits(t *testing.T) {
	p := NewPool(READ, 4)
	g := p.NewGroup(context.Background())

	var n atomic.Int32
	for i := 0; i < 20; i++ {
		g.Submit(READ, func(ctx context.Context) error {
			n.Add(1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 20, n.Load())
}

func TestGroup_CapacityBound(t *testing.T) {
	p := NewPool(READ, 2)
	g := p.NewGroup(context.Background())

	var inFlight, maxInFlight atomic.Int32
	for i := 0; i < 10; i++ {
		g.Submit(READ, func(ctx context.Context) error {
			cur := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if cur <= m || maxInFlight.CompareAndSwap(m, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)

			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.LessOrEqual(t, maxInFlight.Load(), int32(2))
}

func TestGroup_MisroutedKindErrors(t *testing.T) {
	p := NewPool(READ, 1)
	g := p.NewGroup(context.Background())

	g.Submit(DROP, func(ctx context.Context) error { return nil })
	require.Error(t, g.Wait())
}

func TestManager_HasThreeNamedPools(t *testing.T) {
	m := NewManager(4, 1, 2)
	require.Equal(t, READ, m.Read.Kind())
	require.Equal(t, DROP, m.Drop.Kind())
	require.Equal(t, COMMON, m.Common.Kind())
}
