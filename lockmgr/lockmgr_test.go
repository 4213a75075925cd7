package lockmgr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRLock_AllowsConcurrentReaders(t *testing.T) {
	m := New()

	g1 := m.RLock(WAL)
	done := make(chan struct{})
	go func() {
		g2 := m.RLock(WAL)
		g2.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked by first reader")
	}
	g1.Unlock()
}

func TestLock_ExcludesReaders(t *testing.T) {
	m := New()

	g := m.Lock(WAL)
	var readerEntered atomic.Bool
	done := make(chan struct{})
	go func() {
		rg := m.RLock(WAL)
		readerEntered.Store(true)
		rg.Unlock()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.False(t, readerEntered.Load())
	g.Unlock()
	<-done
	require.True(t, readerEntered.Load())
}

func TestLock_MultiResource_FixedOrderPreventsDeadlock(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			g := m.Lock(MEM, WAL)
			g.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			g := m.Lock(WAL, MEM)
			g.Unlock()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock acquiring WAL+MEM in opposite request order")
	}
}
