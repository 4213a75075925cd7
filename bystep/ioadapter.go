package bystep

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"
)

var trackBucket = []byte("bystep_tracks")

// writeReq is one queued (period, seriesID) -> packed chunk write, or a
// flush marker (ack set, key/data nil) that Flush uses to observe that
// every write queued ahead of it has been applied.
type writeReq struct {
	key  []byte
	data []byte
	ack  chan struct{}
}

// IOAdapter persists (period, seriesID) -> packed chunk bytes through a
// single bbolt database file, one bucket keyed by the 12-byte composite
// key. A bounded channel plus one dedicated writer goroutine keeps every
// mutation serialized through a single bbolt transaction stream: Put
// blocks once the queue is full instead of growing it unbounded, the
// channel-as-backpressure equivalent of a bounded producer/consumer
// queue.
type IOAdapter struct {
	db    *bbolt.DB
	queue chan writeReq
	wg    sync.WaitGroup

	mu      sync.Mutex
	lastErr error
}

// OpenIOAdapter opens (creating if absent) the bbolt database at path and
// starts its single writer goroutine. queueCap bounds the number of
// in-flight writes buffered ahead of the writer.
func OpenIOAdapter(path string, queueCap int) (*IOAdapter, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("bystep: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(trackBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("bystep: create bucket: %w", err)
	}

	if queueCap < 1 {
		queueCap = 1
	}

	a := &IOAdapter{db: db, queue: make(chan writeReq, queueCap)}
	a.wg.Add(1)
	go a.writerLoop()

	return a, nil
}

func compositeKey(period int64, seriesID uint32) []byte {
	var key [12]byte
	binary.BigEndian.PutUint64(key[0:8], uint64(period)) //nolint:gosec // raw bit-pattern store
	binary.BigEndian.PutUint32(key[8:12], seriesID)

	return key[:]
}

func (a *IOAdapter) writerLoop() {
	defer a.wg.Done()

	for req := range a.queue {
		if req.ack != nil {
			close(req.ack)
			continue
		}

		err := a.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(trackBucket).Put(req.key, req.data)
		})
		if err != nil {
			a.mu.Lock()
			a.lastErr = err
			a.mu.Unlock()
		}
	}
}

// Put enqueues a replace-semantics write for (period, seriesID). It blocks
// if the queue is full, applying backpressure to the caller, and never
// blocks waiting for the write itself to complete — use Flush to wait for
// the queue to drain.
func (a *IOAdapter) Put(period int64, seriesID uint32, data []byte) {
	a.queue <- writeReq{key: compositeKey(period, seriesID), data: append([]byte(nil), data...)}
}

// Get reads the stored packed chunk for (period, seriesID), if any.
func (a *IOAdapter) Get(period int64, seriesID uint32) (data []byte, found bool, err error) {
	err = a.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(trackBucket).Get(compositeKey(period, seriesID))
		if v != nil {
			data = append([]byte(nil), v...)
		}

		return nil
	})

	return data, data != nil, err
}

// Flush blocks until every queued write has been applied, returning the
// first error (if any) encountered since the last Flush.
func (a *IOAdapter) Flush() error {
	ack := make(chan struct{})
	a.queue <- writeReq{ack: ack}
	<-ack

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.lastErr
}

// Close drains the write queue and closes the underlying database.
func (a *IOAdapter) Close() error {
	close(a.queue)
	a.wg.Wait()

	return a.db.Close()
}
