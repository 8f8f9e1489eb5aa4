package nodefs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScansRunConcurrently(t *testing.T) {
	l := NewUpDownLock()

	l.LockScan()
	defer l.LockScan()

	done := make(chan struct{})
	go func() {
		l.LockScan()
		defer l.UnlockScan()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second scan should not have blocked behind the first")
	}
}

func TestWriterExcludesScan(t *testing.T) {
	l := NewUpDownLock()
	l.LockWrite()

	scanAcquired := make(chan struct{})
	go func() {
		l.LockScan()
		close(scanAcquired)
	}()

	select {
	case <-scanAcquired:
		t.Fatal("scan should not acquire while a writer holds the lock")
	case <-time.After(50 * time.Millisecond):
	}

	l.UnlockWrite()

	select {
	case <-scanAcquired:
	case <-time.After(time.Second):
		t.Fatal("scan should acquire once writer released")
	}
}

func TestWriterDoesNotStarveUnderContinuousScans(t *testing.T) {
	l := NewUpDownLock()

	stop := int32(0)
	scanCount := int32(0)

	wg := sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for atomic.LoadInt32(&stop) == 0 {
				l.LockScan()
				atomic.AddInt32(&scanCount, 1)
				l.UnlockScan()
			}
		}()
	}

	// give the scan storm a head start, then a writer must still get in.
	time.Sleep(10 * time.Millisecond)

	writerDone := make(chan struct{})
	go func() {
		l.LockWrite()
		l.UnlockWrite()
		close(writerDone)
	}()

	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("writer starved by continuous scans")
	}

	atomic.StoreInt32(&stop, 1)
	wg.Wait()
	assert.Greater(t, atomic.LoadInt32(&scanCount), int32(0))
}
