package namedlock

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryLockExclusion(t *testing.T) {
	m := New()

	unlockFoo, ok := m.TryLock("foo")
	assert.True(t, ok)

	_, ok = m.TryLock("foo")
	assert.False(t, ok)

	_, ok = m.TryLock("bar")
	assert.True(t, ok, "unrelated key must not be blocked")

	unlockFoo()

	unlockFoo, ok = m.TryLock("foo")
	assert.True(t, ok)
	defer unlockFoo()
}

func TestLockBlocksUntilRelease(t *testing.T) {
	m := New()

	unlock := m.Lock("node1")

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		m.Lock("node1")()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock should not have succeeded while held")
	default:
	}

	unlock()
	<-acquired
}

func TestJoinRunsOnceForConcurrentCallers(t *testing.T) {
	j := NewJoin[int]()

	var calls int32
	start := make(chan struct{})

	wg := sync.WaitGroup{}
	results := make([]int, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			v, err := j.Do("path/a", func() (int, error) {
				atomic.AddInt32(&calls, 1)
				return 42, nil
			})
			assert.NoError(t, err)
			results[idx] = v
		}(i)
	}

	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, calls)
	for _, r := range results {
		assert.Equal(t, 42, r)
	}
}

func TestJoinRunsAgainAfterCompletion(t *testing.T) {
	j := NewJoin[int]()

	v1, _ := j.Do("k", func() (int, error) { return 1, nil })
	v2, _ := j.Do("k", func() (int, error) { return 2, nil })

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}
