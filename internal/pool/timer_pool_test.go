package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTimer_Fires(t *testing.T) {
	begin := time.Now()
	timer := GetTimer(30 * time.Millisecond)
	defer PutTimer(timer)

	select {
	case <-timer.C:
		assert.GreaterOrEqual(t, time.Since(begin), 25*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestGetTimer_ReuseAfterFire(t *testing.T) {
	// a fired timer whose tick was never received must not leak the tick
	fired := GetTimer(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	PutTimer(fired)

	begin := time.Now()
	timer := GetTimer(100 * time.Millisecond)
	defer PutTimer(timer)

	<-timer.C
	assert.GreaterOrEqual(t, time.Since(begin), 90*time.Millisecond)
}

func TestPutTimer_StopsActiveTimer(t *testing.T) {
	timer := GetTimer(20 * time.Millisecond)
	PutTimer(timer)

	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestWaitDone(t *testing.T) {
	done := make(chan struct{})
	assert.False(t, WaitDone(done, 20*time.Millisecond))

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(done)
	}()
	assert.True(t, WaitDone(done, time.Second))

	// an already closed channel returns immediately
	begin := time.Now()
	require.True(t, WaitDone(done, time.Second))
	assert.Less(t, time.Since(begin), 100*time.Millisecond)
}

func TestWaitDone_Concurrent(t *testing.T) {
	done := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]bool, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = WaitDone(done, time.Second)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	close(done)
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
}
