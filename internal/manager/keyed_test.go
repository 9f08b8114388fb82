package manager

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexSerialisesSameID(t *testing.T) {
	k := newKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(7)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("critical section entered by %d goroutines at once", maxInside)
	}
	if k.size() != 0 {
		t.Fatalf("entries leaked: %d", k.size())
	}
}

func TestKeyedMutexDifferentIDsIndependent(t *testing.T) {
	k := newKeyedMutex()
	unlock1 := k.Lock(1)
	done := make(chan struct{})
	go func() {
		unlock2 := k.Lock(2)
		unlock2()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on id 2 blocked behind id 1")
	}
	unlock1()
}
