package notify

import (
	"sync"
	"testing"
)

func TestZeroValueNotifies(t *testing.T) {
	var n Notifier
	n.Notify() // must not panic with no callback
}

func TestNotifyInvokesCallback(t *testing.T) {
	n := New(nil)
	count := 0
	n.SetCallback(func() { count++ })
	n.Notify()
	n.Notify()
	if count != 2 {
		t.Errorf("callback invoked %d times, want 2", count)
	}
}

func TestSetCallbackReplaces(t *testing.T) {
	n := New(nil)
	var first, second int
	n.SetCallback(func() { first++ })
	n.SetCallback(func() { second++ })
	n.Notify()
	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d, want 0 and 1", first, second)
	}
	n.SetCallback(nil)
	n.Notify()
	if second != 1 {
		t.Errorf("removed callback still invoked")
	}
}

func TestPanickingCallbackIsRecovered(t *testing.T) {
	n := New(nil)
	n.SetCallback(func() { panic("boom") })
	n.Notify() // must not propagate
}

func TestConcurrentNotify(t *testing.T) {
	n := New(nil)
	var mu sync.Mutex
	count := 0
	n.SetCallback(func() {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				n.Notify()
			}
		}()
	}
	wg.Wait()
	if count != 400 {
		t.Errorf("count=%d, want 400", count)
	}
}
