package control

import (
	"sync"
	"testing"
)

func TestSlot_LoadStore(t *testing.T) {
	var s Slot[int]
	if _, ok := s.Load(); ok {
		t.Fatal("empty slot reported a value")
	}

	s.Store(1)
	s.Store(2)
	if got, ok := s.Load(); !ok || got != 2 {
		t.Errorf("Load() = %d, %v; want 2, true", got, ok)
	}
	if got, ok := s.Load(); !ok || got != 2 {
		t.Errorf("second Load() = %d, %v; Load must not consume", got, ok)
	}
}

func TestSlot_ConcurrentWritersNeverBlock(t *testing.T) {
	var s Slot[int]
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				s.Store(w*1000 + i)
				s.Load()
			}
		}(w)
	}
	wg.Wait()
	got, ok := s.Load()
	if !ok || got%1000 != 999 {
		t.Errorf("Load() = %d, %v; want some writer's last value", got, ok)
	}
}
