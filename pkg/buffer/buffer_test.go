package buffer

import (
	"sync"
	"testing"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestNew(t *testing.T) {
	logger := testLogger()
	defer logger.Sync()

	buf := New[int](10, logger)
	if buf == nil {
		t.Fatal("Expected buffer, got nil")
	}

	if buf.Capacity() != 10 {
		t.Errorf("Expected capacity 10, got %d", buf.Capacity())
	}

	if buf.Size() != 0 {
		t.Errorf("Expected size 0, got %d", buf.Size())
	}
}

func TestNew_MinimumCapacity(t *testing.T) {
	buf := New[int](0, zap.NewNop())
	if buf.Capacity() != 1 {
		t.Errorf("Expected capacity 1, got %d", buf.Capacity())
	}
}

func TestAdd_Overflow(t *testing.T) {
	logger := testLogger()
	defer logger.Sync()

	buf := New[int](3, logger)

	for i := 1; i <= 5; i++ {
		buf.Add(i)
	}

	if buf.Size() != 3 {
		t.Errorf("Expected size 3, got %d", buf.Size())
	}
	if buf.Overwritten() != 2 {
		t.Errorf("Expected 2 overwritten items, got %d", buf.Overwritten())
	}

	items := buf.Drain()
	expected := []int{3, 4, 5}
	if len(items) != len(expected) {
		t.Fatalf("Expected %d items, got %d", len(expected), len(items))
	}
	for i, item := range items {
		if item != expected[i] {
			t.Errorf("Expected item[%d]=%d, got %d", i, expected[i], item)
		}
	}
}

func TestDrain_Empty(t *testing.T) {
	buf := New[int](5, zap.NewNop())

	if items := buf.Drain(); items != nil {
		t.Errorf("Expected nil for empty buffer, got %v", items)
	}
}

func TestDrain_ClearsBuffer(t *testing.T) {
	buf := New[string](5, zap.NewNop())
	buf.Add("a")
	buf.Add("b")

	if items := buf.Drain(); len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if buf.Size() != 0 {
		t.Errorf("Expected size 0 after drain, got %d", buf.Size())
	}

	buf.Add("c")
	items := buf.Drain()
	if len(items) != 1 || items[0] != "c" {
		t.Errorf("Expected [c], got %v", items)
	}
}

func TestPutBack_PrecedesNewItems(t *testing.T) {
	buf := New[int](5, zap.NewNop())
	buf.Add(1)
	buf.Add(2)

	failed := buf.Drain()
	buf.Add(3)
	buf.PutBack(failed)

	items := buf.Drain()
	expected := []int{1, 2, 3}
	if len(items) != len(expected) {
		t.Fatalf("Expected %d items, got %d", len(expected), len(items))
	}
	for i, item := range items {
		if item != expected[i] {
			t.Errorf("Expected item[%d]=%d, got %d", i, expected[i], item)
		}
	}
}

func TestPutBack_DropsOldestWhenFull(t *testing.T) {
	buf := New[int](3, zap.NewNop())
	buf.Add(3)
	buf.Add(4)

	buf.PutBack([]int{1, 2})

	items := buf.Drain()
	expected := []int{2, 3, 4}
	if len(items) != len(expected) {
		t.Fatalf("Expected %d items, got %d", len(expected), len(items))
	}
	for i, item := range items {
		if item != expected[i] {
			t.Errorf("Expected item[%d]=%d, got %d", i, expected[i], item)
		}
	}
	if buf.Overwritten() != 1 {
		t.Errorf("Expected 1 overwritten item, got %d", buf.Overwritten())
	}
}

func TestPutBack_ThenAddWrapsCorrectly(t *testing.T) {
	buf := New[int](3, zap.NewNop())
	buf.PutBack([]int{1, 2, 3})
	buf.Add(4)

	items := buf.Drain()
	expected := []int{2, 3, 4}
	for i, item := range items {
		if item != expected[i] {
			t.Errorf("Expected item[%d]=%d, got %d", i, expected[i], item)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	logger := testLogger()
	defer logger.Sync()

	buf := New[int](1000, logger)
	var wg sync.WaitGroup

	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				buf.Add(w*100 + i)
			}
		}(w)
	}

	drained := 0
	var mu sync.Mutex
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				n := len(buf.Drain())
				mu.Lock()
				drained += n
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	total := drained + buf.Size()
	if total != 500 {
		t.Errorf("Expected 500 items in total, got %d", total)
	}
}

type reading struct {
	device string
	value  float64
}

func TestGenericTypes(t *testing.T) {
	buf := New[*reading](2, zap.NewNop())
	buf.Add(&reading{device: "a", value: 1})

	items := buf.Drain()
	if len(items) != 1 || items[0].device != "a" {
		t.Errorf("Expected single reading for device a, got %v", items)
	}
}
