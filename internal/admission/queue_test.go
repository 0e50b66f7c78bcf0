package admission

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueuePreservesFIFOOrder(t *testing.T) {
	q := NewQueue(10, time.Second, 5)
	var mu sync.Mutex
	var order []int

	var futures []*Future
	for i := 0; i < 5; i++ {
		i := i
		f, err := q.Enqueue(Job{Run: func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}})
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		futures = append(futures, f)
	}

	for i, f := range futures {
		val, err, ok := f.Wait(context.Background())
		if !ok || err != nil {
			t.Fatalf("future %d did not settle cleanly: err=%v ok=%v", i, err, ok)
		}
		if val.(int) != i {
			t.Fatalf("future %d returned %v, want %d", i, val, i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("jobs ran out of FIFO order: %v", order)
		}
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := NewQueue(1, time.Second, 7)
	block := make(chan struct{})

	_, err := q.Enqueue(Job{Run: func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	}})
	if err != nil {
		t.Fatalf("first enqueue should succeed: %v", err)
	}

	// give drain() a moment to pop the first job so it is running, not queued
	time.Sleep(20 * time.Millisecond)

	_, err = q.Enqueue(Job{Run: func(ctx context.Context) (any, error) { return nil, nil }})
	if err != nil {
		t.Fatalf("second enqueue should still fit within bound 1 (one running, zero queued): %v", err)
	}

	_, err = q.Enqueue(Job{Run: func(ctx context.Context) (any, error) { return nil, nil }})
	if err == nil {
		t.Fatal("enqueue beyond the bound should reject with queue_full")
	}
	close(block)
}

func TestEnqueueIfIdleRejectsWhenBusy(t *testing.T) {
	q := NewQueue(10, time.Second, 3)
	block := make(chan struct{})

	_, err := q.Enqueue(Job{Run: func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// give drain() a moment to pick the job up so q.running is true
	time.Sleep(20 * time.Millisecond)

	_, err = q.EnqueueIfIdle(Job{Run: func(ctx context.Context) (any, error) { return nil, nil }})
	if err == nil {
		t.Fatal("EnqueueIfIdle must reject while a job is running")
	}
	close(block)
}

func TestEnqueueIfIdleAdmitsWhenIdle(t *testing.T) {
	q := NewQueue(10, time.Second, 3)
	f, err := q.EnqueueIfIdle(Job{Run: func(ctx context.Context) (any, error) { return "ok", nil }})
	if err != nil {
		t.Fatalf("EnqueueIfIdle should admit on an idle queue: %v", err)
	}
	val, waitErr, ok := f.Wait(context.Background())
	if !ok || waitErr != nil || val != "ok" {
		t.Fatalf("unexpected result: val=%v err=%v ok=%v", val, waitErr, ok)
	}
}
