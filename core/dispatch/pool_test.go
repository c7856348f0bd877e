package dispatch

import (
	"sync"
	"testing"
	"time"
)

// TestPoolExecutesAll tests that every submitted item runs exactly once
func TestPoolExecutesAll(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]int)
	done := make(chan struct{}, 100)

	p := NewPool[int](PoolConfig{NumLanes: 4, QueueDepth: 64}, func(item Item[int]) {
		mu.Lock()
		seen[item.Payload]++
		mu.Unlock()
		done <- struct{}{}
	}, nil)
	defer p.Close()

	for i := 0; i < 100; i++ {
		if err := p.Submit(i); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}

	for i := 0; i < 100; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for items")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 100; i++ {
		if seen[i] != 1 {
			t.Errorf("item %d executed %d times", i, seen[i])
		}
	}
}

// TestPoolAffinityOrder tests that items sharing a key land on one lane in FIFO order
func TestPoolAffinityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int
	done := make(chan struct{}, 50)

	p := NewPool[int](PoolConfig{NumLanes: 4, QueueDepth: 64}, func(item Item[int]) {
		mu.Lock()
		order = append(order, item.Payload)
		mu.Unlock()
		done <- struct{}{}
	}, nil)
	defer p.Close()

	const key = 0xdeadbeef
	wantLane := p.LaneFor(key)
	if again := p.LaneFor(key); again != wantLane {
		t.Fatalf("lane selection not stable: %d vs %d", wantLane, again)
	}

	for i := 0; i < 50; i++ {
		if err := p.SubmitAffinity(key, i); err != nil {
			t.Fatalf("SubmitAffinity(%d): %v", i, err)
		}
	}

	for i := 0; i < 50; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for items")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("affinity order broken at %d: got %d, order=%v", i, got, order)
		}
	}
}

// TestPoolQueueFull tests synchronous rejection on backpressure
func TestPoolQueueFull(t *testing.T) {
	block := make(chan struct{})
	p := NewPool[int](PoolConfig{NumLanes: 1, QueueDepth: 2}, func(item Item[int]) {
		<-block
	}, nil)
	defer func() {
		close(block)
		p.Close()
	}()

	// One item occupies the lane worker; two fill the queue. A brief wait
	// lets the worker pick the first one up.
	if err := p.SubmitAffinity(1, 0); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	for i := 1; i <= 2; i++ {
		if err := p.SubmitAffinity(1, i); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if err := p.SubmitAffinity(1, 3); err != ErrQueueFull {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	if rej := p.Stats().Rejected; rej != 1 {
		t.Errorf("expected 1 rejection, got %d", rej)
	}
}

// TestPoolCloseAborts tests that queued items are aborted, not executed, at close
func TestPoolCloseAborts(t *testing.T) {
	block := make(chan struct{})
	var aborted sync.Map

	p := NewPool[int](PoolConfig{NumLanes: 1, QueueDepth: 8}, func(item Item[int]) {
		<-block
	}, func(item Item[int]) {
		aborted.Store(item.Payload, true)
	})

	p.SubmitAffinity(1, 0)
	time.Sleep(50 * time.Millisecond)
	for i := 1; i <= 4; i++ {
		if err := p.SubmitAffinity(1, i); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	close(block)
	p.Close()

	if err := p.Submit(9); err != ErrPoolClosed {
		t.Errorf("expected ErrPoolClosed after Close, got %v", err)
	}
	if got := p.Stats().Aborted; got == 0 {
		t.Error("expected queued items to be aborted at close")
	}
}

// TestRunnerBasic tests baseline execution and shutdown
func TestRunnerBasic(t *testing.T) {
	r := NewRunner(RunnerConfig{Baseline: 2, QueueDepth: 16})

	done := make(chan int, 10)
	for i := 0; i < 10; i++ {
		i := i
		if err := r.Submit(func() { done <- i }); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}

	seen := make(map[int]bool)
	for i := 0; i < 10; i++ {
		select {
		case v := <-done:
			seen[v] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks")
		}
	}
	if len(seen) != 10 {
		t.Errorf("expected 10 distinct tasks, got %d", len(seen))
	}

	r.Shutdown(time.Second)
	if err := r.Submit(func() {}); err != ErrRunnerClosed {
		t.Errorf("expected ErrRunnerClosed, got %v", err)
	}
}

// TestRunnerElasticSpawn tests that backlog triggers extra workers
func TestRunnerElasticSpawn(t *testing.T) {
	r := NewRunner(RunnerConfig{Baseline: 1, MaxExtra: 4, QueueDepth: 64, IdleTimeout: 100 * time.Millisecond})
	defer r.Shutdown(time.Second)

	block := make(chan struct{})
	// Stall the baseline worker, then pile on work to grow the backlog.
	r.Submit(func() { <-block })
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 32; i++ {
		r.Submit(func() { time.Sleep(time.Millisecond) })
		time.Sleep(time.Millisecond)
	}

	if spawned := r.Stats().Spawned; spawned == 0 {
		t.Error("expected extra workers to be spawned under backlog")
	}
	close(block)

	// Extras self-terminate after the idle timeout.
	time.Sleep(400 * time.Millisecond)
	if extra := r.Stats().Extra; extra != 0 {
		t.Errorf("expected idle extras to exit, still have %d", extra)
	}
}

// TestPoolDepths tests backlog reporting while a lane is busy
func TestPoolDepths(t *testing.T) {
	gate := make(chan struct{})
	p := NewPool[int](PoolConfig{NumLanes: 1, QueueDepth: 8}, func(item Item[int]) {
		<-gate
	}, nil)
	defer func() {
		close(gate)
		p.Close()
	}()

	// First item occupies the worker, the next two sit in the queue.
	for i := 0; i < 3; i++ {
		if err := p.SubmitAffinity(0, i); err != nil {
			t.Fatalf("SubmitAffinity: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d := p.Depths(); len(d) == 1 && d[0] == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("expected lane backlog of 2, got %v", p.Depths())
}
