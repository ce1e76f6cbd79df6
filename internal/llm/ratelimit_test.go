package llm

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToCapacity(t *testing.T) {
	rl := newRateLimiter(10)
	defer rl.Close()

	for i := 0; i < 10; i++ {
		if !rl.tryAcquire() {
			t.Fatalf("acquire %d should succeed within capacity", i)
		}
	}
	if rl.tryAcquire() {
		t.Error("acquire beyond capacity should fail until refill")
	}
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	rl := newRateLimiter(1)
	defer rl.Close()

	if !rl.tryAcquire() {
		t.Fatal("first acquire should succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := rl.wait(ctx); err == nil {
		t.Error("wait should fail once the context expires")
	}
}

func TestRateLimiterDefaultsCapacity(t *testing.T) {
	rl := newRateLimiter(0)
	defer rl.Close()
	if rl.capacity != 60 {
		t.Errorf("capacity = %d, want default 60", rl.capacity)
	}
}
