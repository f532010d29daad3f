package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisClaim_FirstWins(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	repo := NewRedisIdempotency(client)
	client.Del(ctx, idempotencyKeyPrefix+"test-key")

	bound, claimed, err := repo.Claim(ctx, "test-key", "order-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !claimed || bound != "order-1" {
		t.Errorf("expected claim for order-1, got %s %v", bound, claimed)
	}

	bound, claimed, err = repo.Claim(ctx, "test-key", "order-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed {
		t.Error("second claim should not win")
	}
	if bound != "order-1" {
		t.Errorf("expected order-1, got %s", bound)
	}
}

func TestRedisForget(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	repo := NewRedisIdempotency(client)
	client.Del(ctx, idempotencyKeyPrefix+"test-forget")

	repo.Claim(ctx, "test-forget", "order-1")
	if err := repo.Forget(ctx, "test-forget"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, claimed, err := repo.Claim(ctx, "test-forget", "order-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !claimed {
		t.Error("expected key to be claimable after forget")
	}
}

func TestRedisClaim_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	repo := NewRedisIdempotency(client)
	client.Del(ctx, idempotencyKeyPrefix+"test-concurrent")

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := repo.Claim(ctx, "test-concurrent", "order")
			if err == nil && claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", winners.Load())
	}
}
