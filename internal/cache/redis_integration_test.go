package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	store := NewRedis(client, "artha-test:")
	defer store.Close()

	if _, ok, err := store.Get(ctx, "snapshot:u1"); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "snapshot:u1", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := store.Get(ctx, "snapshot:u1")
	if err != nil || !ok || string(got) != `{"a":1}` {
		t.Fatalf("unexpected get: %q ok=%v err=%v", got, ok, err)
	}
	ttl, err := client.TTL(ctx, "artha-test:snapshot:u1").Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl applied with prefix, got %s err=%v", ttl, err)
	}
	if err := store.Delete(ctx, "snapshot:u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "snapshot:u1"); ok {
		t.Fatalf("expected miss after delete")
	}
}
