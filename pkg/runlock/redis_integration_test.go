//go:build integration

package runlock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedis_Integration_AcquireAndRelease(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	locker := NewRedis(client)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "standing-orders:run", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	_, ok, err = locker.Acquire(ctx, "standing-orders:run", time.Minute)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if ok {
		t.Error("second acquire succeeded while lock held")
	}

	release()

	release2, ok, err := locker.Acquire(ctx, "standing-orders:run", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if !ok {
		t.Error("acquire after release should succeed")
	}
	release2()
}

func TestRedis_Integration_TTLExpiry(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	locker := NewRedis(client)
	ctx := context.Background()

	_, ok, err := locker.Acquire(ctx, "standing-orders:run", 500*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}

	time.Sleep(time.Second)

	release, ok, err := locker.Acquire(ctx, "standing-orders:run", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	if !ok {
		t.Error("lock should be acquirable after TTL expiry")
	}
	release()
}

func TestRedis_Integration_StaleReleaseDoesNotDropNewHolder(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	locker := NewRedis(client)
	ctx := context.Background()

	// First holder's lock expires before it releases.
	staleRelease, ok, err := locker.Acquire(ctx, "standing-orders:run", 300*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}

	time.Sleep(600 * time.Millisecond)

	release, ok, err := locker.Acquire(ctx, "standing-orders:run", time.Minute)
	if err != nil || !ok {
		t.Fatalf("second Acquire: ok=%v err=%v", ok, err)
	}
	defer release()

	// The stale release carries the old token; it must not delete the new
	// holder's key.
	staleRelease()

	_, ok, err = locker.Acquire(ctx, "standing-orders:run", time.Minute)
	if err != nil {
		t.Fatalf("third Acquire: %v", err)
	}
	if ok {
		t.Error("stale release dropped the new holder's lock")
	}
}
