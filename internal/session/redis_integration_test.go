//go:build integration

package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// Run with: CHARGEGATE_TEST_REDIS_URL=redis://localhost:6379/15 go test -tags integration ./internal/session
func TestRedisStore_Lifecycle(t *testing.T) {
	url := os.Getenv("CHARGEGATE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CHARGEGATE_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	client, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client, time.Minute)

	s, err := store.Create(ctx, "op-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OperatorID != "op-1" {
		t.Errorf("OperatorID = %q, want op-1", got.OperatorID)
	}

	ttl, err := client.TTL(ctx, keyPrefix+s.ID).Result()
	if err != nil || ttl <= 0 {
		t.Errorf("key TTL = %v, %v; want positive", ttl, err)
	}

	if err := store.Touch(ctx, s.ID); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if err := store.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}
