package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, ttl), mr
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	sess := &Session{Step: "event_title"}
	sess.Set("title", "Town hall")
	if err := store.Put(ctx, 100, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	loaded, err := store.Get(ctx, 100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded.Step != "event_title" {
		t.Errorf("Step = %q, want %q", loaded.Step, "event_title")
	}
	if loaded.Get("title") != "Town hall" {
		t.Errorf("Data[title] = %q, want %q", loaded.Get("title"), "Town hall")
	}
}

func TestGetMissingSession(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	if _, err := store.Get(context.Background(), 100); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionsAreScopedPerUser(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Put(ctx, 100, &Session{Step: "reg_phone"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Get(ctx, 101); err != ErrNotFound {
		t.Errorf("another user's session leaked: %v", err)
	}
}

func TestDeleteClearsSession(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Put(ctx, 100, &Session{Step: "reg_phone"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, 100); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, 100); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting an absent session is fine; abandoned wizards expire anyway.
	if err := store.Delete(ctx, 100); err != nil {
		t.Errorf("repeated Delete: %v", err)
	}
}

func TestSessionsExpire(t *testing.T) {
	store, mr := newTestStore(t, 30*time.Minute)
	ctx := context.Background()

	if err := store.Put(ctx, 100, &Session{Step: "reg_phone"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mr.FastForward(31 * time.Minute)

	if _, err := store.Get(ctx, 100); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after TTL, got %v", err)
	}
}
