package keyed

import (
	"context"
	"testing"
	"time"
)

func TestLockTableForgetsReleasedKeys(t *testing.T) {
	table := newLockTable()
	release, err := table.acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if table.size() != 1 {
		t.Fatalf("expected one tracked key, got %d", table.size())
	}
	release()
	release()
	if table.size() != 0 {
		t.Fatalf("expected key forgotten after release, got %d", table.size())
	}
}

func TestLockTableAcquireHonoursContext(t *testing.T) {
	table := newLockTable()
	release, err := table.acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := table.acquire(ctx, "a"); err == nil {
		t.Fatal("expected second acquire to time out")
	}
	if table.size() != 1 {
		t.Fatalf("expected waiter refcount released, got %d keys", table.size())
	}
}
