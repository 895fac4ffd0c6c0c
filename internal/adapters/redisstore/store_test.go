package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/Guilhem-Bonnet/streamhub/internal/ports"
)

// Nécessite un Redis réel: STREAMHUB_TEST_REDIS_ADDR=127.0.0.1:6379 go test ./...
func TestStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("STREAMHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STREAMHUB_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	st, err := Open(ctx, addr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	st.prefix = "streamhub-test:"

	if err := st.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := st.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get: want v, got %q (%v)", got, err)
	}
	if err := st.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Get(ctx, "k"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("Get(after delete): want ErrNotFound, got %v", err)
	}
}
