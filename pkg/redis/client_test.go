package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/config"
)

// newTestClient connects to TFI_TEST_REDIS_ADDR and skips the test when it is
// unset or unreachable.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TFI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TFI_TEST_REDIS_ADDR not set")
	}
	c, err := NewClient(context.Background(), config.RedisConfig{Addr: addr, PoolSize: 4}, 2*time.Second)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientGetSetDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("tfi:test:%d:", time.Now().UnixNano())

	if _, found, err := c.Get(ctx, prefix+"missing"); err != nil || found {
		t.Fatalf("Get(missing) = found %v, err %v", found, err)
	}
	for i := 0; i < 150; i++ {
		if err := c.Set(ctx, fmt.Sprintf("%s%d", prefix, i), "v", time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	v, found, err := c.Get(ctx, prefix+"7")
	if err != nil || !found || v != "v" {
		t.Fatalf("Get = %q, %v, %v", v, found, err)
	}
	n, err := c.DeleteByPattern(ctx, prefix+"*")
	if err != nil {
		t.Fatalf("DeleteByPattern: %v", err)
	}
	if n != 150 {
		t.Errorf("deleted %d keys, want 150", n)
	}
}
