package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type memBackend struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failGet bool
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", false, errors.New("connection refused")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memBackend) DeleteByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func newTestLedger(b *memBackend) *Ledger {
	return New(b, time.Hour)
}

func TestLedgerRecordAndUnchanged(t *testing.T) {
	b := newMemBackend()
	l := newTestLedger(b)
	ctx := context.Background()

	if l.Unchanged(ctx, "dest", "cat", "abc") {
		t.Fatal("empty ledger reported unchanged")
	}
	l.Record(ctx, "dest", "cat", "abc")
	if !l.Unchanged(ctx, "dest", "cat", "abc") {
		t.Error("recorded checksum not reported unchanged")
	}
	if l.Unchanged(ctx, "dest", "cat", "def") {
		t.Error("different checksum reported unchanged")
	}
	if l.Unchanged(ctx, "other", "cat", "abc") {
		t.Error("entry leaked across buckets")
	}
	if got := b.ttls["tfi:upload:dest:cat"]; got != time.Hour {
		t.Errorf("ttl = %v, want 1h", got)
	}
}

func TestLedgerLookupFailureMeansChanged(t *testing.T) {
	b := newMemBackend()
	l := newTestLedger(b)
	ctx := context.Background()
	l.Record(ctx, "dest", "cat", "abc")
	b.failGet = true
	if l.Unchanged(ctx, "dest", "cat", "abc") {
		t.Error("backend failure must not skip the upload")
	}
}

func TestLedgerReset(t *testing.T) {
	b := newMemBackend()
	l := newTestLedger(b)
	ctx := context.Background()
	l.Record(ctx, "dest", "a", "1")
	l.Record(ctx, "dest", "b", "2")
	l.Record(ctx, "keep", "a", "3")

	n, err := l.Reset(ctx, "dest")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d entries, want 2", n)
	}
	if !l.Unchanged(ctx, "keep", "a", "3") {
		t.Error("Reset removed another bucket's entry")
	}
}

func TestNilLedger(t *testing.T) {
	var l *Ledger
	if l.Unchanged(context.Background(), "b", "k", "s") {
		t.Error("nil ledger reported unchanged")
	}
	l.Record(context.Background(), "b", "k", "s")
}

func TestChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	sum, err := Checksum(path)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if sum != want {
		t.Errorf("Checksum = %s, want %s", sum, want)
	}
}
