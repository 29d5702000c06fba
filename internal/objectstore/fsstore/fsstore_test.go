package fsstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

func seed(t *testing.T, root, bucket, key, content string) {
	t.Helper()
	p := filepath.Join(root, bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestListAndFetch(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "src", "b", "two")
	seed(t, root, "src", "a", "one")
	seed(t, root, "src", "dir/c", "three")
	s := New(root, false)
	ctx := context.Background()

	keys, err := s.ListKeys(ctx, "src")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "dir/c"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	dest := filepath.Join(t.TempDir(), "in")
	path, err := s.Fetch(ctx, "src", "dir/c", dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if path != filepath.Join(dest, "dir", "c") {
		t.Errorf("path = %q", path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "three" {
		t.Errorf("content = %q", data)
	}
}

func TestFetchErrors(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "src", "a", "one")
	s := New(root, false)
	ctx := context.Background()
	dest := t.TempDir()

	if _, err := s.Fetch(ctx, "src", "missing", dest); !errors.Is(err, pipelineerrors.ErrNotFound) {
		t.Errorf("missing key: got %v, want ErrNotFound", err)
	}
	if _, err := s.Fetch(ctx, "src", "../escape", dest); !errors.Is(err, pipelineerrors.ErrTransfer) {
		t.Errorf("escaping key: got %v, want ErrTransfer", err)
	}
	if _, err := s.ListKeys(ctx, "nobucket"); !errors.Is(err, pipelineerrors.ErrNotFound) {
		t.Errorf("missing bucket: got %v, want ErrNotFound", err)
	}
}

func TestPutSkipsExisting(t *testing.T) {
	root := t.TempDir()
	s := New(root, true)
	ctx := context.Background()
	if err := s.EnsureBucket(ctx, "dst"); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	local := filepath.Join(t.TempDir(), "cat")
	os.WriteFile(local, []byte("cat u,1 "), 0644)

	res, err := s.Put(ctx, "dst", "cat", local)
	if err != nil || res.Skipped {
		t.Fatalf("first Put = %+v, %v", res, err)
	}
	res, err = s.Put(ctx, "dst", "cat", local)
	if err != nil || !res.Skipped {
		t.Fatalf("second Put = %+v, %v; want skipped", res, err)
	}
	keys, _ := s.ListKeys(ctx, "dst")
	if diff := cmp.Diff([]string{"cat"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestPutWithoutBucket(t *testing.T) {
	s := New(t.TempDir(), false)
	local := filepath.Join(t.TempDir(), "cat")
	os.WriteFile(local, []byte("x"), 0644)
	if _, err := s.Put(context.Background(), "nobucket", "cat", local); !errors.Is(err, pipelineerrors.ErrTransfer) {
		t.Errorf("got %v, want ErrTransfer", err)
	}
}

func TestEnsureBucketProvisioningFailure(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "taken"), []byte("file"), 0644); err != nil {
		t.Fatal(err)
	}
	s := New(root, false)
	if err := s.EnsureBucket(context.Background(), "taken"); !errors.Is(err, pipelineerrors.ErrProvisioning) {
		t.Errorf("got %v, want ErrProvisioning", err)
	}
}

func TestCheckBucket(t *testing.T) {
	s := New(t.TempDir(), false)
	ctx := context.Background()
	if err := s.CheckBucket(ctx, "src"); !errors.Is(err, pipelineerrors.ErrNotFound) {
		t.Errorf("missing bucket: got %v, want ErrNotFound", err)
	}
	if err := s.EnsureBucket(ctx, "src"); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if err := s.CheckBucket(ctx, "src"); err != nil {
		t.Errorf("CheckBucket after EnsureBucket: %v", err)
	}
}
