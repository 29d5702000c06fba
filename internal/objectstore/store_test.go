package objectstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

func TestSelectKeys(t *testing.T) {
	keys := []string{"shard-3", "shard-1", "other", "shard-2", "shard-4"}
	cases := []struct {
		name       string
		prefix     string
		start, end int
		want       []string
	}{
		{"all", "", 0, 0, []string{"other", "shard-1", "shard-2", "shard-3", "shard-4"}},
		{"prefix", "shard-", 0, 0, []string{"shard-1", "shard-2", "shard-3", "shard-4"}},
		{"window", "shard-", 2, 3, []string{"shard-2", "shard-3"}},
		{"open end", "shard-", 4, 0, []string{"shard-4"}},
		{"past end", "shard-", 9, 12, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectKeys(keys, tc.prefix, tc.start, tc.end)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("SelectKeys mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLocalPath(t *testing.T) {
	dir := filepath.Join("base", "in")
	p, err := LocalPath(dir, "a/b.txt")
	if err != nil || p != filepath.Join(dir, "a", "b.txt") {
		t.Errorf("LocalPath = %q, %v", p, err)
	}
	for _, key := range []string{"", "..", "../x", "a/../../x"} {
		if _, err := LocalPath(dir, key); !errors.Is(err, pipelineerrors.ErrTransfer) {
			t.Errorf("LocalPath(%q) = %v, want ErrTransfer", key, err)
		}
	}
}
