package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func postingsFor(entries []TermEntry, term string) PostingList {
	for _, e := range entries {
		if e.Term == term {
			return e.Postings
		}
	}
	return nil
}

func TestShardedIndexConcurrentAppends(t *testing.T) {
	idx := NewShardedIndex(8)
	const workers, perWorker = 16, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				term := fmt.Sprintf("term-%d", i%10)
				idx.AppendAll(map[string]Posting{
					"shared": {URL: fmt.Sprintf("u-%d-%d", w, i), TF: 0.5},
					term:     {URL: fmt.Sprintf("u-%d", w), TF: 1},
				})
			}
		}(w)
	}
	wg.Wait()

	snap := idx.Snapshot()
	if got := len(postingsFor(snap, "shared")); got != workers*perWorker {
		t.Errorf("shared postings = %d, want %d (lost updates)", got, workers*perWorker)
	}
	if got := idx.Terms(); got != 11 {
		t.Errorf("Terms() = %d, want 11", got)
	}
	if got := idx.Postings(); got != 2*workers*perWorker {
		t.Errorf("Postings() = %d, want %d", got, 2*workers*perWorker)
	}
}

func TestShardedIndexSnapshotIsSortedAndDetached(t *testing.T) {
	idx := NewShardedIndex(4)
	idx.AppendAll(map[string]Posting{
		"zebra": {URL: "b", TF: 0.75},
		"apple": {URL: "b", TF: 1},
	})
	idx.AppendAll(map[string]Posting{"zebra": {URL: "a", TF: 0.5}})
	idx.AppendAll(map[string]Posting{"zebra": {URL: "", TF: 0.9}})

	snap := idx.Snapshot()
	want := []TermEntry{
		{Term: "apple", Postings: PostingList{{URL: "b", TF: 1}}},
		{Term: "zebra", Postings: PostingList{{URL: "", TF: 0.9}, {URL: "a", TF: 0.5}, {URL: "b", TF: 0.75}}},
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	snap[1].Postings[0].URL = "mutated"
	if got := postingsFor(idx.Snapshot(), "zebra")[0].URL; got != "" {
		t.Errorf("snapshot shares memory with the index: first URL %q", got)
	}
}

func BenchmarkShardedIndexAppendParallel(b *testing.B) {
	idx := NewShardedIndex(32)
	terms := make([]string, 1024)
	for i := range terms {
		terms[i] = fmt.Sprintf("term-%d", i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			idx.AppendAll(map[string]Posting{terms[i%len(terms)]: {URL: "u", TF: 0.5}})
			i++
		}
	})
}
