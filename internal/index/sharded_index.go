package index

import (
	"hash/fnv"
	"sort"
	"sync"
)

// ShardedIndex is the term-to-postings map shared by concurrent transform
// workers. Terms are hashed onto a fixed set of shards, each guarded by its
// own mutex, so appends to the same term are serialized while different
// shards proceed independently.
type ShardedIndex struct {
	shards []*indexShard
}

type indexShard struct {
	mu       sync.Mutex
	postings map[string]PostingList
	count    int64
}

func NewShardedIndex(numShards int) *ShardedIndex {
	if numShards < 1 {
		numShards = 1
	}
	shards := make([]*indexShard, numShards)
	for i := range shards {
		shards[i] = &indexShard{postings: make(map[string]PostingList)}
	}
	return &ShardedIndex{shards: shards}
}

func (s *ShardedIndex) shardFor(term string) *indexShard {
	h := fnv.New32a()
	h.Write([]byte(term))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// AppendAll adds one posting per term, taking each shard lock once.
func (s *ShardedIndex) AppendAll(postings map[string]Posting) {
	byShard := make(map[*indexShard][]string, len(s.shards))
	for term := range postings {
		shard := s.shardFor(term)
		byShard[shard] = append(byShard[shard], term)
	}
	for shard, terms := range byShard {
		shard.mu.Lock()
		for _, term := range terms {
			shard.postings[term] = append(shard.postings[term], postings[term])
		}
		shard.count += int64(len(terms))
		shard.mu.Unlock()
	}
}

// Snapshot copies every term's postings into TermEntries sorted by term, with
// each list sorted by URL then TF. The copies are independent of the index.
func (s *ShardedIndex) Snapshot() []TermEntry {
	entries := make([]TermEntry, 0, s.Terms())
	for _, shard := range s.shards {
		shard.mu.Lock()
		for term, src := range shard.postings {
			postings := make(PostingList, len(src))
			copy(postings, src)
			entries = append(entries, TermEntry{Term: term, Postings: postings})
		}
		shard.mu.Unlock()
	}
	for _, e := range entries {
		sortPostings(e.Postings)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

func (s *ShardedIndex) Terms() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		n += len(shard.postings)
		shard.mu.Unlock()
	}
	return n
}

func (s *ShardedIndex) Postings() int64 {
	var n int64
	for _, shard := range s.shards {
		shard.mu.Lock()
		n += shard.count
		shard.mu.Unlock()
	}
	return n
}

func sortPostings(p PostingList) {
	sort.Slice(p, func(i, j int) bool {
		if p[i].URL != p[j].URL {
			return p[i].URL < p[j].URL
		}
		return p[i].TF < p[j].TF
	})
}
