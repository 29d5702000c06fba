package executor

import (
	"fmt"
	"sort"
)

// Summary is the per-stage tally reported to the user and to retry tooling.
type Summary struct {
	Stage       string   `json:"stage"`
	Total       int      `json:"total"`
	Succeeded   int      `json:"succeeded"`
	Failed      int      `json:"failed"`
	FailedItems []string `json:"failed_items,omitempty"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: %d/%d succeeded, %d failed", s.Stage, s.Succeeded, s.Total, s.Failed)
}

// Summarize counts successes and failures in results. id names an item for
// the FailedItems list; a nil id falls back to the item's input index.
func Summarize[T, R any](stage string, results []Result[T, R], id func(T) string) Summary {
	s := Summary{Stage: stage, Total: len(results)}
	for _, r := range results {
		if r.Err == nil {
			s.Succeeded++
			continue
		}
		s.Failed++
		if id != nil {
			s.FailedItems = append(s.FailedItems, id(r.Item))
		} else {
			s.FailedItems = append(s.FailedItems, fmt.Sprintf("#%d", r.Index))
		}
	}
	sort.Strings(s.FailedItems)
	return s
}

// Failures returns only the failed results.
func Failures[T, R any](results []Result[T, R]) []Result[T, R] {
	var out []Result[T, R]
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
