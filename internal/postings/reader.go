package postings

import (
	"os"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/index"
	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

// ReadFile parses a term file written by Writer.
func ReadFile(path string) (index.TermEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return index.TermEntry{}, pipelineerrors.Newf(pipelineerrors.ErrIO, path, "reading term file: %v", err)
	}
	return ParseLine(string(data))
}

// ParseLine parses one flat postings line. The URL is everything before the
// last comma of a pair, so URLs may themselves contain commas.
func ParseLine(line string) (index.TermEntry, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return index.TermEntry{}, pipelineerrors.New(pipelineerrors.ErrMalformedRecord, "", "empty postings line")
	}
	entry := index.TermEntry{
		Term:     fields[0],
		Postings: make(index.PostingList, 0, len(fields)-1),
	}
	for _, pair := range fields[1:] {
		comma := strings.LastIndexByte(pair, ',')
		if comma < 0 {
			return index.TermEntry{}, pipelineerrors.Newf(pipelineerrors.ErrMalformedRecord, entry.Term, "posting %q has no comma", pair)
		}
		tf, err := strconv.ParseFloat(pair[comma+1:], 64)
		if err != nil {
			return index.TermEntry{}, pipelineerrors.Newf(pipelineerrors.ErrMalformedRecord, entry.Term, "posting %q has invalid tf", pair)
		}
		entry.Postings = append(entry.Postings, index.Posting{URL: pair[:comma], TF: tf})
	}
	return entry, nil
}
