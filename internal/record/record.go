// Package record parses raw term-count lines into DocumentRecords.
//
// A raw line is a document key followed by whitespace-separated triples
// (term, separator, value). The reserved terms __url__ and __max__ carry the
// document's source URL and its maximum raw term count; every other triple is
// a term and its count.
package record

import (
	"strconv"
	"strings"

	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

const (
	URLMarker = "__url__"
	MaxMarker = "__max__"
	// tripleWidth is the number of tokens per (term, separator, value) entry.
	tripleWidth = 3
)

// DocumentRecord is one parsed raw line. It is not modified after Parse
// returns it.
type DocumentRecord struct {
	Key        string
	URL        string
	HasURL     bool
	MaxCount   int
	HasMax     bool
	TermCounts map[string]int
}

// Parse converts one raw line into a DocumentRecord. It fails with
// errors.ErrMalformedRecord when the line is empty, a triple is truncated, or
// a count is not a non-negative integer.
func Parse(line string) (DocumentRecord, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return DocumentRecord{}, pipelineerrors.New(pipelineerrors.ErrMalformedRecord, "", "line has no tokens")
	}
	rec := DocumentRecord{
		Key:        tokens[0],
		TermCounts: make(map[string]int, (len(tokens)-1)/tripleWidth),
	}
	for i := 1; i < len(tokens); i += tripleWidth {
		term := tokens[i]
		if len(tokens)-i < tripleWidth {
			return DocumentRecord{}, pipelineerrors.Newf(pipelineerrors.ErrMalformedRecord, rec.Key,
				"term %q at token %d has no value", term, i)
		}
		value := tokens[i+2]
		switch term {
		case URLMarker:
			rec.URL = value
			rec.HasURL = true
		case MaxMarker:
			n, err := strconv.Atoi(value)
			if err != nil {
				return DocumentRecord{}, pipelineerrors.Newf(pipelineerrors.ErrMalformedRecord, rec.Key,
					"%s value %q is not an integer", MaxMarker, value)
			}
			rec.MaxCount = n
			rec.HasMax = true
		default:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return DocumentRecord{}, pipelineerrors.Newf(pipelineerrors.ErrMalformedRecord, rec.Key,
					"count %q for term %q is not a non-negative integer", value, term)
			}
			rec.TermCounts[term] = n
		}
	}
	return rec, nil
}
