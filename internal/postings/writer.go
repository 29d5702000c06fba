// Package postings serializes term postings lists to, and reads them back
// from, the flat one-file-per-term format:
//
//	<term> <url>,<tf> <url>,<tf> ...
//
// The file is named exactly after the term and holds a single line with no
// trailing newline.
package postings

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/executor"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/index"
	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

// maxTermBytes is the longest file name most filesystems accept.
const maxTermBytes = 255

// StagingSuffix names the sibling directory term files are written into
// before being renamed into the output directory. Keeping partial files out
// of the output directory leaves every safe term name available.
const StagingSuffix = ".tfi-staging"

// Writer writes term files into one output directory.
type Writer struct {
	dir     string
	staging string
	logger  *slog.Logger
}

// NewWriter creates dir and its staging directory if needed. A directory that
// cannot be created fails the whole write stage.
func NewWriter(dir string) (*Writer, error) {
	dir = filepath.Clean(dir)
	staging := dir + StagingSuffix
	for _, d := range []string{dir, staging} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, pipelineerrors.Newf(pipelineerrors.ErrIO, d, "creating output directory: %v", err)
		}
	}
	return &Writer{
		dir:     dir,
		staging: staging,
		logger:  slog.Default().With("component", "postings-writer"),
	}, nil
}

func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the file a term is written to.
func (w *Writer) Path(term string) string {
	return filepath.Join(w.dir, term)
}

// ValidateTerm rejects terms that cannot be used verbatim as a file name.
func ValidateTerm(term string) error {
	switch {
	case term == "":
		return pipelineerrors.New(pipelineerrors.ErrInvalidTerm, term, "empty term")
	case term == "." || term == "..":
		return pipelineerrors.New(pipelineerrors.ErrInvalidTerm, term, "reserved path name")
	case len(term) > maxTermBytes:
		return pipelineerrors.Newf(pipelineerrors.ErrInvalidTerm, term[:32]+"...", "term is %d bytes, limit %d", len(term), maxTermBytes)
	case strings.ContainsAny(term, "/\\\x00"):
		return pipelineerrors.New(pipelineerrors.ErrInvalidTerm, term, "contains a path separator or NUL")
	}
	return nil
}

// Write stores postings as the file named term. The file is written in the
// staging directory and renamed so readers never observe a partial line.
func (w *Writer) Write(term string, postings index.PostingList) error {
	if err := ValidateTerm(term); err != nil {
		return err
	}
	finalPath := w.Path(term)

	f, err := os.CreateTemp(w.staging, "term-*")
	if err != nil {
		return pipelineerrors.Newf(pipelineerrors.ErrIO, term, "creating term file: %v", err)
	}
	tmpPath := f.Name()
	bw := bufio.NewWriter(f)
	writeErr := encode(bw, term, postings)
	if writeErr == nil {
		writeErr = bw.Flush()
	}
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpPath)
		return pipelineerrors.Newf(pipelineerrors.ErrIO, term, "writing term file: %v", writeErr)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return pipelineerrors.Newf(pipelineerrors.ErrIO, term, "renaming term file: %v", err)
	}
	return nil
}

// WriteAll writes every entry with at most maxConcurrency files in flight.
// A failing term is logged and skipped; the other terms are still written.
func (w *Writer) WriteAll(ctx context.Context, entries []index.TermEntry, maxConcurrency int, opts ...executor.Option[index.TermEntry, string]) []executor.Result[index.TermEntry, string] {
	results := executor.RunAll(ctx, entries, maxConcurrency, func(_ context.Context, e index.TermEntry) (string, error) {
		if err := w.Write(e.Term, e.Postings); err != nil {
			return "", err
		}
		return w.Path(e.Term), nil
	}, opts...)
	for _, r := range results {
		if r.Err != nil {
			w.logger.Error("skipping term", "term", r.Item.Term, "error", r.Err)
		}
	}
	return results
}

func encode(bw *bufio.Writer, term string, postings index.PostingList) error {
	if _, err := bw.WriteString(term); err != nil {
		return err
	}
	if err := bw.WriteByte(' '); err != nil {
		return err
	}
	var num []byte
	for _, p := range postings {
		if _, err := bw.WriteString(p.URL); err != nil {
			return err
		}
		if err := bw.WriteByte(','); err != nil {
			return err
		}
		num = strconv.AppendFloat(num[:0], p.TF, 'f', -1, 64)
		if _, err := bw.Write(num); err != nil {
			return err
		}
		if err := bw.WriteByte(' '); err != nil {
			return err
		}
	}
	return nil
}
