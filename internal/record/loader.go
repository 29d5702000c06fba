package record

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/executor"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/objectstore"
	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

// maxLineSize bounds a single raw line. Shard lines for large documents run
// well past bufio's 64 KiB default.
const maxLineSize = 16 << 20

// LineError reports a malformed line without abandoning the rest of its file.
type LineError struct {
	Path string
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// FileRecords is everything parsed from one shard file.
type FileRecords struct {
	Path       string
	Records    []DocumentRecord
	LineErrors []*LineError
}

// LoadFile parses every non-blank line of path. Malformed lines are collected
// in LineErrors; only a failure to read the file itself is returned as error.
func LoadFile(path string) (*FileRecords, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pipelineerrors.Newf(pipelineerrors.ErrIO, path, "opening shard: %v", err)
	}
	defer f.Close()

	out := &FileRecords{Path: path}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := Parse(line)
		if err != nil {
			out.LineErrors = append(out.LineErrors, &LineError{Path: path, Line: lineNo, Err: err})
			continue
		}
		out.Records = append(out.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, pipelineerrors.Newf(pipelineerrors.ErrIO, path, "reading shard at line %d: %v", lineNo+1, err)
	}
	return out, nil
}

// Loaded is the merged output of LoadDir.
type Loaded struct {
	Records    []DocumentRecord
	LineErrors []*LineError
	Files      executor.Summary
}

// LoadDir parses every regular file under dir (recursively) with at most
// maxConcurrency files in flight. Records are returned in file-name order so
// downstream output is reproducible for a fixed input directory.
func LoadDir(ctx context.Context, dir string, maxConcurrency int, opts ...executor.Option[string, *FileRecords]) (*Loaded, error) {
	paths, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("component", "record-loader")
	results := executor.RunAll(ctx, paths, maxConcurrency, func(_ context.Context, path string) (*FileRecords, error) {
		return LoadFile(path)
	}, opts...)

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	loaded := &Loaded{Files: executor.Summarize("load", results, func(p string) string { return p })}
	for _, r := range results {
		if r.Err != nil {
			logger.Error("failed to load shard", "path", r.Item, "error", r.Err)
			continue
		}
		loaded.Records = append(loaded.Records, r.Value.Records...)
		for _, le := range r.Value.LineErrors {
			logger.Warn("dropping malformed record", "path", le.Path, "line", le.Line, "error", le.Err)
		}
		loaded.LineErrors = append(loaded.LineErrors, r.Value.LineErrors...)
	}
	logger.Info("shards loaded",
		"files", loaded.Files.Total,
		"failed_files", loaded.Files.Failed,
		"records", len(loaded.Records),
		"malformed_lines", len(loaded.LineErrors),
	)
	return loaded, nil
}

// listFiles returns the shard files under dir, leaving out partial downloads.
func listFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && !objectstore.IsPartial(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, pipelineerrors.Newf(pipelineerrors.ErrIO, dir, "listing input directory: %v", err)
	}
	sort.Strings(paths)
	return paths, nil
}
