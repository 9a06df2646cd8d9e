// Package extract loads the raw transaction dataset from its source file.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/TFMV/fraudpipe/frame"
	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"
)

// DefaultSource is the conventional relative location of the dataset.
const DefaultSource = "data/creditcard.csv"

// Extractor reads a delimited source file into a record.
type Extractor struct {
	path   string
	logger *zap.Logger
}

// New returns an Extractor for path, or DefaultSource when path is empty.
func New(path string, logger *zap.Logger) *Extractor {
	if path == "" {
		path = DefaultSource
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{path: path, logger: logger.Named("extract")}
}

// Path returns the source location.
func (e *Extractor) Path() string { return e.path }

// Extract reads the whole source. A missing file fails with errs.ErrNotFound
// and malformed content with errs.ErrRead.
func (e *Extractor) Extract(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(e.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("extract: source %q: %w", e.path, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("extract: failed to open %q: %w: %w", e.path, errs.ErrRead, err)
	}
	defer f.Close()

	rec, err := frame.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("extract: %q: %w", e.path, err)
	}

	e.logger.Info("Extracted source data",
		zap.String("path", e.path),
		zap.Int64("rows", rec.NumRows()),
		zap.Int64("columns", rec.NumCols()))
	return rec, nil
}
