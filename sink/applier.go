package sink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

type (
	// Uploader receives every finished file, e.g. an S3 bucket.
	Uploader interface {
		UploadFile(ctx context.Context, key, localPath string) error
	}

	// FileApplier writes assignments into one partitioned file per relation.
	FileApplier struct {
		Dir    string
		Format Format
		RunID  string
		// Uploader is optional
		Uploader Uploader

		mu    sync.Mutex
		sinks map[string]Sink
	}

	File struct {
		Relation string
		Path     string
		Rows     int64
	}
)

func NewFileApplier(dir string, format Format, runID string) *FileApplier {
	return &FileApplier{
		Dir:    dir,
		Format: format,
		RunID:  runID,
		sinks:  make(map[string]Sink),
	}
}

func (a *FileApplier) sinkFor(rel *table.Relation) (Sink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sinks[rel.Name]; ok {
		return s, nil
	}
	s, err := Open(a.Format, a.Dir, rel, a.RunID)
	if err != nil {
		return nil, err
	}
	a.sinks[rel.Name] = s
	return s, nil
}

// ApplyAssignments appends a batch to the relation's file. Assignments must
// carry their row values.
func (a *FileApplier) ApplyAssignments(ctx context.Context, rel *table.Relation, batch []table.Assignment) error {
	s, err := a.sinkFor(rel)
	if err != nil {
		return utils.NewToolError("open partitioned file", rel.Name, err)
	}
	for _, as := range batch {
		if as.Values == nil {
			return utils.NewStateError("write partitioned file", rel.Name, fmt.Errorf("row %d has no values", as.RowNum))
		}
		if err := s.Write(as.Values, as.Partition); err != nil {
			if errors.Is(err, ErrDelimiterInValue) {
				return utils.NewConfigError("write partitioned file", rel.Name, fmt.Errorf("row %d: %w", as.RowNum, err))
			}
			return utils.NewToolError("write partitioned file", rel.Name, fmt.Errorf("row %d: %w", as.RowNum, err))
		}
	}
	return nil
}

// Finish closes every file, uploads them when an Uploader is set and returns
// them ordered by relation name.
func (a *FileApplier) Finish(ctx context.Context) ([]File, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	logger := zerolog.Ctx(ctx)

	var files []File
	var errs error
	for name, s := range a.sinks {
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, utils.NewToolError("close partitioned file", name, err))
			continue
		}
		files = append(files, File{Relation: name, Path: s.Path(), Rows: s.Rows()})
	}
	a.sinks = make(map[string]Sink)
	sort.Slice(files, func(i, j int) bool { return files[i].Relation < files[j].Relation })

	if a.Uploader != nil {
		for _, f := range files {
			key := filepath.Base(f.Path)
			if err := a.Uploader.UploadFile(ctx, key, f.Path); err != nil {
				errs = multierror.Append(errs, utils.NewStoreError("upload partitioned file", f.Relation, err))
				continue
			}
			logger.Debug().Str("relation", f.Relation).Str("key", key).Msg("uploaded partitioned file")
		}
	}
	return files, errs
}
