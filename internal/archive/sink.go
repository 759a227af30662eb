package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/dshills/plugsync/internal/fsys"
)

// ErrNotExist is returned by Get when the archive is missing.
var ErrNotExist = errors.New("archive does not exist")

// Sink stores one archive blob.
type Sink interface {
	Put(ctx context.Context, data []byte) error
	Get(ctx context.Context) ([]byte, error)
	String() string
}

// Target is a parsed archive location.
type Target struct {
	// Bucket is set for s3:// targets.
	Bucket string

	// Key is the object key of s3:// targets or the file path otherwise.
	Key string
}

// ParseTarget parses "s3://bucket/key" or a file path.
func ParseTarget(s string) (Target, error) {
	rest, ok := strings.CutPrefix(s, "s3://")
	if !ok {
		if s == "" {
			return Target{}, errors.New("empty archive target")
		}
		return Target{Key: s}, nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return Target{}, fmt.Errorf("invalid s3 target %q: want s3://bucket/key", s)
	}
	return Target{Bucket: bucket, Key: key}, nil
}

// IsS3 reports whether t names an S3 object.
func (t Target) IsS3() bool {
	return t.Bucket != ""
}

// Compressed reports whether the target name asks for LZ4.
func (t Target) Compressed() bool {
	return strings.HasSuffix(t.Key, ".lz4")
}

// FileSink stores the archive in a file, replacing it atomically.
type FileSink struct {
	FS   fsys.FS
	Path string
}

// Put writes data to the file.
func (f *FileSink) Put(_ context.Context, data []byte) error {
	if err := f.FS.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(f.Path), err)
	}
	if err := fsys.WriteFileAtomic(f.FS, f.Path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}

// Get reads the file.
func (f *FileSink) Get(_ context.Context) ([]byte, error) {
	data, err := f.FS.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, f.Path)
		}
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return data, nil
}

func (f *FileSink) String() string {
	return f.Path
}

var (
	_ Sink = (*FileSink)(nil)
	_ Sink = (*S3Sink)(nil)
)

// Open returns the sink for target. File targets use files; s3:// targets
// use cfg.
func Open(ctx context.Context, target string, files fsys.FS, cfg S3Config) (Sink, Target, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, Target{}, err
	}
	if !t.IsS3() {
		return &FileSink{FS: files, Path: t.Key}, t, nil
	}
	s, err := NewS3Sink(ctx, cfg, t.Bucket, t.Key)
	if err != nil {
		return nil, Target{}, err
	}
	return s, t, nil
}
