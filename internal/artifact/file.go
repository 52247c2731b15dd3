package artifact

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

const versionsDir = ".versions"

// File is an artifact stored at a single path on the local filesystem.
type File struct {
	path      string
	versioned bool
	now       func() time.Time
}

// FileOption configures a File artifact.
type FileOption func(*File)

// WithVersions retains the previous content under
// <dir>/.versions/<name>/<unixnano> before every overwrite.
func WithVersions() FileOption {
	return func(f *File) { f.versioned = true }
}

// NewFile returns an artifact for path. Nothing is touched on disk until Set.
func NewFile(path string, opts ...FileOption) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f := &File{path: abs, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Path returns the absolute path of the artifact.
func (f *File) Path() string { return f.path }

func (f *File) Ref() Ref { return Ref{URI: "file://" + filepath.ToSlash(f.path)} }

func (f *File) Get(ctx context.Context) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(f.Ref(), "get", err)
	}
	return &Content{Content: string(b)}, nil
}

func (f *File) Set(ctx context.Context, c Content) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return WriteResult{}, wrap(f.Ref(), "set", err)
	}

	res := WriteResult{Ref: f.Ref(), Bytes: len(c.Content)}
	if f.versioned {
		version, err := f.retain()
		if err != nil {
			return WriteResult{}, wrap(f.Ref(), "retain version", err)
		}
		res.Version = version
	}

	// Write to a sibling temp file and rename so a crash mid-write never
	// leaves a truncated artifact behind.
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return WriteResult{}, wrap(f.Ref(), "set", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(c.Content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return WriteResult{}, wrap(f.Ref(), "set", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return WriteResult{}, wrap(f.Ref(), "set", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return WriteResult{}, wrap(f.Ref(), "set", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return WriteResult{}, wrap(f.Ref(), "set", err)
	}
	return res, nil
}

func (f *File) Del(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap(f.Ref(), "del", err)
	}
	return nil
}

// Versions lists retained version paths, oldest first.
func (f *File) Versions() ([]string, error) {
	dir := f.versionDir()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return versionKey(out[i]) < versionKey(out[j])
	})
	return out, nil
}

func (f *File) versionDir() string {
	return filepath.Join(filepath.Dir(f.path), versionsDir, filepath.Base(f.path))
}

// retain copies the current content into the version directory. It returns
// "" when there is nothing to retain.
func (f *File) retain() (string, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	dir := f.versionDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ts := f.now().UnixNano()
	name := filepath.Join(dir, strconv.FormatInt(ts, 10))
	// Two writes inside one clock tick must not collide.
	for {
		if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
			break
		}
		ts++
		name = filepath.Join(dir, strconv.FormatInt(ts, 10))
	}
	if err := os.WriteFile(name, b, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

func versionKey(path string) int64 {
	n, _ := strconv.ParseInt(filepath.Base(path), 10, 64)
	return n
}
