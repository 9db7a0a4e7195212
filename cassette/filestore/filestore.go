// Package filestore keeps one file per cassette under a directory, YAML by default so
// cassettes can be reviewed in pull requests. Files are replaced atomically.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/circleci/vcr/cassette"
)

type Config struct {
	Dir string
	// Format defaults to YAML
	Format cassette.Format
	// Compress writes zstd compressed files with a .zst suffix
	Compress bool
}

type Store struct {
	dir      string
	format   cassette.Format
	compress bool
}

func New(c Config) (*Store, error) {
	if c.Dir == "" {
		return nil, errors.New("filestore: dir is required")
	}
	format := c.Format
	if format == "" {
		format = cassette.FormatYAML
	}
	if format != cassette.FormatYAML && format != cassette.FormatJSON {
		return nil, fmt.Errorf("filestore: unknown format %q", format)
	}
	return &Store{dir: c.Dir, format: format, compress: c.Compress}, nil
}

func (s *Store) ext() string {
	ext := "." + string(s.format)
	if s.compress {
		ext += ".zst"
	}
	return ext
}

// Path returns the file a cassette is stored in. Names may contain slashes to group
// cassettes in sub directories, but must stay inside the store's directory.
func (s *Store) Path(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) || strings.ContainsRune(name, '\\') {
		return "", fmt.Errorf("filestore: invalid cassette name %q", name)
	}
	return filepath.Join(s.dir, filepath.FromSlash(name)+s.ext()), nil
}

func (s *Store) Save(_ context.Context, name string, interactions []cassette.Interaction) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	b, err := cassette.Marshal(s.format, name, interactions)
	if err != nil {
		return err
	}
	if s.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		b = enc.EncodeAll(b, nil)
		_ = enc.Close()
	}
	return writeAtomic(path, b)
}

func (s *Store) LoadAll(_ context.Context, name string) ([]cassette.Interaction, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path) // #nosec G304 - the path is validated above
	if errors.Is(err, fs.ErrNotExist) {
		return []cassette.Interaction{}, nil
	}
	if err != nil {
		return nil, err
	}
	if s.compress {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		if b, err = dec.DecodeAll(b, nil); err != nil {
			return nil, fmt.Errorf("decompress %s: %w", path, err)
		}
	}
	return cassette.Unmarshal(s.format, b)
}

func (s *Store) Delete(_ context.Context, name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List returns the names of all cassettes in the directory, in lexical order.
func (s *Store) List(_ context.Context) ([]string, error) {
	var names []string
	ext := s.ext()
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ext) {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(strings.TrimSuffix(rel, ext)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// writeAtomic writes to a temporary file next to path and renames it into place, so
// readers see either the old or the new cassette.
func writeAtomic(path string, b []byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
