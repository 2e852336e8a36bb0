// Package archive keeps a copy of a run's output directory before the
// harness removes it.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Store saves the files under dir beneath key and returns where they went.
type Store interface {
	Save(ctx context.Context, key, dir string) (string, error)
}

// walkFiles calls fn for every regular file under dir with its slash
// separated path relative to dir.
func walkFiles(dir string, fn func(rel, path string) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), path)
	})
}

// LocalStore copies output directories below Root.
type LocalStore struct {
	Root string
}

func (l *LocalStore) Save(ctx context.Context, key, dir string) (string, error) {
	dest := filepath.Join(l.Root, filepath.FromSlash(key))
	err := walkFiles(dir, func(rel, path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return copyFile(path, filepath.Join(dest, filepath.FromSlash(rel)))
	})
	if err != nil {
		return "", fmt.Errorf("archiving %s: %w", dir, err)
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Multi saves to every store in order and stops at the first error.
type Multi []Store

func (m Multi) Save(ctx context.Context, key, dir string) ([]string, error) {
	var locations []string
	for _, s := range m {
		loc, err := s.Save(ctx, key, dir)
		if err != nil {
			return locations, err
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
