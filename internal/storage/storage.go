// Package storage reads uploaded files. Object storage is outside this
// service; LocalSource stands in for it with a directory tree laid out the
// same way.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("object not found")

type Source interface {
	Fetch(ctx context.Context, objectPath string) ([]byte, error)
}

// UploadPath is the deterministic object path of an upload. Only the base
// name of fileName is kept.
func UploadPath(owner, jobID, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	return path.Join(owner, jobID, base)
}

type LocalSource struct {
	Root string
}

func (s *LocalSource) Fetch(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", objectPath, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", objectPath, err)
	}
	return data, nil
}

func (s *LocalSource) resolve(objectPath string) (string, error) {
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(objectPath))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes storage root", objectPath)
	}
	return full, nil
}
