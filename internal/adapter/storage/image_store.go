package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/rl1809/loadout/internal/core/domain"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// DiskImageStore keeps uploaded item images in a directory served under urlPrefix.
type DiskImageStore struct {
	dir       string
	urlPrefix string
}

func NewDiskImageStore(dir, urlPrefix string) (*DiskImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskImageStore{dir: dir, urlPrefix: urlPrefix}, nil
}

func (s *DiskImageStore) SaveImage(ctx context.Context, originalName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !imageExtensions[ext] {
		return "", domain.NewValidationError("item_image", fmt.Sprintf("has unsupported extension %q", ext))
	}

	name := uuid.NewString() + ext
	target := filepath.Join(s.dir, name)

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(target)
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("close image: %w", err)
	}

	if err := ctx.Err(); err != nil {
		os.Remove(target)
		return "", err
	}

	return path.Join(s.urlPrefix, name), nil
}

// DeleteImage removes a file saved by SaveImage. Missing files are ignored.
func (s *DiskImageStore) DeleteImage(ctx context.Context, url string) error {
	name := strings.TrimPrefix(url, strings.TrimRight(s.urlPrefix, "/")+"/")
	if name == url || name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("image %q is not under %s", url, s.urlPrefix)
	}

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}
