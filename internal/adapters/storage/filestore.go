package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/manthysbr/mangaqueue/internal/core/ports"
)

const imageExt = ".jpg"

// FileStore keeps submitted images in saveDir and backend output in translatedDir.
// Files are named after the job ID.
type FileStore struct {
	saveDir       string
	translatedDir string
}

var _ ports.ArtifactStore = (*FileStore)(nil)

func NewFileStore(saveDir, translatedDir string) (*FileStore, error) {
	s := &FileStore{saveDir: saveDir, translatedDir: translatedDir}
	for _, dir := range []string{saveDir, translatedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
		}
	}
	return s, nil
}

// SaveSource writes at most limit bytes of r. Empty input is ErrPhotoMissing,
// anything longer than limit is ErrPhotoTooBig.
func (s *FileStore) SaveSource(ctx context.Context, id domain.JobID, r io.Reader, limit int64) (domain.Artifact, error) {
	if r == nil {
		return domain.Artifact{}, domain.ErrPhotoMissing
	}
	if err := id.Validate(); err != nil {
		return domain.Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
	}

	name := string(id) + imageExt
	path := filepath.Join(s.saveDir, name)

	tmp, err := os.CreateTemp(s.saveDir, "upload-*")
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	closeErr := tmp.Close()
	switch {
	case err != nil:
		return domain.Artifact{}, fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
	case closeErr != nil:
		return domain.Artifact{}, fmt.Errorf("%w: %v", domain.ErrSaveFailed, closeErr)
	case n == 0:
		return domain.Artifact{}, domain.ErrPhotoMissing
	case n > limit:
		return domain.Artifact{}, fmt.Errorf("%w: larger than %d bytes", domain.ErrPhotoTooBig, limit)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
	}

	return domain.Artifact{Name: name, Path: path, Size: n}, nil
}

func (s *FileStore) Source(id domain.JobID) (domain.Artifact, error) {
	if err := id.Validate(); err != nil {
		return domain.Artifact{}, err
	}
	name := string(id) + imageExt
	path := filepath.Join(s.saveDir, name)

	info, err := os.Stat(path)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("source image of %s: %w", id, err)
	}
	return domain.Artifact{Name: name, Path: path, Size: info.Size()}, nil
}

func (s *FileStore) SaveTranslated(ctx context.Context, id domain.JobID, data []byte) (domain.Artifact, error) {
	if err := id.Validate(); err != nil {
		return domain.Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}

	name := string(id) + imageExt
	path := filepath.Join(s.translatedDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.Artifact{}, fmt.Errorf("failed writing translated image: %w", err)
	}
	return domain.Artifact{Name: name, Path: path, Size: int64(len(data))}, nil
}

// OpenTranslated opens a file in the translated dir. It refuses anything
// that resolves outside of it.
func (s *FileStore) OpenTranslated(name string) (io.ReadCloser, error) {
	path, err := s.resolve(s.translatedDir, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("translated image not found: %w", err)
	}
	return f, nil
}

// Discard removes the source and translated files of a job. Missing files are ignored.
func (s *FileStore) Discard(id domain.JobID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	name := string(id) + imageExt

	var errs []error
	for _, dir := range []string{s.saveDir, s.translatedDir} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) resolve(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.Join(dir, name))
	rel, err := filepath.Rel(dir, clean)
	if err != nil || filepath.IsAbs(rel) || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid file path %q: directory traversal detected", name)
	}
	return clean, nil
}
