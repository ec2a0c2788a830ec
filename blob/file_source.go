package blob

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// FileSource is a Source backed by a local filesystem directory. Names are
// joined onto the directory with filepath.Join, so a name containing "/"
// (as chunk keys do, "<readerPath>/<chunkID>") lands in a subdirectory that
// Put creates on demand.
type FileSource struct {
	dir string
}

// NewFileSource returns a FileSource rooted at dir. dir is created if it
// does not already exist.
func NewFileSource(dir string) (*FileSource, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating blob directory %q", dir)
	}
	return &FileSource{dir: dir}, nil
}

// Get implements Source.
func (s *FileSource) Get(_ context.Context, name string) ([]byte, error) {
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "blob %q", name)
		}
		return nil, errors.Wrapf(err, "reading blob %q", name)
	}
	return b, nil
}

// Put implements Source.
func (s *FileSource) Put(_ context.Context, name string, data []byte) error {
	p := s.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "creating parent directory for blob %q", name)
	}

	f, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file for blob %q", name)
	}
	defer utils.UncheckedErrorFunc(func() error { return os.Remove(f.Name()) })

	if _, err := f.Write(data); err != nil {
		utils.UncheckedErrorFunc(f.Close)
		return errors.Wrapf(err, "writing blob %q", name)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing blob %q", name)
	}
	if err := os.Rename(f.Name(), p); err != nil {
		return errors.Wrapf(err, "finalizing blob %q", name)
	}
	return nil
}

func (s *FileSource) path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}
