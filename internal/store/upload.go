package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/dmorgan81/stableimage/internal/log"
	"github.com/samber/do"
)

type UploadParams struct {
	Name        string
	Data        []byte
	ContentType string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// FileUploader writes to the local filesystem. The destination is replaced
// only once every byte is on disk; missing directories are not created.
type FileUploader struct {
	createTemp func(dir, pattern string) (*os.File, error)
}

func NewFileUploader(*do.Injector) (Uploader, error) {
	return &FileUploader{}, nil
}

func (u *FileUploader) Upload(ctx context.Context, params UploadParams) (err error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("file").With("name", params.Name)
	log.Info("writing", "content-type", params.ContentType, "bytes", len(params.Data))

	createTemp := os.CreateTemp
	if u.createTemp != nil {
		createTemp = u.createTemp
	}

	f, err := createTemp(filepath.Dir(params.Name), "."+filepath.Base(params.Name)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			log.Warn("discarding partial write", "error", err)
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(params.Data); err != nil {
		return errors.Join(err, f.Close())
	}
	if err = f.Chmod(0644); err != nil {
		return errors.Join(err, f.Close())
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), params.Name)
}
