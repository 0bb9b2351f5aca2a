package files

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// CopyFile copies src to dst and sets dst's mode to perm.
func CopyFile(src, dst string, perm os.FileMode) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "failed to open source file")
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return errors.Wrap(err, "failed to create destination file")
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return errors.Wrap(err, "failed to copy data")
	}
	if err := destFile.Chmod(perm); err != nil {
		return errors.Wrap(err, "failed to chmod destination file")
	}
	if err := destFile.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync destination file")
	}
	return nil
}
