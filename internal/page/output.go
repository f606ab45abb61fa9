package page

import (
	"os"
	"path/filepath"
	"slices"

	uerrors "github.com/conneroisu/unifee/internal/errors"
)

// writeOutput persists data as dir/name through a temp file and rename so
// a failed write never leaves a partial file behind. Paths in protected
// are never overwritten.
func writeOutput(dir, name string, data []byte, protected []string) (string, error) {
	dest := filepath.Join(dir, name)
	if slices.Contains(protected, filepath.Clean(dest)) {
		return "", uerrors.NewOutputWriteFailure(dest,
			"refusing to overwrite a page source, choose a different output directory", nil)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", uerrors.NewOutputWriteFailure(dir, "creating output directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", uerrors.NewOutputWriteFailure(dest, "creating temp file", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", uerrors.NewOutputWriteFailure(dest, "writing output", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", uerrors.NewOutputWriteFailure(dest, "closing output", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return "", uerrors.NewOutputWriteFailure(dest, "setting output permissions", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return "", uerrors.NewOutputWriteFailure(dest, "replacing output", err)
	}

	return dest, nil
}
