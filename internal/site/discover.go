package site

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	uerrors "github.com/conneroisu/unifee/internal/errors"
)

// Discover returns every .html file under root, sorted. Directories whose
// name matches an entry of skip (exact name or filepath.Match pattern) are
// not descended into, nor is exclude when it lies strictly inside root.
// Dot directories are searched.
func Discover(root string, skip []string, exclude string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, uerrors.NewInternalError("resolving target directory", err)
	}
	if exclude != "" {
		if exclude, err = filepath.Abs(exclude); err != nil {
			return nil, uerrors.NewInternalError("resolving output directory", err)
		}
	}

	var pages []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subtrees are skipped rather than failing discovery.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if skipped(d.Name(), skip) || path == exclude {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.EqualFold(filepath.Ext(path), ".html") {
			pages = append(pages, path)
		}
		return nil
	})
	if err != nil {
		return nil, uerrors.NewConfigError("cannot read target directory " + root + ": " + err.Error())
	}

	slices.Sort(pages)
	return pages, nil
}

func skipped(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if name == pattern {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
