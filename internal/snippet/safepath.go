// Package snippet turns retrieval matches into presentable source excerpts
// with file citations. Extraction reads the file on disk when it is still
// there and falls back to the indexed chunk text when it is not.
package snippet

import (
	"os"
	"path/filepath"
	"strings"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

// ResolveWithin resolves rel against root and returns the absolute path,
// verifying that the final target stays inside root after symlinks are
// followed. Every escape attempt fails with ERR_409_PATH_TRAVERSAL; a path
// that simply does not exist fails with os.ErrNotExist so callers can fall
// back to stored chunk text.
func ResolveWithin(root, rel string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rootResolved, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", err
	}

	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", engerr.PathTraversal(rel)
	}

	candidate := filepath.Join(rootResolved, cleaned)
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return "", os.ErrNotExist
		}
		return "", err
	}

	inside, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", engerr.PathTraversal(rel)
	}
	if inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", engerr.PathTraversal(rel)
	}
	return resolved, nil
}
