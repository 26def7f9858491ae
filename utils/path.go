package utils

import (
	"path/filepath"
	"strings"
)

// IsPathWithin reports whether path sits inside root after both are made
// absolute. Symlinks are deliberately not resolved; callers that measure
// on-disk usage want the location as named, not its target.
func IsPathWithin(path, root string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	if absPath == absRoot {
		return true
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
