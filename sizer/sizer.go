package sizer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"appsizer/bundle"
	"appsizer/logger"
	"appsizer/metadata"
	"appsizer/utils"
)

// Category names one class of on-disk footprint an application leaves
// behind.
type Category string

const (
	CategoryBundle       Category = "bundle"
	CategoryContainer    Category = "container"
	CategorySupport      Category = "support"
	CategoryCache        Category = "cache"
	CategoryPreferences  Category = "preferences"
	CategoryCrashReports Category = "crash_reports"
)

// Categories is the fixed reporting order.
var Categories = []Category{
	CategoryBundle,
	CategoryContainer,
	CategorySupport,
	CategoryCache,
	CategoryPreferences,
	CategoryCrashReports,
}

// CategoryUsage is the measured footprint of one category.
type CategoryUsage struct {
	Category Category
	Bytes    int64
	Roots    []string
}

// Result is the full six-category breakdown for one application.
type Result struct {
	Categories []CategoryUsage
	Total      int64
	Unreadable int
}

// Sizer measures application footprints under one Library directory.
// The directory is injectable so tests do not touch the real user home.
type Sizer struct {
	LibraryDir string
}

// New builds a Sizer rooted at libraryDir. An empty libraryDir falls back
// to ~/Library.
func New(libraryDir string) *Sizer {
	if libraryDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			libraryDir = filepath.Join(home, "Library")
		}
	}
	return &Sizer{LibraryDir: libraryDir}
}

// Size measures every category for the given application. Unreadable
// entries count as zero bytes and are tallied, never fatal. The only
// error returned is context cancellation.
func (s *Sizer) Size(ctx context.Context, id bundle.Identity, info metadata.Info) (Result, error) {
	res := Result{Categories: make([]CategoryUsage, 0, len(Categories))}
	for _, cat := range Categories {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		roots := dedupeRoots(s.locate(cat, id, info))
		usage := CategoryUsage{Category: cat, Roots: roots}
		for _, root := range roots {
			bytes, unreadable := measure(ctx, root)
			usage.Bytes += bytes
			res.Unreadable += unreadable
		}
		res.Total += usage.Bytes
		res.Categories = append(res.Categories, usage)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// locate returns the candidate on-disk locations for one category. Only
// locations that exist are returned.
func (s *Sizer) locate(cat Category, id bundle.Identity, info metadata.Info) []string {
	switch cat {
	case CategoryBundle:
		return existing(id.Path)
	case CategoryContainer:
		if info.BundleID == "" {
			return nil
		}
		return existing(filepath.Join(s.LibraryDir, "Containers", info.BundleID))
	case CategorySupport:
		return s.namedLocations("Application Support", id, info)
	case CategoryCache:
		return s.namedLocations("Caches", id, info)
	case CategoryPreferences:
		return s.prefixedFiles("Preferences", info.BundleID, ".")
	case CategoryCrashReports:
		return s.prefixedFiles(filepath.Join("Logs", "DiagnosticReports"), displayName(id, info), "-", "_")
	}
	return nil
}

// namedLocations finds directories under Library/<dir> that belong to the
// application: an exact bundle-identifier match, an exact name match, and
// any directory whose name extends the bundle identifier.
func (s *Sizer) namedLocations(dir string, id bundle.Identity, info metadata.Info) []string {
	base := filepath.Join(s.LibraryDir, dir)
	var roots []string
	roots = append(roots, existing(filepath.Join(base, displayName(id, info)))...)
	if info.BundleID == "" {
		return roots
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return roots
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if entry.Name() == info.BundleID || strings.HasPrefix(entry.Name(), info.BundleID+".") {
			roots = append(roots, filepath.Join(base, entry.Name()))
		}
	}
	return roots
}

// prefixedFiles finds entries under Library/<dir> whose name starts with
// the prefix followed by one of the separators. The separator keeps a
// sibling application from being absorbed: com.example.app must not claim
// com.example.apple.plist, and Safari must not claim
// SafariTechnologyPreview crash logs.
func (s *Sizer) prefixedFiles(dir, prefix string, seps ...string) []string {
	if prefix == "" {
		return nil
	}
	base := filepath.Join(s.LibraryDir, dir)
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil
	}
	var roots []string
	for _, entry := range entries {
		for _, sep := range seps {
			if strings.HasPrefix(entry.Name(), prefix+sep) {
				roots = append(roots, filepath.Join(base, entry.Name()))
				break
			}
		}
	}
	return roots
}

// measure sums regular file sizes under root without following symlinks.
func measure(ctx context.Context, root string) (int64, int) {
	var total int64
	var unreadable int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			logger.Debugf("unreadable entry %s: %v", path, err)
			unreadable++
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			unreadable++
			return nil
		}
		total += fi.Size()
		return nil
	})
	if err != nil && !isCancel(err) {
		logger.Debugf("walk aborted for %s: %v", root, err)
		unreadable++
	}
	return total, unreadable
}

func isCancel(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

// dedupeRoots drops duplicates and any root nested inside another so no
// file is counted twice.
func dedupeRoots(roots []string) []string {
	if len(roots) < 2 {
		return roots
	}
	sort.Strings(roots)
	out := roots[:0]
	for _, root := range roots {
		nested := false
		for _, kept := range out {
			if utils.IsPathWithin(root, kept) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, root)
		}
	}
	return out
}

func existing(path string) []string {
	if _, err := os.Lstat(path); err != nil {
		return nil
	}
	return []string{path}
}

func displayName(id bundle.Identity, info metadata.Info) string {
	if info.Name != "" {
		return info.Name
	}
	return id.Name
}
