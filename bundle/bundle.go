package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/djherbis/times"

	"appsizer/logger"
)

// Identity is one discovered application bundle before any analysis
// has been performed on it.
type Identity struct {
	Name     string
	Path     string
	Modified time.Time
	Created  time.Time
}

// Resolve turns the user's selector into the set of bundles to analyze.
//
// A selector naming an existing bundle path is targeted: it resolves to
// that one directory without enumerating anything else, even when it is a
// bare relative name. Otherwise a bare name is matched case-insensitively
// against the entries of each search root, with and without the ".app"
// suffix. An empty selector enumerates every bundle under every readable
// root. A selector that matches nothing yields an empty result, not an
// error.
func Resolve(selector string, roots []string) ([]Identity, error) {
	selector = strings.TrimSpace(selector)

	if selector != "" && (strings.ContainsRune(selector, os.PathSeparator) || filepath.IsAbs(selector)) {
		return resolveTargeted(selector)
	}

	if selector != "" {
		if id, ok := statBundle(selector); ok {
			return []Identity{id}, nil
		}
		return resolveByName(selector, roots), nil
	}

	return enumerate(roots), nil
}

// statBundle reports whether path names an existing application bundle
// directory, without any search-root enumeration.
func statBundle(path string) (Identity, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Identity{}, false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() || !strings.EqualFold(filepath.Ext(abs), ".app") {
		return Identity{}, false
	}
	return newIdentity(abs), true
}

func resolveTargeted(path string) ([]Identity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid application path %q: %v", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		logger.Warnf("no application at %s: %v", abs, err)
		return nil, nil
	}
	if !info.IsDir() || !strings.EqualFold(filepath.Ext(abs), ".app") {
		logger.Warnf("%s is not an application bundle", abs)
		return nil, nil
	}
	return []Identity{newIdentity(abs)}, nil
}

// resolveByName stops at the first matching entry; non-matching bundles
// are never opened.
func resolveByName(name string, roots []string) []Identity {
	literal := strings.ToLower(name)
	suffixed := literal
	if !strings.HasSuffix(suffixed, ".app") {
		suffixed += ".app"
	}
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			logger.Debugf("skipping unreadable search root %s: %v", root, err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			got := strings.ToLower(entry.Name())
			if got == literal || got == suffixed {
				return []Identity{newIdentity(filepath.Join(root, entry.Name()))}
			}
		}
	}
	logger.Warnf("no application named %q under %s", name, strings.Join(roots, ", "))
	return nil
}

func enumerate(roots []string) []Identity {
	seen := make(map[string]bool)
	var ids []Identity
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			logger.Debugf("skipping unreadable search root %s: %v", root, err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".app") {
				continue
			}
			path := filepath.Join(root, entry.Name())
			if seen[path] {
				continue
			}
			seen[path] = true
			ids = append(ids, newIdentity(path))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Path < ids[j].Path })
	return ids
}

func newIdentity(path string) Identity {
	id := Identity{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
	}
	if ts, err := times.Stat(path); err == nil {
		id.Modified = ts.ModTime()
		if ts.HasBirthTime() {
			id.Created = ts.BirthTime()
		}
	}
	return id
}
