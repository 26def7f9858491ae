package bundle

import (
	"os"
	"path/filepath"
	"testing"
)

func makeBundle(t *testing.T, root, name string) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Join(path, "Contents"), 0o755); err != nil {
		t.Fatalf("mkdir bundle: %v", err)
	}
	return path
}

func TestResolveTargetedPath(t *testing.T) {
	root := t.TempDir()
	path := makeBundle(t, root, "Safari.app")

	ids, err := Resolve(path, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 identity, got %d", len(ids))
	}
	if ids[0].Name != "Safari" {
		t.Errorf("expected name Safari, got %s", ids[0].Name)
	}
	if ids[0].Path != path {
		t.Errorf("expected path %s, got %s", path, ids[0].Path)
	}
	if ids[0].Modified.IsZero() {
		t.Error("expected modified time to be populated")
	}
}

func TestResolveTargetedPathMissing(t *testing.T) {
	ids, err := Resolve(filepath.Join(t.TempDir(), "Ghost.app"), nil)
	if err != nil {
		t.Fatalf("missing path must not be an error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty result, got %+v", ids)
	}
}

func TestResolveTargetedPathNotABundle(t *testing.T) {
	root := t.TempDir()
	plain := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(plain, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	ids, err := Resolve(plain, nil)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty result for non-bundle path, got %+v, %v", ids, err)
	}
	dir := filepath.Join(root, "Documents")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ids, err = Resolve(dir, nil)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty result for plain directory, got %+v, %v", ids, err)
	}
}

func TestResolveRelativePathInWorkingDirectory(t *testing.T) {
	root := t.TempDir()
	makeBundle(t, root, "Foo.app")
	t.Chdir(root)

	// The roots hold nothing named Foo; the cwd bundle must still win.
	other := t.TempDir()
	ids, err := Resolve("Foo.app", []string{other})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 identity, got %+v", ids)
	}
	if ids[0].Name != "Foo" {
		t.Errorf("expected name Foo, got %s", ids[0].Name)
	}
	if !filepath.IsAbs(ids[0].Path) {
		t.Errorf("expected absolute path, got %s", ids[0].Path)
	}
}

func TestResolveByNameCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	path := makeBundle(t, root, "Xcode.app")

	ids, err := Resolve("xcode", []string{root})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(ids) != 1 || ids[0].Path != path {
		t.Fatalf("unexpected identities: %+v", ids)
	}

	ids, err = Resolve("XCODE.APP", []string{root})
	if err != nil {
		t.Fatalf("Resolve with suffix failed: %v", err)
	}
	if len(ids) != 1 || ids[0].Name != "Xcode" {
		t.Fatalf("unexpected identities: %+v", ids)
	}
}

func TestResolveByNameNotFound(t *testing.T) {
	root := t.TempDir()
	makeBundle(t, root, "Xcode.app")
	ids, err := Resolve("Safari", []string{root})
	if err != nil {
		t.Fatalf("no match must not be an error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty result, got %+v", ids)
	}
}

func TestEnumerateSkipsNonBundlesAndBadRoots(t *testing.T) {
	root := t.TempDir()
	a := makeBundle(t, root, "Alpha.app")
	b := makeBundle(t, root, "Beta.app")
	if err := os.Mkdir(filepath.Join(root, "Utilities"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.app"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ids, err := Resolve("", []string{root, filepath.Join(root, "missing")})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 identities, got %+v", ids)
	}
	if ids[0].Path != a || ids[1].Path != b {
		t.Errorf("unexpected order: %+v", ids)
	}
}

func TestEnumerateDeduplicatesRoots(t *testing.T) {
	root := t.TempDir()
	makeBundle(t, root, "Alpha.app")

	ids, err := Resolve("", []string{root, root})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected deduplicated result, got %+v", ids)
	}
}
