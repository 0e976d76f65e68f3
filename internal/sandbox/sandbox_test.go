package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestContainRelative(t *testing.T) {
	root := t.TempDir()

	resolved, err := Contain(root, "artifacts/out.wasm")
	if err != nil {
		t.Fatalf("Contain: %v", err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	expected := filepath.Join(realRoot, "artifacts/out.wasm")
	if resolved != expected {
		t.Errorf("got %q, want %q", resolved, expected)
	}
}

func TestContainAbsoluteInsideRoot(t *testing.T) {
	root := t.TempDir()

	resolved, err := Contain(root, filepath.Join(root, "a", "b.wasm"))
	if err != nil {
		t.Fatalf("Contain: %v", err)
	}
	realRoot, _ := filepath.EvalSymlinks(root)
	if resolved != filepath.Join(realRoot, "a", "b.wasm") {
		t.Errorf("got %q", resolved)
	}
}

func TestContainRootItself(t *testing.T) {
	root := t.TempDir()
	if _, err := Contain(root, "."); err != nil {
		t.Errorf("root itself should be contained: %v", err)
	}
}

func TestContainRejectsEscapes(t *testing.T) {
	root := t.TempDir()

	for _, target := range []string{"../escape.wasm", "a/../../escape.wasm", "/etc/passwd"} {
		_, err := Contain(root, target)
		var escape *EscapeError
		if !errors.As(err, &escape) {
			t.Errorf("Contain(%q) error = %v, want EscapeError", target, err)
		}
	}
}

func TestContainRejectsSiblingPrefix(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "ws")
	sibling := filepath.Join(parent, "ws2")
	for _, d := range []string{root, sibling} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := Contain(root, "../ws2/out.wasm"); err == nil {
		t.Fatal("expected sibling directory with shared prefix to be rejected")
	}
}

func TestContainRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not reliable on Windows")
	}

	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "host.wasm"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "out")); err != nil {
		t.Fatal(err)
	}

	if _, err := Contain(root, "out/host.wasm"); err == nil {
		t.Fatal("expected symlink escape to be rejected")
	}
}

func TestContainAllowsInternalSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not reliable on Windows")
	}

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "real"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	resolved, err := Contain(root, "link/out.wasm")
	if err != nil {
		t.Fatalf("Contain: %v", err)
	}
	realRoot, _ := filepath.EvalSymlinks(root)
	if resolved != filepath.Join(realRoot, "real", "out.wasm") {
		t.Errorf("got %q", resolved)
	}
}

func TestWriteFileCreatesAndOverwrites(t *testing.T) {
	root := t.TempDir()

	if err := WriteFile(root, "runs/42/plan.yaml", []byte("one"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := WriteFile(root, "runs/42/plan.yaml", []byte("two"), 0600); err != nil {
		t.Fatalf("WriteFile overwrite: %v", err)
	}

	path := filepath.Join(root, "runs", "42", "plan.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "two" {
		t.Errorf("content = %q, want %q", data, "two")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestWriteFileRejectsEscape(t *testing.T) {
	root := t.TempDir()
	if err := WriteFile(root, "../escape.yaml", []byte("x"), 0644); err == nil {
		t.Fatal("expected error for path escaping the root")
	}
}
