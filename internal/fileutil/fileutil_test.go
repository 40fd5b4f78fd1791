package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"bindery/internal/fileutil"
)

func TestExpandPathTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := fileutil.ExpandPath("~/books")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if got != filepath.Join(home, "books") {
		t.Fatalf("unexpected expansion: %s", got)
	}
}

func TestExpandPathRejectsEmpty(t *testing.T) {
	if _, err := fileutil.ExpandPath("   "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestValidateDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := fileutil.ValidateDirectory(dir); err != nil {
		t.Fatalf("expected writable directory: %v", err)
	}
	if err := fileutil.ValidateDirectory(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fileutil.ValidateDirectory(file); err == nil {
		t.Fatal("expected error for regular file")
	}
}

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "nested", "dst.bin")
	payload := []byte("page content")
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := fileutil.CopyFileVerified(src, dst); err != nil {
		t.Fatalf("CopyFileVerified failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("copied content mismatch: %q", got)
	}
}
