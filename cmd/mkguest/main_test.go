package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileDuplicatesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("hello guest"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dst := filepath.Join(dir, "dst.bin")
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hello guest" {
		t.Fatalf("copied content = %q, want %q", got, "hello guest")
	}
}

func TestCopyFileMissingSourceErrors(t *testing.T) {
	dir := t.TempDir()
	if err := copyFile(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for a missing source file")
	}
}
