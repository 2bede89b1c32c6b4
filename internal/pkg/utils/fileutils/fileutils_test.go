package fileutils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	want := []byte("hello across mounts")
	if err := os.WriteFile(src, want, 0600); err != nil {
		t.Fatal(err)
	}
	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("CopyFile() copied %q, want %q", got, want)
	}
	// Source must be untouched.
	if _, err := os.Stat(src); err != nil {
		t.Errorf("CopyFile() removed the source: %v", err)
	}
}

func TestMoveAcrossMounts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := os.WriteFile(src, want, 0600); err != nil {
		t.Fatal(err)
	}
	if err := MoveAcrossMounts(src, dst); err != nil {
		t.Fatalf("MoveAcrossMounts() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("MoveAcrossMounts() moved %v, want %v", got, want)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("MoveAcrossMounts() left the source behind")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "present")
	if err := os.WriteFile(f, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		path string
		want bool
	}{
		{name: "present file", path: f, want: true},
		{name: "missing file", path: filepath.Join(dir, "absent"), want: false},
		{name: "directory is not a file", path: dir, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Exists(tt.path)
			if err != nil {
				t.Fatalf("Exists() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Exists() = %v, want %v", got, tt.want)
			}
		})
	}
}
