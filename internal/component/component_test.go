package component

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ibm-s390-linux/genprotimg/internal/buffer"
)

func TestPrepareNoDecryptionPadsBufferInPlace(t *testing.T) {
	c, err := NewBuf(Cmdline, []byte("console=ttyS0"))
	if err != nil {
		t.Fatalf("NewBuf: %v", err)
	}
	tmpDir := t.TempDir()
	if err := c.Prepare(tmpDir, nil, true); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	size, err := c.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != buffer.PageSize {
		t.Fatalf("Size() = %d, want %d", size, buffer.PageSize)
	}
	r, err := c.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	data := make([]byte, buffer.PageSize)
	if _, err := r.Read(data); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data[:13]) != "console=ttyS0" {
		t.Fatalf("prefix corrupted: %q", data[:13])
	}
}

func TestPrepareEncryptsToTmpFile(t *testing.T) {
	c, err := NewBuf(Kernel, []byte("fake kernel bytes"))
	if err != nil {
		t.Fatalf("NewBuf: %v", err)
	}
	tmpDir := t.TempDir()
	key := make([]byte, 64)
	for i := range key {
		key[i] = byte(i)
	}
	if err := c.Prepare(tmpDir, key, false); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	size, err := c.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != buffer.PageSize {
		t.Fatalf("Size() = %d, want %d", size, buffer.PageSize)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "kernel")); err != nil {
		t.Fatalf("expected scratch file: %v", err)
	}
}

func TestNewFileRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewFile(Kernel, dir); err == nil {
		t.Fatal("expected an error when passing a directory as a component file")
	}
}

func TestNewFileRejectsELFKernel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmlinuz")
	data := append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, 100)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewFile(Kernel, path); err == nil {
		t.Fatal("expected an error for an ELF kernel image")
	}
}

func TestNewFileAllowsELFInitrd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "initrd")
	data := append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, 100)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewFile(Initrd, path); err != nil {
		t.Fatalf("NewFile(Initrd): %v", err)
	}
}

func TestEmptyComponentPadsToOnePage(t *testing.T) {
	c, err := NewBuf(Cmdline, nil)
	if err != nil {
		t.Fatalf("NewBuf: %v", err)
	}
	if err := c.Prepare(t.TempDir(), nil, true); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	size, err := c.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != buffer.PageSize {
		t.Fatalf("Size() = %d, want %d", size, buffer.PageSize)
	}
}
