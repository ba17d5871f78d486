package stage3

import (
	"bytes"
	"testing"

	"github.com/ibm-s390-linux/genprotimg/internal/buffer"
	"github.com/ibm-s390-linux/genprotimg/internal/component"
)

func fakeTemplate(size int) []byte {
	raw := make([]byte, size)
	// Leave the 16-byte prologue zeroed; NewBlob patches it.
	for i := prologueSize; i < size; i++ {
		raw[i] = byte(i)
	}
	return raw
}

func TestBuildIPIBEncodesEachComponent(t *testing.T) {
	c1, err := component.NewBuf(component.Kernel, bytes.Repeat([]byte{1}, buffer.PageSize))
	if err != nil {
		t.Fatalf("NewBuf: %v", err)
	}
	if err := c1.Prepare(t.TempDir(), nil, true); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	c2, err := component.NewBuf(component.Cmdline, []byte("root=/dev/vda"))
	if err != nil {
		t.Fatalf("NewBuf: %v", err)
	}
	if err := c2.Prepare(t.TempDir(), nil, true); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	list := component.NewList()
	for _, c := range []*component.Component{c1, c2} {
		if err := list.Add(c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	ipib, err := BuildIPIB(list.Components(), 0x2000, 4096)
	if err != nil {
		t.Fatalf("BuildIPIB: %v", err)
	}
	wantLen := IPIBSize(2)
	if uint64(len(ipib)) != wantLen {
		t.Fatalf("len(ipib) = %d, want %d", len(ipib), wantLen)
	}
}

func TestParseTemplateRejectsShortBlob(t *testing.T) {
	if _, err := ParseTemplate(make([]byte, 4)); err == nil {
		t.Fatal("expected an error for a too-short template")
	}
}

func TestNewBlobLayoutIsPageAlignedAndFitsPatches(t *testing.T) {
	raw := fakeTemplate(buffer.PageSize + 10)
	tmpl, err := ParseTemplate(raw)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	blob, err := NewBlob(tmpl, 3, 600)
	if err != nil {
		t.Fatalf("NewBlob: %v", err)
	}
	if blob.IPIBAddr(0)%buffer.PageSize != 0 {
		t.Fatalf("IPIB region not page-aligned: %d", blob.IPIBAddr(0))
	}
	if blob.HeaderAddr(0)%buffer.PageSize != 0 {
		t.Fatalf("header region not page-aligned: %d", blob.HeaderAddr(0))
	}
	if blob.HeaderAddr(0) <= blob.IPIBAddr(0) {
		t.Fatal("header region must come after the IPIB region")
	}

	ipib := bytes.Repeat([]byte{0xAA}, int(IPIBSize(3)))
	if err := blob.PatchIPIB(ipib); err != nil {
		t.Fatalf("PatchIPIB: %v", err)
	}
	header := bytes.Repeat([]byte{0xBB}, 600)
	if err := blob.PatchHeader(header); err != nil {
		t.Fatalf("PatchHeader: %v", err)
	}

	full := blob.Bytes()
	if !bytes.Equal(full[blob.IPIBAddr(0):blob.IPIBAddr(0)+uint64(len(ipib))], ipib) {
		t.Fatal("patched IPIB bytes not found at their reserved offset")
	}
	if !bytes.Equal(full[blob.HeaderAddr(0):blob.HeaderAddr(0)+uint64(len(header))], header) {
		t.Fatal("patched header bytes not found at their reserved offset")
	}
}

func TestPatchIPIBRejectsOversizedInput(t *testing.T) {
	raw := fakeTemplate(buffer.PageSize)
	tmpl, err := ParseTemplate(raw)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	blob, err := NewBlob(tmpl, 1, 128)
	if err != nil {
		t.Fatalf("NewBlob: %v", err)
	}
	tooBig := make([]byte, IPIBSize(1)+buffer.PageSize)
	if err := blob.PatchIPIB(tooBig); err == nil {
		t.Fatal("expected an error for an oversized IPIB")
	}
}
