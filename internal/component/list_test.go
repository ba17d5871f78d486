package component

import (
	"bytes"
	"testing"

	"github.com/ibm-s390-linux/genprotimg/internal/buffer"
)

func prepareBuf(t *testing.T, typ Type, data []byte) *Component {
	t.Helper()
	c, err := NewBuf(typ, data)
	if err != nil {
		t.Fatalf("NewBuf: %v", err)
	}
	if err := c.Prepare(t.TempDir(), nil, true); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return c
}

func TestListAddAssignsSequentialAddresses(t *testing.T) {
	l := NewList()
	if err := l.SetOffset(2 * buffer.PageSize); err != nil {
		t.Fatalf("SetOffset: %v", err)
	}

	c1 := prepareBuf(t, Kernel, bytes.Repeat([]byte{1}, buffer.PageSize*2))
	c2 := prepareBuf(t, Cmdline, []byte("root=/dev/vda"))
	c3 := prepareBuf(t, Stage3B, []byte("jump table"))

	for _, c := range []*Component{c1, c2, c3} {
		if err := l.Add(c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if c1.SrcAddr() != 2*buffer.PageSize {
		t.Fatalf("c1.SrcAddr() = %d, want %d", c1.SrcAddr(), 2*buffer.PageSize)
	}
	if c2.SrcAddr() != 4*buffer.PageSize {
		t.Fatalf("c2.SrcAddr() = %d, want %d", c2.SrcAddr(), 4*buffer.PageSize)
	}
	if c3.SrcAddr() != 5*buffer.PageSize {
		t.Fatalf("c3.SrcAddr() = %d, want %d", c3.SrcAddr(), 5*buffer.PageSize)
	}
}

func TestSetOffsetFailsAfterAdd(t *testing.T) {
	l := NewList()
	c := prepareBuf(t, Kernel, []byte("x"))
	if err := l.Add(c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.SetOffset(buffer.PageSize); err == nil {
		t.Fatal("expected SetOffset to fail once a component has been added")
	}
}

func TestAddFailsAfterFinalize(t *testing.T) {
	l := NewList()
	c1 := prepareBuf(t, Kernel, []byte("x"))
	if err := l.Add(c1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	c2 := prepareBuf(t, Stage3B, []byte("y"))
	if err := l.Add(c2); err == nil {
		t.Fatal("expected Add to fail after Finalize")
	}
}

func TestFinalizeDigestsAreDeterministic(t *testing.T) {
	build := func() (pld, ald, tld []byte, nep uint64) {
		l := NewList()
		c, err := NewBuf(Kernel, []byte("same bytes every time"))
		if err != nil {
			t.Fatalf("NewBuf: %v", err)
		}
		// Fix the tweak so the digests are reproducible across the two
		// builds in this test (NewBuf otherwise randomizes it).
		c.tweak = [TweakSize]byte{0: 0, 1: 0, 2: 1, 3: 2, 4: 3, 5: 4, 6: 5, 7: 6}
		if err := c.Prepare(t.TempDir(), nil, true); err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		if err := l.Add(c); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := l.Finalize(); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
		return l.PLD(), l.ALD(), l.TLD(), l.NEP()
	}

	pld1, ald1, tld1, nep1 := build()
	pld2, ald2, tld2, nep2 := build()

	if !bytes.Equal(pld1, pld2) || !bytes.Equal(ald1, ald2) || !bytes.Equal(tld1, tld2) {
		t.Fatal("digests are not deterministic for identical inputs")
	}
	if nep1 != nep2 || nep1 != 1 {
		t.Fatalf("nep = %d/%d, want 1/1", nep1, nep2)
	}
	if len(pld1) != 64 || len(ald1) != 64 || len(tld1) != 64 {
		t.Fatal("expected 64-byte SHA-512 digests")
	}
}

func TestEmptyComponentContributesOnePageToDigests(t *testing.T) {
	l := NewList()
	c := prepareBuf(t, Cmdline, nil)
	if err := l.Add(c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if l.NEP() != 1 {
		t.Fatalf("NEP() = %d, want 1", l.NEP())
	}
}
