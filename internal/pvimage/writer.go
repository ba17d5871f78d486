// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package pvimage

import (
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// shortPSWBit12 is bit 12 counted MSB-0 in a 64-bit word — the
// addressing-mode bit the short-PSW encoding at file offset 0 always
// asserts (spec.md §4.8 step 1).
const shortPSWBit12 = uint64(1) << (63 - 12)

// shortPSWAddrLimit is the exclusive upper bound a short-PSW address must
// stay under (31-bit addressing).
const shortPSWAddrLimit = uint64(1) << 31

// ShortPSW converts a (mask, addr) pair into the 64-bit short-PSW value
// written at file offset 0, asserting bit 12 along the way. It fails if
// the caller's mask already has bit 12 set, or addr doesn't fit in 31
// bits (spec.md §8: "Short PSW conversion fails when the mask has any of
// the forbidden bits... set").
func ShortPSW(mask, addr uint64) (uint64, error) {
	if mask&shortPSWBit12 != 0 {
		return 0, imgerr.New(imgerr.Image, imgerr.CodeInternal, "PSW mask already has the addressing-mode bit set")
	}
	if addr >= shortPSWAddrLimit {
		return 0, imgerr.New(imgerr.Image, imgerr.CodeInternal, "PSW address does not fit in 31 bits")
	}
	return mask | shortPSWBit12 | addr, nil
}

// Write serialises the finalised image to outPath: the short PSW at
// offset 0, the patched stage-3a blob at its load address, then every
// component at its assigned src_addr (spec.md §4.8). Holes between
// regions are left as sparse gaps where the filesystem supports them.
func (b *Builder) Write(outPath string) error {
	if !b.finalized {
		return imgerr.New(imgerr.Image, imgerr.CodeInternal, "Write called before Finalize")
	}

	shortPSW, err := ShortPSW(b.pswMask, b.stage3aLoadAddr)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "creating output file "+outPath)
	}
	defer f.Close()

	var psw [8]byte
	putBE64(psw[:], shortPSW)
	if _, err := f.WriteAt(psw[:], 0); err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "writing short PSW")
	}

	if _, err := f.WriteAt(b.blob.Bytes(), int64(b.stage3aLoadAddr)); err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "writing stage-3a blob")
	}

	for _, c := range b.comps.Components() {
		if err := writeComponentAt(f, c.SrcAddr(), c); err != nil {
			return err
		}
	}

	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "fdatasync on output file")
	}
	return nil
}

type componentReader interface {
	Open() (io.ReadCloser, error)
}

func writeComponentAt(f *os.File, addr uint64, c componentReader) error {
	r, err := c.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := f.Seek(int64(addr), io.SeekStart); err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeSeek, err, "seeking to component address")
	}
	if _, err := io.Copy(f, r); err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "writing component payload")
	}
	return nil
}

func putBE64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[7-i] = byte(v >> (8 * i))
	}
}
