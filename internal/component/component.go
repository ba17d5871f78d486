// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package component models the individual pieces that make up a PV image
// (kernel, cmdline, initrd, stage-3b) and the ordered list that tracks
// their page-aligned placement and feeds the three payload digests.
package component

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/ibm-s390-linux/genprotimg/internal/buffer"
	"github.com/ibm-s390-linux/genprotimg/internal/cryptoutil"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// Type is the component's tag; its numeric value is also its ordering
// rank within a ComponentList (spec.md §3).
type Type uint16

const (
	Kernel Type = iota
	Cmdline
	Initrd
	Stage3B
)

func (t Type) String() string {
	switch t {
	case Kernel:
		return "kernel"
	case Cmdline:
		return "cmdline"
	case Initrd:
		return "initrd"
	case Stage3B:
		return "stage3b"
	default:
		return "unknown"
	}
}

const TweakSize = 16

// elfMagic is the first four bytes of every ELF file; resolves spec.md
// §9's open question on rejecting ELF kernels.
var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// storageKind distinguishes the two alternatives spec.md §3/§9 describe:
// a filesystem path with a cached size, or an owned in-memory buffer.
type storageKind int

const (
	storageFile storageKind = iota
	storageBuffer
)

type storage struct {
	kind storageKind
	path string
	size int64
	buf  *buffer.Buffer
}

// Component is a tagged payload piece: file- or buffer-backed, carrying a
// per-component tweak and the guest-absolute address the list assigns it.
type Component struct {
	typ      Type
	storage  storage
	origSize uint64
	srcAddr  uint64
	tweak    [TweakSize]byte
}

// tweakRandMu serialises the CSPRNG calls newTweak makes, so that
// concurrent component preparation (spec.md §5's "implementers may
// parallelise per-component encryption provided... CSPRNG calls are
// serialised") never has two goroutines drawing randomness at once.
var tweakRandMu sync.Mutex

func newTweak(typ Type) ([TweakSize]byte, error) {
	var t [TweakSize]byte
	t[0] = byte(typ >> 8)
	t[1] = byte(typ)

	tweakRandMu.Lock()
	rnd, err := cryptoutil.Random(6)
	tweakRandMu.Unlock()
	if err != nil {
		return t, err
	}
	copy(t[2:8], rnd)
	return t, nil
}

// NewFile stats path (must be a regular file) and returns a file-backed
// component of the given type, per spec.md §4.2.
func NewFile(typ Type, path string) (*Component, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.IO, imgerr.CodeStat, err, "statting component file "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, imgerr.New(imgerr.IO, imgerr.CodeOpen, path+" is not a regular file")
	}
	if typ == Kernel {
		if err := rejectELF(path); err != nil {
			return nil, err
		}
	}
	tweak, err := newTweak(typ)
	if err != nil {
		return nil, err
	}
	return &Component{
		typ:      typ,
		storage:  storage{kind: storageFile, path: path, size: info.Size()},
		origSize: uint64(info.Size()),
		tweak:    tweak,
	}, nil
}

// NewBuf copies data into a freshly owned buffer-backed component.
func NewBuf(typ Type, data []byte) (*Component, error) {
	tweak, err := newTweak(typ)
	if err != nil {
		return nil, err
	}
	return &Component{
		typ:      typ,
		storage:  storage{kind: storageBuffer, buf: buffer.FromBytes(data)},
		origSize: uint64(len(data)),
		tweak:    tweak,
	}, nil
}

func rejectELF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "opening kernel component "+path)
	}
	defer f.Close()
	var magic [4]byte
	n, err := io.ReadFull(f, magic[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeRead, err, "reading kernel magic")
	}
	if n == len(magic) && bytes.Equal(magic[:], elfMagic) {
		return imgerr.New(imgerr.IO, imgerr.CodeInvalidFormat, "kernel image is an ELF file; a raw Linux image is required")
	}
	return nil
}

func (c *Component) Type() Type           { return c.typ }
func (c *Component) OrigSize() uint64     { return c.origSize }
func (c *Component) SrcAddr() uint64      { return c.srcAddr }
func (c *Component) Tweak() [TweakSize]byte { return c.tweak }

// Size returns the component's current size: its original logical size
// before Prepare has run, or the page-padded (and possibly encrypted)
// size afterward.
func (c *Component) Size() (int64, error) {
	switch c.storage.kind {
	case storageBuffer:
		return int64(c.storage.buf.Size()), nil
	default:
		info, err := os.Stat(c.storage.path)
		if err != nil {
			return 0, imgerr.Wrap(imgerr.IO, imgerr.CodeStat, err, "statting prepared component")
		}
		return info.Size(), nil
	}
}

// Open returns a fresh reader over the component's current content.
func (c *Component) Open() (io.ReadCloser, error) {
	switch c.storage.kind {
	case storageBuffer:
		return io.NopCloser(bytes.NewReader(c.storage.buf.Bytes())), nil
	default:
		f, err := os.Open(c.storage.path)
		if err != nil {
			return nil, imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "opening prepared component")
		}
		return f, nil
	}
}

// setSrcAddr is called exactly once, by ComponentList.Add.
func (c *Component) setSrcAddr(addr uint64) { c.srcAddr = addr }
