// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package stage3 builds the IPL Parameter Information Block (IPIB) and
// patches the stage-3a boot-loader template with the final component
// table and PV header bytes.
package stage3

import (
	"encoding/binary"

	"github.com/ibm-s390-linux/genprotimg/internal/buffer"
	"github.com/ibm-s390-linux/genprotimg/internal/component"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// ipibEntrySize is one component row: src_addr[8] + size[8] + type[2] +
// reserved padding[6], 24 bytes so that every row and field stays 8-byte
// aligned.
const ipibEntrySize = 24

// ipibTrailerSize is the fixed trailer: pv_header_addr[8] + pv_header_size[8].
const ipibTrailerSize = 16

// IPIBSize returns the serialised size of an IPIB describing n components,
// per spec.md §4.4 step 7 ("ipib_size(nr_components)").
func IPIBSize(n int) uint64 {
	return uint64(n)*ipibEntrySize + ipibTrailerSize
}

// BuildIPIB serialises the component table plus a trailer pointing at the
// PV header. comps must already have their final src_addr/size (i.e. the
// component list has been finalised).
func BuildIPIB(comps []*component.Component, pvHeaderAddr, pvHeaderSize uint64) ([]byte, error) {
	buf := make([]byte, IPIBSize(len(comps)))
	for i, c := range comps {
		size, err := c.Size()
		if err != nil {
			return nil, err
		}
		off := i * ipibEntrySize
		binary.BigEndian.PutUint64(buf[off:], c.SrcAddr())
		binary.BigEndian.PutUint64(buf[off+8:], uint64(size))
		binary.BigEndian.PutUint16(buf[off+16:], uint16(c.Type()))
	}
	trailerOff := len(comps) * ipibEntrySize
	binary.BigEndian.PutUint64(buf[trailerOff:], pvHeaderAddr)
	binary.BigEndian.PutUint64(buf[trailerOff+8:], pvHeaderSize)
	return buf, nil
}

// Template is a parsed stage-3a boot-loader blob: the opaque loader bytes
// plus the two patch-point offsets the loader's own header declares
// (spec.md §4.7 — "offsets within the stage-3a template indicated by the
// template's own header"). Offsets are read from a small fixed prologue
// at the front of the template, mirroring the real tool's layout.
type Template struct {
	raw       []byte
	ipibOff   uint64
	headerOff uint64
}

// Prologue layout: magic is left to the caller (genuine stage-3a blobs are
// opaque and out of scope here); the first 16 bytes we DO interpret are
// two big-endian 64-bit patch offsets.
const prologueSize = 16

// ParseTemplate reads the two patch-point offsets from the start of a
// stage-3a template blob.
func ParseTemplate(raw []byte) (*Template, error) {
	if len(raw) < prologueSize {
		return nil, imgerr.New(imgerr.Image, imgerr.CodeInvalidParam, "stage-3a template shorter than its fixed prologue")
	}
	return &Template{
		raw:       raw,
		ipibOff:   binary.BigEndian.Uint64(raw[0:8]),
		headerOff: binary.BigEndian.Uint64(raw[8:16]),
	}, nil
}

// Blob is the mutable in-memory buffer holding the stage-3a template
// followed by reserved space for the IPIB and PV header (spec.md §3,
// "stage3a_blob").
type Blob struct {
	tmpl      *Template
	buf       []byte
	ipibOff   uint64
	headerOff uint64
	ipibCap   uint64
	headerCap uint64
}

// NewBlob allocates a blob sized for up to nComponents components and a PV
// header of up to headerCap bytes, per spec.md §4.4 step 7: template_size +
// PAGE_ALIGN(ipib_size) + PAGE_ALIGN(header_cap).
func NewBlob(tmpl *Template, nComponents int, headerCap uint64) (*Blob, error) {
	ipibSize := uint64(buffer.PaddedSize(int(IPIBSize(nComponents))))
	hdrSize := uint64(buffer.PaddedSize(int(headerCap)))

	templateSize := uint64(len(tmpl.raw))
	ipibOff := buffer.PageAlign(templateSize)
	headerOff := buffer.PageAlign(ipibOff + ipibSize)
	total := headerOff + hdrSize

	buf := make([]byte, total)
	copy(buf, tmpl.raw)

	// The template's own prologue tells the firmware where to find these
	// regions; patch it to the addresses we actually chose.
	binary.BigEndian.PutUint64(buf[0:8], ipibOff)
	binary.BigEndian.PutUint64(buf[8:16], headerOff)

	return &Blob{
		tmpl:      tmpl,
		buf:       buf,
		ipibOff:   ipibOff,
		headerOff: headerOff,
		ipibCap:   ipibSize,
		headerCap: hdrSize,
	}, nil
}

// PatchIPIB writes ipib into its reserved region.
func (b *Blob) PatchIPIB(ipib []byte) error {
	if uint64(len(ipib)) > b.ipibCap {
		return imgerr.New(imgerr.Image, imgerr.CodeSizeTooLarge, "IPIB larger than its reserved region")
	}
	copy(b.buf[b.ipibOff:], ipib)
	return nil
}

// PatchHeader writes the serialised, sealed PV header into its reserved
// region.
func (b *Blob) PatchHeader(header []byte) error {
	if uint64(len(header)) > b.headerCap {
		return imgerr.New(imgerr.Image, imgerr.CodeSizeTooLarge, "PV header larger than its reserved region")
	}
	copy(b.buf[b.headerOff:], header)
	return nil
}

// IPIBAddr returns the guest-absolute address the IPIB region will load
// to, given the blob's own load address.
func (b *Blob) IPIBAddr(loadAddr uint64) uint64 { return loadAddr + b.ipibOff }

// HeaderAddr returns the guest-absolute address the PV header region will
// load to, given the blob's own load address.
func (b *Blob) HeaderAddr(loadAddr uint64) uint64 { return loadAddr + b.headerOff }

// Bytes returns the fully patched blob, ready to be written at
// stage3a_load_address by the output writer.
func (b *Blob) Bytes() []byte { return b.buf }

// Size returns the total blob size, i.e. the span set(-offset) for
// ComponentList.SetOffset per spec.md §4.4 step 8.
func (b *Blob) Size() uint64 { return uint64(len(b.buf)) }
