// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package buffer provides the owned byte region used throughout the image
// builder for buffer-backed components, the stage-3a working area, and the
// PV header before it is sealed in place.
package buffer

const PageSize = 4096

// Buffer is an exclusively owned (data, size) byte region. Its size is
// always len(data); PadToPage grows it by replacing data with a padded
// copy, so a slice obtained from Bytes before that call is stale after it.
type Buffer struct {
	data []byte
}

// New allocates a zeroed buffer of exactly n bytes.
func New(n int) *Buffer {
	return &Buffer{data: make([]byte, n)}
}

// FromBytes copies src into a freshly owned buffer.
func FromBytes(src []byte) *Buffer {
	b := &Buffer{data: make([]byte, len(src))}
	copy(b.data, src)
	return b
}

// Bytes returns the owned slice. Callers must not retain it past the next
// mutating call on b.
func (b *Buffer) Bytes() []byte { return b.data }

// Size returns the current length of the buffer.
func (b *Buffer) Size() int { return len(b.data) }

// PadToPage right-pads the buffer with zero bytes up to the next multiple
// of PageSize. An empty buffer is padded to exactly one page, matching
// spec.md's "an empty component is represented as exactly one zero page"
// invariant.
func (b *Buffer) PadToPage() {
	padded := PaddedSize(len(b.data))
	if padded == len(b.data) {
		return
	}
	grown := make([]byte, padded)
	copy(grown, b.data)
	b.data = grown
}

// PaddedSize returns n rounded up to the next multiple of PageSize, with
// the zero-size case mapped to exactly one page.
func PaddedSize(n int) int {
	if n == 0 {
		return PageSize
	}
	if rem := n % PageSize; rem != 0 {
		return n + (PageSize - rem)
	}
	return n
}

// PageAlign rounds addr up to the next multiple of PageSize.
func PageAlign(addr uint64) uint64 {
	const page = uint64(PageSize)
	if rem := addr % page; rem != 0 {
		return addr + (page - rem)
	}
	return addr
}
