// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package component

import (
	"crypto/sha512"
	"encoding/binary"
	"hash"
	"io"

	"github.com/ibm-s390-linux/genprotimg/internal/buffer"
	"github.com/ibm-s390-linux/genprotimg/internal/cryptoutil"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// List is the ordered sequence of prepared components that make up an
// image's payload, plus the running address cursor, encrypted-page count,
// and the three incremental SHA-512 digests spec.md §4.3 defines.
type List struct {
	comps     []*Component
	nextSrc   uint64
	nep       uint64
	finalized bool

	pld, ald, tld           []byte
	pldHash, aldHash, tldHash hash.Hash
}

// NewList creates an empty list whose first component will be placed at
// address 0, or at the offset reserved by SetOffset if that runs first.
func NewList() *List {
	return &List{
		pldHash: sha512.New(),
		aldHash: sha512.New(),
		tldHash: sha512.New(),
	}
}

// SetOffset reserves off bytes (must be page-aligned) at the front of the
// address space, before any component has been added (spec.md §4.3) —
// used to make room for the stage-3a region ahead of the payload.
func (l *List) SetOffset(off uint64) error {
	if len(l.comps) != 0 {
		return imgerr.New(imgerr.Image, imgerr.CodeOffsetAfterAdd, "SetOffset called after a component was added")
	}
	if off%buffer.PageSize != 0 {
		return imgerr.New(imgerr.Image, imgerr.CodeInvalidParam, "offset must be page-aligned")
	}
	l.nextSrc += off
	return nil
}

// Add assigns c.srcAddr = next available page-aligned address, appends c,
// and advances the cursor by max(size(c), PageSize) (spec.md §4.3). c must
// already be Prepare()d. Components must be added in non-decreasing type
// order — the natural result of the builder walking its fixed type ranks.
func (l *List) Add(c *Component) error {
	if l.finalized {
		return imgerr.New(imgerr.Image, imgerr.CodeFinalized, "cannot add a component to a finalized list")
	}
	if n := len(l.comps); n > 0 && c.Type() < l.comps[n-1].Type() {
		return imgerr.New(imgerr.Image, imgerr.CodeInvalidParam, "components must be added in non-decreasing type order")
	}
	size, err := c.Size()
	if err != nil {
		return err
	}
	c.setSrcAddr(l.nextSrc)
	l.comps = append(l.comps, c)
	step := uint64(size)
	if step < buffer.PageSize {
		step = buffer.PageSize
	}
	l.nextSrc += step
	return nil
}

// NextSrcAddr returns the address the next Add call would assign.
func (l *List) NextSrcAddr() uint64 { return l.nextSrc }

// Components returns the components added so far, in list order.
func (l *List) Components() []*Component { return l.comps }

// Finalize computes pld/ald/tld over every component's prepared content
// in list order and freezes the list against further Add calls. It must
// be called exactly once.
func (l *List) Finalize() error {
	if l.finalized {
		return imgerr.New(imgerr.Image, imgerr.CodeFinalized, "list already finalized")
	}
	for _, c := range l.comps {
		if err := l.digestComponent(c); err != nil {
			return err
		}
	}
	l.pld = l.pldHash.Sum(nil)
	l.ald = l.aldHash.Sum(nil)
	l.tld = l.tldHash.Sum(nil)
	l.finalized = true
	return nil
}

func (l *List) digestComponent(c *Component) error {
	size, err := c.Size()
	if err != nil {
		return err
	}
	if size <= 0 || size%buffer.PageSize != 0 {
		return imgerr.Internal(imgerr.Image, "prepared component size is not a positive multiple of the page size")
	}
	pages := size / buffer.PageSize

	r, err := c.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	addr := c.SrcAddr()
	tweak := c.Tweak()
	buf := make([]byte, buffer.PageSize)
	var pageCount int64
	for i := int64(0); i < pages; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return imgerr.Wrap(imgerr.IO, imgerr.CodeRead, err, "reading component page for digesting")
		}
		l.pldHash.Write(buf)

		var addrBytes [8]byte
		binary.BigEndian.PutUint64(addrBytes[:], addr)
		l.aldHash.Write(addrBytes[:])

		l.tldHash.Write(tweak[:])

		addr += buffer.PageSize
		cryptoutil.AdvanceTweakByPage(&tweak)
		l.nep++
		pageCount++
	}
	if pageCount != pages {
		return imgerr.Internal(imgerr.Image, "pld/ald/tld page counts disagree")
	}
	return nil
}

// PLD returns the 64-byte page-list digest. Valid only after Finalize.
func (l *List) PLD() []byte { return l.pld }

// ALD returns the 64-byte address-list digest. Valid only after Finalize.
func (l *List) ALD() []byte { return l.ald }

// TLD returns the 64-byte tweak-list digest. Valid only after Finalize.
func (l *List) TLD() []byte { return l.tld }

// NEP returns the total number of encrypted pages covered by the digests.
// Valid only after Finalize.
func (l *List) NEP() uint64 { return l.nep }

// Finalized reports whether Finalize has run.
func (l *List) Finalized() bool { return l.finalized }
