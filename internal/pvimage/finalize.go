// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package pvimage

import (
	"github.com/ibm-s390-linux/genprotimg/internal/component"
	"github.com/ibm-s390-linux/genprotimg/internal/cryptoutil"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
	"github.com/ibm-s390-linux/genprotimg/internal/pvheader"
	"github.com/ibm-s390-linux/genprotimg/internal/stage3"
)

// buildKeySlot implements spec.md §4.5 for one host public key.
func (b *Builder) buildKeySlot(h hostKey) (pvheader.KeySlot, error) {
	var slot pvheader.KeySlot

	digest, err := cryptoutil.DigestKeySHA256(h.pub)
	if err != nil {
		return slot, err
	}
	copy(slot.DigestKey[:], digest)

	exchange, err := cryptoutil.ExchangeKey(b.custKey, h.pub)
	if err != nil {
		return slot, err
	}

	wrapped, tag, err := cryptoutil.GCMSeal(exchange, b.gcmIV, nil, b.custRootKey)
	if err != nil {
		return slot, err
	}
	copy(slot.WrappedKey[:], wrapped)
	copy(slot.Tag[:], tag)
	return slot, nil
}

// Finalize appends the stage-3b component (built from the final addresses
// of the already-added user components), finalises the component list's
// digests, builds the key slots and PV header, and patches the stage-3a
// blob with the IPIB and header (spec.md §3 control flow, §4.4-§4.7). No
// further AddXComponent call is valid afterward.
func (b *Builder) Finalize() error {
	if b.finalized {
		return imgerr.New(imgerr.Image, imgerr.CodeFinalized, "Finalize called twice")
	}

	stage3b, err := b.buildStage3b()
	if err != nil {
		return err
	}
	if err := b.comps.Add(stage3b); err != nil {
		return err
	}

	if err := b.comps.Finalize(); err != nil {
		return err
	}

	slots := make([]pvheader.KeySlot, len(b.hosts))
	for i, h := range b.hosts {
		slot, err := b.buildKeySlot(h)
		if err != nil {
			return err
		}
		slots[i] = slot
	}

	custPub, err := cryptoutil.RawPubKey132(b.custKey.PublicKey())
	if err != nil {
		return err
	}

	h := &pvheader.Header{
		NEP:         b.comps.NEP(),
		PCF:         b.pcf,
		CustCommKey: arr32(b.custCommKey),
		ImgEncKey1:  arr32(b.xtsKey[:32]),
		ImgEncKey2:  arr32(b.xtsKey[32:]),
		PSWMask:     b.pswMask,
		PSWAddr:     stage3b.SrcAddr(),
		SCF:         b.scf,
		Slots:       slots,
	}
	copy(h.IV[:], b.gcmIV)
	copy(h.CustPubKey[:], custPub)
	copy(h.PLD[:], b.comps.PLD())
	copy(h.ALD[:], b.comps.ALD())
	copy(h.TLD[:], b.comps.TLD())

	headerBuf := h.Build()
	if err := pvheader.Seal(headerBuf, b.custRootKey); err != nil {
		return err
	}

	ipib, err := stage3.BuildIPIB(b.comps.Components(), b.blob.HeaderAddr(b.stage3aLoadAddr), uint64(len(headerBuf)))
	if err != nil {
		return err
	}
	if err := b.blob.PatchIPIB(ipib); err != nil {
		return err
	}
	if err := b.blob.PatchHeader(headerBuf); err != nil {
		return err
	}

	b.header = headerBuf
	b.finalized = true
	return nil
}

// buildStage3b constructs the stage-3b component: a small, buffer-backed
// jump table over the final addresses of every user component added so
// far. It must be computed after those components are placed, and is
// itself added last and XTS-encrypted like any other component (spec.md
// §4.7: "The stage-3b component is itself XTS-encrypted like any other
// component").
func (b *Builder) buildStage3b() (*component.Component, error) {
	headerAddr := b.blob.HeaderAddr(b.stage3aLoadAddr)
	headerSize := pvheader.Size(len(b.hosts))
	jumpTable, err := stage3.BuildIPIB(b.comps.Components(), headerAddr, headerSize)
	if err != nil {
		return nil, err
	}
	c, err := component.NewBuf(component.Stage3B, jumpTable)
	if err != nil {
		return nil, err
	}
	if err := c.Prepare(b.tmpDir, b.xtsKey, b.noDecryption()); err != nil {
		return nil, err
	}
	return c, nil
}

func arr32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}
