// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package pvheader implements the fixed, big-endian, packed PV header
// record: an authenticated-but-cleartext head and key-slot array,
// followed by an AES-256-GCM encrypted secret section, followed by a
// detached tag.
package pvheader

import (
	"bytes"
	"encoding/binary"

	"github.com/ibm-s390-linux/genprotimg/internal/cryptoutil"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

var Magic = [8]byte{'I', 'B', 'M', 'S', 'e', 'c', 'E', 'x'}

const Version = 0x00000100

const (
	headSize = 388
	slotSize = 80
	// encFixedSize covers cust_comm_key, img_enc_key_1, img_enc_key_2, the
	// initial PSW, scf, noi and res2 — everything in the encrypted region
	// that isn't a (currently always-empty) optional item.
	encFixedSize = 32 + 32 + 32 + 8 + 8 + 8 + 4 + 4
	tagSize      = cryptoutil.GCMTagSize
)

// head field byte offsets.
const (
	offMagic      = 0
	offVersion    = 8
	offPHS        = 12
	offIV         = 16
	offRes1       = 28
	offNKS        = 32
	offSEA        = 40
	offNEP        = 48
	offPCF        = 56
	offCustPubKey = 64
	offPLD        = offCustPubKey + 132
	offALD        = offPLD + 64
	offTLD        = offALD + 64
)

// KeySlot is one 80-byte per-host record (spec.md §4.5).
type KeySlot struct {
	DigestKey  [32]byte
	WrappedKey [32]byte
	Tag        [16]byte
}

func (s KeySlot) marshal() []byte {
	buf := make([]byte, slotSize)
	copy(buf[0:32], s.DigestKey[:])
	copy(buf[32:64], s.WrappedKey[:])
	copy(buf[64:80], s.Tag[:])
	return buf
}

func unmarshalSlot(buf []byte) KeySlot {
	var s KeySlot
	copy(s.DigestKey[:], buf[0:32])
	copy(s.WrappedKey[:], buf[32:64])
	copy(s.Tag[:], buf[64:80])
	return s
}

// Header is the fully decoded PV header, before sealing / after opening.
type Header struct {
	IV         [12]byte
	NEP        uint64
	PCF        uint64
	CustPubKey [132]byte
	PLD        [64]byte
	ALD        [64]byte
	TLD        [64]byte
	Slots      []KeySlot

	// Encrypted section (secret once sealed).
	CustCommKey [32]byte
	ImgEncKey1  [32]byte
	ImgEncKey2  [32]byte
	PSWMask     uint64
	PSWAddr     uint64
	SCF         uint64
	// OptionalItems is always empty in version 1; the field exists so a
	// future version can grow the encrypted section without changing the
	// wire format of everything before it.
	OptionalItems []byte
}

// sea returns the size of the encrypted+optional area, always a multiple
// of 16 (spec.md §4.6).
func (h *Header) sea() uint64 {
	n := encFixedSize + len(h.OptionalItems)
	if rem := n % 16; rem != 0 {
		n += 16 - rem
	}
	return uint64(n)
}

// phs returns the total header size: head + slots + encrypted area + tag.
func (h *Header) phs() uint64 {
	return headSize + uint64(len(h.Slots))*slotSize + h.sea() + tagSize
}

// Size returns the serialised header size for nks key slots and no
// optional items (always true in version 1) — the value callers need
// before a Header exists, e.g. to size the stage-3a region that will hold
// it (spec.md §4.4 step 7).
func Size(nks int) uint64 {
	return headSize + uint64(nks)*slotSize + encFixedSize + tagSize
}

// Build serialises h into a flat, unsealed buffer: head || slots ||
// plaintext-encrypted-region || zeroed tag. Call Seal on the result
// before writing it to the output image.
func (h *Header) Build() []byte {
	sea := h.sea()
	total := h.phs()
	buf := make([]byte, total)

	copy(buf[offMagic:], Magic[:])
	binary.BigEndian.PutUint32(buf[offVersion:], Version)
	binary.BigEndian.PutUint32(buf[offPHS:], uint32(total))
	copy(buf[offIV:offIV+12], h.IV[:])
	binary.BigEndian.PutUint64(buf[offNKS:], uint64(len(h.Slots)))
	binary.BigEndian.PutUint64(buf[offSEA:], sea)
	binary.BigEndian.PutUint64(buf[offNEP:], h.NEP)
	binary.BigEndian.PutUint64(buf[offPCF:], h.PCF)
	copy(buf[offCustPubKey:offCustPubKey+132], h.CustPubKey[:])
	copy(buf[offPLD:offPLD+64], h.PLD[:])
	copy(buf[offALD:offALD+64], h.ALD[:])
	copy(buf[offTLD:offTLD+64], h.TLD[:])

	slotsOff := headSize
	for i, s := range h.Slots {
		copy(buf[slotsOff+i*slotSize:], s.marshal())
	}

	encOff := slotsOff + len(h.Slots)*slotSize
	enc := buf[encOff : encOff+int(sea)]
	copy(enc[0:32], h.CustCommKey[:])
	copy(enc[32:64], h.ImgEncKey1[:])
	copy(enc[64:96], h.ImgEncKey2[:])
	binary.BigEndian.PutUint64(enc[96:104], h.PSWMask)
	binary.BigEndian.PutUint64(enc[104:112], h.PSWAddr)
	binary.BigEndian.PutUint64(enc[112:120], h.SCF)
	binary.BigEndian.PutUint32(enc[120:124], uint32(0)) // noi: always 0 in v1
	binary.BigEndian.PutUint32(enc[124:128], 0)          // res2
	copy(enc[128:], h.OptionalItems)

	return buf
}

// Seal GCM-seals buf's encrypted region in place (ciphertext overwrites
// plaintext, tag fills the final 16 bytes), using aad = head || slots, key
// = custRootKey, iv = the header's own iv field (spec.md §4.6).
func Seal(buf, custRootKey []byte) error {
	phs := binary.BigEndian.Uint32(buf[offPHS:])
	if int(phs) != len(buf) {
		return imgerr.Internal(imgerr.Image, "header buffer length does not match phs field")
	}
	sea := binary.BigEndian.Uint64(buf[offSEA:])
	aadLen := int(phs) - int(sea) - tagSize
	if aadLen < headSize {
		return imgerr.Internal(imgerr.Image, "header aad shorter than fixed head")
	}
	aad := buf[:aadLen]
	iv := buf[offIV : offIV+12]
	region := buf[aadLen:]
	return cryptoutil.SealInPlace(custRootKey, iv, aad, region)
}

// ParseHead reads the cleartext head + key-slot array from a serialised,
// sealed header without touching the encrypted region. Useful for drivers
// that need nks/sea/phs before deciding how to open the secret section.
func ParseHead(buf []byte) (phs uint32, nks uint64, sea uint64, slots []KeySlot, err error) {
	if len(buf) < headSize {
		return 0, 0, 0, nil, imgerr.New(imgerr.Image, imgerr.CodeInvalidParam, "buffer shorter than fixed head")
	}
	if !bytes.Equal(buf[offMagic:offMagic+8], Magic[:]) {
		return 0, 0, 0, nil, imgerr.New(imgerr.Image, imgerr.CodeInvalidParam, "bad PV header magic")
	}
	phs = binary.BigEndian.Uint32(buf[offPHS:])
	nks = binary.BigEndian.Uint64(buf[offNKS:])
	sea = binary.BigEndian.Uint64(buf[offSEA:])
	if uint64(len(buf)) < headSize+nks*slotSize {
		return 0, 0, 0, nil, imgerr.New(imgerr.Image, imgerr.CodeInvalidParam, "buffer too short for key slots")
	}
	slots = make([]KeySlot, nks)
	for i := range slots {
		off := headSize + i*slotSize
		slots[i] = unmarshalSlot(buf[off : off+slotSize])
	}
	return phs, nks, sea, slots, nil
}

// Open verifies and decrypts a sealed header buffer, returning the fully
// decoded Header. This is the inverse of Build+Seal and is used by tests
// (and could back a future "inspect image" subcommand).
func Open(buf, custRootKey []byte) (*Header, error) {
	phs, _, sea, slots, err := ParseHead(buf)
	if err != nil {
		return nil, err
	}
	if uint64(len(buf)) != uint64(phs) {
		return nil, imgerr.New(imgerr.Image, imgerr.CodeInvalidParam, "buffer length does not match phs")
	}
	h := &Header{Slots: slots}
	copy(h.IV[:], buf[offIV:offIV+12])
	h.NEP = binary.BigEndian.Uint64(buf[offNEP:])
	h.PCF = binary.BigEndian.Uint64(buf[offPCF:])
	copy(h.CustPubKey[:], buf[offCustPubKey:offCustPubKey+132])
	copy(h.PLD[:], buf[offPLD:offPLD+64])
	copy(h.ALD[:], buf[offALD:offALD+64])
	copy(h.TLD[:], buf[offTLD:offTLD+64])

	aadLen := int(phs) - int(sea) - tagSize
	aad := buf[:aadLen]
	iv := buf[offIV : offIV+12]
	ciphertext := buf[aadLen : aadLen+int(sea)]
	tag := buf[aadLen+int(sea):]

	plain, err := cryptoutil.GCMOpen(custRootKey, iv, aad, ciphertext, tag)
	if err != nil {
		return nil, err
	}
	if len(plain) < encFixedSize {
		return nil, imgerr.Internal(imgerr.Image, "decrypted encrypted region shorter than its fixed fields")
	}
	copy(h.CustCommKey[:], plain[0:32])
	copy(h.ImgEncKey1[:], plain[32:64])
	copy(h.ImgEncKey2[:], plain[64:96])
	h.PSWMask = binary.BigEndian.Uint64(plain[96:104])
	h.PSWAddr = binary.BigEndian.Uint64(plain[104:112])
	h.SCF = binary.BigEndian.Uint64(plain[112:120])
	noi := binary.BigEndian.Uint32(plain[120:124])
	if noi != 0 {
		return nil, imgerr.New(imgerr.Image, imgerr.CodeInvalidParam, "unsupported optional item count")
	}
	if len(plain) > encFixedSize {
		h.OptionalItems = append([]byte{}, plain[encFixedSize:]...)
	}
	return h, nil
}
