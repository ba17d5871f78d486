// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"io"

	"github.com/ibm-s390-linux/genprotimg/internal/buffer"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

const (
	XTSKeySize   = 64
	TweakSize    = 16
	xtsBlockSize = 16
)

// xtsCipher is a minimal AES-XTS implementation that, unlike
// golang.org/x/crypto/xts, takes the initial tweak for each data unit as
// an arbitrary 16-byte value rather than a uint64 sector number — this
// tool's tweak encodes a component type and random bytes in its upper
// bits (spec.md §4.1), which the sector-number API cannot express.
type xtsCipher struct {
	data  cipher.Block
	tweak cipher.Block
}

func newXTS(key []byte) (*xtsCipher, error) {
	if len(key) != XTSKeySize {
		return nil, imgerr.New(imgerr.Crypto, imgerr.CodeInvalidParam, "XTS key must be 64 bytes")
	}
	dataBlock, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeInit, err, "constructing XTS data cipher")
	}
	tweakBlock, err := aes.NewCipher(key[32:])
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeInit, err, "constructing XTS tweak cipher")
	}
	return &xtsCipher{data: dataBlock, tweak: tweakBlock}, nil
}

// encryptPage XTS-encrypts exactly one page (buffer.PageSize bytes),
// deriving the per-block tweak from rawTweak the standard IEEE 1619 way:
// T_0 = E_tweakKey(rawTweak), T_{j+1} = T_j doubled in GF(2^128).
func (x *xtsCipher) encryptPage(dst, src []byte, rawTweak [TweakSize]byte) {
	var t [TweakSize]byte
	x.tweak.Encrypt(t[:], rawTweak[:])

	var block [xtsBlockSize]byte
	for off := 0; off < len(src); off += xtsBlockSize {
		xorBytes(block[:], src[off:off+xtsBlockSize], t[:])
		x.data.Encrypt(block[:], block[:])
		xorBytes(dst[off:off+xtsBlockSize], block[:], t[:])
		gf128Double(&t)
	}
}

func xorBytes(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

// gf128Double multiplies t by the primitive element of GF(2^128) under the
// XTS reduction polynomial x^128 + x^7 + x^2 + x + 1, using the
// little-endian bit convention IEEE 1619 specifies for tweak doubling.
func gf128Double(t *[TweakSize]byte) {
	var carry byte
	for i := 0; i < TweakSize; i++ {
		next := t[i] >> 7
		t[i] = (t[i] << 1) | carry
		carry = next
	}
	if carry != 0 {
		t[0] ^= 0x87
	}
}

// AdvanceTweakByPage advances rawTweak by PageSize, treating it as a
// 128-bit big-endian unsigned integer, per spec.md §4.1. Exported so
// internal/component can advance the same tweak sequence while feeding
// the tweak-list digest.
func AdvanceTweakByPage(t *[TweakSize]byte) {
	var add [TweakSize]byte
	binary.BigEndian.PutUint64(add[TweakSize-8:], buffer.PageSize)
	var carry uint16
	for i := TweakSize - 1; i >= 0; i-- {
		sum := uint16(t[i]) + uint16(add[i]) + carry
		t[i] = byte(sum)
		carry = sum >> 8
	}
}

// XTSEncryptStream encrypts r in PageSize chunks, writing ciphertext to w,
// advancing the tweak by one page after each chunk (spec.md §4.1). The
// caller's initialTweak is read but never mutated. r must yield a length
// that is an exact multiple of PageSize (callers pad components before
// calling this); an empty reader yields an empty write with zero pages,
// leaving "at least one page" enforcement to the component layer.
func XTSEncryptStream(key, initialTweak []byte, r io.Reader, w io.Writer) (pages int, err error) {
	if len(initialTweak) != TweakSize {
		return 0, imgerr.New(imgerr.Crypto, imgerr.CodeInvalidParam, "XTS tweak must be 16 bytes")
	}
	xc, err := newXTS(key)
	if err != nil {
		return 0, err
	}

	var tweak [TweakSize]byte
	copy(tweak[:], initialTweak)

	in := make([]byte, buffer.PageSize)
	out := make([]byte, buffer.PageSize)
	for {
		n, rerr := io.ReadFull(r, in)
		if rerr == io.EOF {
			break
		}
		if rerr != nil && rerr != io.ErrUnexpectedEOF {
			return pages, imgerr.Wrap(imgerr.IO, imgerr.CodeRead, rerr, "reading XTS input chunk")
		}
		if n != buffer.PageSize {
			return pages, imgerr.Internal(imgerr.Crypto, "XTS input is not page-aligned")
		}
		xc.encryptPage(out, in, tweak)
		if _, werr := w.Write(out); werr != nil {
			return pages, imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, werr, "writing XTS output chunk")
		}
		AdvanceTweakByPage(&tweak)
		pages++
	}
	return pages, nil
}
