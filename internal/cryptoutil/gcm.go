// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

const GCMTagSize = 16

// GCMSeal encrypts plaintext under an AES-256-GCM key, authenticating aad,
// and returns the ciphertext (same length as plaintext) and a detached
// 16-byte tag. Neither plaintext nor aad need be block-aligned.
func GCMSeal(key, iv, aad, plaintext []byte) (ciphertext, tag []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	sealed := aead.Seal(nil, iv, plaintext, aad)
	if len(sealed) != len(plaintext)+GCMTagSize {
		return nil, nil, imgerr.Internal(imgerr.Crypto, "unexpected GCM seal output length")
	}
	ciphertext = sealed[:len(plaintext)]
	tag = sealed[len(plaintext):]
	return ciphertext, tag, nil
}

// GCMOpen is the inverse of GCMSeal: it verifies tag against (aad,
// ciphertext) and returns the recovered plaintext, or a CRYPTO/verification
// error if the tag does not match.
func GCMOpen(key, iv, aad, ciphertext, tag []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeVerification, err, "GCM tag verification failed")
	}
	return plaintext, nil
}

// SealInPlace seals buf[:len(buf)-GCMTagSize] in place (ciphertext
// overwrites plaintext) using aad drawn from a separate slice, and writes
// the tag into the final GCMTagSize bytes of buf. This is the shape
// pvheader.Seal needs: a single flat header buffer carrying
// AAD||plaintext||tag-sized-tail.
func SealInPlace(key, iv, aad, buf []byte) error {
	if len(buf) < GCMTagSize {
		return imgerr.Internal(imgerr.Crypto, "buffer too small for GCM tag")
	}
	plaintext := buf[:len(buf)-GCMTagSize]
	ciphertext, tag, err := GCMSeal(key, iv, aad, plaintext)
	if err != nil {
		return err
	}
	copy(buf[:len(ciphertext)], ciphertext)
	copy(buf[len(ciphertext):], tag)
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeInit, err, "constructing AES block cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeInit, err, "constructing GCM AEAD")
	}
	return aead, nil
}
