// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cryptoutil

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"

	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// Curve returns the curve this tool is fixed to: secp521r1, per spec.md
// §4.4 step 1. A single named function stands in for spec.md's "nid"
// parameter, since the core never actually varies it.
func Curve() ecdh.Curve { return ecdh.P521() }

// RawCoordSize is the zero-padded affine coordinate width for secp521r1
// (ceil(521/8) bytes).
const RawCoordSize = 66

// GenerateECKey produces a fresh key pair on Curve().
func GenerateECKey() (*ecdh.PrivateKey, error) {
	key, err := Curve().GenerateKey(randReader{})
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeKeygen, err, "generating EC key pair")
	}
	return key, nil
}

// randReader adapts Random to io.Reader without importing crypto/rand
// twice across the package; kept here so GenerateECKey and ECDH share one
// audited entropy path.
type randReader struct{}

func (randReader) Read(p []byte) (int, error) {
	b, err := Random(len(p))
	if err != nil {
		return 0, err
	}
	copy(p, b)
	return len(b), nil
}

// ECDHDerive returns the raw curve-scalar shared secret (66 bytes on
// secp521r1) for the given key pair, per spec.md §4.1.
func ECDHDerive(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	raw, err := priv.ECDH(pub)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeDerive, err, "ECDH derive")
	}
	if len(raw) != RawCoordSize {
		return nil, imgerr.Internal(imgerr.Crypto, "unexpected ECDH shared-secret length")
	}
	return raw, nil
}

// ExchangeKey computes the 32-byte exchange key spec.md §4.1 defines:
// SHA-256(raw_shared || 0x00000001), the NIST SP 800-56A single-step KDF
// with a one-block big-endian counter appended to the 66-byte shared
// secret.
func ExchangeKey(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	raw, err := ECDHDerive(priv, pub)
	if err != nil {
		return nil, err
	}
	var buf [RawCoordSize + 4]byte
	copy(buf[:RawCoordSize], raw)
	binary.BigEndian.PutUint32(buf[RawCoordSize:], 1)
	sum := sha256.Sum256(buf[:])
	return sum[:], nil
}

// EVPPubToRaw returns the affine (x, y) coordinates of pub, each
// zero-left-padded to RawCoordSize bytes (spec.md §4.1).
func EVPPubToRaw(pub *ecdh.PublicKey) (x, y [RawCoordSize]byte, err error) {
	enc := pub.Bytes()
	if len(enc) != 1+2*RawCoordSize || enc[0] != 0x04 {
		return x, y, imgerr.Internal(imgerr.Crypto, "unexpected EC public key encoding")
	}
	copy(x[:], enc[1:1+RawCoordSize])
	copy(y[:], enc[1+RawCoordSize:])
	return x, y, nil
}

// RawPubKey132 returns the 132-byte raw x||y encoding used as AAD/digest
// input in the PV header and key-slot construction (spec.md §4.5/§4.6).
func RawPubKey132(pub *ecdh.PublicKey) ([]byte, error) {
	x, y, err := EVPPubToRaw(pub)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2*RawCoordSize)
	out = append(out, x[:]...)
	out = append(out, y[:]...)
	return out, nil
}

// DigestKeySHA256 computes SHA-256 over the raw 132-byte public key
// encoding, the "digest_key" field of a key slot (spec.md §4.5).
func DigestKeySHA256(pub *ecdh.PublicKey) ([]byte, error) {
	raw, err := RawPubKey132(pub)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// ParseECCertificatePEM decodes a single PEM-encoded X.509 certificate and
// extracts its EC public key, requiring it lie on Curve() (spec.md §4.1's
// load_ec_pubkey_cert, minus trust-store verification — callers that need
// chain/revocation checks should verify cert before calling this, e.g.
// internal/trust.LoadHostKey).
func ParseECCertificatePEM(pemBytes []byte) (*x509.Certificate, *ecdh.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, imgerr.New(imgerr.Crypto, imgerr.CodeReadCertificate, "no PEM certificate block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeReadCertificate, err, "parsing X.509 certificate")
	}
	ecdsaPub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, nil, imgerr.New(imgerr.Crypto, imgerr.CodeReadCertificate, "certificate does not carry an EC public key")
	}
	pub, err := ecdsaPub.ECDH()
	if err != nil {
		return nil, nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeReadCertificate, err, "converting EC public key")
	}
	if pub.Curve() != Curve() {
		return nil, nil, imgerr.New(imgerr.Crypto, imgerr.CodeReadCertificate, "certificate public key is not on secp521r1")
	}
	return cert, pub, nil
}
