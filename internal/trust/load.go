// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package trust

import (
	"crypto/ecdh"
	"crypto/x509"
	"encoding/hex"

	"github.com/ibm-s390-linux/genprotimg/internal/cryptoutil"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// LoadHostKey parses certPEM and returns its EC public key, optionally
// verifying it against caBundle and checking it against store's
// revocation cache (spec.md §9: "a real re-implementation should add
// trust-root loading and revocation checks").
//
// noCertCheck reproduces the upstream tool's current, always-on bypass:
// when true, neither caBundle nor store is consulted, matching
// spec.md §4.4 step 5 exactly. caBundle and store may independently be
// nil (e.g. a deployment that wants chain verification but has no
// revocation cache yet, or vice versa).
func LoadHostKey(certPEM []byte, caBundle *x509.CertPool, store *Store, noCertCheck bool) (*ecdh.PublicKey, error) {
	cert, pub, err := cryptoutil.ParseECCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	if noCertCheck {
		return pub, nil
	}

	if caBundle != nil {
		opts := x509.VerifyOptions{Roots: caBundle, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}
		if _, err := cert.Verify(opts); err != nil {
			return nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeVerification, err, "verifying host certificate chain")
		}
	}

	if store != nil {
		serialHex := hex.EncodeToString(cert.SerialNumber.Bytes())
		revoked, err := store.IsRevoked(serialHex)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, imgerr.New(imgerr.Crypto, imgerr.CodeVerification, "host certificate serial "+serialHex+" is revoked")
		}
	}

	return pub, nil
}
