// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cryptoutil

import (
	"crypto/rand"
	"io"

	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// Random returns n cryptographically secure random bytes, backed by the
// OS CSPRNG (crypto/rand). A short read from the CSPRNG is treated as a
// randomization failure rather than silently returning fewer bytes.
func Random(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, imgerr.Wrap(imgerr.Crypto, imgerr.CodeRandomization, err, "reading CSPRNG bytes")
	}
	return buf, nil
}
