// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package api

import (
	"errors"
	"testing"

	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

func TestExitStatusForMapsDomains(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.New("plain error"), ExitUnclassified},
		{imgerr.New(imgerr.Parse, imgerr.CodeMissingOption, "missing -c"), ExitUsage},
		{imgerr.New(imgerr.Crypto, imgerr.CodeInvalidKeySize, "bad key"), ExitCrypto},
		{imgerr.New(imgerr.IO, imgerr.CodeOpen, "open failed"), ExitIO},
		{imgerr.New(imgerr.Image, imgerr.CodeFinalized, "already finalized"), ExitImage},
		{imgerr.New(imgerr.Component, imgerr.CodeInvalidFormat, "elf kernel"), ExitImage},
		{imgerr.Internal(imgerr.Crypto, "invariant violated"), ExitInternal},
	}

	for _, c := range cases {
		if got := ExitStatusFor(c.err); got != c.want {
			t.Errorf("ExitStatusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestExitStatusForUnwrapsWrappedErrors(t *testing.T) {
	inner := imgerr.New(imgerr.IO, imgerr.CodeRead, "read failed")
	wrapped := errors.New("context: " + inner.Error())
	if got := ExitStatusFor(wrapped); got != ExitUnclassified {
		t.Errorf("a plain fmt-wrapped string should not classify as imgerr; got %d", got)
	}

	reallyWrapped := imgerr.Wrap(imgerr.IO, imgerr.CodeRead, inner, "outer context")
	if got := ExitStatusFor(reallyWrapped); got != ExitIO {
		t.Errorf("ExitStatusFor(wrapped imgerr.Error) = %d, want %d", got, ExitIO)
	}
}
