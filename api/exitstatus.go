// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package api holds the small pieces shared between genprotimg's CLI
// commands that don't belong to any one internal/ package. It began as
// the HTTP routing/status layer for the FDO server this tool was adapted
// from; the only piece carried forward is the idea of a single place that
// maps an error to the code the caller reports to its client — there it
// was an HTTP status, here it's a process exit status.
package api

import (
	"errors"

	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// Process exit statuses returned by genprotimg's subcommands, documented
// in the man page alongside the flags from spec.md §6.
const (
	ExitOK           = 0
	ExitUsage        = 1 // bad flags/arguments, domain imgerr.Parse
	ExitCrypto       = 2 // key/cert/verification failure, domain imgerr.Crypto
	ExitIO           = 3 // filesystem/database failure, domain imgerr.IO
	ExitImage        = 4 // component/header/image construction failure
	ExitInternal     = 5 // "should never happen" invariant violation
	ExitUnclassified = 1 // error not produced by internal/imgerr
)

// ExitStatusFor maps err to the process exit status genprotimg should
// return for it. A nil error maps to ExitOK.
func ExitStatusFor(err error) int {
	if err == nil {
		return ExitOK
	}

	var ierr *imgerr.Error
	if !errors.As(err, &ierr) {
		return ExitUnclassified
	}
	if ierr.Code == imgerr.CodeInternal {
		return ExitInternal
	}

	switch ierr.Dom {
	case imgerr.Parse:
		return ExitUsage
	case imgerr.Crypto:
		return ExitCrypto
	case imgerr.IO:
		return ExitIO
	case imgerr.Image, imgerr.Component:
		return ExitImage
	default:
		return ExitInternal
	}
}
