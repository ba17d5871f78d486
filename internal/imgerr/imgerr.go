// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package imgerr defines the error taxonomy shared by every layer of the
// image builder: a small set of domains, each with a handful of named
// codes, so the driver can always print "domain: code: detail" and decide
// an exit status without string-matching error text.
package imgerr

import "fmt"

// Domain groups related failure codes.
type Domain string

const (
	Parse     Domain = "parse"
	Image     Domain = "image"
	Component Domain = "component"
	Crypto    Domain = "crypto"
	IO        Domain = "io"
)

// Well-known codes. Domains are free to use codes not listed here when a
// failure doesn't fit an existing bucket, but these cover every case
// spec.md names explicitly.
const (
	CodeInternal            = "internal"
	CodeMissingOption       = "missing_option"
	CodeMultipleValues      = "multiple_values"
	CodeOffsetAfterAdd      = "offset_after_add"
	CodeFinalized           = "finalized"
	CodeUnaligned           = "unaligned"
	CodeInit                = "init"
	CodeVerification        = "verification"
	CodeReadCertificate     = "read_certificate"
	CodeDerive              = "derive"
	CodeKeygen              = "keygen"
	CodeRandomization       = "randomization"
	CodeInvalidParam        = "invalid_param"
	CodeInvalidKeySize      = "invalid_key_size"
	CodeOpen                = "open"
	CodeRead                = "read"
	CodeWrite               = "write"
	CodeStat                = "stat"
	CodeSeek                = "seek"
	CodeSizeTooLarge        = "size_too_large"
	CodeSizeChangedDuringOp = "size_changed"
	CodeInvalidFormat       = "invalid_format"
)

// Error is the concrete error type returned by every package under
// internal/. It always wraps an underlying cause (possibly nil) so
// callers can still errors.Is/errors.As through it.
type Error struct {
	Dom  Domain
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Dom, e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Dom, e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(dom Domain, code, msg string) *Error {
	return &Error{Dom: dom, Code: code, Msg: msg}
}

// Wrap builds an Error around an existing cause.
func Wrap(dom Domain, code string, err error, msg string) *Error {
	return &Error{Dom: dom, Code: code, Msg: msg, Err: err}
}

// Internal is a shorthand for the "this should never happen" class of
// invariant violation spec.md §7 says must abort rather than recover.
func Internal(dom Domain, msg string) *Error {
	return New(dom, CodeInternal, msg)
}
