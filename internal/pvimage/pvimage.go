// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package pvimage implements the PvImage builder: the top-level object
// that owns keys, the component list, and the stage-3a working buffer,
// and orchestrates key generation, component encryption, header/IPIB
// construction, and final serialisation.
package pvimage

import (
	"crypto/ecdh"
	"fmt"
	"os"

	"github.com/ibm-s390-linux/genprotimg/internal/component"
	"github.com/ibm-s390-linux/genprotimg/internal/cryptoutil"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
	"github.com/ibm-s390-linux/genprotimg/internal/pvheader"
	"github.com/ibm-s390-linux/genprotimg/internal/stage3"
)

// PSWMaskEA and PSWMaskBA are the fixed initial-PSW control bits spec.md
// §4.4 step 1 requires (extended addressing + basic addressing).
const (
	PSWMaskEA = 0x0000000100000000
	PSWMaskBA = 0x0000000080000000
)

const defaultInitialPSW = PSWMaskEA | PSWMaskBA

// KeyOverrides lets the driver supply raw key material read from files
// instead of CSPRNG-generating it (spec.md §4.4 step 3). A nil field means
// "generate".
type KeyOverrides struct {
	XTSKey      []byte // 64 bytes
	CustCommKey []byte // 32 bytes
	CustRootKey []byte // 32 bytes
	GCMIV       []byte // 12 bytes
}

// Args configures a Builder; it is the Go-side analogue of the CLI flags
// listed in spec.md §6.
type Args struct {
	HostCertificates [][]byte // PEM bytes, one per -c flag
	Overrides        KeyOverrides
	PCF              uint64
	SCF              uint64
	// PSWMaskOverride implements --x-psw: it replaces the fixed
	// PSWMaskEA|PSWMaskBA default carried in both the encrypted header's
	// initial_psw and the stage-3a entry PSW. The address half of the
	// header's initial_psw is never taken from here — spec.md §4.6 fixes
	// it to stage-3b's src_addr — but the stage-3a entry address always
	// equals Stage3aLoadAddr, since that is where the hardware starts
	// executing the boot shim.
	PSWMaskOverride *uint64

	Stage3aTemplate []byte
	Stage3aLoadAddr uint64

	// TmpDirParent is the directory under which the scratch directory is
	// created (spec.md §9's "global temp-dir"); empty means os.TempDir().
	TmpDirParent string
}

// hostKey is one verified host public key, ready for key-slot
// construction (spec.md §4.5).
type hostKey struct {
	pub *ecdh.PublicKey
}

// Builder is the mutable, single-use PvImage under construction. Its
// lifecycle matches spec.md §3: created, configured, populated with
// components (including the appended stage-3b), finalised, written once.
type Builder struct {
	xtsKey      []byte
	custCommKey []byte
	custRootKey []byte
	gcmIV       []byte
	custKey     *ecdh.PrivateKey
	hosts       []hostKey

	pcf             uint64
	scf             uint64
	pswMask         uint64
	stage3aLoadAddr uint64
	tmpl            *stage3.Template

	comps *component.List

	// tmpDir is always initialised (possibly to "") before any fallible
	// step so Close is a safe no-op if construction fails early (spec.md
	// §9, "temp-dir creation" open question).
	tmpDir string

	finalized bool
	blob      *stage3.Blob
	header    []byte
}

// New constructs a Builder: fixes algorithm choices, acquires/generates
// keys, loads and verifies host certificates, and reserves the stage-3a
// region in the component list (spec.md §4.4 steps 1-8).
//
// verify is called once per host certificate and returns that host's
// public key; pass a function that only parses the certificate (such as
// cryptoutil.ParseECCertificatePEM) to reproduce the upstream tool's
// current "--no-cert-check" behaviour, or one backed by internal/trust for
// real chain/revocation checking.
func New(args Args, verify func(certPEM []byte) (*ecdh.PublicKey, error)) (b *Builder, err error) {
	b = &Builder{tmpDir: ""}
	defer func() {
		if err != nil {
			b.removeTmpDir()
		}
	}()

	if len(args.HostCertificates) == 0 {
		return nil, imgerr.New(imgerr.Parse, imgerr.CodeMissingOption, "at least one host certificate is required")
	}

	b.tmpDir, err = os.MkdirTemp(args.TmpDirParent, "genprotimg-")
	if err != nil {
		return nil, imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "creating scratch directory")
	}

	if b.xtsKey, err = acquireKey(args.Overrides.XTSKey, cryptoutil.XTSKeySize); err != nil {
		return nil, err
	}
	if b.custCommKey, err = acquireKey(args.Overrides.CustCommKey, 32); err != nil {
		return nil, err
	}
	if b.custRootKey, err = acquireKey(args.Overrides.CustRootKey, 32); err != nil {
		return nil, err
	}
	if b.gcmIV, err = acquireKey(args.Overrides.GCMIV, 12); err != nil {
		return nil, err
	}

	if b.custKey, err = cryptoutil.GenerateECKey(); err != nil {
		return nil, err
	}

	for _, pemBytes := range args.HostCertificates {
		pub, verr := verify(pemBytes)
		if verr != nil {
			return nil, verr
		}
		b.hosts = append(b.hosts, hostKey{pub: pub})
	}

	b.pcf = args.PCF
	b.scf = args.SCF
	b.pswMask = defaultInitialPSW
	if args.PSWMaskOverride != nil {
		b.pswMask = *args.PSWMaskOverride
	}

	b.stage3aLoadAddr = args.Stage3aLoadAddr
	if b.tmpl, err = stage3.ParseTemplate(args.Stage3aTemplate); err != nil {
		return nil, err
	}

	b.comps = component.NewList()

	// spec.md §4.4 step 7 allows deferring the exact component count, but
	// nks (the number of key slots) is already fixed — it equals the host
	// count — so the header's final size is already known, and the
	// maximum component count is fixed by the Type enum itself (kernel,
	// cmdline, initrd, stage3b). Size the blob for that worst case now, so
	// there is exactly one allocation and no risk of the region growing
	// into whatever ComponentList.SetOffset reserves below.
	maxComponents := int(component.Stage3B) + 1
	headerCap := pvheader.Size(len(b.hosts))
	if b.blob, err = stage3.NewBlob(b.tmpl, maxComponents, headerCap); err != nil {
		return nil, err
	}

	if err := b.comps.SetOffset(pageAlignUp(b.stage3aLoadAddr + b.blob.Size())); err != nil {
		return nil, err
	}

	return b, nil
}

func acquireKey(override []byte, size int) ([]byte, error) {
	if override != nil {
		if len(override) != size {
			return nil, imgerr.New(imgerr.Crypto, imgerr.CodeInvalidKeySize, fmt.Sprintf("expected a %d-byte key, got %d", size, len(override)))
		}
		return override, nil
	}
	return cryptoutil.Random(size)
}

func pageAlignUp(n uint64) uint64 {
	const page = uint64(4096)
	if rem := n % page; rem != 0 {
		return n + (page - rem)
	}
	return n
}

// NumEncryptedPages returns the number of XTS-encrypted pages fed into
// the tweak-list digest. Pages are counted only while Finalize computes
// the digests, so it returns 0 before Finalize has run.
func (b *Builder) NumEncryptedPages() uint64 {
	return b.comps.NEP()
}

// NumComponents returns the number of payload components added so far
// (kernel/cmdline/initrd, plus stage-3b once Finalize has appended it; the
// stage-3a blob is not counted, since it is never added to the list).
func (b *Builder) NumComponents() int {
	return len(b.comps.Components())
}

// Close removes the scratch directory. Safe to call multiple times and
// safe to call when New failed before a directory was created (spec.md
// §9's temp-dir open question).
func (b *Builder) Close() error {
	return b.removeTmpDir()
}

func (b *Builder) removeTmpDir() error {
	if b == nil || b.tmpDir == "" {
		return nil
	}
	err := os.RemoveAll(b.tmpDir)
	b.tmpDir = ""
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "removing scratch directory")
	}
	return nil
}
