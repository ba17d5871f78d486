// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package pvimage

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ibm-s390-linux/genprotimg/internal/component"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// noDecryption reports whether components should be prepared plaintext
// (spec.md §8 scenario 3, `--x-pcf 0x10000000`) instead of XTS-encrypted.
// Bit 28 (0x10000000) of pcf is the documented no-decryption flag.
const pcfNoDecryptionBit = 0x10000000

func (b *Builder) noDecryption() bool {
	return b.pcf&pcfNoDecryptionBit != 0
}

// AddFileComponent loads typ from path, rejects directories and (for
// Kernel) ELF images, then prepares and appends it to the component list.
// It must be called before AddBufComponent/Finalize for every user
// component (kernel, optional ramdisk, optional parmfile), in
// non-decreasing type order (spec.md §4.3).
func (b *Builder) AddFileComponent(typ component.Type, path string) error {
	c, err := component.NewFile(typ, path)
	if err != nil {
		return err
	}
	return b.addPrepared(c)
}

// AddBufComponent appends an in-memory component (used for the kernel
// command line, and internally for the generated stage-3b).
func (b *Builder) AddBufComponent(typ component.Type, data []byte) error {
	c, err := component.NewBuf(typ, data)
	if err != nil {
		return err
	}
	return b.addPrepared(c)
}

func (b *Builder) addPrepared(c *component.Component) error {
	if b.finalized {
		return imgerr.New(imgerr.Image, imgerr.CodeFinalized, "cannot add a component after Finalize")
	}
	if err := c.Prepare(b.tmpDir, b.xtsKey, b.noDecryption()); err != nil {
		return err
	}
	return b.comps.Add(c)
}

// fileComponentSpec names one file-backed component for
// AddFileComponentsParallel.
type fileComponentSpec struct {
	Type component.Type
	Path string
}

// AddFileComponentsParallel prepares several independent components
// concurrently (kernel + initrd can both be large) and adds them to the
// list in the order given, per spec.md §5: "implementers may parallelise
// per-component encryption provided (a) digest updates remain in list
// order, (b) the assignment of src_addr and next_src remains sequential,
// (c) CSPRNG calls are serialised." Preparation (which performs the bulk
// encryption work and any CSPRNG-derived tweak generation) happens in the
// errgroup; list insertion, which assigns src_addr and is the only point
// that mutates shared list state, happens afterwards on the calling
// goroutine, strictly in input order.
func (b *Builder) AddFileComponentsParallel(ctx context.Context, specs []fileComponentSpec) error {
	if b.finalized {
		return imgerr.New(imgerr.Image, imgerr.CodeFinalized, "cannot add components after Finalize")
	}
	comps := make([]*component.Component, len(specs))

	g, _ := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			c, err := component.NewFile(spec.Type, spec.Path)
			if err != nil {
				return err
			}
			if err := c.Prepare(b.tmpDir, b.xtsKey, b.noDecryption()); err != nil {
				return err
			}
			comps[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, c := range comps {
		if err := b.comps.Add(c); err != nil {
			return err
		}
	}
	return nil
}
