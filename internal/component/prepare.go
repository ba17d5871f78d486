// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package component

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/ibm-s390-linux/genprotimg/internal/buffer"
	"github.com/ibm-s390-linux/genprotimg/internal/cryptoutil"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// Prepare page-pads the component and, unless noDecryption is set
// (PCF_NO_DECRYPTION, spec.md §4.2), XTS-encrypts it with xtsKey and the
// component's own tweak into tmpDir/<type-name>. Buffer-backed components
// stay in memory when noDecryption is set; every other case ends up
// file-backed, pointed at the scratch file.
func (c *Component) Prepare(tmpDir string, xtsKey []byte, noDecryption bool) error {
	src, closer, err := c.sourceReader()
	if err != nil {
		return err
	}
	defer closer.Close()

	paddedSize := buffer.PaddedSize(int(c.origSize))
	padLen := paddedSize - int(c.origSize)
	full := io.MultiReader(src, bytes.NewReader(make([]byte, padLen)))

	if noDecryption {
		if c.storage.kind == storageBuffer {
			data, err := io.ReadAll(full)
			if err != nil {
				return imgerr.Wrap(imgerr.IO, imgerr.CodeRead, err, "padding in-memory component")
			}
			c.storage.buf = buffer.FromBytes(data)
			return nil
		}
		return c.writePlainToTmp(tmpDir, full)
	}
	return c.encryptToTmp(tmpDir, xtsKey, full)
}

// sourceReader returns a reader over the component's pre-prepare content,
// re-validating a file component's size against the value cached at
// construction time (spec.md §4.2's "size changed during preparation").
func (c *Component) sourceReader() (io.Reader, io.Closer, error) {
	if c.storage.kind == storageBuffer {
		return bytes.NewReader(c.storage.buf.Bytes()), io.NopCloser(nil), nil
	}
	info, err := os.Stat(c.storage.path)
	if err != nil {
		return nil, nil, imgerr.Wrap(imgerr.IO, imgerr.CodeStat, err, "re-statting component before preparation")
	}
	if info.Size() != int64(c.origSize) {
		return nil, nil, imgerr.New(imgerr.IO, imgerr.CodeSizeChangedDuringOp, "component file size changed between stat and read")
	}
	f, err := os.Open(c.storage.path)
	if err != nil {
		return nil, nil, imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "opening component for preparation")
	}
	return f, f, nil
}

func (c *Component) tmpPath(tmpDir string) string {
	return filepath.Join(tmpDir, c.typ.String())
}

func (c *Component) writePlainToTmp(tmpDir string, full io.Reader) error {
	path := c.tmpPath(tmpDir)
	out, err := os.Create(path)
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "creating scratch file "+path)
	}
	defer out.Close()
	if _, err := io.Copy(out, full); err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "writing padded component to "+path)
	}
	info, err := out.Stat()
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeStat, err, "statting scratch file "+path)
	}
	c.storage = storage{kind: storageFile, path: path, size: info.Size()}
	return nil
}

func (c *Component) encryptToTmp(tmpDir string, xtsKey []byte, full io.Reader) error {
	path := c.tmpPath(tmpDir)
	out, err := os.Create(path)
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "creating scratch file "+path)
	}
	defer out.Close()
	if _, err := cryptoutil.XTSEncryptStream(xtsKey, c.tweak[:], full, out); err != nil {
		return err
	}
	info, err := out.Stat()
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeStat, err, "statting scratch file "+path)
	}
	c.storage = storage{kind: storageFile, path: path, size: info.Size()}
	return nil
}
