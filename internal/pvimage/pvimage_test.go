package pvimage

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ibm-s390-linux/genprotimg/internal/component"
	"github.com/ibm-s390-linux/genprotimg/internal/cryptoutil"
	"github.com/ibm-s390-linux/genprotimg/internal/pvheader"
)

func selfSignedHostCertPEM(t *testing.T) []byte {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test host"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func verifyNoCertCheck(certPEM []byte) (*ecdh.PublicKey, error) {
	_, pub, err := cryptoutil.ParseECCertificatePEM(certPEM)
	return pub, err
}

func newTestArgs(t *testing.T) Args {
	t.Helper()
	return Args{
		HostCertificates: [][]byte{selfSignedHostCertPEM(t)},
		Stage3aTemplate:  make([]byte, 4096),
		Stage3aLoadAddr:  0x2000,
		TmpDirParent:     t.TempDir(),
	}
}

func TestFullBuildRoundTrip(t *testing.T) {
	args := newTestArgs(t)

	b, err := New(args, verifyNoCertCheck)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	kernelPath := filepath.Join(t.TempDir(), "vmlinuz")
	if err := os.WriteFile(kernelPath, bytes.Repeat([]byte{0x42}, 8192), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := b.AddFileComponent(component.Kernel, kernelPath); err != nil {
		t.Fatalf("AddFileComponent kernel: %v", err)
	}
	if err := b.AddBufComponent(component.Cmdline, []byte("console=ttyS0")); err != nil {
		t.Fatalf("AddBufComponent cmdline: %v", err)
	}

	if err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	out := filepath.Join(t.TempDir(), "disk.img")
	if err := b.Write(out); err != nil {
		t.Fatalf("Write: %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("Stat output: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("output file is empty")
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	headerAddr := b.blob.HeaderAddr(b.stage3aLoadAddr)
	headerLen := len(b.header)
	if uint64(len(data)) < headerAddr+uint64(headerLen) {
		t.Fatalf("output file too short to contain the patched header: len=%d need=%d", len(data), headerAddr+uint64(headerLen))
	}
	headerBytes := data[headerAddr : headerAddr+uint64(headerLen)]

	rootKeyCopy := append([]byte{}, b.custRootKey...)
	opened, err := pvheader.Open(headerBytes, rootKeyCopy)
	if err != nil {
		t.Fatalf("pvheader.Open on written output: %v", err)
	}
	if len(opened.Slots) != 1 {
		t.Fatalf("expected 1 key slot, got %d", len(opened.Slots))
	}
	if opened.NEP == 0 {
		t.Fatal("expected a nonzero encrypted page count")
	}
}

func TestNewRejectsNoHostCertificates(t *testing.T) {
	args := newTestArgs(t)
	args.HostCertificates = nil
	if _, err := New(args, verifyNoCertCheck); err == nil {
		t.Fatal("expected New to fail with no host certificates")
	}
}

func TestNewRejectsMissizedKeyOverride(t *testing.T) {
	args := newTestArgs(t)
	args.Overrides.CustRootKey = make([]byte, 31)
	if _, err := New(args, verifyNoCertCheck); err == nil {
		t.Fatal("expected New to fail with a mis-sized key override")
	}
}

func TestShortPSWRejectsOutOfRangeAddress(t *testing.T) {
	if _, err := ShortPSW(defaultInitialPSW, 1<<31); err == nil {
		t.Fatal("expected ShortPSW to reject an address that doesn't fit in 31 bits")
	}
}

func TestShortPSWRejectsMaskWithBit12AlreadySet(t *testing.T) {
	if _, err := ShortPSW(shortPSWBit12, 0); err == nil {
		t.Fatal("expected ShortPSW to reject a mask with bit 12 already set")
	}
}
