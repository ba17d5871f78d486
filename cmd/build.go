// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"crypto/ecdh"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibm-s390-linux/genprotimg/internal/auditlog"
	"github.com/ibm-s390-linux/genprotimg/internal/component"
	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
	"github.com/ibm-s390-linux/genprotimg/internal/pvimage"
	"github.com/ibm-s390-linux/genprotimg/internal/trust"
)

var (
	hostCertPaths   []string
	hostsManifest   string
	imagePath       string
	ramdiskPath     string
	parmfilePath    string
	outputPath      string
	headerKeyPath   string
	compKeyPath     string
	commKeyPath     string
	xPCF            string
	xSCF            string
	xPSW            string
	noCertCheck     bool
	trustDSN        string
	caBundlePath    string
	auditDSN        string
	stage3aTemplate string
	stage3aLoadAddr string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Assemble a Protected Virtualization boot image",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindEnv(cmd)
	},
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringArrayVarP(&hostCertPaths, "host-certificate", "c", nil, "PEM X.509 host certificate (repeatable, at least one required unless --hosts-manifest is given)")
	buildCmd.Flags().StringVar(&hostsManifest, "hosts-manifest", "", "YAML file listing host certificates, an alternative to repeating -c")
	buildCmd.Flags().StringVarP(&imagePath, "image", "i", "", "kernel image (required)")
	buildCmd.Flags().StringVarP(&ramdiskPath, "ramdisk", "r", "", "initial ramdisk (optional)")
	buildCmd.Flags().StringVarP(&parmfilePath, "parmfile", "p", "", "kernel command line file (optional)")
	buildCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output image path (required)")
	buildCmd.Flags().StringVar(&headerKeyPath, "header-key", "", "override the 32-byte customer root key read from a raw file")
	buildCmd.Flags().StringVar(&compKeyPath, "comp-key", "", "override the 64-byte component XTS key read from a raw file")
	buildCmd.Flags().StringVar(&commKeyPath, "x-comm-key", "", "override the 32-byte customer communication key read from a raw file")
	buildCmd.Flags().StringVar(&xPCF, "x-pcf", "", "override the plaintext control flags (hex)")
	buildCmd.Flags().StringVar(&xSCF, "x-scf", "", "override the secret control flags (hex)")
	buildCmd.Flags().StringVar(&xPSW, "x-psw", "", "override the initial PSW mask (hex)")
	buildCmd.Flags().BoolVar(&noCertCheck, "no-cert-check", false, "disable host certificate trust verification")
	buildCmd.Flags().StringVar(&trustDSN, "trust-db", "", "trust store DSN (sqlite:// or postgres://), enables revocation checks")
	buildCmd.Flags().StringVar(&caBundlePath, "ca-bundle", "", "PEM file of CA certificates host certificates must chain to")
	buildCmd.Flags().StringVar(&auditDSN, "audit-db", "", "build ledger DSN (sqlite:// or postgres://); unset disables the audit log")
	buildCmd.Flags().StringVar(&stage3aTemplate, "stage3a-template", "", "path to the stage-3a boot shim template (required)")
	buildCmd.Flags().StringVar(&stage3aLoadAddr, "stage3a-load-addr", "0x2000", "guest-absolute load address of the stage-3a template (hex)")
}

// parseHexUint64Flag parses an optional --x-* hex override, returning nil
// when the flag was not set (spec.md §4.4 step 2: "strictly ASCII
// hexadecimal, must parse to uint64; else fail with EINVAL").
func parseHexUint64Flag(name, val string) (*uint64, error) {
	if val == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(trimHexPrefix(val), 16, 64)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Parse, imgerr.CodeInvalidParam, err, fmt.Sprintf("parsing --%s", name))
	}
	return &v, nil
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func readKeyOverride(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "reading key override file "+path)
	}
	return data, nil
}

func loadCABundle(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "reading CA bundle")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, imgerr.New(imgerr.Parse, imgerr.CodeInvalidFormat, "no certificates found in CA bundle "+path)
	}
	return pool, nil
}

// outputSHA256 hex-encodes the SHA-256 digest of the written image, the
// output_sha256 column of the audit log's build_records table.
func outputSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "hashing output image")
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", imgerr.Wrap(imgerr.IO, imgerr.CodeRead, err, "hashing output image")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func resolveHostCertPaths() ([]string, error) {
	paths := append([]string{}, hostCertPaths...)
	if hostsManifest != "" {
		m, err := LoadHostsManifest(hostsManifest)
		if err != nil {
			return nil, imgerr.Wrap(imgerr.Parse, imgerr.CodeInvalidParam, err, "loading --hosts-manifest")
		}
		paths = append(paths, m.CertPaths()...)
	}
	if len(paths) == 0 {
		return nil, imgerr.New(imgerr.Parse, imgerr.CodeMissingOption, "at least one host certificate is required (-c or --hosts-manifest)")
	}
	return paths, nil
}

func runBuild(cmd *cobra.Command, args []string) (err error) {
	started := time.Now()

	var ledger *auditlog.Ledger
	if auditDSN != "" {
		if ledger, err = auditlog.Open(auditDSN); err != nil {
			return err
		}
		defer ledger.Close()
	}

	var numHosts, numComponents int
	var numEncryptedPages uint64
	defer func() {
		if ledger == nil {
			return
		}
		var auditErr error
		if err != nil {
			auditErr = ledger.RecordFailure(started, outputPath, err)
		} else {
			sum, sumErr := outputSHA256(outputPath)
			if sumErr != nil {
				cmd.PrintErrf("warning: failed to hash output image for audit log: %v\n", sumErr)
			}
			auditErr = ledger.RecordSuccess(started, outputPath, numHosts, numComponents, numEncryptedPages, sum)
		}
		if auditErr != nil {
			cmd.PrintErrf("warning: failed to write audit log entry: %v\n", auditErr)
		}
	}()

	if imagePath == "" {
		return imgerr.New(imgerr.Parse, imgerr.CodeMissingOption, "-i/--image is required")
	}
	if outputPath == "" {
		return imgerr.New(imgerr.Parse, imgerr.CodeMissingOption, "-o/--output is required")
	}
	if stage3aTemplate == "" {
		return imgerr.New(imgerr.Parse, imgerr.CodeMissingOption, "--stage3a-template is required")
	}

	certPaths, err := resolveHostCertPaths()
	if err != nil {
		return err
	}
	numHosts = len(certPaths)
	certPEMs := make([][]byte, len(certPaths))
	for i, p := range certPaths {
		if certPEMs[i], err = os.ReadFile(p); err != nil {
			return imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "reading host certificate "+p)
		}
	}

	pcfOverride, err := parseHexUint64Flag("x-pcf", xPCF)
	if err != nil {
		return err
	}
	scfOverride, err := parseHexUint64Flag("x-scf", xSCF)
	if err != nil {
		return err
	}
	pswOverride, err := parseHexUint64Flag("x-psw", xPSW)
	if err != nil {
		return err
	}
	loadAddr, err := parseHexUint64Flag("stage3a-load-addr", stage3aLoadAddr)
	if err != nil {
		return err
	}
	if loadAddr == nil {
		return imgerr.New(imgerr.Parse, imgerr.CodeInvalidParam, "--stage3a-load-addr must be set")
	}

	headerKey, err := readKeyOverride(headerKeyPath)
	if err != nil {
		return err
	}
	compKey, err := readKeyOverride(compKeyPath)
	if err != nil {
		return err
	}
	commKey, err := readKeyOverride(commKeyPath)
	if err != nil {
		return err
	}

	tmpl, err := os.ReadFile(stage3aTemplate)
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "reading --stage3a-template")
	}

	var pcf, scf uint64
	if pcfOverride != nil {
		pcf = *pcfOverride
	}
	if scfOverride != nil {
		scf = *scfOverride
	}

	caBundle, err := loadCABundle(caBundlePath)
	if err != nil {
		return err
	}
	var trustStore *trust.Store
	if trustDSN != "" {
		if trustStore, err = trust.Open(trustDSN); err != nil {
			return err
		}
		defer trustStore.Close()
	}

	verify := func(certPEM []byte) (*ecdh.PublicKey, error) {
		return trust.LoadHostKey(certPEM, caBundle, trustStore, noCertCheck)
	}

	b, err := pvimage.New(pvimage.Args{
		HostCertificates: certPEMs,
		Overrides: pvimage.KeyOverrides{
			XTSKey:      compKey,
			CustCommKey: commKey,
			CustRootKey: headerKey,
		},
		PCF:             pcf,
		SCF:             scf,
		PSWMaskOverride: pswOverride,
		Stage3aTemplate: tmpl,
		Stage3aLoadAddr: *loadAddr,
		TmpDirParent:    tmpDir,
	}, verify)
	if err != nil {
		return err
	}
	defer b.Close()

	// spec.md §9's "global temp-dir + signal handler" pattern, adapted
	// from ManufacturingServer.Start's shutdown goroutine: the handler
	// only requests cleanup, it never performs I/O itself.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-stop:
			b.Close()
			os.Exit(130) // 128+SIGINT, conventional for signal-terminated processes
		case <-done:
		}
	}()

	if err := b.AddFileComponent(component.Kernel, imagePath); err != nil {
		return err
	}
	if parmfilePath != "" {
		if err := b.AddFileComponent(component.Cmdline, parmfilePath); err != nil {
			return err
		}
	}
	if ramdiskPath != "" {
		if err := b.AddFileComponent(component.Initrd, ramdiskPath); err != nil {
			return err
		}
	}

	if err := b.Finalize(); err != nil {
		return err
	}
	numEncryptedPages = b.NumEncryptedPages()
	numComponents = b.NumComponents()
	if err := b.Write(outputPath); err != nil {
		return err
	}

	return nil
}
