// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing manifest fixture: %v", err)
	}
	return path
}

func TestLoadHostsManifestParsesHostsAndTrust(t *testing.T) {
	path := writeManifest(t, `
hosts:
  - path: certs/host1.pem
    label: frankfurt-1
  - path: certs/host2.pem
    label: frankfurt-2
trust:
  dsn: sqlite:///var/lib/genprotimg/trust.db
  ca_bundle: /etc/genprotimg/ca-bundle.pem
`)

	m, err := LoadHostsManifest(path)
	if err != nil {
		t.Fatalf("LoadHostsManifest: %v", err)
	}
	if len(m.Hosts) != 2 {
		t.Fatalf("len(m.Hosts) = %d, want 2", len(m.Hosts))
	}
	if m.Hosts[0].Label != "frankfurt-1" || m.Hosts[1].Label != "frankfurt-2" {
		t.Fatalf("unexpected labels: %+v", m.Hosts)
	}
	if m.Trust.DSN != "sqlite:///var/lib/genprotimg/trust.db" {
		t.Fatalf("unexpected trust DSN: %q", m.Trust.DSN)
	}

	got := m.CertPaths()
	want := []string{"certs/host1.pem", "certs/host2.pem"}
	for i, p := range want {
		if got[i] != p {
			t.Fatalf("CertPaths()[%d] = %q, want %q", i, got[i], p)
		}
	}
}

func TestLoadHostsManifestRejectsEmptyHosts(t *testing.T) {
	path := writeManifest(t, "hosts: []\n")
	if _, err := LoadHostsManifest(path); err == nil {
		t.Fatal("expected an error for a manifest with no hosts entries")
	}
}

func TestLoadHostsManifestRejectsDuplicatePath(t *testing.T) {
	path := writeManifest(t, `
hosts:
  - path: certs/host1.pem
  - path: certs/host1.pem
`)
	if _, err := LoadHostsManifest(path); err == nil {
		t.Fatal("expected an error for a manifest with a duplicate path")
	}
}

func TestLoadHostsManifestRejectsUnknownKey(t *testing.T) {
	path := writeManifest(t, `
hosts:
  - path: certs/host1.pem
bogus_key: true
`)
	if _, err := LoadHostsManifest(path); err == nil {
		t.Fatal("expected an error for an unrecognised top-level key")
	}
}

func TestLoadHostsManifestRejectsMissingFile(t *testing.T) {
	if _, err := LoadHostsManifest(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing manifest file")
	}
}
