// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// HostEntry is one host certificate named in a --hosts-manifest file, an
// alternative to repeating -c/--host-certificate on the command line for
// builds targeting many hosts.
type HostEntry struct {
	Path  string `mapstructure:"path"`
	Label string `mapstructure:"label"`
}

// TrustConfig is the optional "trust" section of a manifest (a trust
// store DSN and a CA bundle path). It is decoded and checked for unknown
// keys, but the build command does not apply it: its trust store and CA
// bundle come from --trust-db and --ca-bundle only.
type TrustConfig struct {
	DSN          string `mapstructure:"dsn"`
	CABundlePath string `mapstructure:"ca_bundle"`
}

// HostsManifest is the top-level shape of a --hosts-manifest YAML file:
//
//	hosts:
//	  - path: certs/host1.pem
//	    label: frankfurt-1
//	  - path: certs/host2.pem
//	    label: frankfurt-2
//	trust:
//	  dsn: sqlite:///var/lib/genprotimg/trust.db
//	  ca_bundle: /etc/genprotimg/ca-bundle.pem
//
// Unmarshalling happens in two steps, the way ServiceInfoOperation decodes
// the teacher's FSIM tagged union: the raw YAML is first parsed into a
// generic map, then mapstructure.Decode fills in HostsManifest so that
// unknown/misspelled keys are caught explicitly rather than silently
// ignored.
type HostsManifest struct {
	Hosts []HostEntry `mapstructure:"hosts"`
	Trust TrustConfig `mapstructure:"trust"`
}

// LoadHostsManifest reads and validates a --hosts-manifest file.
func LoadHostsManifest(path string) (*HostsManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hosts manifest %q: %w", path, err)
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parsing hosts manifest %q: %w", path, err)
	}

	var manifest HostsManifest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &manifest,
	})
	if err != nil {
		return nil, fmt.Errorf("building hosts manifest decoder: %w", err)
	}
	if err := decoder.Decode(generic); err != nil {
		return nil, fmt.Errorf("decoding hosts manifest %q: %w", path, err)
	}

	if err := manifest.validate(); err != nil {
		return nil, fmt.Errorf("hosts manifest %q: %w", path, err)
	}
	return &manifest, nil
}

func (m *HostsManifest) validate() error {
	if len(m.Hosts) == 0 {
		return fmt.Errorf("at least one entry is required under 'hosts'")
	}
	seen := make(map[string]bool, len(m.Hosts))
	for i, h := range m.Hosts {
		if h.Path == "" {
			return fmt.Errorf("hosts entry %d: path is required", i)
		}
		if seen[h.Path] {
			return fmt.Errorf("hosts entry %d: duplicate path %q", i, h.Path)
		}
		seen[h.Path] = true
	}
	return nil
}

// CertPaths returns the certificate file paths named by the manifest, in
// order, for callers that only care about the -c-equivalent list.
func (m *HostsManifest) CertPaths() []string {
	paths := make([]string, len(m.Hosts))
	for i, h := range m.Hosts {
		paths[i] = h.Path
	}
	return paths
}
