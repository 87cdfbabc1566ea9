// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// graphDocument is the on-disk shape of a declarative mount-graph
// descriptor: additive sugar over the full-form [NewSandboxConfig]
// constructor, not a replacement for it.
type graphDocument struct {
	Mounts   map[string]graphMount `yaml:"mounts"`
	Env      map[string]string     `yaml:"env,omitempty"`
	Pwd      string                `yaml:"pwd,omitempty"`
	Persist  *bool                 `yaml:"persist,omitempty"`
	UID      *int                  `yaml:"uid,omitempty"`
	GID      *int                  `yaml:"gid,omitempty"`
	Hostname string                `yaml:"hostname,omitempty"`
	Verbose  bool                  `yaml:"verbose,omitempty"`
}

type graphMount struct {
	Host string `yaml:"host"`
	Type string `yaml:"type"`
}

func (m graphMount) mountType() (MountType, error) {
	switch m.Type {
	case "", "read_only":
		return ReadOnly, nil
	case "read_write":
		return ReadWrite, nil
	case "overlayed":
		return Overlayed, nil
	case "overlayed_read_only":
		return OverlayedReadOnly, nil
	default:
		return 0, fmt.Errorf("unknown mount type %q", m.Type)
	}
}

// ParseGraphDocument parses a declarative sandbox.yaml document's
// bytes into a [SandboxConfig]. statDir is forwarded to
// [NewMountGraph]'s directory check for overlayed mounts.
func ParseGraphDocument(data []byte, probeUID, probeGID int, statDir func(string) (bool, error)) (*SandboxConfig, error) {
	var doc graphDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, wrapConfigError("parsing graph document", err)
	}

	entries := make(map[string]MountInfo, len(doc.Mounts))
	for sandboxPath, m := range doc.Mounts {
		t, err := m.mountType()
		if err != nil {
			return nil, wrapConfigError(fmt.Sprintf("mount %q", sandboxPath), err)
		}
		entries[sandboxPath] = MountInfo{HostPath: m.Host, Type: t}
	}

	graph, err := NewMountGraph(entries, statDir)
	if err != nil {
		return nil, err
	}

	var opts []ConfigOption
	if doc.Env != nil {
		opts = append(opts, WithEnv(doc.Env))
	}
	if doc.Pwd != "" {
		opts = append(opts, WithPwd(doc.Pwd))
	}
	if doc.Persist != nil {
		opts = append(opts, WithPersist(*doc.Persist))
	}
	uid, gid := probeUID, probeGID
	if doc.UID != nil {
		uid = *doc.UID
	}
	if doc.GID != nil {
		gid = *doc.GID
	}
	if doc.Hostname != "" {
		opts = append(opts, WithHostname(doc.Hostname))
	}
	if doc.Verbose {
		opts = append(opts, WithVerbose(true))
	}

	return NewSandboxConfig(graph, uid, gid, opts...)
}

// LoadGraphFile reads and parses path via [ParseGraphDocument].
func LoadGraphFile(path string, probeUID, probeGID int, statDir func(string) (bool, error)) (*SandboxConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapConfigError(fmt.Sprintf("reading graph file %s", path), err)
	}
	return ParseGraphDocument(data, probeUID, probeGID, statDir)
}
