// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// MountType selects how a host directory is exposed inside the sandbox.
type MountType int

const (
	// ReadOnly bind-mounts the host path into the sandbox, read-only.
	ReadOnly MountType = iota
	// ReadWrite bind-mounts the host path into the sandbox, writable;
	// writes are visible on the host.
	ReadWrite
	// Overlayed exposes the host path as an overlay lower layer; writes
	// go to an upper layer and are never visible on the host.
	Overlayed
	// OverlayedReadOnly is like Overlayed but the upper layer is itself
	// read-only, interposing an overlay while forbidding mutation.
	OverlayedReadOnly
)

func (t MountType) String() string {
	switch t {
	case ReadOnly:
		return "read_only"
	case ReadWrite:
		return "read_write"
	case Overlayed:
		return "overlayed"
	case OverlayedReadOnly:
		return "overlayed_read_only"
	default:
		return fmt.Sprintf("MountType(%d)", int(t))
	}
}

// overlayed reports whether t requires a persistence upper/work pair.
func (t MountType) overlayed() bool {
	return t == Overlayed || t == OverlayedReadOnly
}

// MountInfo describes what host path backs a sandbox path and how.
type MountInfo struct {
	// HostPath is absolute, with symlinks resolved down to the nearest
	// existing stem (see [RealpathStem]).
	HostPath string
	Type     MountType
}

// MountGraph is a validated, normalized mapping from sandbox path to
// [MountInfo]. Construct with [NewMountGraph]; the zero value is not
// valid.
type MountGraph struct {
	entries map[string]MountInfo
	order   []string // sandbox paths, longest-first, built once at validation
}

// NewMountGraph validates and normalizes entries into a MountGraph.
// Sandbox paths must be absolute and unique; "/" must be present; every
// HostPath must be absolute and, for the overlayed types, must name a
// directory (checked via statDir). Host paths are canonicalized through
// [RealpathStem] before storage.
//
// All violations are collected and returned together via errors.Join,
// wrapped in a single [ConfigError], rather than failing on the first.
func NewMountGraph(entries map[string]MountInfo, statDir func(string) (bool, error)) (*MountGraph, error) {
	var problems []error

	if _, ok := entries["/"]; !ok {
		problems = append(problems, errors.New(`missing required "/" mount`))
	}

	normalized := make(map[string]MountInfo, len(entries))
	for sandboxPath, info := range entries {
		if !path.IsAbs(sandboxPath) {
			problems = append(problems, fmt.Errorf("sandbox path %q is not absolute", sandboxPath))
			continue
		}
		if !path.IsAbs(info.HostPath) {
			problems = append(problems, fmt.Errorf("host path %q for %q is not absolute", info.HostPath, sandboxPath))
			continue
		}

		resolved, err := RealpathStem(info.HostPath)
		if err != nil {
			problems = append(problems, fmt.Errorf("resolving host path %q for %q: %w", info.HostPath, sandboxPath, err))
			continue
		}

		if info.Type.overlayed() && statDir != nil {
			isDir, err := statDir(resolved)
			if err != nil {
				problems = append(problems, fmt.Errorf("stat host path %q for %q: %w", resolved, sandboxPath, err))
				continue
			}
			if !isDir {
				problems = append(problems, fmt.Errorf("host path %q for %q must be a directory for %s mounts", resolved, sandboxPath, info.Type))
				continue
			}
		}

		key := normalizeSandboxPath(sandboxPath)
		if _, dup := normalized[key]; dup {
			problems = append(problems, fmt.Errorf("sandbox path %q duplicates another entry after normalization", sandboxPath))
			continue
		}
		normalized[key] = MountInfo{HostPath: resolved, Type: info.Type}
	}

	if len(problems) > 0 {
		return nil, wrapConfigError("invalid mount graph", errors.Join(problems...))
	}

	g := &MountGraph{entries: normalized}
	g.order = canonicalOrder(normalized)
	return g, nil
}

// normalizeSandboxPath collapses "." / ".." segments and trailing
// slashes (other than the root itself) via path.Clean, the sandbox-path
// equivalent of realpath_stem's canonicalization.
func normalizeSandboxPath(p string) string {
	cleaned := path.Clean(p)
	if cleaned == "" {
		return "/"
	}
	return cleaned
}

// canonicalOrder returns sandbox paths sorted by length descending, with
// a lexical tiebreak for determinism. This is the order in which the
// executor emits --mount flags to the namespace helper: the helper
// applies mounts in reverse of this order, so parents land on disk
// before any child path nested beneath them.
func canonicalOrder(entries map[string]MountInfo) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Root returns the MountInfo for the required "/" entry.
func (g *MountGraph) Root() MountInfo {
	return g.entries["/"]
}

// Lookup returns the MountInfo registered at sandboxPath, if any.
func (g *MountGraph) Lookup(sandboxPath string) (MountInfo, bool) {
	info, ok := g.entries[sandboxPath]
	return info, ok
}

// Len returns the number of entries, including "/".
func (g *MountGraph) Len() int {
	return len(g.entries)
}

// Order returns sandbox paths other than "/" in canonical application
// order: longest sandbox path first. The returned slice is a copy of
// the graph's internal order with "/" removed; callers may not mutate
// the graph through it.
func (g *MountGraph) Order() []string {
	out := make([]string, 0, len(g.order))
	for _, k := range g.order {
		if k == "/" {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Entries returns every (sandboxPath, MountInfo) pair in canonical
// order, "/" included, first.
func (g *MountGraph) Entries() []struct {
	SandboxPath string
	Info        MountInfo
} {
	out := make([]struct {
		SandboxPath string
		Info        MountInfo
	}, 0, len(g.order))
	// "/" first regardless of its position in length order, matching
	// build_command's treatment of --rootfs as distinct from --mount.
	out = append(out, struct {
		SandboxPath string
		Info        MountInfo
	}{"/", g.entries["/"]})
	for _, k := range g.order {
		if k == "/" {
			continue
		}
		out = append(out, struct {
			SandboxPath string
			Info        MountInfo
		}{k, g.entries[k]})
	}
	return out
}

// mountArg renders a non-root entry as the "host:sandbox:type" value
// consumed by the namespace helper's --mount flag.
func mountArg(sandboxPath string, info MountInfo) string {
	return fmt.Sprintf("%s:%s:%s", info.HostPath, sandboxPath, strings.ToLower(info.Type.String()))
}
