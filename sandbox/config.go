// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
)

// StdioKind tags how a stdio stream resolves at spawn time.
type StdioKind int

const (
	// StdioInherit passes the executor's own stdio file descriptor
	// through to the child unchanged.
	StdioInherit StdioKind = iota
	// StdioNull redirects the stream to /dev/null.
	StdioNull
	// StdioPipe redirects the stream to a caller-supplied handle.
	StdioPipe
)

// Stdio is a tagged variant over {Inherit, Null, Pipe(handle)}. Handle
// is only meaningful when Kind is StdioPipe: an io.Reader for stdin, or
// an io.Writer for stdout/stderr, stored as `any` because the three
// streams need opposite directions.
type Stdio struct {
	Kind   StdioKind
	Handle any
}

// InheritStdio is the default stdout/stderr stream.
func InheritStdio() Stdio { return Stdio{Kind: StdioInherit} }

// NullStdio discards (or never produces) data on this stream.
func NullStdio() Stdio { return Stdio{Kind: StdioNull} }

// PipeStdin redirects stdin from r.
func PipeStdin(r io.Reader) Stdio { return Stdio{Kind: StdioPipe, Handle: r} }

// PipeOutput redirects stdout or stderr to w.
func PipeOutput(w io.Writer) Stdio { return Stdio{Kind: StdioPipe, Handle: w} }

// StdioSet holds the three stream descriptors for a run.
type StdioSet struct {
	Stdin  Stdio
	Stdout Stdio
	Stderr Stdio
}

// DefaultStdioSet uses the standard defaults: stdin=null, stdout/stderr
// inherit the host's.
func DefaultStdioSet() StdioSet {
	return StdioSet{Stdin: NullStdio(), Stdout: InheritStdio(), Stderr: InheritStdio()}
}

// SandboxConfig is the immutable set of parameters for one sandbox
// run. Construct with [NewSandboxConfig] (full form), [NewLegacyConfig]
// (legacy three-map form), or [SandboxConfig.With] (copy form). The
// zero value is not valid; always go through a constructor.
type SandboxConfig struct {
	Mounts *MountGraph
	Env    map[string]string

	// Entrypoint, if non-empty, is an absolute sandbox path prepended
	// before the user argv: the helper execs "entrypoint user_argv...".
	Entrypoint string
	// Pwd is the working directory inside the sandbox, absolute.
	Pwd string

	Stdio StdioSet

	Persist bool
	UID     int
	GID     int

	// Hostname, if non-empty, is set inside the new UTS namespace.
	Hostname string
	// TmpfsSize, if non-zero, bounds the non-persistent overlay
	// backing tmpfs, in bytes.
	TmpfsSize int64
	// MultiarchFormats lists platform tags whose binfmt handlers must
	// be registered before exec.
	MultiarchFormats []string

	Verbose bool
}

// NewSandboxConfig is the full-form constructor: an explicit mount
// graph plus every optional parameter, applying the standard defaults for
// anything left unset by opts. probeUID/probeGID supply the host
// identity defaults; pass a [HostProbe]'s Uid/Gid.
func NewSandboxConfig(mounts *MountGraph, probeUID, probeGID int, opts ...ConfigOption) (*SandboxConfig, error) {
	if mounts == nil {
		return nil, newConfigError("mount graph is required")
	}

	cfg := &SandboxConfig{
		Mounts:  mounts,
		Env:     map[string]string{},
		Pwd:     "/",
		Persist: true,
		UID:     probeUID,
		GID:     probeGID,
		Stdio:   DefaultStdioSet(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigOption mutates a [SandboxConfig] under construction. Each
// With* function below returns one.
type ConfigOption func(*SandboxConfig)

func WithEnv(env map[string]string) ConfigOption {
	return func(c *SandboxConfig) {
		c.Env = make(map[string]string, len(env))
		for k, v := range env {
			c.Env[k] = v
		}
	}
}

func WithEntrypoint(entrypoint string) ConfigOption {
	return func(c *SandboxConfig) { c.Entrypoint = entrypoint }
}

func WithPwd(pwd string) ConfigOption {
	return func(c *SandboxConfig) { c.Pwd = pwd }
}

func WithStdio(stdio StdioSet) ConfigOption {
	return func(c *SandboxConfig) { c.Stdio = stdio }
}

func WithPersist(persist bool) ConfigOption {
	return func(c *SandboxConfig) { c.Persist = persist }
}

func WithIdentity(uid, gid int) ConfigOption {
	return func(c *SandboxConfig) { c.UID = uid; c.GID = gid }
}

func WithHostname(hostname string) ConfigOption {
	return func(c *SandboxConfig) { c.Hostname = hostname }
}

func WithTmpfsSize(bytes int64) ConfigOption {
	return func(c *SandboxConfig) { c.TmpfsSize = bytes }
}

func WithMultiarchFormats(formats []string) ConfigOption {
	return func(c *SandboxConfig) {
		c.MultiarchFormats = append([]string(nil), formats...)
	}
}

func WithVerbose(verbose bool) ConfigOption {
	return func(c *SandboxConfig) { c.Verbose = verbose }
}

// NewLegacyConfig is the legacy-form constructor: two maps of sandbox
// path -> host path plus the root's host path. rootHostPath becomes the
// "/" entry, always Overlayed; readOnlyMaps entries become ReadOnly;
// readWriteMaps entries become ReadWrite. The environment is passed as
// an option ([WithEnv]), not as a map argument. The root is taken only
// from rootHostPath: a "/" key in either map, like any sandbox path
// present in both maps, is rejected as a duplicate rather than
// silently resolved by precedence.
func NewLegacyConfig(readOnlyMaps, readWriteMaps map[string]string, rootHostPath string, probeUID, probeGID int, statDir func(string) (bool, error), opts ...ConfigOption) (*SandboxConfig, error) {
	entries := map[string]MountInfo{
		"/": {HostPath: rootHostPath, Type: Overlayed},
	}
	seen := map[string]int{"/": 1}

	for sandboxPath, hostPath := range readOnlyMaps {
		seen[sandboxPath]++
		entries[sandboxPath] = MountInfo{HostPath: hostPath, Type: ReadOnly}
	}
	for sandboxPath, hostPath := range readWriteMaps {
		seen[sandboxPath]++
		entries[sandboxPath] = MountInfo{HostPath: hostPath, Type: ReadWrite}
	}

	var dupes []error
	for sandboxPath, count := range seen {
		if count > 1 {
			dupes = append(dupes, fmt.Errorf("sandbox path %q specified more than once across legacy mount maps", sandboxPath))
		}
	}
	if len(dupes) > 0 {
		return nil, wrapConfigError("duplicate keys in legacy mount maps", errors.Join(dupes...))
	}

	graph, err := NewMountGraph(entries, statDir)
	if err != nil {
		return nil, err
	}
	return NewSandboxConfig(graph, probeUID, probeGID, opts...)
}

// With derives a copy of c with opts applied, preserving every other
// field exactly — used to override stdio/env/pwd without disturbing
// the rest of an existing config.
func (c *SandboxConfig) With(opts ...ConfigOption) *SandboxConfig {
	clone := *c
	clone.Env = make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		clone.Env[k] = v
	}
	clone.MultiarchFormats = append([]string(nil), c.MultiarchFormats...)
	for _, opt := range opts {
		opt(&clone)
	}
	return &clone
}

func validateConfig(c *SandboxConfig) error {
	var problems []error

	if c.Entrypoint != "" && !path.IsAbs(c.Entrypoint) {
		problems = append(problems, fmt.Errorf("entrypoint %q is not absolute", c.Entrypoint))
	}
	if c.Pwd != "" && !path.IsAbs(c.Pwd) {
		problems = append(problems, fmt.Errorf("pwd %q is not absolute", c.Pwd))
	}
	if c.TmpfsSize < 0 {
		problems = append(problems, errors.New("tmpfs_size must not be negative"))
	}

	if len(problems) > 0 {
		return wrapConfigError("invalid sandbox configuration", errors.Join(problems...))
	}
	return nil
}

// openDevNull is used where a caller asks for StdioNull but the
// executor needs a concrete *os.File to hand to exec.Cmd.
func openDevNull(flag int) (*os.File, error) {
	f, err := os.OpenFile(os.DevNull, flag, 0)
	if err != nil {
		return nil, wrapHostError("opening /dev/null", err)
	}
	return f, nil
}
