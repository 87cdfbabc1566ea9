// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
)

// UnprivilegedExecutor runs the namespace helper directly, without any
// root-escalation wrapper. Available iff the kernel permits
// unprivileged user namespace creation and the helper binary resolves
// on PATH.
//
// The actual unshare/mount/pivot_root/exec sequence happens inside the
// helper process; this type only computes its argv.
type UnprivilegedExecutor struct {
	helperPath string
	logger     *slog.Logger
	probe      *HostProbe
	persist    *PersistenceManager
	root       *PersistenceRoot
	hints      []string
}

// NewUnprivilegedExecutor returns an executor that invokes helperPath
// (the namespace helper binary) directly. logger defaults to
// slog.Default() when nil.
func NewUnprivilegedExecutor(helperPath string, probe *HostProbe, hints []string, logger *slog.Logger) *UnprivilegedExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnprivilegedExecutor{helperPath: helperPath, probe: probe, hints: hints, logger: logger}
}

func (e *UnprivilegedExecutor) Kind() ExecutorKind { return UnprivilegedUserNS }

// Available reports whether the kernel allows unprivileged user
// namespace creation and the namespace helper is resolvable.
func (e *UnprivilegedExecutor) Available() bool {
	if _, err := exec.LookPath(e.helperPath); err != nil {
		return false
	}
	return userNamespacesEnabled()
}

// Acquire prepares a persistence directory manager scoped to this
// executor instance. It does not resolve a persistence root; that
// happens in BuildCommand (see ensurePersistRoot), where an overlayed
// mount with no usable root fails with a HostError.
func (e *UnprivilegedExecutor) Acquire(ctx context.Context) error {
	e.persist = NewPersistenceManager(nil, "")
	return nil
}

// ensurePersistRoot lazily resolves the persistence root the first
// time an Overlayed/OverlayedReadOnly mount actually needs one for a
// given rootfs, rather than probing unconditionally at Acquire time.
func (e *UnprivilegedExecutor) ensurePersistRoot(rootfsPath string, verbose bool) (*PersistenceRoot, error) {
	if e.root != nil {
		return e.root, nil
	}
	helperPath, err := OverlayProbeHelperPath()
	if err != nil {
		return nil, err
	}
	root, err := FindPersistRoot(e.probe, helperPath, rootfsPath, e.hints, verbose)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, newHostError("no persistence root found for " + rootfsPath)
	}
	e.root = root
	if e.persist == nil {
		e.persist = NewPersistenceManager(root, "")
	} else {
		// Keep the manager BuildCommand already holds, so its pairs and
		// per-run directory stay tracked for Release.
		e.persist.mu.Lock()
		e.persist.root = root
		e.persist.mu.Unlock()
	}
	return root, nil
}

// BuildCommand emits `<helper> --rootfs ... --mount ... --workspace ...
// --env ... [--cd|--uid|--gid|--hostname|--entrypoint|--tmpfs-size|
// --multiarch|--userxattr|--verbose] -- <argv>`, the full flag set the
// namespace helper accepts.
func (e *UnprivilegedExecutor) BuildCommand(cfg *SandboxConfig, userArgv []string) (*BuiltCommand, error) {
	return buildUserNSCommand(e.helperPath, e.persist, func(rootfsPath string) (*PersistenceRoot, error) {
		return e.ensurePersistRoot(rootfsPath, cfg.Verbose)
	}, cfg, userArgv)
}

func (e *UnprivilegedExecutor) Run(ctx context.Context, cfg *SandboxConfig, userArgv []string) error {
	bc, err := e.BuildCommand(cfg, userArgv)
	if err != nil {
		return err
	}
	return runBuiltCommand(ctx, e.logger, bc)
}

// Release tears down any non-persistent persistence directories this
// executor created.
func (e *UnprivilegedExecutor) Release() error {
	if e.persist == nil {
		return nil
	}
	return e.persist.Release()
}

// buildUserNSCommand is shared between the unprivileged and privileged
// variants: their command construction is identical; only the wrapper
// prepended in front of it differs.
func buildUserNSCommand(helperPath string, persist *PersistenceManager, resolveRoot func(string) (*PersistenceRoot, error), cfg *SandboxConfig, userArgv []string) (*BuiltCommand, error) {
	var args []string

	root := cfg.Mounts.Root()
	args = append(args, "--rootfs", root.HostPath)

	userxattrNeeded := false

	for _, sandboxPath := range cfg.Mounts.Order() {
		info, _ := cfg.Mounts.Lookup(sandboxPath)
		args = append(args, "--mount", mountArg(sandboxPath, info))
	}

	for _, sandboxPath := range append([]string{"/"}, cfg.Mounts.Order()...) {
		info, _ := cfg.Mounts.Lookup(sandboxPath)
		if !info.Type.overlayed() {
			continue
		}
		pr, err := resolveRoot(info.HostPath)
		if err != nil {
			return nil, err
		}
		if pr.Userxattr {
			userxattrNeeded = true
		}
		upper, work, err := persist.UpperWork(PersistenceKey{RootfsHostPath: info.HostPath, SandboxMountPoint: sandboxPath}, cfg.Persist)
		if err != nil {
			return nil, err
		}
		args = append(args, "--workspace", fmt.Sprintf("%s:%s", upper, work))
	}

	envKeys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		args = append(args, "--env", fmt.Sprintf("%s=%s", k, cfg.Env[k]))
	}

	if cfg.Pwd != "" {
		args = append(args, "--cd", cfg.Pwd)
	}
	args = append(args, "--uid", fmt.Sprintf("%d", cfg.UID))
	args = append(args, "--gid", fmt.Sprintf("%d", cfg.GID))
	if cfg.Hostname != "" {
		args = append(args, "--hostname", cfg.Hostname)
	}
	if cfg.Entrypoint != "" {
		args = append(args, "--entrypoint", cfg.Entrypoint)
	}
	if cfg.TmpfsSize != 0 {
		args = append(args, "--tmpfs-size", fmt.Sprintf("%d", cfg.TmpfsSize))
	}
	for _, tag := range cfg.MultiarchFormats {
		args = append(args, "--multiarch", tag)
	}
	if userxattrNeeded {
		args = append(args, "--userxattr")
	}
	if cfg.Verbose {
		args = append(args, "--verbose")
	}

	args = append(args, "--")
	args = append(args, userArgv...)

	return &BuiltCommand{
		Program: helperPath,
		Argv:    args,
		// Only PATH is forwarded; everything the child needs is
		// carried through --env, not through the helper's own
		// environment. Leaving cmd.Env nil would leak the caller's
		// full environment into the helper's /proc/<pid>/environ.
		Env:   []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		Stdio: cfg.Stdio,
	}, nil
}
