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

// ContainerExecutor runs the sandbox through an external OCI-compatible
// container runtime CLI (docker/podman-shaped). Mounts translate to
// volume flags; an Overlayed root is realized through the runtime's own
// copy-on-write image layering rather than this package's persistence
// machinery.
//
// Not every mount type round-trips: a volume flag has no overlay mode,
// so BuildCommand reports a non-root Overlayed mount and any
// OverlayedReadOnly mount as broken instead of silently downgrading it
// to a writable host volume.
type ContainerExecutor struct {
	runtimePath string // e.g. "docker" or "podman", resolved via PATH
	logger      *slog.Logger
}

func NewContainerExecutor(runtimePath string, logger *slog.Logger) *ContainerExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerExecutor{runtimePath: runtimePath, logger: logger}
}

func (e *ContainerExecutor) Kind() ExecutorKind { return ContainerRuntime }

func (e *ContainerExecutor) Available() bool {
	_, err := exec.LookPath(e.runtimePath)
	return err == nil
}

func (e *ContainerExecutor) Acquire(ctx context.Context) error { return nil }

func (e *ContainerExecutor) Release() error { return nil }

// BuildCommand emits `<runtime> run --rm -i --volume host:sandbox:mode
// ... --env KEY=VALUE ... --workdir pwd --hostname name --user uid:gid
// <image> <entrypoint?> <argv>`, where the rootfs mount's host path is used as
// the image reference (an already-built OCI image is assumed to exist
// at that reference; this package does not build images).
func (e *ContainerExecutor) BuildCommand(cfg *SandboxConfig, userArgv []string) (*BuiltCommand, error) {
	root := cfg.Mounts.Root()
	if root.Type == OverlayedReadOnly {
		return nil, newHostError("OverlayedReadOnly root mount is not supported by the container runtime executor")
	}

	args := []string{"run", "--rm", "-i"}

	for _, sandboxPath := range cfg.Mounts.Order() {
		info, _ := cfg.Mounts.Lookup(sandboxPath)
		if info.Type.overlayed() {
			return nil, newHostError(fmt.Sprintf("%s mount at %q is not supported by the container runtime executor", info.Type, sandboxPath))
		}
		args = append(args, "--volume", fmt.Sprintf("%s:%s:%s", info.HostPath, sandboxPath, containerVolumeMode(info.Type)))
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
		args = append(args, "--workdir", cfg.Pwd)
	}
	if cfg.Hostname != "" {
		args = append(args, "--hostname", cfg.Hostname)
	}
	args = append(args, "--user", fmt.Sprintf("%d:%d", cfg.UID, cfg.GID))

	args = append(args, root.HostPath)
	if cfg.Entrypoint != "" {
		args = append(args, cfg.Entrypoint)
	}
	args = append(args, userArgv...)

	return &BuiltCommand{
		Program: e.runtimePath,
		Argv:    args,
		Env:     []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		Stdio:   cfg.Stdio,
	}, nil
}

func containerVolumeMode(t MountType) string {
	switch t {
	case ReadOnly:
		return "ro"
	default:
		return "rw"
	}
}

func (e *ContainerExecutor) Run(ctx context.Context, cfg *SandboxConfig, userArgv []string) error {
	bc, err := e.BuildCommand(cfg, userArgv)
	if err != nil {
		return err
	}
	return runBuiltCommand(ctx, e.logger, bc)
}
