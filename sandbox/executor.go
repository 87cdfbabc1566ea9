// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// ExecutorKind names one of the three backend variants.
type ExecutorKind int

const (
	UnprivilegedUserNS ExecutorKind = iota
	PrivilegedUserNS
	ContainerRuntime
)

func (k ExecutorKind) String() string {
	switch k {
	case UnprivilegedUserNS:
		return "unprivileged_userns"
	case PrivilegedUserNS:
		return "privileged_userns"
	case ContainerRuntime:
		return "container_runtime"
	default:
		return fmt.Sprintf("ExecutorKind(%d)", int(k))
	}
}

// preferenceOrder is the fixed default search order used by
// [WithExecutor] when the caller does not pin a kind: try unprivileged
// user namespaces first (cheapest, no escalation), then privileged user
// namespaces, then an external container runtime.
var preferenceOrder = []ExecutorKind{UnprivilegedUserNS, PrivilegedUserNS, ContainerRuntime}

// BuiltCommand is the pure, inspectable output of an executor's
// command-building step: a concrete program, argv, environment, and
// stdio ready to hand to exec.Cmd. Nothing is spawned until it runs,
// but for the user-namespace executors building it is not free of side
// effects: it may run the overlay probe helper to find a persistence
// root and it creates the overlay upper/work directories.
type BuiltCommand struct {
	Program string
	Argv    []string
	Env     []string
	Stdio   StdioSet
}

// ToCmd materializes a BuiltCommand as an *exec.Cmd wired with ctx,
// resolving the tagged stdio variants to concrete file descriptors.
// Any *os.File opened to satisfy StdioNull is returned so the caller
// can close it after Wait.
func (bc *BuiltCommand) ToCmd(ctx context.Context) (*exec.Cmd, []*os.File, error) {
	cmd := exec.CommandContext(ctx, bc.Program, bc.Argv...)
	cmd.Env = bc.Env

	var opened []*os.File

	stdin, f, err := resolveReadStdio(bc.Stdio.Stdin, os.Stdin)
	if err != nil {
		return nil, opened, err
	}
	if f != nil {
		opened = append(opened, f)
	}
	cmd.Stdin = stdin

	stdout, f, err := resolveWriteStdio(bc.Stdio.Stdout, os.Stdout)
	if err != nil {
		closeAll(opened)
		return nil, nil, err
	}
	if f != nil {
		opened = append(opened, f)
	}
	cmd.Stdout = stdout

	stderr, f, err := resolveWriteStdio(bc.Stdio.Stderr, os.Stderr)
	if err != nil {
		closeAll(opened)
		return nil, nil, err
	}
	if f != nil {
		opened = append(opened, f)
	}
	cmd.Stderr = stderr

	applyChildProcessGroup(cmd)
	return cmd, opened, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func resolveReadStdio(s Stdio, inherited *os.File) (io.Reader, *os.File, error) {
	switch s.Kind {
	case StdioInherit:
		return inherited, nil, nil
	case StdioNull:
		f, err := openDevNull(os.O_RDONLY)
		return f, f, err
	case StdioPipe:
		r, ok := s.Handle.(io.Reader)
		if !ok {
			return nil, nil, newConfigError("stdin pipe handle is not an io.Reader")
		}
		return r, nil, nil
	default:
		return nil, nil, newConfigError("unknown stdin kind")
	}
}

func resolveWriteStdio(s Stdio, inherited *os.File) (io.Writer, *os.File, error) {
	switch s.Kind {
	case StdioInherit:
		return inherited, nil, nil
	case StdioNull:
		f, err := openDevNull(os.O_WRONLY)
		return f, f, err
	case StdioPipe:
		w, ok := s.Handle.(io.Writer)
		if !ok {
			return nil, nil, newConfigError("stdout/stderr pipe handle is not an io.Writer")
		}
		return w, nil, nil
	default:
		return nil, nil, newConfigError("unknown stdout/stderr kind")
	}
}

// Executor is the capability set every backend variant implements: a
// static availability check, scoped acquire/release, a command builder
// (see [BuiltCommand] for what building does), a blocking run, and
// teardown of transient state.
type Executor interface {
	Kind() ExecutorKind
	Available() bool
	Acquire(ctx context.Context) error
	BuildCommand(cfg *SandboxConfig, userArgv []string) (*BuiltCommand, error)
	Run(ctx context.Context, cfg *SandboxConfig, userArgv []string) error
	Release() error
}

// runBuiltCommand is the common Run tail shared by every executor
// variant: materialize, spawn, wait, translate the exit status.
func runBuiltCommand(ctx context.Context, logger *slog.Logger, bc *BuiltCommand) error {
	cmd, opened, err := bc.ToCmd(ctx)
	if err != nil {
		return err
	}
	defer closeAll(opened)

	logger.Info("running sandboxed command", "program", bc.Program, "argv", bc.Argv)

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ChildFailure{Code: exitErr.ExitCode()}
		}
		return wrapHostError("launching sandboxed command", err)
	}
	return nil
}
