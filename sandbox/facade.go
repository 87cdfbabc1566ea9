// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "context"

// Factory builds each [Executor] variant on demand. WithExecutor uses
// it to instantiate whichever kind is chosen without depending on how
// each variant is wired (helper paths, probes, hints, logger) — tests
// construct independent factories rather than sharing a bare
// module-scope singleton.
type Factory struct {
	Unprivileged func() *UnprivilegedExecutor
	Privileged   func() *PrivilegedExecutor
	Container    func() *ContainerExecutor
}

func (f *Factory) build(kind ExecutorKind) Executor {
	switch kind {
	case UnprivilegedUserNS:
		if f.Unprivileged == nil {
			return nil
		}
		return f.Unprivileged()
	case PrivilegedUserNS:
		if f.Privileged == nil {
			return nil
		}
		return f.Privileged()
	case ContainerRuntime:
		if f.Container == nil {
			return nil
		}
		return f.Container()
	default:
		return nil
	}
}

// ExecutorAvailable reports whether the factory can produce a
// available executor of the given kind on this host.
func (f *Factory) ExecutorAvailable(kind ExecutorKind) bool {
	e := f.build(kind)
	return e != nil && e.Available()
}

// WithExecutor acquires an executor — kind if non-nil (a [HostError] if
// that kind is not available; there is no fallback to another kind),
// otherwise the first available kind in [preferenceOrder] — runs body
// with it, and releases it on every exit path, including a panic
// propagating out of body.
func WithExecutor(ctx context.Context, f *Factory, kind *ExecutorKind, body func(Executor) error) error {
	exe, err := chooseExecutor(f, kind)
	if err != nil {
		return err
	}

	if err := exe.Acquire(ctx); err != nil {
		return wrapHostError("acquiring executor", err)
	}
	defer exe.Release()

	return body(exe)
}

func chooseExecutor(f *Factory, kind *ExecutorKind) (Executor, error) {
	if kind != nil {
		exe := f.build(*kind)
		if exe == nil || !exe.Available() {
			return nil, newHostError("requested executor kind is not available on this host")
		}
		return exe, nil
	}

	for _, candidate := range preferenceOrder {
		exe := f.build(candidate)
		if exe != nil && exe.Available() {
			return exe, nil
		}
	}
	return nil, newHostError("no executor is available on this host")
}

// Run acquires an executor per the rules of [WithExecutor] and runs cfg
// with userArgv, returning the child's result. A non-zero child exit
// surfaces as [ChildFailure]; this is the error-returning counterpart
// to [Success].
func Run(ctx context.Context, f *Factory, kind *ExecutorKind, cfg *SandboxConfig, userArgv []string) error {
	return WithExecutor(ctx, f, kind, func(exe Executor) error {
		return exe.Run(ctx, cfg, userArgv)
	})
}

// Success is like [Run] but treats a non-zero child exit as ok=false
// instead of returning a [ChildFailure] error; other errors (config,
// host, internal) still return err.
func Success(ctx context.Context, f *Factory, kind *ExecutorKind, cfg *SandboxConfig, userArgv []string) (ok bool, err error) {
	runErr := Run(ctx, f, kind, cfg, userArgv)
	if runErr == nil {
		return true, nil
	}
	if _, isChildFailure := IsChildFailure(runErr); isChildFailure {
		return false, nil
	}
	return false, runErr
}
