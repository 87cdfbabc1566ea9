// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// escalationWrapper names the root-escalation mechanism chosen for
// privileged runs.
type escalationWrapper int

const (
	wrapperNone escalationWrapper = iota
	wrapperSudo
	wrapperSu
	wrapperUnavailable
)

func (w escalationWrapper) String() string {
	switch w {
	case wrapperNone:
		return "none"
	case wrapperSudo:
		return "sudo"
	case wrapperSu:
		return "su"
	default:
		return "unavailable"
	}
}

// wrapperMemo caches the escalation wrapper selection process-wide;
// it is written at most once. Concurrent first callers race
// harmlessly: every winner picks the same answer from the same host
// state, so a plain sync.Once suffices without needing to
// special-case the race.
var wrapperMemo struct {
	once sync.Once
	kind escalationWrapper
}

func selectEscalationWrapper(logger *slog.Logger) escalationWrapper {
	wrapperMemo.once.Do(func() {
		wrapperMemo.kind = detectEscalationWrapper(logger)
	})
	return wrapperMemo.kind
}

// detectEscalationWrapper implements the wrapper selection order: already
// root needs nothing; else a non-interactive sudo probe; else su; else
// unavailable, with a warning.
func detectEscalationWrapper(logger *slog.Logger) escalationWrapper {
	if os.Geteuid() == 0 {
		return wrapperNone
	}
	if _, err := exec.LookPath("sudo"); err == nil {
		probe := exec.Command("sudo", "-n", "true")
		if probe.Run() == nil {
			return wrapperSudo
		}
	}
	if _, err := exec.LookPath("su"); err == nil {
		return wrapperSu
	}
	logger.Warn("no root-escalation mechanism found; privileged executor will not be available")
	return wrapperUnavailable
}

// wrapWithEscalation prepends the chosen wrapper's argv in front of
// program+args, producing the `su root -c "..."` / `sudo ...` shape.
func wrapWithEscalation(kind escalationWrapper, program string, args []string) (string, []string) {
	switch kind {
	case wrapperSudo:
		return "sudo", append([]string{"-n", program}, args...)
	case wrapperSu:
		return "su", []string{"root", "-c", shellJoin(program, args)}
	default:
		return program, args
	}
}

func shellJoin(program string, args []string) string {
	joined := program
	for _, a := range args {
		joined += " " + shellQuote(a)
	}
	return joined
}

func shellQuote(s string) string {
	quoted := "'"
	for _, r := range s {
		if r == '\'' {
			quoted += `'"'"'`
		} else {
			quoted += string(r)
		}
	}
	return quoted + "'"
}

// PrivilegedExecutor is [UnprivilegedExecutor]'s command construction
// run under a root-escalation wrapper. It is not available if the
// host has neither sudo nor su and the caller isn't already root.
//
// Running as root changes when the namespace helper performs mounts
// relative to namespace creation: privileged mode mounts and chroots
// before creating the user namespace, as a workaround for kernels that
// forbid mounting inside a user namespace even as uid 0 inside it,
// while unprivileged mode mounts after entering the namespace. This
// core doesn't implement either ordering itself — the helper decides
// it based on whether it was invoked under a root-escalation wrapper —
// but the --rootfs/--mount/--workspace flags BuildCommand emits here
// carry backend-dependent timing as a result.
type PrivilegedExecutor struct {
	helperPath string
	logger     *slog.Logger
	probe      *HostProbe
	persist    *PersistenceManager
	root       *PersistenceRoot
	hints      []string
}

func NewPrivilegedExecutor(helperPath string, probe *HostProbe, hints []string, logger *slog.Logger) *PrivilegedExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrivilegedExecutor{helperPath: helperPath, probe: probe, hints: hints, logger: logger}
}

func (e *PrivilegedExecutor) Kind() ExecutorKind { return PrivilegedUserNS }

func (e *PrivilegedExecutor) Available() bool {
	if _, err := exec.LookPath(e.helperPath); err != nil {
		return false
	}
	return selectEscalationWrapper(e.logger) != wrapperUnavailable
}

func (e *PrivilegedExecutor) Acquire(ctx context.Context) error {
	e.persist = NewPersistenceManager(nil, "")
	return nil
}

func (e *PrivilegedExecutor) ensurePersistRoot(rootfsPath string, verbose bool) (*PersistenceRoot, error) {
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
		e.persist.mu.Lock()
		e.persist.root = root
		e.persist.mu.Unlock()
	}
	return root, nil
}

// BuildCommand builds the same argv [UnprivilegedExecutor.BuildCommand]
// would, then prepends the selected escalation wrapper. The mount flags
// it emits are interpreted by the helper before the user namespace
// exists, not after, per the type-level doc comment above.
func (e *PrivilegedExecutor) BuildCommand(cfg *SandboxConfig, userArgv []string) (*BuiltCommand, error) {
	bc, err := buildUserNSCommand(e.helperPath, e.persist, func(rootfsPath string) (*PersistenceRoot, error) {
		return e.ensurePersistRoot(rootfsPath, cfg.Verbose)
	}, cfg, userArgv)
	if err != nil {
		return nil, err
	}

	wrapper := selectEscalationWrapper(e.logger)
	e.logger.Debug("resolved uid/gid mapping for privileged run",
		"uid", cfg.UID, "gid", cfg.GID, "wrapper", wrapper)

	program, argv := wrapWithEscalation(wrapper, bc.Program, bc.Argv)
	bc.Program = program
	bc.Argv = argv
	return bc, nil
}

func (e *PrivilegedExecutor) Run(ctx context.Context, cfg *SandboxConfig, userArgv []string) error {
	bc, err := e.BuildCommand(cfg, userArgv)
	if err != nil {
		return err
	}
	return runBuiltCommand(ctx, e.logger, bc)
}

func (e *PrivilegedExecutor) Release() error {
	if e.persist == nil {
		return nil
	}
	return e.persist.Release()
}
