// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox assembles and launches isolated command execution on
// Linux using a declarative mount graph and a selectable isolation
// backend (unprivileged user namespaces, privileged user namespaces, or
// an external container runtime).
//
// The central type is [SandboxConfig], an immutable request describing a
// [MountGraph] (sandbox path -> host path + mount semantics), the
// environment, stdio, and identity the child process should see. A
// [MountGraph] must contain a root entry ("/") and every host path in it
// is resolved with symlinks collapsed to the nearest existing stem
// ([RealpathStem]).
//
// Execution is mediated by the [Executor] interface, implemented by
// [UnprivilegedExecutor], [PrivilegedExecutor], and [ContainerExecutor].
// [WithExecutor] acquires an executor (a caller-chosen kind, or the first
// available of a fixed preference order), runs a function with it, and
// releases it on every exit path, including panics.
//
// Overlayed mounts need a persistence root: a host directory known to
// support being the upper/work backing store for an overlay mount over a
// given rootfs. [FindPersistRoot] probes candidate directories with the
// external overlay-probe helper (`overlay_probe [--verbose] [--userxattr]
// <rootfs_dir> <mount_dir>`, located by [OverlayProbeHelperPath]) and
// [PersistenceManager] hands out stable (upper, work) directory
// pairs keyed by (rootfs, sandbox mount point) for the lifetime of an
// executor instance.
//
// The actual unshare/mount/pivot_root/exec sequence is performed by an
// external, trusted helper binary; this package only computes its
// command line, file descriptors, and environment. See the doc comment
// on [UnprivilegedExecutor.BuildCommand] for the namespace helper's
// command line.
package sandbox
