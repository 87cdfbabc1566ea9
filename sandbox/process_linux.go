// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sandbox

import (
	"os/exec"
	"syscall"
)

// applyChildProcessGroup puts the helper in its own process group so a
// caller terminating the sandbox can signal the whole group at once.
func applyChildProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
