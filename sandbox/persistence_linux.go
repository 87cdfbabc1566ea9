// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sandbox

import (
	"os"
	"syscall"
)

// statOwnerUID extracts the owning uid from a stat result.
func statOwnerUID(info os.FileInfo) int {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return -1
	}
	return int(st.Uid)
}
