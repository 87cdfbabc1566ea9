// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package sandbox

import "os"

func statOwnerUID(info os.FileInfo) int {
	return -1
}
