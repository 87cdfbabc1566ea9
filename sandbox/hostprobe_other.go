// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package sandbox

// Uname is unsupported outside Linux and always returns a HostError.
func (p *HostProbe) Uname() (string, error) {
	return "", newHostError("uname: unsupported on this platform")
}

func (p *HostProbe) KernelVersion() (KernelVersion, bool, error) {
	return KernelVersion{}, false, newHostError("kernel_version: unsupported on this platform")
}

func userNamespacesEnabled() bool {
	return false
}

func statfsType(path string) (int64, error) {
	return 0, newHostError("statfs: unsupported on this platform")
}
