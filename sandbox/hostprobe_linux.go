// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sandbox

import (
	"bytes"

	"golang.org/x/sys/unix"
)

// Uname returns the kernel's reported release string (uname -r
// equivalent), the third field fed to [ParseKernelVersion].
func (p *HostProbe) Uname() (string, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", wrapHostError("uname", err)
	}
	return cString(u.Release[:]), nil
}

// KernelVersion reads and parses the host's kernel release. It returns
// ok=false, with no error, if the release string is unparseable; uname
// itself failing is the only path that returns a non-nil error.
func (p *HostProbe) KernelVersion() (KernelVersion, bool, error) {
	release, err := p.Uname()
	if err != nil {
		return KernelVersion{}, false, err
	}
	v, ok := ParseKernelVersion(release)
	return v, ok, nil
}

// userNamespacesEnabled probes whether the kernel permits an
// unprivileged process to create a user namespace, via a short-lived
// CLONE_NEWUSER unshare. This mirrors detectUserNamespace's raw-syscall
// approach: a successful unshare call here runs in a throwaway process
// state (unshare affects only the calling thread's namespaces and this
// goroutine is never reused for real work afterward), so no explicit
// teardown is required beyond letting the OS reclaim the thread.
func userNamespacesEnabled() bool {
	r1, _, errno := unix.RawSyscall(unix.SYS_UNSHARE, unix.CLONE_NEWUSER, 0, 0)
	return errno == 0 && r1 == 0
}

// statfsType returns the raw filesystem magic number for path. The
// persistence selector does not call it; candidates are filtered by the
// mount table's fstype names instead.
func statfsType(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Type), nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
