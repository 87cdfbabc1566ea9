// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
)

// PersistenceRoot is a host directory that has been probed to support
// being the upper/work backing store for an overlay mount.
type PersistenceRoot struct {
	Path string
	// Userxattr reports whether overlay mounts against this root need
	// the userxattr mount option to work unprivileged.
	Userxattr bool
}

// denyFSTypes lists filesystem types the persistence selector never
// considers as overlay backing stores: known-incompatible filesystems
// (ecryptfs, zfs, overlay itself) plus pseudo-filesystems that hold no
// real data.
var denyFSTypes = map[string]bool{
	"ecryptfs":     true,
	"zfs":          true,
	"overlay":      true,
	"proc":         true,
	"sysfs":        true,
	"cgroup2":      true,
	"devpts":       true,
	"devtmpfs":     true,
	"bpf":          true,
	"autofs":       true,
	"auristorfs":   true,
	"binfmt_misc":  true,
	"configfs":     true,
	"debugfs":      true,
	"efivarfs":     true,
	"fusectl":      true,
	"hugetlbfs":    true,
	"mqueue":       true,
	"nsfs":         true,
	"pstore":       true,
	"ramfs":        true,
	"rpc_pipefs":   true,
	"securityfs":   true,
	"tracefs":      true,
}

// overlayProbe invokes the external overlay-probe helper
// (`overlay_probe [--verbose] [--userxattr] <rootfs_dir> <mount_dir>`)
// and reports whether it exited 0. Swapped out in tests.
var overlayProbe = func(helperPath, rootfsPath, candidateDir string, userxattr, verbose bool) bool {
	args := []string{}
	if verbose {
		args = append(args, "--verbose")
	}
	if userxattr {
		args = append(args, "--userxattr")
	}
	args = append(args, rootfsPath, candidateDir)
	cmd := exec.Command(helperPath, args...)
	return cmd.Run() == nil
}

// OverlayProbeHelperPath resolves the overlay-probe helper binary via
// a PATH lookup.
func OverlayProbeHelperPath() (string, error) {
	p, err := exec.LookPath("overlay_probe")
	if err != nil {
		return "", wrapHostError("overlay_probe not found on PATH", err)
	}
	return p, nil
}

// FindPersistRoot tries each hint directory, then falls back to
// scanning the kernel mount table (excluding [denyFSTypes], sorted to
// prefer mount points owned by the current uid), probing each
// candidate with the overlay probe helper until one succeeds. An I/O
// error while checking a candidate's ownership (as opposed to a
// permission-denied stat, which just loses that candidate the
// ownership tiebreak) aborts the search and returns a [HostError].
//
// hints should be the caller's ordered preference list — typically
// SANDBOX_PERSISTENCE_DIR, then a user preference directory, then an
// application scratch directory, in that order. FindPersistRoot does
// not itself read environment variables; callers assemble hints
// themselves before calling in (see cmd/sandboxctl's persistenceHints).
func FindPersistRoot(probe *HostProbe, helperPath, rootfsPath string, hints []string, verbose bool) (*PersistenceRoot, error) {
	for _, hint := range hints {
		if hint == "" {
			continue
		}
		if root := tryProbe(helperPath, rootfsPath, hint, verbose); root != nil {
			return root, nil
		}
	}

	var candidates []string
	for _, m := range probe.Mounts() {
		if denyFSTypes[m.FSType] {
			continue
		}
		candidates = append(candidates, m.MountPoint)
	}

	uid := probe.Uid()
	ownership := make(map[string]bool, len(candidates))
	for _, candidate := range candidates {
		owned, err := ownedByUID(candidate, uid)
		if err != nil {
			return nil, wrapHostError(fmt.Sprintf("checking ownership of candidate persistence mount %s", candidate), err)
		}
		ownership[candidate] = owned
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return ownership[candidates[i]] && !ownership[candidates[j]]
	})

	for _, candidate := range candidates {
		if root := tryProbe(helperPath, rootfsPath, candidate, verbose); root != nil {
			return root, nil
		}
	}

	return nil, nil
}

// tryProbe runs the overlay probe against candidateDir with userxattr
// tried before without.
func tryProbe(helperPath, rootfsPath, candidateDir string, verbose bool) *PersistenceRoot {
	for _, userxattr := range []bool{true, false} {
		if overlayProbe(helperPath, rootfsPath, candidateDir, userxattr, verbose) {
			return &PersistenceRoot{Path: candidateDir, Userxattr: userxattr}
		}
	}
	return nil
}

// ownedByUID reports whether path's owning uid matches uid. A
// permission-denied stat counts as not-owned, since the mount simply
// isn't statable by this process; any other stat error (stale mount,
// ownership changing mid-scan, a mount point removed underneath the
// scan) propagates to the caller instead of being silently absorbed
// into the sort order.
func ownedByUID(path string, uid int) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsPermission(err) {
			return false, nil
		}
		return false, err
	}
	return statOwnerUID(info) == uid, nil
}

// PersistenceKey identifies a persistence directory pair by the
// rootfs it backs and the sandbox mount point it serves.
type PersistenceKey struct {
	RootfsHostPath    string
	SandboxMountPoint string
}

// PersistenceManager hands out stable (upper, work) directory pairs
// keyed by [PersistenceKey] for the lifetime of one executor instance.
// Persistent entries live under the selected [PersistenceRoot] and
// survive across runs. Non-persistent entries live under the manager's
// run directory (see [NewPersistenceManager]); that directory is created
// once per manager, not per run, so a non-persistent pair is reused by
// later runs of the same executor until Release removes it.
type PersistenceManager struct {
	mu      sync.Mutex
	root    *PersistenceRoot
	runDir  string // per-run fallback backing store when persist=false
	entries map[PersistenceKey]persistedPair
}

type persistedPair struct {
	upperDir string
	workDir  string
}

// NewPersistenceManager returns a manager backed by root for
// persistent entries and by a freshly created directory under runDir
// for non-persistent entries. runDir may be a tmpfs mount prepared by
// the caller for this executor instance; an empty runDir (which is what
// the executors pass) means non-persistent lookups fall back to a
// directory made by os.MkdirTemp in the system temp directory, which is
// a tmpfs only if that directory is one.
func NewPersistenceManager(root *PersistenceRoot, runDir string) *PersistenceManager {
	return &PersistenceManager{
		root:    root,
		runDir:  runDir,
		entries: make(map[PersistenceKey]persistedPair),
	}
}

// UpperWork returns the (upper, work) directory pair for key, creating
// it on first use and returning the same pair on every subsequent call
// for the same key within this manager's lifetime.
func (m *PersistenceManager) UpperWork(key PersistenceKey, persist bool) (upperDir, workDir string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pair, ok := m.entries[key]; ok {
		return pair.upperDir, pair.workDir, nil
	}

	base, err := m.baseDir(persist)
	if err != nil {
		return "", "", err
	}

	name := keyDirName(key)
	upper := filepath.Join(base, name+"-upper")
	work := filepath.Join(base, name+"-work")
	for _, dir := range []string{upper, work} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", "", wrapHostError(fmt.Sprintf("creating persistence directory %s", dir), err)
		}
	}

	m.entries[key] = persistedPair{upperDir: upper, workDir: work}
	return upper, work, nil
}

func (m *PersistenceManager) baseDir(persist bool) (string, error) {
	if persist {
		if m.root == nil {
			return "", newHostError("persist=true requested but no persistence root is available")
		}
		return m.root.Path, nil
	}
	if m.runDir != "" {
		return m.runDir, nil
	}
	dir, err := os.MkdirTemp("", "nsbox-overlay-*")
	if err != nil {
		return "", wrapHostError("creating temporary persistence directory", err)
	}
	m.runDir = dir
	return dir, nil
}

// Release removes every non-persistent directory this manager created.
// Persistent entries under the selected root are left in place; the
// host application prunes those out of band.
func (m *PersistenceManager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runDir == "" {
		return nil
	}
	err := os.RemoveAll(m.runDir)
	m.runDir = ""
	if err != nil {
		return wrapHostError("removing per-run persistence directory", err)
	}
	return nil
}

func keyDirName(key PersistenceKey) string {
	h := fnvHash(key.RootfsHostPath + "\x00" + key.SandboxMountPoint)
	return fmt.Sprintf("%x", h)
}

func fnvHash(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
