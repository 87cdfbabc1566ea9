// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"testing"
)

func rootOnlyGraph(t *testing.T) *MountGraph {
	t.Helper()
	g, err := NewMountGraph(map[string]MountInfo{
		"/": {HostPath: "/rootfs", Type: Overlayed},
	}, alwaysDir)
	if err != nil {
		t.Fatalf("NewMountGraph failed: %v", err)
	}
	return g
}

func TestNewSandboxConfigDefaults(t *testing.T) {
	cfg, err := NewSandboxConfig(rootOnlyGraph(t), 1000, 1000)
	if err != nil {
		t.Fatalf("NewSandboxConfig failed: %v", err)
	}
	if cfg.Pwd != "/" {
		t.Errorf("Pwd = %q, want /", cfg.Pwd)
	}
	if !cfg.Persist {
		t.Error("Persist should default to true")
	}
	if cfg.UID != 1000 || cfg.GID != 1000 {
		t.Errorf("UID/GID = %d/%d, want 1000/1000", cfg.UID, cfg.GID)
	}
	if cfg.Stdio.Stdin.Kind != StdioNull {
		t.Errorf("default stdin kind = %v, want StdioNull", cfg.Stdio.Stdin.Kind)
	}
	if cfg.Stdio.Stdout.Kind != StdioInherit || cfg.Stdio.Stderr.Kind != StdioInherit {
		t.Error("default stdout/stderr should inherit")
	}
}

func TestNewSandboxConfigRejectsRelativePwdAndEntrypoint(t *testing.T) {
	_, err := NewSandboxConfig(rootOnlyGraph(t), 0, 0, WithPwd("lib"))
	if err == nil {
		t.Error("expected error for relative pwd")
	}
	_, err = NewSandboxConfig(rootOnlyGraph(t), 0, 0, WithEntrypoint("init"))
	if err == nil {
		t.Error("expected error for relative entrypoint")
	}
}

func TestSandboxConfigWithPreservesOtherFields(t *testing.T) {
	cfg, err := NewSandboxConfig(rootOnlyGraph(t), 1000, 1000,
		WithEnv(map[string]string{"A": "1"}),
		WithHostname("sandy"),
		WithPersist(false),
	)
	if err != nil {
		t.Fatalf("NewSandboxConfig failed: %v", err)
	}

	copied := cfg.With(WithStdio(StdioSet{Stdin: InheritStdio(), Stdout: NullStdio(), Stderr: NullStdio()}))

	if copied.Hostname != cfg.Hostname {
		t.Errorf("Hostname changed: %q vs %q", copied.Hostname, cfg.Hostname)
	}
	if copied.Persist != cfg.Persist {
		t.Error("Persist changed")
	}
	if copied.Env["A"] != "1" {
		t.Error("Env not preserved")
	}
	if copied.Mounts != cfg.Mounts {
		t.Error("Mounts graph pointer should be shared, not cloned")
	}
	if copied.Stdio.Stdin.Kind != StdioInherit {
		t.Error("With() should have applied the stdio override")
	}
}

func TestNewLegacyConfigMatchesFullForm(t *testing.T) {
	legacy, err := NewLegacyConfig(
		map[string]string{"/usr": "/usr"},
		map[string]string{"/tmp": "/tmp"},
		"/rootfs", 1000, 1000, alwaysDir,
	)
	if err != nil {
		t.Fatalf("NewLegacyConfig failed: %v", err)
	}

	full, err := NewSandboxConfig(mustGraph(t, map[string]MountInfo{
		"/":    {HostPath: "/rootfs", Type: Overlayed},
		"/usr": {HostPath: "/usr", Type: ReadOnly},
		"/tmp": {HostPath: "/tmp", Type: ReadWrite},
	}), 1000, 1000)
	if err != nil {
		t.Fatalf("NewSandboxConfig failed: %v", err)
	}

	if legacy.Mounts.Len() != full.Mounts.Len() {
		t.Fatalf("mount graph sizes differ: %d vs %d", legacy.Mounts.Len(), full.Mounts.Len())
	}
	for _, sandboxPath := range full.Mounts.Order() {
		wantInfo, _ := full.Mounts.Lookup(sandboxPath)
		gotInfo, ok := legacy.Mounts.Lookup(sandboxPath)
		if !ok || gotInfo != wantInfo {
			t.Errorf("mount %q: got %+v, want %+v", sandboxPath, gotInfo, wantInfo)
		}
	}
}

func TestNewLegacyConfigRejectsDuplicateKeys(t *testing.T) {
	_, err := NewLegacyConfig(
		map[string]string{"/shared": "/a"},
		map[string]string{"/shared": "/b"},
		"/rootfs", 0, 0, alwaysDir,
	)
	if err == nil {
		t.Fatal("expected error for sandbox path present in both legacy maps")
	}
}

func mustGraph(t *testing.T, entries map[string]MountInfo) *MountGraph {
	t.Helper()
	g, err := NewMountGraph(entries, alwaysDir)
	if err != nil {
		t.Fatalf("NewMountGraph failed: %v", err)
	}
	return g
}
