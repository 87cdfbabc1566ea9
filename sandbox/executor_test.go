// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"strings"
	"testing"
)

func testConfig(t *testing.T) *SandboxConfig {
	t.Helper()
	g := mustGraph(t, map[string]MountInfo{
		"/":             {HostPath: "/rootfs", Type: Overlayed},
		"/usr":          {HostPath: "/usr", Type: ReadOnly},
		"/usr/lib":      {HostPath: "/usr/lib", Type: ReadOnly},
		"/usr/lib/test": {HostPath: "/usr/lib/test", Type: ReadOnly},
		"/etc":          {HostPath: "/etc", Type: ReadOnly},
		"/etc/config":   {HostPath: "/etc/config", Type: ReadWrite},
	})
	cfg, err := NewSandboxConfig(g, 1000, 1000, WithEnv(map[string]string{"PATH": "/bin"}))
	if err != nil {
		t.Fatalf("NewSandboxConfig failed: %v", err)
	}
	return cfg
}

func alwaysSucceedProbe(helperPath, rootfsPath, candidateDir string, userxattr, verbose bool) bool {
	return true
}

func TestBuildUserNSCommandMountOrderingNonIncreasing(t *testing.T) {
	orig := overlayProbe
	overlayProbe = alwaysSucceedProbe
	defer func() { overlayProbe = orig }()

	cfg := testConfig(t)
	persist := NewPersistenceManager(&PersistenceRoot{Path: t.TempDir()}, "")
	resolve := func(rootfsPath string) (*PersistenceRoot, error) {
		return &PersistenceRoot{Path: t.TempDir()}, nil
	}

	bc, err := buildUserNSCommand("nsbox-helper", persist, resolve, cfg, []string{"sh"})
	if err != nil {
		t.Fatalf("buildUserNSCommand failed: %v", err)
	}

	var mountLengths []int
	for i, a := range bc.Argv {
		if a == "--mount" {
			value := bc.Argv[i+1]
			sandboxPath := strings.Split(value, ":")[1]
			mountLengths = append(mountLengths, len(sandboxPath))
		}
	}
	for i := 1; i < len(mountLengths); i++ {
		if mountLengths[i-1] < mountLengths[i] {
			t.Errorf("--mount lengths not non-increasing: %v", mountLengths)
		}
	}
}

func TestBuildUserNSCommandEmitsEnvAndIdentity(t *testing.T) {
	orig := overlayProbe
	overlayProbe = alwaysSucceedProbe
	defer func() { overlayProbe = orig }()

	cfg := testConfig(t)
	persist := NewPersistenceManager(&PersistenceRoot{Path: t.TempDir()}, "")
	resolve := func(rootfsPath string) (*PersistenceRoot, error) {
		return &PersistenceRoot{Path: t.TempDir()}, nil
	}

	bc, err := buildUserNSCommand("nsbox-helper", persist, resolve, cfg, []string{"sh", "-c", "true"})
	if err != nil {
		t.Fatalf("buildUserNSCommand failed: %v", err)
	}

	argStr := strings.Join(bc.Argv, " ")
	if !strings.Contains(argStr, "--rootfs /rootfs") {
		t.Error("missing --rootfs")
	}
	if !strings.Contains(argStr, "--env PATH=/bin") {
		t.Error("missing --env")
	}
	if !strings.Contains(argStr, "--uid 1000") || !strings.Contains(argStr, "--gid 1000") {
		t.Error("missing uid/gid")
	}
	if !strings.HasSuffix(argStr, "-- sh -c true") {
		t.Errorf("argv does not end with terminating -- and user argv: %s", argStr)
	}
}

func TestContainerExecutorRejectsOverlayedReadOnly(t *testing.T) {
	g := mustGraph(t, map[string]MountInfo{
		"/":          {HostPath: "/rootfs", Type: Overlayed},
		"/protected": {HostPath: "/protected", Type: OverlayedReadOnly},
	})
	cfg, err := NewSandboxConfig(g, 0, 0)
	if err != nil {
		t.Fatalf("NewSandboxConfig failed: %v", err)
	}

	e := NewContainerExecutor("docker", nil)
	if _, err := e.BuildCommand(cfg, []string{"true"}); err == nil {
		t.Fatal("expected OverlayedReadOnly to be reported as broken for the container executor")
	}
}

func TestContainerExecutorBuildCommandShape(t *testing.T) {
	g := mustGraph(t, map[string]MountInfo{
		"/":    {HostPath: "/rootfs", Type: Overlayed},
		"/usr": {HostPath: "/usr", Type: ReadOnly},
	})
	cfg, err := NewSandboxConfig(g, 1000, 1000)
	if err != nil {
		t.Fatalf("NewSandboxConfig failed: %v", err)
	}

	e := NewContainerExecutor("docker", nil)
	bc, err := e.BuildCommand(cfg, []string{"true"})
	if err != nil {
		t.Fatalf("BuildCommand failed: %v", err)
	}
	argStr := strings.Join(bc.Argv, " ")
	if !strings.Contains(argStr, "--volume /usr:/usr:ro") {
		t.Errorf("missing read-only volume flag: %s", argStr)
	}
	if !strings.Contains(argStr, "/rootfs") {
		t.Errorf("missing image reference: %s", argStr)
	}
}
