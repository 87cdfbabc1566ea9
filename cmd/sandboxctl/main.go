// Copyright 2026 The nsbox Authors
// SPDX-License-Identifier: Apache-2.0

// sandboxctl runs commands inside an nsbox sandbox.
//
// Usage:
//
//	sandboxctl run [flags] -- <command> [args...]
//	sandboxctl available [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nsbox-dev/nsbox/sandbox"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("NSBOX_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runCmd(args, logger)
	case "available":
		err = availableCmd(args, logger)
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if code, ok := sandbox.IsChildFailure(err); ok {
			os.Exit(code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`sandboxctl - run commands in an nsbox sandbox

USAGE
    sandboxctl <command> [flags] [-- <args>...]

COMMANDS
    run        Run a command in the sandbox
    available  Report which executor backends are available on this host

EXAMPLES
    sandboxctl run --graph=sandbox.yaml -- bash
    sandboxctl run --graph=sandbox.yaml --kind=container_runtime -- bash
    sandboxctl available

ENVIRONMENT
    SANDBOX_PERSISTENCE_DIR  First-tried persistence root
    NSBOX_DEBUG              Enable debug logging
`)
}

func newFactory(probe *sandbox.HostProbe, hints []string, logger *slog.Logger) *sandbox.Factory {
	return &sandbox.Factory{
		Unprivileged: func() *sandbox.UnprivilegedExecutor {
			return sandbox.NewUnprivilegedExecutor("nsbox-helper", probe, hints, logger)
		},
		Privileged: func() *sandbox.PrivilegedExecutor {
			return sandbox.NewPrivilegedExecutor("nsbox-helper", probe, hints, logger)
		},
		Container: func() *sandbox.ContainerExecutor {
			return sandbox.NewContainerExecutor("docker", logger)
		},
	}
}

func persistenceHints() []string {
	var hints []string
	if dir := os.Getenv("SANDBOX_PERSISTENCE_DIR"); dir != "" {
		hints = append(hints, dir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		hints = append(hints, home+"/.cache/nsbox")
	}
	return hints
}

func parseKind(s string) (*sandbox.ExecutorKind, error) {
	if s == "" {
		return nil, nil
	}
	kinds := map[string]sandbox.ExecutorKind{
		"unprivileged_userns": sandbox.UnprivilegedUserNS,
		"privileged_userns":   sandbox.PrivilegedUserNS,
		"container_runtime":   sandbox.ContainerRuntime,
	}
	k, ok := kinds[s]
	if !ok {
		return nil, fmt.Errorf("unknown executor kind %q", s)
	}
	return &k, nil
}

func runCmd(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	graphFile := fs.String("graph", "", "Declarative mount-graph YAML file (required)")
	kindName := fs.String("kind", "", "Executor kind: unprivileged_userns, privileged_userns, container_runtime (default: first available)")

	fs.Usage = func() {
		fmt.Print(`sandboxctl run - run a command in the sandbox

USAGE
    sandboxctl run [flags] -- <command> [args...]

FLAGS
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	command := fs.Args()
	if len(command) == 0 {
		return fmt.Errorf("command is required after --")
	}
	if *graphFile == "" {
		return fmt.Errorf("--graph is required")
	}

	probe := sandbox.NewHostProbe()
	cfg, err := sandbox.LoadGraphFile(*graphFile, probe.Uid(), probe.Gid(), statDirFunc)
	if err != nil {
		return err
	}

	kind, err := parseKind(*kindName)
	if err != nil {
		return err
	}

	factory := newFactory(probe, persistenceHints(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return sandbox.Run(ctx, factory, kind, cfg, command)
}

func availableCmd(args []string, logger *slog.Logger) error {
	probe := sandbox.NewHostProbe()
	factory := newFactory(probe, persistenceHints(), logger)

	kinds := []sandbox.ExecutorKind{sandbox.UnprivilegedUserNS, sandbox.PrivilegedUserNS, sandbox.ContainerRuntime}
	var names []string
	for _, k := range kinds {
		status := "unavailable"
		if factory.ExecutorAvailable(k) {
			status = "available"
		}
		names = append(names, fmt.Sprintf("%s: %s", k, status))
	}
	fmt.Println(strings.Join(names, "\n"))
	return nil
}

func statDirFunc(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
