// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "controlengined.pid")

	lock, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	pid, err := ReadPID(path)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("recorded pid %d, want %d", pid, os.Getpid())
	}

	// flock locks belong to the open file description, so a second
	// open in the same process contends like another process would.
	_, err = AcquireLock(path)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second AcquireLock = %v, want ErrAlreadyRunning", err)
	}
	if !strings.Contains(err.Error(), "pid") {
		t.Errorf("error %q does not name the holder", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	defer again.Release()
	if again.Path() != path {
		t.Errorf("Path() = %s, want %s", again.Path(), path)
	}
}

func TestReadPIDInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid")
	if err := os.WriteFile(path, []byte("not a pid\n"), 0644); err != nil {
		t.Fatalf("writing: %v", err)
	}
	if _, err := ReadPID(path); err == nil {
		t.Fatal("expected an error for a malformed pid file")
	}
}

func TestDetachCommand(t *testing.T) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("opening %s: %v", os.DevNull, err)
	}
	defer devNull.Close()

	environ := []string{"PATH=/usr/bin", MarkerEnv + "=0"}
	cmd := detachCommand("/usr/bin/controlengine", []string{"/rules"}, environ, devNull)

	if cmd.Path != "/usr/bin/controlengine" || !slices.Equal(cmd.Args[1:], []string{"/rules"}) {
		t.Errorf("command = %s %v", cmd.Path, cmd.Args)
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setsid {
		t.Error("detached child is not a session leader")
	}
	if cmd.Stdin != devNull || cmd.Stdout != devNull || cmd.Stderr != devNull {
		t.Error("standard streams are not on the null device")
	}
	if cmd.Dir != "/" {
		t.Errorf("working directory = %q, want /", cmd.Dir)
	}
	want := []string{"PATH=/usr/bin", MarkerEnv + "=1"}
	if !slices.Equal(cmd.Env, want) {
		t.Errorf("environment = %v, want %v", cmd.Env, want)
	}
	if len(environ) != 2 || environ[1] != MarkerEnv+"=0" {
		t.Errorf("caller's environment was modified: %v", environ)
	}
}

func TestDetached(t *testing.T) {
	t.Setenv(MarkerEnv, "")
	if Detached() {
		t.Fatal("Detached() = true without the marker")
	}
	t.Setenv(MarkerEnv, "1")
	if !Detached() {
		t.Fatal("Detached() = false with the marker")
	}
}
