// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// MarkerEnv is set to "1" in the environment of a detached child.
const MarkerEnv = "TAGBUS_DAEMONIZED"

// ErrAlreadyRunning is returned by AcquireLock when another process
// holds the lock.
var ErrAlreadyRunning = errors.New("daemon: already running")

// Detached reports whether this process was started by Detach.
func Detached() bool {
	return os.Getenv(MarkerEnv) == "1"
}

// Detach starts a copy of the running executable with args in a new
// session, detached from the terminal, and returns its pid. The
// caller is the parent and should exit.
func Detach(args []string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locating executable: %w", err)
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer devNull.Close()

	cmd := detachCommand(executable, args, os.Environ(), devNull)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting detached %s: %w", executable, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, err
	}
	return pid, nil
}

func detachCommand(executable string, args, environ []string, devNull *os.File) *exec.Cmd {
	cmd := exec.Command(executable, args...)
	cmd.Env = append(slices.DeleteFunc(slices.Clone(environ), func(entry string) bool {
		return strings.HasPrefix(entry, MarkerEnv+"=")
	}), MarkerEnv+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Dir = "/"
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}

// Lock is a held pid-file lock.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock creates path (and its directory) if needed, locks it
// exclusively without blocking and records the current pid. If another
// process holds the lock the error wraps ErrAlreadyRunning and names
// the holder's pid when the file records one.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid, readErr := ReadPID(path); readErr == nil {
				return nil, fmt.Errorf("%w (pid %d holds %s)", ErrAlreadyRunning, pid, path)
			}
			return nil, fmt.Errorf("%w (%s is locked)", ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	if err := file.Truncate(0); err != nil {
		file.Close()
		return nil, fmt.Errorf("truncating lock file: %w", err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing pid: %w", err)
	}
	return &Lock{path: path, file: file}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release clears the recorded pid and drops the lock. The file stays
// in place so a waiting process never locks an unlinked inode.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	truncateErr := l.file.Truncate(0)
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(truncateErr, unlockErr, closeErr)
}

// ReadPID returns the pid recorded in a lock file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("lock file %s: %w", path, err)
	}
	return pid, nil
}
