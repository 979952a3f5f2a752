//go:build !windows
// +build !windows

package agentrt

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// fileLock implements InstanceLock with an exclusive flock on a lock
// file. The kernel drops the lock when the process dies, so no stale-pid
// cleanup is needed.
type fileLock struct {
	path string
	file *os.File
}

func newPlatformLock(session, lockFile string) InstanceLock {
	if lockFile == "" {
		lockFile = filepath.Join(os.TempDir(), fmt.Sprintf("deskctl-agent-%s.lock", session))
	}
	return &fileLock{path: lockFile}
}

func (l *fileLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("agentrt: create lock dir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("agentrt: open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("agentrt: flock: %w", err)
	}

	// Record the holder's pid for operators; correctness doesn't need it.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)

	l.file = f
	return nil
}

func (l *fileLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	_ = os.Remove(l.path)
	if err != nil {
		return err
	}
	return closeErr
}
