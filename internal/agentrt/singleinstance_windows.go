//go:build windows
// +build windows

package agentrt

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// mutexLock implements InstanceLock with a named mutex scoped to the
// login session, the conventional Windows single-instance idiom. The OS
// abandons the mutex when the holder dies.
type mutexLock struct {
	name   *uint16
	handle windows.Handle
}

func newPlatformLock(session, lockFile string) InstanceLock {
	name, _ := windows.UTF16PtrFromString(fmt.Sprintf(`Local\deskctl-agent-%s`, session))
	return &mutexLock{name: name}
}

func (l *mutexLock) Acquire() error {
	handle, err := windows.CreateMutex(nil, true, l.name)
	if err != nil {
		if err == windows.ERROR_ALREADY_EXISTS {
			if handle != 0 {
				windows.CloseHandle(handle)
			}
			return ErrAlreadyRunning
		}
		return fmt.Errorf("agentrt: create mutex: %w", err)
	}
	l.handle = handle
	return nil
}

func (l *mutexLock) Release() error {
	if l.handle == 0 {
		return nil
	}
	_ = windows.ReleaseMutex(l.handle)
	err := windows.CloseHandle(l.handle)
	l.handle = 0
	return err
}
