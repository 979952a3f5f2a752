package agentrt

import "errors"

// ErrAlreadyRunning is returned when another agent instance holds the
// per-session lock. The second invocation must exit non-zero immediately.
var ErrAlreadyRunning = errors.New("agentrt: another agent instance is already running in this session")

// InstanceLock is the per-desktop-session single-instance guard. Acquire
// fails fast with ErrAlreadyRunning when the lock is held elsewhere;
// Release frees it for a successor (restart_client relies on this).
type InstanceLock interface {
	Acquire() error
	Release() error
}

// NewInstanceLock builds the platform lock. On Windows it is a named
// mutex scoped to the login session; elsewhere it is an flock'd lock
// file, so a crashed agent never leaves a stale lock behind.
func NewInstanceLock(session, lockFile string) InstanceLock {
	return newPlatformLock(session, lockFile)
}
