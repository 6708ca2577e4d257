// Package storelock implements an OS-level exclusive advisory lock on a
// store root: open-or-create a sentinel file and take an exclusive flock
// on it for the life of the process.
package storelock

import (
	"os"
	"syscall"

	"github.com/vaultline/backup/internal/engerr"
)

// FileName is the sentinel file name created under the store root.
const FileName = ".storelock"

// Lock holds an OS-level exclusive advisory lock on a store root, acquired
// at process start and released at exit, enforcing single-tenant ownership
// of the store.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if absent) storeRoot/.storelock and takes a
// non-blocking exclusive flock(2) on it. If another open file description
// already holds the lock — whether from this process or another — it
// returns a LockHeld error immediately: contention fails fast, there is no
// waiting or timeout. flock(2) is used rather than fcntl(2) record locking
// deliberately: POSIX fcntl locks are scoped to the (process, inode) pair,
// so a second fcntl lock from the same process on the same file silently
// succeeds even while an earlier file descriptor in that process still
// holds it, which would defeat single-tenant enforcement within one
// process (e.g. two Engine.Open calls in a test). flock locks are scoped
// to the open file description, so every independent open — same process
// or not — genuinely contends.
func Acquire(storeRoot string) (*Lock, error) {
	path := storeRoot + string(os.PathSeparator) + FileName
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "open store lock file")
	}

	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if err == syscall.EINTR {
			continue
		}
		f.Close()
		return nil, engerr.Wrap(engerr.LockHeld, err, "store root %s is locked by another process", storeRoot)
	}
}

// Release unlocks and closes the sentinel file. It is safe to call once per
// successful Acquire; the lock is also released implicitly if the process
// exits or is killed, since flock locks do not survive the holding file
// descriptor.
func (l *Lock) Release() error {
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	return l.f.Close()
}
