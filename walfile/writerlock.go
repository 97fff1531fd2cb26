package walfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"waldb/walrec"
)

// WriterLock is an advisory, non-blocking exclusive lock over the WAL
// directory's writer role. Spec §5 assumes a single flush-layer thread
// calls SwitchToNextLogFile; this turns that assumption into something a
// second misbehaving process will actually fail against, instead of
// silently corrupting the control file through an interleaved rotation.
type WriterLock struct {
	f *os.File
}

// AcquireWriterLock takes the advisory lock for dir's writer role. It
// fails immediately (rather than blocking) if another process already
// holds it.
func AcquireWriterLock(dir string) (*WriterLock, error) {
	path := dir + string(os.PathSeparator) + ".wal-writer.lock"
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open writer lock file: %v", walrec.ErrIO, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: another writer already holds the WAL lock on %s: %v", walrec.ErrIO, dir, err)
	}
	return &WriterLock{f: f}, nil
}

// Release drops the lock and closes the backing file descriptor.
func (l *WriterLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	cerr := l.f.Close()
	if err != nil {
		return fmt.Errorf("%w: release writer lock: %v", walrec.ErrIO, err)
	}
	if cerr != nil {
		return fmt.Errorf("%w: close writer lock file: %v", walrec.ErrIO, cerr)
	}
	return nil
}
