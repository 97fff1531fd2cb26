package walfile

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// fsyncDir fsyncs the directory at path so that a preceding rename within
// it is durable. Required on filesystems (notably most Linux ones) where
// rename durability is not guaranteed until the containing directory's
// entry is itself synced.
func fsyncDir(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer unix.Close(fd)
	return unix.Fsync(fd)
}
