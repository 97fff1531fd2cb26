// Package walfile is the file-level reader/writer abstraction the log
// core builds on: it creates, opens, truncates, renames, and deletes
// numbered log files and produces sequential readers and appenders over
// them. It owns no knowledge of record framing or control-file semantics;
// callers in walscan and wal interpret the bytes.
package walfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/opencoff/go-logger"

	"waldb/walrec"
)

// Reader is a positioned, read-only view of one file.
type Reader interface {
	ReadAt(buf []byte, off int64) (int, error)
	Length() (int64, error)
	Close() error
}

// Writer is an append-only, positioned view of one file.
type Writer interface {
	Append(p []byte) (int, error)
	Seek(off int64) error
	Length() (int64, error)
	Sync() error
	Close() error
}

// Options configures a FileManager.
type Options struct {
	// Dir is the directory holding all log files and the control file.
	Dir string

	// FsyncDir, when true, fsyncs Dir after every Rename so the rename
	// itself is durable on filesystems that require a directory sync
	// for that (spec's open question on shadow-rename durability).
	// The zero value is false; wal.New sets it to true unless
	// wal.Options.DisableDirFsync is set.
	FsyncDir bool

	// Log receives diagnostic messages. A nil Log is replaced with a
	// discard logger.
	Log logger.Logger

	// failAfter, when non-empty, is a test-only hook: the named
	// operation fails with a synthetic IoError immediately after the
	// real underlying syscall completes, so tests can simulate a crash
	// at a precise point in a multi-step operation. See WithFailAfter.
	failAfter string
}

// FileManager implements LogFileManager (spec §4.1) directly against the
// local filesystem.
type FileManager struct {
	opts Options
	log  logger.Logger
}

// New constructs a FileManager rooted at opts.Dir, creating the directory
// if it does not exist yet (mirrors the teacher's FileManager, which
// treats directory creation as the constructor's job, not a per-call
// concern).
func New(opts Options) (*FileManager, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: empty directory", walrec.ErrIO)
	}
	if opts.Log == nil {
		opts.Log, _ = logger.NewLogger("NONE", logger.LOG_NONE, "", 0)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create wal directory: %v", walrec.ErrIO, err)
	}
	return &FileManager{opts: opts, log: opts.Log}, nil
}

// WithFailAfter returns a copy of fm on which every operation matching op
// (one of "create", "truncate", "write-header", "shadow-write",
// "shadow-sync", "rename") fails immediately after the real
// underlying syscall, before returning to the caller. It exists solely to
// let tests inject crashes at precise points (spec §8 property 1); it has
// no effect in production use since nothing in this module sets it.
func (fm *FileManager) WithFailAfter(op string) *FileManager {
	cp := *fm
	cp.opts.failAfter = op
	return &cp
}

func (fm *FileManager) injectFailure(op string) error {
	return fm.CheckFailPoint(op)
}

// CheckFailPoint is the exported form of the test-only fault-injection
// hook, usable by callers outside this package (the wal package's
// multi-step control-file publication, in particular) to simulate a crash
// at a named point in a sequence of filesystem operations.
func (fm *FileManager) CheckFailPoint(op string) error {
	if fm.opts.failAfter != "" && fm.opts.failAfter == op {
		return fmt.Errorf("%w: injected failure after %s", walrec.ErrIO, op)
	}
	return nil
}

// pathFor returns the filesystem path for a numbered file.
func (fm *FileManager) pathFor(n int64) string {
	return filepath.Join(fm.opts.Dir, nameFor(n))
}

func nameFor(n int64) string {
	switch n {
	case walrec.ControlFileNumber:
		return "control.db"
	case walrec.ShadowFileNumber:
		return "control.db.tmp"
	default:
		return "log_" + strconv.FormatInt(n, 10) + ".db"
	}
}

// Exists reports whether numbered file n is present on disk.
func (fm *FileManager) Exists(n int64) (bool, error) {
	_, err := os.Stat(fm.pathFor(n))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat file %d: %v", walrec.ErrIO, n, err)
}

// Length returns the current length in bytes of numbered file n.
func (fm *FileManager) Length(n int64) (int64, error) {
	info, err := os.Stat(fm.pathFor(n))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: file %d: %v", walrec.ErrNotFound, n, err)
		}
		return 0, fmt.Errorf("%w: stat file %d: %v", walrec.ErrIO, n, err)
	}
	return info.Size(), nil
}

// CreateLogFile creates numbered file n if absent. It reports true if the
// file already existed (and was left untouched) or false if it was newly
// created empty. It never fails merely because the file already exists.
func (fm *FileManager) CreateLogFile(n int64) (existed bool, err error) {
	existed, err = fm.Exists(n)
	if err != nil {
		return false, err
	}
	if existed {
		return true, nil
	}
	f, err := os.OpenFile(fm.pathFor(n), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return false, fmt.Errorf("%w: create file %d: %v", walrec.ErrIO, n, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("%w: close new file %d: %v", walrec.ErrIO, n, err)
	}
	if err := fm.injectFailure("create"); err != nil {
		return false, err
	}
	return false, nil
}

// TruncateLogFile truncates numbered file n to length bytes. length must
// be <= the file's current length per spec §6's durability requirement on
// shrinking truncation.
func (fm *FileManager) TruncateLogFile(n int64, length int64) error {
	if err := os.Truncate(fm.pathFor(n), length); err != nil {
		return fmt.Errorf("%w: truncate file %d to %d: %v", walrec.ErrIO, n, length, err)
	}
	if err := fm.injectFailure("truncate"); err != nil {
		return err
	}
	return nil
}

// DeleteLogFile best-effort deletes numbered file n. A missing file is
// not an error: reclamation can legitimately race with a prior partial
// deletion after a crash.
func (fm *FileManager) DeleteLogFile(n int64) {
	if err := os.Remove(fm.pathFor(n)); err != nil && !os.IsNotExist(err) {
		fm.log.Warn("wal: best-effort delete of log file %d failed: %v", n, err)
	}
}

// Rename atomically replaces file `to` with the current contents of file
// `from`, relying on POSIX rename semantics. When FsyncDir is set it also
// fsyncs the containing directory afterward, since on some filesystems a
// rename is not durable without that.
func (fm *FileManager) Rename(from, to int64) error {
	if err := os.Rename(fm.pathFor(from), fm.pathFor(to)); err != nil {
		return fmt.Errorf("%w: rename file %d to %d: %v", walrec.ErrIO, from, to, err)
	}
	if err := fm.injectFailure("rename"); err != nil {
		return err
	}
	if fm.opts.FsyncDir {
		if err := fsyncDir(fm.opts.Dir); err != nil {
			return fmt.Errorf("%w: fsync directory after rename: %v", walrec.ErrIO, err)
		}
	}
	return nil
}

// OpenForOverwrite creates numbered file n if absent, or truncates it to
// zero length if present, and returns a writer positioned at its start.
// Used for the shadow control file, which must always start from empty
// regardless of what a prior crash left behind.
func (fm *FileManager) OpenForOverwrite(n int64) (Writer, error) {
	f, err := os.OpenFile(fm.pathFor(n), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open file %d for overwrite: %v", walrec.ErrIO, n, err)
	}
	return &fileWriter{f: f, pos: 0, fm: fm}, nil
}

// GetReaderForLogFile opens numbered file n for positioned reads. It
// fails with ErrNotFound if the file is absent.
func (fm *FileManager) GetReaderForLogFile(n int64) (Reader, error) {
	f, err := os.Open(fm.pathFor(n))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: file %d", walrec.ErrNotFound, n)
		}
		return nil, fmt.Errorf("%w: open file %d for read: %v", walrec.ErrIO, n, err)
	}
	return &fileReader{f: f}, nil
}

// GetWriterForLogFile opens numbered file n for append, positioned at
// end-of-file.
func (fm *FileManager) GetWriterForLogFile(n int64) (Writer, error) {
	f, err := os.OpenFile(fm.pathFor(n), os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: file %d", walrec.ErrNotFound, n)
		}
		return nil, fmt.Errorf("%w: open file %d for write: %v", walrec.ErrIO, n, err)
	}
	off, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seek to end of file %d: %v", walrec.ErrIO, n, err)
	}
	return &fileWriter{f: f, pos: off, fm: fm}, nil
}
