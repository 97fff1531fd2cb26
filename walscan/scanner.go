// Package walscan is the sole structural validator of the log: a forward
// iterator from a starting LogAnchor that stops at clean end-of-log or at
// the first structurally invalid record, tracking the last known-good
// position so its caller can decide how to truncate.
//
// It is the forward-scanning counterpart to the teacher's LogIterator
// (internal/app/log/logIterator.go in the reference centauriDB codebase),
// which walks a single file backward from its last block trusting its own
// writer never to have produced a torn record. This scanner walks forward
// across however many files the log spans and trusts nothing: a header
// that fails to decode, a checksum mismatch, or a file that ends mid-frame
// are all reported as corruption rather than silently accepted.
package walscan

import (
	"errors"
	"fmt"
	"io"

	"github.com/opencoff/go-logger"

	"waldb/walfile"
	"waldb/walrec"
)

// FileManager is the subset of walfile.FileManager the scanner needs.
type FileManager interface {
	Exists(n int64) (bool, error)
	GetReaderForLogFile(n int64) (walfile.Reader, error)
}

// Scanner is a forward iterator over log records starting at a LogAnchor.
type Scanner struct {
	fm  FileManager
	log logger.Logger

	curFile   int64
	curReader walfile.Reader
	curOff    int64 // offset of the read cursor within curFile
	curLen    int64 // cached length of curFile

	// LastGoodFileNumber/LastGoodOffset name the position immediately
	// after the last record successfully returned, or the starting
	// anchor's position if none has been returned yet. Crossing into the
	// next file moves them to that file's first record offset, and a torn
	// header in that file moves them to its offset 0. They are never
	// advanced past a record that failed to decode.
	LastGoodFileNumber int64
	LastGoodOffset     int64

	failed bool // sticky: set once InvalidLog is surfaced
	done   bool // sticky: set once clean end-of-log is reached
}

// New constructs a Scanner starting at start. log may be nil.
func New(fm FileManager, start walrec.LogAnchor, log logger.Logger) *Scanner {
	if log == nil {
		log, _ = logger.NewLogger("NONE", logger.LOG_NONE, "", 0)
	}
	return &Scanner{
		fm:                 fm,
		log:                log,
		curFile:            start.LogFileNumber,
		curOff:             start.LogFileOffset,
		LastGoodFileNumber: start.LogFileNumber,
		LastGoodOffset:     start.LogFileOffset,
	}
}

// Close closes any reader the scanner currently holds open.
func (s *Scanner) Close() error {
	if s.curReader != nil {
		err := s.curReader.Close()
		s.curReader = nil
		return err
	}
	return nil
}

func (s *Scanner) ensureReader() error {
	if s.curReader != nil {
		return nil
	}
	r, err := s.fm.GetReaderForLogFile(s.curFile)
	if err != nil {
		return err
	}
	length, err := r.Length()
	if err != nil {
		r.Close()
		return err
	}
	s.curReader = r
	s.curLen = length
	return nil
}

// validateHeader checks that the current file's header is intact. It is
// called only when the scanner crosses into a file it has not yet read
// from, so a torn or mismatched header is reported exactly once, at the
// point the scanner would otherwise have started trusting the file.
func (s *Scanner) validateHeader() error {
	if s.curLen < walrec.LogFileHeaderSize {
		return fmt.Errorf("%w: file %d header truncated at %d bytes", walrec.ErrInvalidLog, s.curFile, s.curLen)
	}
	buf := make([]byte, walrec.LogFileHeaderSize)
	if _, err := s.curReader.ReadAt(buf, 0); err != nil {
		return err
	}
	return walrec.DecodeFileHeader(buf, s.curFile)
}

// Next produces the next structurally valid record into *rec, returning
// true. It returns (false, nil) at clean end-of-log, or (false,
// ErrInvalidLog) the first time it encounters corruption — a torn record,
// a bad checksum, or a file that ends mid-frame. After an ErrInvalidLog
// has been surfaced once, every subsequent call returns (false, nil), per
// spec: the scanner reports its one failure and then behaves as
// end-of-log.
func (s *Scanner) Next(rec *walrec.UserLogRecord) (bool, error) {
	if s.done || s.failed {
		return false, nil
	}

	for {
		if err := s.ensureReader(); err != nil {
			if errors.Is(err, walrec.ErrNotFound) {
				// No next file: clean end-of-log.
				s.done = true
				return false, nil
			}
			return false, err
		}

		if s.curOff >= s.curLen {
			// Exactly at end of this file: clean boundary. Try the
			// next file only if it exists.
			s.curReader.Close()
			s.curReader = nil
			next := s.curFile + 1
			exists, err := s.fm.Exists(next)
			if err != nil {
				return false, err
			}
			if !exists {
				s.done = true
				return false, nil
			}
			s.curFile = next
			if err := s.ensureReader(); err != nil {
				return false, err
			}
			if err := s.validateHeader(); err != nil {
				s.log.Warn("wal: scan found torn header in file %d: %v", s.curFile, err)
				s.LastGoodFileNumber = s.curFile
				s.LastGoodOffset = 0
				s.failed = true
				return false, walrec.ErrInvalidLog
			}
			s.curOff = walrec.LogFileHeaderSize
			s.LastGoodFileNumber = s.curFile
			s.LastGoodOffset = s.curOff
			continue
		}

		got, err := s.readOneRecord()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// File ends mid-record: the residue is corruption of
				// the current file, not a clean boundary.
				s.log.Warn("wal: scan hit torn record in file %d at offset %d", s.curFile, s.curOff)
				s.failed = true
				return false, walrec.ErrInvalidLog
			}
			s.log.Warn("wal: scan hit invalid record in file %d at offset %d: %v", s.curFile, s.curOff, err)
			s.failed = true
			return false, walrec.ErrInvalidLog
		}

		*rec = got.rec
		s.curOff = got.nextOff
		s.LastGoodFileNumber = s.curFile
		s.LastGoodOffset = s.curOff
		return true, nil
	}
}

type scanResult struct {
	rec     walrec.UserLogRecord
	nextOff int64
}

// readOneRecord reads and decodes exactly one frame starting at s.curOff
// in the current file.
func (s *Scanner) readOneRecord() (scanResult, error) {
	headBuf := make([]byte, walrec.RecordHeaderSize)
	if s.curOff+int64(len(headBuf)) > s.curLen {
		return scanResult{}, io.EOF
	}
	if _, err := s.curReader.ReadAt(headBuf, s.curOff); err != nil {
		return scanResult{}, err
	}

	payloadLen := int64(beUint32(headBuf[0:4]))
	frameLen := walrec.FrameSize(int(payloadLen))
	if s.curOff+frameLen > s.curLen {
		return scanResult{}, io.EOF
	}

	frame := make([]byte, frameLen)
	if _, err := s.curReader.ReadAt(frame, s.curOff); err != nil {
		return scanResult{}, err
	}

	rec, err := walrec.DecodeRecord(frame)
	if err != nil {
		return scanResult{}, err
	}

	return scanResult{rec: rec, nextOff: s.curOff + frameLen}, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Err returns a descriptive error if the scanner ever surfaced
// ErrInvalidLog, or nil if the scan ran cleanly (or hasn't failed yet).
func (s *Scanner) Err() error {
	if s.failed {
		return fmt.Errorf("%w: scan failed in file %d at offset %d", walrec.ErrInvalidLog, s.curFile, s.curOff)
	}
	return nil
}
