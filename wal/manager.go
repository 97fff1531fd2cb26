// Package wal is the durable write-ahead log core: it owns the control
// file, recovers on open, rotates the current log file at the flush
// layer's request, and reclaims log files no consumer still needs.
//
// It is grounded on the teacher codebase's LogManager
// (internal/app/log/logManager.go in the reference centauriDB sources),
// generalized from a single-file, in-memory-page log to a sequence of
// numbered files recovered through a crash-safe control record, per the
// specification this module implements.
package wal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opencoff/go-logger"

	"waldb/walfile"
	"waldb/walrec"
	"waldb/walscan"
)

// Options configures a Manager.
type Options struct {
	// Dir is the directory holding the log and control files.
	Dir string

	// Log receives diagnostic messages about recovery, rotation, and
	// reclamation. A nil Log is replaced with a discard logger.
	Log logger.Logger

	// DisableDirFsync skips fsyncing Dir after a control-file rename.
	// Leave false in production; some test filesystems don't support
	// fsyncing directories.
	DisableDirFsync bool

	// fm lets tests substitute a FileManager pre-configured with a
	// fault-injection point; production callers never set this.
	fm *walfile.FileManager
}

// Manager is the LogManager core: UNINIT -> (New) -> READY ->
// (SwitchToNextLogFile)* -> READY. A fatal ErrInvalidLog from New leaves
// no usable instance.
type Manager struct {
	fm  *walfile.FileManager
	log logger.Logger

	currentLogFileNumber int64
	minExistingLogFile    int64

	mu           sync.Mutex
	minLogAnchor walrec.LogAnchor
}

// New constructs a Manager rooted at opts.Dir and performs recovery
// (spec §4.3's initLogManager) before returning. A non-nil error means
// the instance is not usable.
func New(opts Options) (*Manager, error) {
	if opts.Log == nil {
		opts.Log, _ = logger.NewLogger("NONE", logger.LOG_NONE, "", 0)
	}

	fm := opts.fm
	if fm == nil {
		var err error
		fm, err = walfile.New(walfile.Options{
			Dir:      opts.Dir,
			FsyncDir: !opts.DisableDirFsync,
			Log:      opts.Log,
		})
		if err != nil {
			return nil, err
		}
	}

	m := &Manager{fm: fm, log: opts.Log}
	if err := m.initLogManager(); err != nil {
		return nil, err
	}
	return m, nil
}

// MinLogAnchor returns a deep copy of the current minimum-needed anchor.
func (m *Manager) MinLogAnchor() walrec.LogAnchor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minLogAnchor
}

// AdvanceMinLogAnchor monotonically raises the minimum-needed anchor. A
// newAnchor that does not compare strictly after the current anchor is
// silently ignored. This performs no I/O; the persisted anchor is updated
// only on the next call to SwitchToNextLogFile.
func (m *Manager) AdvanceMinLogAnchor(newAnchor walrec.LogAnchor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if walrec.Compare(newAnchor, m.minLogAnchor) > 0 {
		m.minLogAnchor = newAnchor
	}
}

// CurrentLogFileNumber returns the number of the log file the most
// recently returned writer targets.
func (m *Manager) CurrentLogFileNumber() int64 {
	return m.currentLogFileNumber
}

// NewScanner returns a forward scanner starting at the given anchor,
// reading through this Manager's FileManager. Callers that want to replay
// the whole recovered log typically pass MinLogAnchor().
func (m *Manager) NewScanner(start walrec.LogAnchor) *walscan.Scanner {
	return walscan.New(m.fm, start, m.log)
}

// initLogManager implements spec §4.3's recovery phases.
func (m *Manager) initLogManager() error {
	buf, err := m.readControlFile()
	if err != nil {
		if errors.Is(err, walrec.ErrNotFound) {
			return m.bootstrap()
		}
		return err
	}

	ctrl, err := walrec.DecodeControl(buf)
	if err != nil {
		return err
	}

	m.minLogAnchor = ctrl.Anchor()
	m.minExistingLogFile = ctrl.MinExistingLogFile

	scanner := walscan.New(m.fm, m.minLogAnchor, m.log)
	var rec walrec.UserLogRecord
	invalidLog := false
	for {
		ok, serr := scanner.Next(&rec)
		if serr != nil {
			if errors.Is(serr, walrec.ErrInvalidLog) {
				invalidLog = true
				break
			}
			scanner.Close()
			return serr
		}
		if !ok {
			break
		}
	}
	scanner.Close()

	lastGoodFile := scanner.LastGoodFileNumber
	lastGoodOff := scanner.LastGoodOffset

	// A torn file header is reported by the scanner as lastGoodOff 0 in
	// the file it couldn't validate; that position is a truncation
	// target, not a claim of a recovered record, so it is exempt from
	// the minimums/monotonicity checks below.
	headerTorn := invalidLog && lastGoodOff < walrec.LogFileHeaderSize

	if !headerTorn {
		if lastGoodFile < walrec.MinLogNumber || lastGoodOff < walrec.MinLogOffset {
			return fmt.Errorf("%w: recovered position %d:%d below minimums", walrec.ErrInvalidLog, lastGoodFile, lastGoodOff)
		}
		recovered := walrec.LogAnchor{LogFileNumber: lastGoodFile, LogFileOffset: lastGoodOff}
		if walrec.Compare(recovered, m.minLogAnchor) < 0 {
			return fmt.Errorf("%w: recovered position %v precedes persisted anchor %v", walrec.ErrInvalidLog, recovered, m.minLogAnchor)
		}
	}

	m.currentLogFileNumber = lastGoodFile

	if !invalidLog {
		return nil
	}

	m.log.Warn("wal: recovery found a torn tail at %d:%d, truncating", lastGoodFile, lastGoodOff)

	nextExists, err := m.fm.Exists(lastGoodFile + 1)
	if err != nil {
		return err
	}
	if nextExists {
		return fmt.Errorf("%w: file %d is torn but file %d exists; corruption is not at the tail", walrec.ErrInvalidLog, lastGoodFile, lastGoodFile+1)
	}

	if lastGoodOff >= walrec.LogFileHeaderSize {
		if err := m.fm.TruncateLogFile(lastGoodFile, lastGoodOff); err != nil {
			return err
		}
		return nil
	}

	// The file header itself is torn: reformat in place.
	return m.createNextLogFile(true)
}

// bootstrap implements spec §4.3 phase 4: no control file found yet.
func (m *Manager) bootstrap() error {
	exists, err := m.fm.Exists(walrec.MinLogNumber)
	if err != nil {
		return err
	}
	var length int64
	if exists {
		length, err = m.fm.Length(walrec.MinLogNumber)
		if err != nil {
			return err
		}
		if length > walrec.LogFileHeaderSize {
			return fmt.Errorf("%w: file %d holds user data but no control file exists", walrec.ErrInvalidLog, walrec.MinLogNumber)
		}
	}

	// The very first log file is MinLogNumber itself, not
	// currentLogFileNumber+1: there is no prior file to rotate away
	// from, so this goes through formatLogFile directly rather than
	// createNextLogFile's rotation-shaped arithmetic.
	if err := m.formatLogFile(walrec.MinLogNumber, exists); err != nil {
		return err
	}

	m.minLogAnchor = walrec.NewMinAnchor()
	m.minExistingLogFile = walrec.MinLogNumber
	return m.writeControlFile()
}

// readControlFile returns the raw bytes of the live control file, or
// ErrNotFound if it does not exist yet.
func (m *Manager) readControlFile() ([]byte, error) {
	r, err := m.fm.GetReaderForLogFile(walrec.ControlFileNumber)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	length, err := r.Length()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if length > 0 {
		if _, err := r.ReadAt(buf, 0); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
