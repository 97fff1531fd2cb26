package wal

import (
	"fmt"

	"waldb/walfile"
	"waldb/walrec"
)

// SwitchToNextLogFile is the flush layer's rotation call. If currentWriter
// is non-nil it is closed, the control file is rewritten (persisting any
// advance of the minimum-needed anchor and reclaiming superseded files),
// and the next numbered log file is formatted. If currentWriter is nil
// this is the bootstrap case: a writer is simply opened for the current
// log file. The returned writer is positioned at end-of-file.
//
// A successful return implies the preceding control-file content is
// durably on disk before any byte of the new log file is appended by the
// caller (spec §5 ordering guarantee 1): writeControlFile's shadow-sync
// and rename both complete before createNextLogFile runs.
func (m *Manager) SwitchToNextLogFile(currentWriter walfile.Writer) (walfile.Writer, error) {
	if currentWriter != nil {
		if err := currentWriter.Close(); err != nil {
			return nil, err
		}
		if err := m.writeControlFile(); err != nil {
			return nil, err
		}
		if err := m.createNextLogFile(false); err != nil {
			return nil, err
		}
	}

	w, err := m.fm.GetWriterForLogFile(m.currentLogFileNumber)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// createNextLogFile formats the next log file in rotation order: if
// reformatExistingFile is false the target is currentLogFileNumber+1 and
// must not already exist; if true the target is currentLogFileNumber
// itself and must already exist. It assumes currentLogFileNumber already
// names an existing, previously-formatted file — callers that have no
// such file yet (bootstrap) must use formatLogFile directly instead.
func (m *Manager) createNextLogFile(reformatExistingFile bool) error {
	target := m.currentLogFileNumber
	if !reformatExistingFile {
		target = m.currentLogFileNumber + 1
	}
	return m.formatLogFile(target, reformatExistingFile)
}

// formatLogFile creates (or, if existingExpected, reformats) numbered file
// target so that it contains nothing but a freshly written, synced
// header. It fails if the file's prior existence doesn't match
// existingExpected. currentLogFileNumber is updated to target on success.
func (m *Manager) formatLogFile(target int64, existingExpected bool) error {
	existed, err := m.fm.CreateLogFile(target)
	if err != nil {
		return err
	}
	if existed != existingExpected {
		return fmt.Errorf("%w: file %d existed=%v, expected %v", walrec.ErrInvalidLog, target, existed, existingExpected)
	}

	if existingExpected {
		if err := m.fm.TruncateLogFile(target, 0); err != nil {
			return err
		}
	}

	w, err := m.fm.GetWriterForLogFile(target)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Seek(0); err != nil {
		return err
	}
	if _, err := w.Append(walrec.EncodeFileHeader(target)); err != nil {
		return err
	}
	if err := m.fm.CheckFailPoint("write-header"); err != nil {
		return err
	}
	if err := w.Sync(); err != nil {
		return err
	}

	m.currentLogFileNumber = target
	return nil
}

// writeControlFile is the checkpoint: it serialises the current
// minLogAnchor (deciding reclamation along the way) into the 44-byte
// control record, publishes it via the shadow-file rename, and returns
// once the rename (and, if enabled, the directory fsync after it) has
// completed. After it returns, all log files with number below
// minNeededLogFile may be deleted and a crash immediately afterward
// recovers correctly from the newly persisted anchor.
func (m *Manager) writeControlFile() error {
	m.mu.Lock()
	anchor := m.minLogAnchor
	m.mu.Unlock()

	minExisting := m.minExistingLogFile
	if anchor.LogFileNumber > minExisting {
		for n := minExisting; n < anchor.LogFileNumber; n++ {
			m.fm.DeleteLogFile(n)
		}
		m.log.Info("wal: reclaimed log files [%d, %d)", minExisting, anchor.LogFileNumber)
		minExisting = anchor.LogFileNumber
		m.minExistingLogFile = minExisting
	}

	rec := walrec.ControlFileRecord{
		MinExistingLogFile:     minExisting,
		MinNeededLogFile:       anchor.LogFileNumber,
		MinNeededLogFileOffset: anchor.LogFileOffset,
		MinNeededLSN:           anchor.LSN,
	}
	buf := walrec.EncodeControl(rec)

	w, err := m.fm.OpenForOverwrite(walrec.ShadowFileNumber)
	if err != nil {
		return err
	}
	if _, err := w.Append(buf); err != nil {
		w.Close()
		return err
	}
	if err := m.fm.CheckFailPoint("shadow-write"); err != nil {
		w.Close()
		return err
	}
	if err := w.Sync(); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	if err := m.fm.Rename(walrec.ShadowFileNumber, walrec.ControlFileNumber); err != nil {
		return err
	}
	return nil
}

// Close releases any resources held directly by the Manager. It does not
// close a writer handed out by SwitchToNextLogFile; the caller owns that.
func (m *Manager) Close() error {
	return nil
}
