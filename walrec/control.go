package walrec

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
)

// ControlMagic is the trailing magic number of a valid control file record.
const ControlMagic uint32 = 0xFF11FF11

// ControlRecordSize is the fixed on-disk size of a ControlFileRecord.
const ControlRecordSize = 44

// ControlFileRecord is the 44-byte control record described in the data
// model: the smallest existing log file, the smallest still-needed log
// file/offset/LSN, a checksum, and a magic number.
//
// The checksum field is 8 bytes wide though Adler-32 only needs 4; the
// high 4 bytes are always zero. This mirrors an on-disk layout this module
// preserves deliberately rather than narrowing, for compatibility with
// readers that expect the wider slot.
type ControlFileRecord struct {
	MinExistingLogFile     int64
	MinNeededLogFile       int64
	MinNeededLogFileOffset int64
	MinNeededLSN           int64
}

// Validate checks the invariants from the data model that don't depend on
// checksum/magic: ordering and range constraints.
func (c ControlFileRecord) Validate() error {
	if c.MinExistingLogFile > c.MinNeededLogFile {
		return fmt.Errorf("%w: minExistingLogFile %d > minNeededLogFile %d", ErrInvalidLog, c.MinExistingLogFile, c.MinNeededLogFile)
	}
	if c.MinExistingLogFile < MinLogNumber || c.MinNeededLogFile < MinLogNumber {
		return fmt.Errorf("%w: log file numbers below MinLogNumber (%d)", ErrInvalidLog, MinLogNumber)
	}
	if c.MinNeededLogFileOffset < MinLogOffset {
		return fmt.Errorf("%w: minNeededLogFileOffset %d below MinLogOffset %d", ErrInvalidLog, c.MinNeededLogFileOffset, MinLogOffset)
	}
	return nil
}

// EncodeControl serialises a control record into its 44-byte wire form,
// computing the checksum over bytes [0,32).
func EncodeControl(c ControlFileRecord) []byte {
	buf := make([]byte, ControlRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(c.MinExistingLogFile))
	binary.BigEndian.PutUint64(buf[8:16], uint64(c.MinNeededLogFile))
	binary.BigEndian.PutUint64(buf[16:24], uint64(c.MinNeededLogFileOffset))
	binary.BigEndian.PutUint64(buf[24:32], uint64(c.MinNeededLSN))

	sum := adler32.Checksum(buf[0:32])
	binary.BigEndian.PutUint64(buf[32:40], uint64(sum))
	binary.BigEndian.PutUint32(buf[40:44], ControlMagic)
	return buf
}

// DecodeControl parses and validates a 44-byte control record: checksum
// and magic are checked before the structural invariants are.
func DecodeControl(buf []byte) (ControlFileRecord, error) {
	var c ControlFileRecord
	if len(buf) != ControlRecordSize {
		return c, fmt.Errorf("%w: control record wrong size %d", ErrInvalidLog, len(buf))
	}

	c.MinExistingLogFile = int64(binary.BigEndian.Uint64(buf[0:8]))
	c.MinNeededLogFile = int64(binary.BigEndian.Uint64(buf[8:16]))
	c.MinNeededLogFileOffset = int64(binary.BigEndian.Uint64(buf[16:24]))
	c.MinNeededLSN = int64(binary.BigEndian.Uint64(buf[24:32]))

	wantSum := binary.BigEndian.Uint64(buf[32:40])
	gotSum := uint64(adler32.Checksum(buf[0:32]))
	if wantSum != gotSum {
		return ControlFileRecord{}, fmt.Errorf("%w: control checksum mismatch", ErrInvalidLog)
	}

	magic := binary.BigEndian.Uint32(buf[40:44])
	if magic != ControlMagic {
		return ControlFileRecord{}, fmt.Errorf("%w: control magic mismatch got %#x", ErrInvalidLog, magic)
	}

	if err := c.Validate(); err != nil {
		return ControlFileRecord{}, err
	}
	return c, nil
}

// Anchor returns the LogAnchor named by this control record's
// min-needed fields.
func (c ControlFileRecord) Anchor() LogAnchor {
	return LogAnchor{
		LogFileNumber: c.MinNeededLogFile,
		LogFileOffset: c.MinNeededLogFileOffset,
		LSN:           c.MinNeededLSN,
	}
}
