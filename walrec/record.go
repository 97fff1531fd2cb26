package walrec

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
)

// RecordMagic trails every frame so a scanner can detect a torn write even
// when the length prefix happened to land on plausible-looking garbage.
const RecordMagic uint16 = 0x5A5A

// RecordHeaderSize is the length-prefix + LSN + checksum portion of a
// frame, before the payload.
const RecordHeaderSize = 4 + 8 + 4 // length, lsn, checksum

// RecordTrailerSize is the trailing magic.
const RecordTrailerSize = 2

// FrameSize returns the total on-disk size of a record with the given
// payload length.
func FrameSize(payloadLen int) int64 {
	return int64(RecordHeaderSize+RecordTrailerSize) + int64(payloadLen)
}

// UserLogRecord is an opaque payload plus the LSN stamped on it at write
// time. The WAL core never interprets Payload's contents.
type UserLogRecord struct {
	LSN     int64
	Payload []byte
}

// EncodeRecord serialises a record into its on-disk frame: length prefix,
// LSN, Adler-32 checksum of the payload, the payload itself, and a
// trailing magic number.
func EncodeRecord(rec UserLogRecord) []byte {
	buf := make([]byte, FrameSize(len(rec.Payload)))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(rec.Payload)))
	binary.BigEndian.PutUint64(buf[4:12], uint64(rec.LSN))
	binary.BigEndian.PutUint32(buf[12:16], adler32.Checksum(rec.Payload))
	copy(buf[16:16+len(rec.Payload)], rec.Payload)
	binary.BigEndian.PutUint16(buf[16+len(rec.Payload):], RecordMagic)
	return buf
}

// DecodeRecord parses a single frame from buf, which must be exactly
// FrameSize(payloadLen) bytes for some payloadLen consistent with the
// length prefix found at the start of buf. Returns ErrInvalidLog on any
// checksum, length, or magic inconsistency.
func DecodeRecord(buf []byte) (UserLogRecord, error) {
	if len(buf) < RecordHeaderSize+RecordTrailerSize {
		return UserLogRecord{}, fmt.Errorf("%w: record frame too short (%d bytes)", ErrInvalidLog, len(buf))
	}
	payloadLen := int(binary.BigEndian.Uint32(buf[0:4]))
	want := FrameSize(payloadLen)
	if int64(len(buf)) != want {
		return UserLogRecord{}, fmt.Errorf("%w: record frame length mismatch, header says %d bytes payload, buffer has %d", ErrInvalidLog, payloadLen, len(buf))
	}

	lsn := int64(binary.BigEndian.Uint64(buf[4:12]))
	wantSum := binary.BigEndian.Uint32(buf[12:16])
	payload := buf[16 : 16+payloadLen]
	gotSum := adler32.Checksum(payload)
	if wantSum != gotSum {
		return UserLogRecord{}, fmt.Errorf("%w: record checksum mismatch", ErrInvalidLog)
	}

	magic := binary.BigEndian.Uint16(buf[16+payloadLen:])
	if magic != RecordMagic {
		return UserLogRecord{}, fmt.Errorf("%w: record magic mismatch got %#x", ErrInvalidLog, magic)
	}

	out := make([]byte, payloadLen)
	copy(out, payload)
	return UserLogRecord{LSN: lsn, Payload: out}, nil
}
