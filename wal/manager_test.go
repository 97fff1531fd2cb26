package wal

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"waldb/walfile"
	"waldb/walrec"
)

func setupDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "wal_test_*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newManager(t *testing.T, dir string) *Manager {
	mgr, err := New(Options{Dir: dir, DisableDirFsync: true})
	require.NoError(t, err)
	return mgr
}

func drainScan(t *testing.T, mgr *Manager) ([]walrec.UserLogRecord, error) {
	s := mgr.NewScanner(mgr.MinLogAnchor())
	defer s.Close()

	var out []walrec.UserLogRecord
	for {
		var rec walrec.UserLogRecord
		ok, err := s.Next(&rec)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, rec)
	}
}

// S1: fresh directory bootstrap.
func TestS1FreshDirectoryBootstrap(t *testing.T) {
	dir := setupDir(t)
	mgr := newManager(t, dir)

	anchor := mgr.MinLogAnchor()
	require.EqualValues(t, walrec.MinLogNumber, anchor.LogFileNumber)
	require.EqualValues(t, walrec.MinLogOffset, anchor.LogFileOffset)
	require.Equal(t, walrec.UnknownLSN, anchor.LSN)

	length, err := mgr.fm.Length(walrec.MinLogNumber)
	require.NoError(t, err)
	require.EqualValues(t, walrec.LogFileHeaderSize, length)

	buf, err := mgr.readControlFile()
	require.NoError(t, err)
	ctrl, err := walrec.DecodeControl(buf)
	require.NoError(t, err)
	require.EqualValues(t, 1, ctrl.MinExistingLogFile)
	require.EqualValues(t, 1, ctrl.MinNeededLogFile)
	require.EqualValues(t, walrec.LogFileHeaderSize, ctrl.MinNeededLogFileOffset)
	require.Equal(t, walrec.UnknownLSN, ctrl.MinNeededLSN)
}

// S2: crash mid-record in the new file after rotation; reopen truncates it.
func TestS2CrashDuringRecordAppendIsTruncatedOnReopen(t *testing.T) {
	dir := setupDir(t)
	mgr := newManager(t, dir)

	ap, err := NewAppender(mgr, 1<<20)
	require.NoError(t, err)
	_, err = ap.Append([]byte("r1"))
	require.NoError(t, err)
	_, err = ap.Append([]byte("r2"))
	require.NoError(t, err)
	require.NoError(t, ap.Sync())

	w, err := mgr.SwitchToNextLogFile(ap.w)
	require.NoError(t, err)
	ap.w = w

	// Simulate a crash mid-write of r3: append a torn frame directly and
	// never sync/rotate past it.
	torn := walrec.EncodeRecord(walrec.UserLogRecord{LSN: 3, Payload: []byte("partial-r3-payload")})
	_, err = w.Append(torn[:len(torn)-6])
	require.NoError(t, err)
	require.NoError(t, w.Close())

	reopened, err := New(Options{Dir: dir, DisableDirFsync: true})
	require.NoError(t, err)

	recs, err := drainScan(t, reopened)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "r1", string(recs[0].Payload))
	require.Equal(t, "r2", string(recs[1].Payload))

	length, err := reopened.fm.Length(2)
	require.NoError(t, err)
	require.EqualValues(t, walrec.LogFileHeaderSize, length)
}

// S3: crash after sync of r3 but before the shadow->control rename:
// control file still names the old anchor, but the scanner crosses into
// file 2 and recovers r3 anyway.
func TestS3CrashBeforeRenameStillRecoversViaScan(t *testing.T) {
	dir := setupDir(t)
	mgr := newManager(t, dir)

	ap, err := NewAppender(mgr, 1<<20)
	require.NoError(t, err)
	_, err = ap.Append([]byte("r1"))
	require.NoError(t, err)
	_, err = ap.Append([]byte("r2"))
	require.NoError(t, err)
	require.NoError(t, ap.Sync())

	w, err := mgr.SwitchToNextLogFile(ap.w)
	require.NoError(t, err)
	ap.w = w
	_, err = ap.Append([]byte("r3"))
	require.NoError(t, err)
	require.NoError(t, ap.Sync())
	require.NoError(t, w.Close())
	// No further rotation: the control file still names file 1.

	reopened, err := New(Options{Dir: dir, DisableDirFsync: true})
	require.NoError(t, err)

	anchor := reopened.MinLogAnchor()
	require.EqualValues(t, 1, anchor.LogFileNumber)

	recs, err := drainScan(t, reopened)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "r3", string(recs[2].Payload))
}

// S4: reclamation deletes files strictly below the advanced min anchor.
func TestS4ReclamationDeletesSupersededFiles(t *testing.T) {
	dir := setupDir(t)
	mgr := newManager(t, dir)

	ap, err := NewAppender(mgr, 1)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = ap.Append([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, ap.Sync())
	}
	require.GreaterOrEqual(t, mgr.CurrentLogFileNumber(), int64(3))

	mgr.AdvanceMinLogAnchor(walrec.LogAnchor{LogFileNumber: 3, LogFileOffset: walrec.LogFileHeaderSize, LSN: walrec.UnknownLSN})

	w, err := mgr.SwitchToNextLogFile(ap.w)
	require.NoError(t, err)
	ap.w = w

	exists1, err := mgr.fm.Exists(1)
	require.NoError(t, err)
	exists2, err := mgr.fm.Exists(2)
	require.NoError(t, err)
	require.False(t, exists1)
	require.False(t, exists2)

	buf, err := mgr.readControlFile()
	require.NoError(t, err)
	ctrl, err := walrec.DecodeControl(buf)
	require.NoError(t, err)
	require.EqualValues(t, 3, ctrl.MinExistingLogFile)
	require.EqualValues(t, 3, ctrl.MinNeededLogFile)
}

// Property 5: round-trip across many rotations.
func TestRoundTripAcrossRotations(t *testing.T) {
	dir := setupDir(t)
	mgr := newManager(t, dir)

	ap, err := NewAppender(mgr, 64)
	require.NoError(t, err)

	var want [][]byte
	for i := 0; i < 50; i++ {
		payload := []byte{byte(i), byte(i >> 8), byte('a' + i%26)}
		want = append(want, payload)
		_, err := ap.Append(payload)
		require.NoError(t, err)
		if i%7 == 0 {
			require.NoError(t, ap.Sync())
			w, err := mgr.SwitchToNextLogFile(ap.w)
			require.NoError(t, err)
			ap.w = w
		}
	}
	require.NoError(t, ap.Close())

	reopened, err := New(Options{Dir: dir, DisableDirFsync: true})
	require.NoError(t, err)

	recs, err := drainScan(t, reopened)
	require.NoError(t, err)
	require.Len(t, recs, len(want))
	for i, rec := range recs {
		require.Equal(t, want[i], rec.Payload, "record %d", i)
	}
}

// Property 6: a user log file with data but no control file is rejected.
func TestAmbiguousStateRejected(t *testing.T) {
	dir := setupDir(t)

	fm, err := walfile.New(walfile.Options{Dir: dir, FsyncDir: false})
	require.NoError(t, err)
	_, err = fm.CreateLogFile(walrec.MinLogNumber)
	require.NoError(t, err)
	w, err := fm.GetWriterForLogFile(walrec.MinLogNumber)
	require.NoError(t, err)
	_, err = w.Append(walrec.EncodeFileHeader(walrec.MinLogNumber))
	require.NoError(t, err)
	_, err = w.Append(walrec.EncodeRecord(walrec.UserLogRecord{LSN: 1, Payload: []byte("data")}))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	_, err = New(Options{Dir: dir, DisableDirFsync: true})
	require.Error(t, err)
	require.True(t, errors.Is(err, walrec.ErrInvalidLog))
}

// S5: a corrupted control-file checksum fails init.
func TestCorruptControlChecksumFailsInit(t *testing.T) {
	dir := setupDir(t)
	newManager(t, dir)

	buf, err := os.ReadFile(dir + "/control.db")
	require.NoError(t, err)
	buf[32] ^= 0xFF
	require.NoError(t, os.WriteFile(dir+"/control.db", buf, 0o644))

	_, err = New(Options{Dir: dir, DisableDirFsync: true})
	require.Error(t, err)
	require.True(t, errors.Is(err, walrec.ErrInvalidLog))
}

// Property 7: truncated file K with file K+1 present is rejected as
// corruption not at the tail.
func TestForwardCorruptionRejected(t *testing.T) {
	dir := setupDir(t)
	mgr := newManager(t, dir)

	ap, err := NewAppender(mgr, 1<<20)
	require.NoError(t, err)
	_, err = ap.Append([]byte("r1"))
	require.NoError(t, err)
	require.NoError(t, ap.Sync())

	w, err := mgr.SwitchToNextLogFile(ap.w)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Truncate file 1 mid-record, simulating corruption that is not at
	// the true tail (file 2 exists).
	require.NoError(t, os.Truncate(dir+"/log_1.db", walrec.LogFileHeaderSize+5))

	_, err = New(Options{Dir: dir, DisableDirFsync: true})
	require.Error(t, err)
	require.True(t, errors.Is(err, walrec.ErrInvalidLog))
}

// Property 3: a torn file header is reformatted in place on reopen.
func TestTornFileHeaderIsReformatted(t *testing.T) {
	dir := setupDir(t)
	mgr := newManager(t, dir)

	ap, err := NewAppender(mgr, 1<<20)
	require.NoError(t, err)
	_, err = ap.Append([]byte("r1"))
	require.NoError(t, err)
	require.NoError(t, ap.Sync())

	w, err := mgr.SwitchToNextLogFile(ap.w)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// file 2 exists with only a few header bytes (torn header, no next
	// file beyond it).
	require.NoError(t, os.Truncate(dir+"/log_2.db", 3))

	reopened, err := New(Options{Dir: dir, DisableDirFsync: true})
	require.NoError(t, err)

	length, err := reopened.fm.Length(2)
	require.NoError(t, err)
	require.EqualValues(t, walrec.LogFileHeaderSize, length)

	recs, err := drainScan(t, reopened)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "r1", string(recs[0].Payload))
}

// Property 1: control-file atomicity across injected crash points during
// SwitchToNextLogFile. Reopening always recovers either the pre- or
// post-rotation anchor, never a corrupt or intermediate one.
func TestControlFileAtomicityAcrossCrashPoints(t *testing.T) {
	for _, failPoint := range []string{"shadow-write", "shadow-sync", "rename", "write-header"} {
		t.Run(failPoint, func(t *testing.T) {
			dir := setupDir(t)
			mgr := newManager(t, dir)
			preAnchor := mgr.MinLogAnchor()

			ap, err := NewAppender(mgr, 1<<20)
			require.NoError(t, err)
			_, err = ap.Append([]byte("r1"))
			require.NoError(t, err)
			require.NoError(t, ap.Sync())

			advancedOffset := walrec.MinLogOffset + walrec.FrameSize(len("r1"))
			mgr.AdvanceMinLogAnchor(walrec.LogAnchor{LogFileNumber: 1, LogFileOffset: advancedOffset, LSN: 1})

			faultyFM := mgr.fm.WithFailAfter(failPoint)
			mgr.fm = faultyFM

			_, rotErr := mgr.SwitchToNextLogFile(ap.w)
			if rotErr == nil {
				t.Fatalf("expected injected failure at %s", failPoint)
			}

			reopened, err := New(Options{Dir: dir, DisableDirFsync: true})
			require.NoError(t, err, "reopen after crash at %s", failPoint)

			got := reopened.MinLogAnchor()
			preOK := got == preAnchor
			postOK := got.LogFileNumber == 1 && got.LogFileOffset == advancedOffset
			require.True(t, preOK || postOK, "crash at %s recovered neither pre nor post anchor: %v", failPoint, got)
		})
	}
}

// AdvanceMinLogAnchor never moves the anchor backward.
func TestAdvanceMinLogAnchorMonotonic(t *testing.T) {
	dir := setupDir(t)
	mgr := newManager(t, dir)

	mgr.AdvanceMinLogAnchor(walrec.LogAnchor{LogFileNumber: 5, LogFileOffset: 100, LSN: 5})
	mgr.AdvanceMinLogAnchor(walrec.LogAnchor{LogFileNumber: 3, LogFileOffset: 10, LSN: 1})

	got := mgr.MinLogAnchor()
	require.EqualValues(t, 5, got.LogFileNumber)
	require.EqualValues(t, 100, got.LogFileOffset)
}
