package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppenderPositionTracksWriterOffset(t *testing.T) {
	dir := setupDir(t)
	mgr := newManager(t, dir)

	ap, err := NewAppender(mgr, 1<<20)
	require.NoError(t, err)
	defer ap.Close()

	lsn, err := ap.Append([]byte("hi"))
	require.NoError(t, err)
	require.EqualValues(t, 1, lsn)

	fileNum, offset, err := ap.Position()
	require.NoError(t, err)
	require.EqualValues(t, 1, fileNum)
	require.Greater(t, offset, int64(0))

	lsn, err = ap.Append([]byte("there"))
	require.NoError(t, err)
	require.EqualValues(t, 2, lsn)
}
