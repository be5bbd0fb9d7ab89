package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecords(t *testing.T, path string, n int) *Writer {
	t.Helper()
	w, err := OpenWrite(path, 0)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.Append([]byte(fmt.Sprintf("rec-%d", i))))
	}
	require.NoError(t, w.Flush())
	return w
}

func TestWriterReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wal")
	w := writeRecords(t, path, 5)
	require.NoError(t, w.Close())

	var got []string
	st, err := Replay(path, ReplayOptions{}, func(p []byte) error {
		got = append(got, string(p))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, st.Records)
	assert.Equal(t, []string{"rec-0", "rec-1", "rec-2", "rec-3", "rec-4"}, got)
	assert.False(t, st.TruncatedTail)
}

func TestReplay_MissingFileIsEmpty(t *testing.T) {
	st, err := Replay(filepath.Join(t.TempDir(), "nope.wal"), ReplayOptions{}, func([]byte) error {
		t.Fatal("no records expected")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, st.Records)
}

func TestWriter_ReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wal")
	w := writeRecords(t, path, 2)
	off := w.Offset()
	require.NoError(t, w.Close())

	w2, err := OpenWrite(path, 0)
	require.NoError(t, err)
	assert.Equal(t, off, w2.Offset())
	require.NoError(t, w2.Append([]byte("more")))
	require.NoError(t, w2.Close())

	st, err := Replay(path, ReplayOptions{}, func([]byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 3, st.Records)
}

func TestReplay_TruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wal")
	w := writeRecords(t, path, 3)
	good := w.Offset()
	require.NoError(t, w.Close())

	// 模拟崩溃：只写了半个 header
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{9, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err := Replay(path, ReplayOptions{AllowTruncatedTail: true}, func([]byte) error { return nil })
	require.NoError(t, err)
	assert.True(t, st.TruncatedTail)
	assert.Equal(t, 3, st.Records)
	assert.Equal(t, good, st.LastGoodOffset)

	_, err = Replay(path, ReplayOptions{}, func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrCorruptHeader)

	size, truncated, err := Repair(path)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Equal(t, good, size)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, good, fi.Size())
}

func TestReplay_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wal")
	require.NoError(t, writeRecords(t, path, 1).Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	b[len(b)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, b, 0o644))

	_, err = Replay(path, ReplayOptions{AllowTruncatedTail: true}, func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestReader_TailFromOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wal")
	w := writeRecords(t, path, 2)
	mid := RecordSize(len("rec-0"))

	r, err := OpenReader(path, mid, ReaderOptions{AllowTruncatedTail: true})
	require.NoError(t, err)
	defer r.Close()

	p, next, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "rec-1", string(p))
	assert.Equal(t, w.Offset(), next)

	_, _, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))

	// 写端继续追加，同一个 reader 能读到
	require.NoError(t, w.Append([]byte("rec-2")))
	require.NoError(t, w.Flush())
	p, _, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "rec-2", string(p))
	require.NoError(t, w.Close())
}

func TestOpenReader_NotExist(t *testing.T) {
	_, err := OpenReader(filepath.Join(t.TempDir(), "x.wal"), 0, ReaderOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriter_FlushObserver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wal")
	var flushed int64
	w, err := OpenWrite(path, 0, WithFlushObserver(func(n int64, _ time.Duration) { flushed += n }))
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("abc")))
	require.NoError(t, w.Flush())
	assert.Equal(t, RecordSize(3), flushed)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Append([]byte("x")), ErrClosed)
}
