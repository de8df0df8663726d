package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchive_PutOpenDelete(t *testing.T) {
	a, err := NewArchive(t.TempDir())
	require.NoError(t, err)
	defer a.Close()

	data := bytes.Repeat([]byte("slippi"), 1000)
	hash := ContentHash(data)
	require.NoError(t, a.Put(hash, data))
	require.NoError(t, a.Put(hash, data), "повтор не ошибка")

	r, err := a.Open(hash)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, data, got)

	st, err := a.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Files)
	assert.Less(t, st.Bytes, int64(len(data)), "сжато")

	require.NoError(t, a.Delete(hash))
	require.NoError(t, a.Delete(hash))
	_, err = a.Open(hash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_RejectsBadKeys(t *testing.T) {
	dir := t.TempDir()
	a, err := NewArchive(filepath.Join(dir, "raw"))
	require.NoError(t, err)
	defer a.Close()

	for _, key := range []string{"", "ab", "../etc", `a\b`} {
		assert.Error(t, a.Put(key, []byte{1}), key)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "вне каталога ничего не создано")
}
