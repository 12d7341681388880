package store

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempPath(t *testing.T) string {
	dir, err := ioutil.TempDir("", "groupnet-store")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "nvs", "settings.pb")
}

func TestPersist(t *testing.T) {
	path := tempPath(t)
	s, err := Open(path)
	require.NoError(t, err)
	_, ok := s.Int("channel")
	assert.False(t, ok)
	require.NoError(t, s.SetInt("channel", 6))
	require.NoError(t, s.SetString("name", "handheld"))
	require.NoError(t, s.Close())
	require.Equal(t, ErrClosed, s.SetInt("channel", 1))

	s, err = Open(path)
	require.NoError(t, err)
	ch, ok := s.Int("channel")
	require.True(t, ok)
	assert.Equal(t, 6, ch)
	name, ok := s.String("name")
	require.True(t, ok)
	assert.Equal(t, "handheld", name)
	_, ok = s.Int("name")
	assert.False(t, ok)

	require.NoError(t, s.Delete("name"))
	require.NoError(t, s.Commit())
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	_, ok = s.String("name")
	assert.False(t, ok)
	require.NoError(t, s.Close())
}

func TestCorruptFileIsErased(t *testing.T) {
	path := tempPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte("garbage"), 0644))

	s, err := Open(path)
	require.NoError(t, err)
	_, ok := s.Int("channel")
	assert.False(t, ok)
	require.NoError(t, s.Close())

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, magic, data[:len(magic)])
}

func TestMemoryOnly(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	require.NoError(t, s.SetInt("channel", 11))
	ch, _ := s.Int("channel")
	assert.Equal(t, 11, ch)
	require.NoError(t, s.Erase())
	_, ok := s.Int("channel")
	assert.False(t, ok)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
