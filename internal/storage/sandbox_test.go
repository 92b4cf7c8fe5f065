package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sandbox, err := NewSandbox(filepath.Join(t.TempDir(), "sandbox"))
	require.NoError(t, err)
	return sandbox
}

func TestNewSandboxCreatesBaseDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "sandbox")
	sandbox, err := NewSandbox(base)
	require.NoError(t, err)

	info, err := os.Stat(sandbox.BaseDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolvePath(t *testing.T) {
	sandbox := newTestSandbox(t)

	t.Run("relative paths resolve inside the base", func(t *testing.T) {
		path, err := sandbox.ResolvePath("a/b/c.mp3")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(path, sandbox.BaseDir()))
	})

	t.Run("absolute paths are rejected", func(t *testing.T) {
		_, err := sandbox.ResolvePath("/etc/passwd")
		assert.Error(t, err)
	})

	t.Run("traversal is rejected", func(t *testing.T) {
		_, err := sandbox.ResolvePath("../outside")
		assert.Error(t, err)

		_, err = sandbox.ResolvePath("a/../../outside")
		assert.Error(t, err)
	})

	t.Run("dot resolves to the base itself", func(t *testing.T) {
		path, err := sandbox.ResolvePath(".")
		require.NoError(t, err)
		assert.Equal(t, sandbox.BaseDir(), path)
	})
}

func TestAtomicWriteAndRead(t *testing.T) {
	sandbox := newTestSandbox(t)

	require.NoError(t, sandbox.AtomicWriteReader("dir/file.txt", strings.NewReader("content")))

	exists, err := sandbox.Exists("dir/file.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	f, err := sandbox.Open("dir/file.txt")
	require.NoError(t, err)
	defer f.Close()

	data := make([]byte, 7)
	_, err = f.Read(data)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	// No temp files left behind.
	entries, err := sandbox.List("dir")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicPublish(t *testing.T) {
	sandbox := newTestSandbox(t)

	src := filepath.Join(t.TempDir(), "artifact.mp3")
	require.NoError(t, os.WriteFile(src, []byte("artifact bytes"), 0o644))

	require.NoError(t, sandbox.AtomicPublish(src, "aa/bb/artifact.mp3"))

	// Source is consumed.
	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	info, err := sandbox.Stat("aa/bb/artifact.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(len("artifact bytes")), info.Size())
}

func TestRemove(t *testing.T) {
	sandbox := newTestSandbox(t)

	require.NoError(t, sandbox.AtomicWriteReader("file.txt", strings.NewReader("x")))
	require.NoError(t, sandbox.Remove("file.txt"))

	exists, err := sandbox.Exists("file.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRemoveAllRefusesBase(t *testing.T) {
	sandbox := newTestSandbox(t)

	assert.Error(t, sandbox.RemoveAll("."))

	require.NoError(t, sandbox.MkdirAll("sub/deep"))
	require.NoError(t, sandbox.RemoveAll("sub"))

	exists, err := sandbox.Exists("sub")
	require.NoError(t, err)
	assert.False(t, exists)
}
