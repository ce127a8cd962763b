package laser

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testFileManager(t *testing.T, pathPrefix string, keep bool) *FileManager {
	t.Helper()
	m, err := NewFileManager(filepath.Join(t.TempDir(), "svg-out"), pathPrefix, keep, testLog())
	require.NoError(t, err)
	return m
}

func TestNewFileManagerRequiresDir(t *testing.T) {
	_, err := NewFileManager("", "", false, testLog())
	require.Error(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "12-3.svg", FileName(12, 3))
}

func TestSaveExistsCleanup(t *testing.T) {
	m := testFileManager(t, "", false)

	assert.False(t, m.Exists(1, 1))
	path, err := m.Save(1, 1, []byte("<svg/>"))
	require.NoError(t, err)
	assert.Equal(t, m.LocalPath(1, 1), path)
	assert.True(t, m.Exists(1, 1))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(data))

	// Regeneration overwrites.
	_, err = m.Save(1, 1, []byte("<svg>2</svg>"))
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<svg>2</svg>", string(data))

	// Cleanup removes only the batch's files.
	_, err = m.Save(1, 2, []byte("x"))
	require.NoError(t, err)
	_, err = m.Save(2, 1, []byte("x"))
	require.NoError(t, err)
	m.CleanupBatch(1)
	assert.False(t, m.Exists(1, 1))
	assert.False(t, m.Exists(1, 2))
	assert.True(t, m.Exists(2, 1))
}

func TestCleanupKeepsFilesWhenConfigured(t *testing.T) {
	m := testFileManager(t, "", true)
	_, err := m.Save(1, 1, []byte("x"))
	require.NoError(t, err)
	m.CleanupBatch(1)
	assert.True(t, m.Exists(1, 1))
}

func TestRemotePath(t *testing.T) {
	m := testFileManager(t, "", false)
	local := m.LocalPath(1, 1)
	// No prefix: the local path is already the remote path.
	assert.Equal(t, local, m.RemotePath(local))

	m = testFileManager(t, "/mnt/laser-share", false)
	assert.Equal(t, "/mnt/laser-share/1-1.svg", m.RemotePath(m.LocalPath(1, 1)))

	// Windows share prefix yields backslashed paths.
	m = testFileManager(t, `\\LASER-PC\share\svg`, false)
	assert.Equal(t, `\\LASER-PC\share\svg\1-1.svg`, m.RemotePath(m.LocalPath(1, 1)))

	// Trailing separators on the prefix are tolerated.
	m = testFileManager(t, "/mnt/laser-share/", false)
	assert.Equal(t, "/mnt/laser-share/1-1.svg", m.RemotePath(m.LocalPath(1, 1)))
}
