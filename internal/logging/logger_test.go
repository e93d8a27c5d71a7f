package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLoggerIsNoOp(t *testing.T) {
	require.NoError(t, Initialize("", false, "info"))
	defer CloseAll()

	l := Get(CategoryTransport)
	// Must not panic and must not create files.
	l.Info("hello %d", 42)
	l.Error("boom")
	assert.False(t, Enabled())
}

func TestEnabledLoggerWritesCategoryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, true, "debug"))
	defer CloseAll()

	Index("inserted %d symbols", 7)
	IndexDebug("chunk size %d", 100)
	CloseAll()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var indexLog string
	for _, e := range entries {
		if strings.Contains(e.Name(), "_index.log") {
			indexLog = filepath.Join(dir, e.Name())
		}
	}
	require.NotEmpty(t, indexLog, "expected an index category log file")

	data, err := os.ReadFile(indexLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "inserted 7 symbols")
	assert.Contains(t, string(data), "chunk size 100")
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, true, "warn"))
	defer CloseAll()

	Project("should be filtered")
	Get(CategoryProject).Warn("kept")
	CloseAll()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if !strings.Contains(e.Name(), "_project.log") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		assert.NotContains(t, string(data), "should be filtered")
		assert.Contains(t, string(data), "kept")
	}
}
