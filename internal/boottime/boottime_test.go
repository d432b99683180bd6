package boottime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStat(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "stat")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestBootTime_parsesBtimeLine(t *testing.T) {
	path := writeStat(t, "cpu  1 2 3\nbtime 1700000000\nprocesses 123\n")
	r := &ProcStatReader{Path: path}

	got, err := r.BootTime()
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Unix(1700000000, 0)))
}

func TestBootTime_missingBtimeLineErrors(t *testing.T) {
	path := writeStat(t, "cpu  1 2 3\nprocesses 123\n")
	r := &ProcStatReader{Path: path}

	_, err := r.BootTime()
	assert.Error(t, err)
}

func TestBootTime_malformedBtimeLineErrors(t *testing.T) {
	path := writeStat(t, "btime not-a-number\n")
	r := &ProcStatReader{Path: path}

	_, err := r.BootTime()
	assert.Error(t, err)
}

func TestBootTime_missingFileErrors(t *testing.T) {
	r := &ProcStatReader{Path: filepath.Join(t.TempDir(), "nope")}
	_, err := r.BootTime()
	assert.Error(t, err)
}

func TestNewProcStatReader_defaultsToProcStat(t *testing.T) {
	r := NewProcStatReader()
	assert.Equal(t, "/proc/stat", r.Path)
}
