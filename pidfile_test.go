package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_WritesCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "mirror.pid")

	release, err := acquireLock(path, "mirror sync")
	require.NoError(t, err)

	defer release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireLock_SecondHolderRefused(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "watch.pid")

	release, err := acquireLock(path, "watch")
	require.NoError(t, err)

	defer release()

	again, err := acquireLock(path, "watch")
	require.Error(t, err)
	assert.Nil(t, again)
	assert.Contains(t, err.Error(), "another watch is already running")
	assert.Contains(t, err.Error(), strconv.Itoa(os.Getpid()))
}

func TestAcquireLock_ReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mirror.pid")

	release, err := acquireLock(path, "mirror sync")
	require.NoError(t, err)
	release()

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	release, err = acquireLock(path, "mirror sync")
	require.NoError(t, err)
	release()
}

func TestReadPIDFile_Invalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o600))

	_, err := readPIDFile(path)
	assert.ErrorContains(t, err, "invalid PID")

	_, err = readPIDFile(filepath.Join(t.TempDir(), "missing.pid"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
