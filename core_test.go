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

func TestReadPID(t *testing.T) {
	pid, ok := readPID(strings.NewReader(" 4242\n"))
	assert.True(t, ok)
	assert.Equal(t, 4242, pid)

	for _, in := range []string{"", "abc", "-3", "0"} {
		_, ok := readPID(strings.NewReader(in))
		assert.False(t, ok, in)
	}
}

func TestLockPIDWritesAndRemoves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999999"), 0o644))

	lock, err := lockPID(path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(raw))

	lock.Unlock()
	assert.NoFileExists(t, path)
}
