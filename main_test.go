package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddr(t *testing.T) {
	assert.NoError(t, validateAddr("127.0.0.1:8000"))
	assert.NoError(t, validateAddr("10.1.2.3:8000"))
	assert.Error(t, validateAddr("8.8.8.8:8000"))
	assert.Error(t, validateAddr("localhost:8000"))
	assert.Error(t, validateAddr("127.0.0.1"))
}

func TestSavePid(t *testing.T) {
	name := filepath.Join(t.TempDir(), "minispace.pid")
	require.NoError(t, savePid(name, 12345))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))

	// the running process owns the file.
	require.NoError(t, os.WriteFile(name, []byte(strconv.Itoa(os.Getpid())), 0600))
	assert.Error(t, savePid(name, 12346))
}
