package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateMasterKey_GeneratesOnFirstUse(t *testing.T) {
	dir := t.TempDir()

	key, err := loadOrCreateMasterKey(dir)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	info, err := os.Stat(filepath.Join(dir, "master.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadOrCreateMasterKey_ReusesExistingKey(t *testing.T) {
	dir := t.TempDir()

	first, err := loadOrCreateMasterKey(dir)
	require.NoError(t, err)

	second, err := loadOrCreateMasterKey(dir)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLoadOrCreateMasterKey_RejectsWrongSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "master.key"), []byte("too-short"), 0600))

	_, err := loadOrCreateMasterKey(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 32")
}
