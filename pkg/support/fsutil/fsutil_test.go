// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "a", "b")
	require.NoError(t, EnsureDir(dir))
	exists, err := FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, EnsureDir(dir))

	filePath := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0644))
	require.Error(t, EnsureDir(filePath))
}

func TestLockedRewrite(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "locked.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("a much longer previous content\n"), 0644))

	lf, err := OpenExclusive(filePath)
	require.NoError(t, err)
	require.NoError(t, lf.Rewrite())
	_, err = lf.WriteString("new\n")
	require.NoError(t, err)
	require.NoError(t, lf.Close())

	rf, err := OpenShared(filePath)
	require.NoError(t, err)
	require.Error(t, rf.Rewrite())
	require.NoError(t, rf.Close())

	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(contents))
}

func TestExpandHome(t *testing.T) {
	dir, err := ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", dir)
	usr, err := user.Current()
	if err != nil {
		t.Skip("no current user")
	}
	dir, err = ExpandHome("~/x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "x"), dir)
	dir, err = ExpandHome("~")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(usr.HomeDir), dir)

	_, err = ExpandHome("~no-such-user-for-enas/x")
	require.Error(t, err)
}

func TestPrepareDir(t *testing.T) {
	base := t.TempDir()
	dir, err := PrepareDir(filepath.Join(base, "out", "enas"))
	require.NoError(t, err)
	assert.DirExists(t, dir)

	filePath := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0644))
	_, err = PrepareDir(filePath)
	require.Error(t, err)
}
