// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system: existence checks,
// "~" expansion and advisory file locks.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DirPermMode is the default directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, errors.Wrapf(err, "checking whether %q exists", filePath)
}

// EnsureDir creates dir (and its parents) if it doesn't exist yet.
// It fails if dir exists but is not a directory.
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(os.MkdirAll(dir, DirPermMode), "creating directory %q", dir)
	}
	if err != nil {
		return errors.Wrapf(err, "checking directory %q", dir)
	}
	if !fi.IsDir() {
		return errors.Errorf("%q is a file, a directory was expected", dir)
	}
	return nil
}

// PrepareDir expands a leading "~" in dir and creates it if needed. It returns the expanded path.
//
// It is used for the directories shared by the controller and the child trainer, which are
// usually given in the command line as "~/...".
func PrepareDir(dir string) (string, error) {
	expanded, err := ExpandHome(dir)
	if err != nil {
		return "", err
	}
	if err = EnsureDir(expanded); err != nil {
		return "", err
	}
	return expanded, nil
}

// ExpandHome replaces a leading "~" or "~user" in filePath by the corresponding home directory.
// Paths not starting with "~" are returned unchanged.
func ExpandHome(filePath string) (string, error) {
	if !strings.HasPrefix(filePath, "~") {
		return filePath, nil
	}
	userName, rest, _ := strings.Cut(filePath[1:], "/")
	home, err := homeDir(userName)
	if err != nil {
		return "", errors.WithMessagef(err, "expanding %q", filePath)
	}
	return filepath.Join(home, rest), nil
}

// MustExpandHome is like ExpandHome, but panics on error.
func MustExpandHome(filePath string) string {
	expanded, err := ExpandHome(filePath)
	if err != nil {
		panic(err)
	}
	return expanded
}

// homeDir returns the home of userName, or of the current user if it is empty.
func homeDir(userName string) (string, error) {
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "looking up home directory of user %q", userName)
	}
	return usr.HomeDir, nil
}
