// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"

	"github.com/pkg/errors"
)

// LockedFile is an open file holding an advisory lock (flock). Close releases the lock.
type LockedFile struct {
	*os.File
	exclusive bool
}

// OpenExclusive opens (creating if needed) filePath for writing, without truncating it, and blocks
// until it holds an exclusive lock on it.
//
// Truncation is left to the caller, after the lock is held, so readers never see an empty file
// that is about to be written.
func OpenExclusive(filePath string) (*LockedFile, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q for writing", filePath)
	}
	if err = lockFile(f, true); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to lock %q exclusively", filePath)
	}
	return &LockedFile{File: f, exclusive: true}, nil
}

// OpenShared opens filePath for reading and blocks until it holds a shared lock on it.
func OpenShared(filePath string) (*LockedFile, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q for reading", filePath)
	}
	if err = lockFile(f, false); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to lock %q for reading", filePath)
	}
	return &LockedFile{File: f}, nil
}

// Rewrite truncates the file and positions it at the start. It requires an exclusive lock.
func (lf *LockedFile) Rewrite() error {
	if !lf.exclusive {
		return errors.Errorf("cannot rewrite %q: file is not locked exclusively", lf.Name())
	}
	if err := lf.Truncate(0); err != nil {
		return errors.Wrapf(err, "failed to truncate %q", lf.Name())
	}
	_, err := lf.Seek(0, 0)
	return errors.Wrapf(err, "failed to seek %q", lf.Name())
}

// Close syncs (if written), unlocks and closes the file.
func (lf *LockedFile) Close() error {
	var firstErr error
	if lf.exclusive {
		firstErr = errors.Wrapf(lf.Sync(), "failed to sync %q", lf.Name())
	}
	if err := unlockFile(lf.File); err != nil && firstErr == nil {
		firstErr = errors.Wrapf(err, "failed to unlock %q", lf.Name())
	}
	if err := lf.File.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrapf(err, "failed to close %q", lf.Name())
	}
	return firstErr
}
