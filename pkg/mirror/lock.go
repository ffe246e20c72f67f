// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const lockName = "apt-mirror.lock"

// runLock is the var/apt-mirror.lock guard against concurrent runs.
type runLock struct {
	path string
}

// acquireLock creates the lock with exclusive-create semantics. A lock left
// by a live run fails with ErrLockHeld before any network I/O happens.
func acquireLock(varPath string) (*runLock, error) {
	if err := os.MkdirAll(varPath, 0755); err != nil {
		return nil, errors.Wrap(err, "creating var directory")
	}
	path := filepath.Join(varPath, lockName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrapf(ErrLockHeld, "lock file %s exists", path)
		}
		return nil, errors.Wrap(err, "creating lock file")
	}
	f.Close()
	return &runLock{path: path}, nil
}

// Release removes the lock.
func (l *runLock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}
