// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"os"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// ErrorFSMode is a bit field specifying the operation types for which error
// injection is enabled.
type ErrorFSMode int

// ErrInjected is the error returned by injected failures.
var ErrInjected = errors.New("injected error")

const (
	// ErrorFSRead enables errors for filesystem read operations.
	ErrorFSRead ErrorFSMode = 0x1
	// ErrorFSWrite enables errors for filesystem write operations.
	ErrorFSWrite ErrorFSMode = 0x2
)

// ErrorFS wraps another FS and fails operations once armed.
type ErrorFS struct {
	FS
	mode ErrorFSMode
	// countdown is the number of operations of the enabled types that succeed
	// before the next one fails. Negative means disarmed.
	countdown atomic.Int32
}

var _ FS = (*ErrorFS)(nil)

// NewErrorFS returns a disarmed ErrorFS injecting errors into operations of
// the given types.
func NewErrorFS(fs FS, mode ErrorFSMode) *ErrorFS {
	e := &ErrorFS{FS: fs, mode: mode}
	e.countdown.Store(-1)
	return e
}

// FailAfter arms the filesystem: n operations succeed, then the next one
// fails, and so does every later one until Disarm.
func (fs *ErrorFS) FailAfter(n int32) {
	fs.countdown.Store(n)
}

// Disarm stops error injection.
func (fs *ErrorFS) Disarm() {
	fs.countdown.Store(-1)
}

func (fs *ErrorFS) maybeError(mode ErrorFSMode, op, name string) error {
	if fs.mode&mode == 0 {
		return nil
	}
	for {
		n := fs.countdown.Load()
		if n < 0 {
			return nil
		}
		if n == 0 {
			return errors.Wrapf(ErrInjected, "%s %s", op, name)
		}
		if fs.countdown.CompareAndSwap(n, n-1) {
			return nil
		}
	}
}

// Create implements FS.
func (fs *ErrorFS) Create(name string) (File, error) {
	if err := fs.maybeError(ErrorFSWrite, "create", name); err != nil {
		return nil, err
	}
	f, err := fs.FS.Create(name)
	if err != nil {
		return nil, err
	}
	return errorFile{f, fs, name}, nil
}

// Open implements FS.
func (fs *ErrorFS) Open(name string) (File, error) {
	if err := fs.maybeError(ErrorFSRead, "open", name); err != nil {
		return nil, err
	}
	f, err := fs.FS.Open(name)
	if err != nil {
		return nil, err
	}
	return errorFile{f, fs, name}, nil
}

// OpenReadWrite implements FS.
func (fs *ErrorFS) OpenReadWrite(name string) (File, error) {
	if err := fs.maybeError(ErrorFSRead, "open", name); err != nil {
		return nil, err
	}
	f, err := fs.FS.OpenReadWrite(name)
	if err != nil {
		return nil, err
	}
	return errorFile{f, fs, name}, nil
}

// Remove implements FS.
func (fs *ErrorFS) Remove(name string) error {
	if _, err := fs.FS.Stat(name); oserror.IsNotExist(err) {
		return nil
	}
	if err := fs.maybeError(ErrorFSWrite, "remove", name); err != nil {
		return err
	}
	return fs.FS.Remove(name)
}

// Rename implements FS.
func (fs *ErrorFS) Rename(oldname, newname string) error {
	if err := fs.maybeError(ErrorFSWrite, "rename", oldname); err != nil {
		return err
	}
	return fs.FS.Rename(oldname, newname)
}

// MkdirAll implements FS.
func (fs *ErrorFS) MkdirAll(dir string, perm os.FileMode) error {
	if err := fs.maybeError(ErrorFSWrite, "mkdir", dir); err != nil {
		return err
	}
	return fs.FS.MkdirAll(dir, perm)
}

// List implements FS.
func (fs *ErrorFS) List(dir string) ([]string, error) {
	if err := fs.maybeError(ErrorFSRead, "list", dir); err != nil {
		return nil, err
	}
	return fs.FS.List(dir)
}

// Stat implements FS.
func (fs *ErrorFS) Stat(name string) (os.FileInfo, error) {
	if err := fs.maybeError(ErrorFSRead, "stat", name); err != nil {
		return nil, err
	}
	return fs.FS.Stat(name)
}

type errorFile struct {
	file File
	fs   *ErrorFS
	name string
}

func (f errorFile) Close() error {
	// Errors are not injected into Close; such calls should never fail in
	// practice.
	return f.file.Close()
}

func (f errorFile) ReadAt(p []byte, off int64) (int, error) {
	if err := f.fs.maybeError(ErrorFSRead, "read", f.name); err != nil {
		return 0, err
	}
	return f.file.ReadAt(p, off)
}

func (f errorFile) WriteAt(p []byte, off int64) (int, error) {
	if err := f.fs.maybeError(ErrorFSWrite, "write", f.name); err != nil {
		return 0, err
	}
	return f.file.WriteAt(p, off)
}

func (f errorFile) Stat() (os.FileInfo, error) {
	if err := f.fs.maybeError(ErrorFSRead, "stat", f.name); err != nil {
		return nil, err
	}
	return f.file.Stat()
}

func (f errorFile) Sync() error {
	if err := f.fs.maybeError(ErrorFSWrite, "sync", f.name); err != nil {
		return err
	}
	return f.file.Sync()
}
