// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// NewMem returns a new memory-backed FS implementation.
func NewMem() *MemFS {
	fs := &MemFS{}
	fs.mu.nodes = map[string]*memNode{"/": {isDir: true, modTime: time.Now()}}
	return fs
}

// MemFS implements FS. All names are treated as slash separated paths
// relative to a single root.
type MemFS struct {
	mu struct {
		sync.Mutex
		nodes map[string]*memNode
	}
}

var _ FS = (*MemFS)(nil)

type memNode struct {
	mu struct {
		sync.Mutex
		data []byte
	}
	isDir   bool
	modTime time.Time
}

func cleanPath(name string) string {
	return path.Clean("/" + name)
}

func (y *MemFS) parentExistsLocked(name string) bool {
	n, ok := y.mu.nodes[path.Dir(name)]
	return ok && n.isDir
}

// Create implements FS.Create.
func (y *MemFS) Create(name string) (File, error) {
	name = cleanPath(name)
	y.mu.Lock()
	defer y.mu.Unlock()
	if !y.parentExistsLocked(name) {
		return nil, &os.PathError{Op: "create", Path: name, Err: oserror.ErrNotExist}
	}
	if n, ok := y.mu.nodes[name]; ok && n.isDir {
		return nil, &os.PathError{Op: "create", Path: name, Err: errors.New("is a directory")}
	}
	n := &memNode{modTime: time.Now()}
	y.mu.nodes[name] = n
	return &memFile{name: name, n: n, read: true, write: true}, nil
}

func (y *MemFS) open(name string, write bool) (File, error) {
	name = cleanPath(name)
	y.mu.Lock()
	defer y.mu.Unlock()
	n, ok := y.mu.nodes[name]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: oserror.ErrNotExist}
	}
	if n.isDir && write {
		return nil, &os.PathError{Op: "open", Path: name, Err: errors.New("is a directory")}
	}
	return &memFile{name: name, n: n, read: true, write: write}, nil
}

// Open implements FS.Open.
func (y *MemFS) Open(name string) (File, error) {
	return y.open(name, false)
}

// OpenReadWrite implements FS.OpenReadWrite.
func (y *MemFS) OpenReadWrite(name string) (File, error) {
	return y.open(name, true)
}

// Remove implements FS.Remove.
func (y *MemFS) Remove(name string) error {
	name = cleanPath(name)
	y.mu.Lock()
	defer y.mu.Unlock()
	n, ok := y.mu.nodes[name]
	if !ok {
		return &os.PathError{Op: "remove", Path: name, Err: oserror.ErrNotExist}
	}
	if n.isDir {
		prefix := name + "/"
		for k := range y.mu.nodes {
			if strings.HasPrefix(k, prefix) {
				return &os.PathError{Op: "remove", Path: name, Err: oserror.ErrExist}
			}
		}
	}
	delete(y.mu.nodes, name)
	return nil
}

// Rename implements FS.Rename.
func (y *MemFS) Rename(oldname, newname string) error {
	oldname, newname = cleanPath(oldname), cleanPath(newname)
	y.mu.Lock()
	defer y.mu.Unlock()
	n, ok := y.mu.nodes[oldname]
	if !ok {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: oserror.ErrNotExist}
	}
	if n.isDir {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errors.New("is a directory")}
	}
	if !y.parentExistsLocked(newname) {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: oserror.ErrNotExist}
	}
	delete(y.mu.nodes, oldname)
	y.mu.nodes[newname] = n
	return nil
}

// MkdirAll implements FS.MkdirAll.
func (y *MemFS) MkdirAll(dir string, perm os.FileMode) error {
	dir = cleanPath(dir)
	y.mu.Lock()
	defer y.mu.Unlock()
	for p := dir; ; p = path.Dir(p) {
		if n, ok := y.mu.nodes[p]; ok {
			if !n.isDir {
				return &os.PathError{Op: "mkdir", Path: p, Err: errors.New("not a directory")}
			}
			if p == "/" {
				break
			}
			continue
		}
		y.mu.nodes[p] = &memNode{isDir: true, modTime: time.Now()}
	}
	return nil
}

// List implements FS.List.
func (y *MemFS) List(dir string) ([]string, error) {
	dir = cleanPath(dir)
	y.mu.Lock()
	defer y.mu.Unlock()
	if n, ok := y.mu.nodes[dir]; !ok || !n.isDir {
		return nil, &os.PathError{Op: "open", Path: dir, Err: oserror.ErrNotExist}
	}
	var names []string
	for k := range y.mu.nodes {
		if k != dir && path.Dir(k) == dir {
			names = append(names, path.Base(k))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stat implements FS.Stat.
func (y *MemFS) Stat(name string) (os.FileInfo, error) {
	name = cleanPath(name)
	y.mu.Lock()
	n, ok := y.mu.nodes[name]
	y.mu.Unlock()
	if !ok {
		return nil, &os.PathError{Op: "stat", Path: name, Err: oserror.ErrNotExist}
	}
	return n.stat(path.Base(name)), nil
}

// PathJoin implements FS.PathJoin.
func (*MemFS) PathJoin(elem ...string) string {
	return path.Join(elem...)
}

// String dumps the names and sizes of the files in the file system.
func (y *MemFS) String() string {
	y.mu.Lock()
	defer y.mu.Unlock()
	names := make([]string, 0, len(y.mu.nodes))
	for k := range y.mu.nodes {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, k := range names {
		n := y.mu.nodes[k]
		if n.isDir {
			b.WriteString(strings.TrimSuffix(k, "/") + "/\n")
			continue
		}
		n.mu.Lock()
		b.WriteString(k)
		b.WriteString(" ")
		b.WriteString(strconv.Itoa(len(n.mu.data)))
		b.WriteString("\n")
		n.mu.Unlock()
	}
	return b.String()
}

func (n *memNode) stat(name string) os.FileInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &memFileInfo{name: name, size: int64(len(n.mu.data)), isDir: n.isDir, modTime: n.modTime}
}

// memFile is a reader or writer of a node's data. Its fields are not
// protected; a memFile must only be used by one goroutine at a time.
type memFile struct {
	name        string
	n           *memNode
	read, write bool
	closed      bool
}

var _ File = (*memFile)(nil)

func (f *memFile) Close() error {
	if f.closed {
		return errors.Newf("%s: file already closed", f.name)
	}
	f.closed = true
	return nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed || !f.read {
		return 0, errors.Newf("%s: file not open for reading", f.name)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if off >= int64(len(f.n.mu.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.mu.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	if f.closed || !f.write {
		return 0, errors.Newf("%s: file not open for writing", f.name)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if end := int(off) + len(p); end > len(f.n.mu.data) {
		grown := make([]byte, end)
		copy(grown, f.n.mu.data)
		f.n.mu.data = grown
	}
	copy(f.n.mu.data[off:], p)
	f.n.modTime = time.Now()
	return len(p), nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	return f.n.stat(path.Base(f.name)), nil
}

func (f *memFile) Sync() error {
	if f.closed {
		return errors.Newf("%s: file already closed", f.name)
	}
	return nil
}

// memFileInfo implements os.FileInfo for a memFile.
type memFileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

var _ os.FileInfo = (*memFileInfo)(nil)

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return f.size }
func (f *memFileInfo) ModTime() time.Time { return f.modTime }
func (f *memFileInfo) IsDir() bool        { return f.isDir }
func (f *memFileInfo) Sys() interface{}   { return nil }

func (f *memFileInfo) Mode() os.FileMode {
	if f.isDir {
		return os.ModeDir | 0755
	}
	return 0755
}
