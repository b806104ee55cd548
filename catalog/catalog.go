// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package catalog implements a persistent directory from names to the head
// page of the structure stored under that name.
//
// The catalog lives in a single file named CATALOG. Every change rewrites the
// file under a temporary name, syncs it and renames it into place, so a
// reader observes either the old or the new contents. The file format is:
//
//	magic (8) | entry count (uvarint) | entries | xxhash64 of the preceding bytes (8)
//
// where each entry is a uvarint-prefixed name followed by a little-endian
// int32 page id.
package catalog

import (
	"encoding/binary"
	"io"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/vfs"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// Filename is the name of the catalog file within its directory.
const Filename = "CATALOG"

const (
	catalogMagic = "colbmcat"
	checksumSize = 8
)

// ErrExists is returned by Add when the name is already present.
var ErrExists = errors.New("catalog: name already exists")

// Catalog maps names to head page ids. It is safe for concurrent use.
type Catalog struct {
	fs  vfs.FS
	dir string

	mu struct {
		sync.Mutex
		entries map[string]base.PageID
	}
}

// Open opens the catalog in dir, creating the directory and an empty catalog
// if necessary.
func Open(fs vfs.FS, dir string) (*Catalog, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "catalog: creating %s", dir)
	}
	c := &Catalog{fs: fs, dir: dir}
	entries, err := c.read()
	if oserror.IsNotExist(err) {
		c.mu.entries = make(map[string]base.PageID)
		if err := c.write(c.mu.entries); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	c.mu.entries = entries
	return c, nil
}

func (c *Catalog) path() string {
	return c.fs.PathJoin(c.dir, Filename)
}

// Lookup returns the head page registered under name.
func (c *Catalog) Lookup(name string) (base.PageID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.mu.entries[name]
	return id, ok
}

// Add registers name with the given head page and persists the catalog.
func (c *Catalog) Add(name string, head base.PageID) error {
	if name == "" {
		return errors.New("catalog: empty name")
	}
	if head < 0 {
		return errors.Newf("catalog: invalid head page %s", head)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.mu.entries[name]; ok {
		return errors.Wrapf(ErrExists, "catalog: adding %q", name)
	}
	c.mu.entries[name] = head
	if err := c.write(c.mu.entries); err != nil {
		delete(c.mu.entries, name)
		return err
	}
	return nil
}

// Remove deletes name from the catalog and persists the catalog.
func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	head, ok := c.mu.entries[name]
	if !ok {
		return errors.Wrapf(base.ErrNotFound, "catalog: removing %q", name)
	}
	delete(c.mu.entries, name)
	if err := c.write(c.mu.entries); err != nil {
		c.mu.entries[name] = head
		return err
	}
	return nil
}

// Names returns the registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.mu.entries))
	for name := range c.mu.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func encode(entries map[string]base.PageID) []byte {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)

	buf := append([]byte(nil), catalogMagic...)
	buf = binary.AppendUvarint(buf, uint64(len(names)))
	for _, name := range names {
		buf = binary.AppendUvarint(buf, uint64(len(name)))
		buf = append(buf, name...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(entries[name]))
	}
	return binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf))
}

func decode(data []byte) (map[string]base.PageID, error) {
	if len(data) < len(catalogMagic)+checksumSize || string(data[:len(catalogMagic)]) != catalogMagic {
		return nil, base.CorruptionErrorf("catalog: bad header")
	}
	body := data[:len(data)-checksumSize]
	if got, want := xxhash.Sum64(body), binary.LittleEndian.Uint64(data[len(body):]); got != want {
		return nil, base.CorruptionErrorf("catalog: checksum mismatch: %016x != %016x", got, want)
	}
	b := body[len(catalogMagic):]
	count, n := binary.Uvarint(b)
	if n <= 0 || count > uint64(len(b)) {
		return nil, base.CorruptionErrorf("catalog: bad entry count")
	}
	b = b[n:]
	entries := make(map[string]base.PageID, count)
	for i := uint64(0); i < count; i++ {
		l, n := binary.Uvarint(b)
		if n <= 0 || l+4 > uint64(len(b)-n) {
			return nil, base.CorruptionErrorf("catalog: entry %d is truncated", i)
		}
		b = b[n:]
		name := string(b[:l])
		head := base.PageID(int32(binary.LittleEndian.Uint32(b[l:])))
		b = b[l+4:]
		if _, ok := entries[name]; ok {
			return nil, base.CorruptionErrorf("catalog: duplicate entry %q", name)
		}
		entries[name] = head
	}
	if len(b) != 0 {
		return nil, base.CorruptionErrorf("catalog: %d trailing bytes", len(b))
	}
	return entries, nil
}

func (c *Catalog) read() (map[string]base.PageID, error) {
	f, err := c.fs.Open(c.path())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "catalog: stat %s", c.path())
	}
	data := make([]byte, fi.Size())
	if _, err := f.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "catalog: reading %s", c.path())
	}
	return decode(data)
}

func (c *Catalog) write(entries map[string]base.PageID) (err error) {
	tmp := c.path() + ".tmp"
	f, err := c.fs.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "catalog: creating %s", tmp)
	}
	defer func() {
		if err != nil {
			_ = c.fs.Remove(tmp)
		}
	}()
	if _, err := f.WriteAt(encode(entries), 0); err != nil {
		return errors.CombineErrors(errors.Wrapf(err, "catalog: writing %s", tmp), f.Close())
	}
	if err := f.Sync(); err != nil {
		return errors.CombineErrors(errors.Wrapf(err, "catalog: syncing %s", tmp), f.Close())
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "catalog: closing %s", tmp)
	}
	return errors.Wrapf(c.fs.Rename(tmp, c.path()), "catalog: installing %s", c.path())
}
