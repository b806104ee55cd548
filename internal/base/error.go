// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// ErrNotFound means that an index of the requested name does not exist, or
// that a location is not present in the index.
var ErrNotFound = errors.New("colbitmap: not found")

// ErrDuplicateLocation means that a location is already mapped by the index.
// The page chain treats this as a benign no-op and reports it as an outcome
// rather than an error; the sentinel exists for callers that want to surface
// it.
var ErrDuplicateLocation = errors.New("colbitmap: duplicate location")

// ErrInsufficientSpace means that a page has no room for a mapping, or that
// the page chain could not be extended.
var ErrInsufficientSpace = errors.New("colbitmap: insufficient space")

// ErrInvalidValueKind means that a value's kind does not match the kind the
// index (or page) was configured with.
var ErrInvalidValueKind = errors.New("colbitmap: invalid value kind")

// ErrInvalidLocation means that a location cannot be represented in a pointer
// entry.
var ErrInvalidLocation = errors.New("colbitmap: invalid location")

// ErrAlreadyDestroyed is returned by a second call to Destroy.
var ErrAlreadyDestroyed = errors.New("colbitmap: already destroyed")

// ErrStorageFailure marks errors propagated from the page store or the file
// system.
var ErrStorageFailure = errors.New("colbitmap: storage failure")

// ErrNoCurrentRecord is returned by Scan.DeleteCurrent when the scan has not
// produced an entry since it was opened or since the last delete.
var ErrNoCurrentRecord = errors.New("colbitmap: no current record")

// ErrCorruption is a marker to indicate that data in a page, page file or
// catalog is corrupted.
var ErrCorruption = errors.New("colbitmap: corruption")

// CorruptionErrorf formats according to a format specifier and returns the
// string as an error value that is marked as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// MarkCorruptionError marks given error as a corruption error.
func MarkCorruptionError(err error) error {
	if errors.Is(err, ErrCorruption) {
		return err
	}
	return errors.Mark(err, ErrCorruption)
}

// MarkStorageFailure marks the given error as a storage failure. A nil error
// is returned as is.
func MarkStorageFailure(err error) error {
	if err == nil || errors.Is(err, ErrStorageFailure) {
		return err
	}
	return errors.Mark(err, ErrStorageFailure)
}
