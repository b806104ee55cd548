// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colbitmap

import (
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when opening an index that does not exist.
var ErrNotFound = base.ErrNotFound

// ErrDuplicateLocation is the error form of InsertOutcomeDuplicate.
var ErrDuplicateLocation = base.ErrDuplicateLocation

// ErrInsufficientSpace is returned when the page chain cannot be extended or
// a value's code is too long for any page.
var ErrInsufficientSpace = base.ErrInsufficientSpace

// ErrInvalidValueKind is returned for a value whose kind differs from the
// index's kind.
var ErrInvalidValueKind = base.ErrInvalidValueKind

// ErrInvalidLocation is returned for a location that cannot be stored in a
// pointer entry.
var ErrInvalidLocation = base.ErrInvalidLocation

// ErrAlreadyDestroyed is returned by a second Destroy.
var ErrAlreadyDestroyed = base.ErrAlreadyDestroyed

// ErrStorageFailure marks errors returned by the page store or catalog.
var ErrStorageFailure = base.ErrStorageFailure

// ErrNoCurrentRecord is returned by Scan.DeleteCurrent when the scan has no
// current entry.
var ErrNoCurrentRecord = base.ErrNoCurrentRecord

// ErrCorruption is a marker for errors caused by malformed pages.
var ErrCorruption = base.ErrCorruption

// ErrClosed is returned when using a closed index or scan.
var ErrClosed = errors.New("colbitmap: closed")

// ErrNoSource is returned by InsertOne and DeleteOne on an index that has no
// column source attached.
var ErrNoSource = errors.New("colbitmap: no column source")
