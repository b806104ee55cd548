// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colbitmap

import "github.com/cockroachdb/colbitmap/internal/base"

// PageID exports the base.PageID type.
type PageID = base.PageID

// InvalidPageID is the "no page" sentinel.
const InvalidPageID = base.InvalidPageID

// Location exports the base.Location type.
type Location = base.Location

// InvalidLocation is the "no location" sentinel.
var InvalidLocation = base.InvalidLocation

// MakeLocation constructs a Location.
func MakeLocation(page PageID, slot int32) Location {
	return base.MakeLocation(page, slot)
}

// ValueKind exports the base.ValueKind type.
type ValueKind = base.ValueKind

// The kinds of indexed values.
const (
	ValueKindString  = base.ValueKindString
	ValueKindInteger = base.ValueKindInteger
)

// Value exports the base.Value type.
type Value = base.Value

// IntValue returns an integer value.
func IntValue(v int32) Value {
	return base.IntValue(v)
}

// StringValue returns a string value.
func StringValue(s string) Value {
	return base.StringValue(s)
}
