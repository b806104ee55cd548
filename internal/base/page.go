// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"
	"math"

	"github.com/cockroachdb/redact"
)

// PageID identifies a page in a page store.
type PageID int32

// InvalidPageID is the sentinel used for "no page" in chain links and
// locations.
const InvalidPageID PageID = -1

// String implements fmt.Stringer.
func (id PageID) String() string {
	if id == InvalidPageID {
		return "invalid"
	}
	return fmt.Sprintf("%d", int32(id))
}

// SafeFormat implements redact.SafeFormatter.
func (id PageID) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(id.String()))
}

// InvalidSlot is the sentinel used for "no slot" in locations.
const InvalidSlot int32 = -1

// Location identifies a record in a column's heap storage: the page holding
// the record and the record's slot within that page.
type Location struct {
	Page PageID
	Slot int32
}

// InvalidLocation is the "no location" sentinel.
var InvalidLocation = Location{Page: InvalidPageID, Slot: InvalidSlot}

// MakeLocation constructs a Location.
func MakeLocation(page PageID, slot int32) Location {
	return Location{Page: page, Slot: slot}
}

// Valid returns true if neither component of the location is the invalid
// sentinel (or otherwise negative).
func (l Location) Valid() bool {
	return l.Page >= 0 && l.Slot >= 0
}

// Encodable returns true if the location can be stored in a pointer entry,
// whose page and slot fields are 16 bits wide.
func (l Location) Encodable() bool {
	return l.Valid() && l.Page <= math.MaxInt16 && l.Slot <= math.MaxInt16
}

// String implements fmt.Stringer.
func (l Location) String() string {
	return redact.StringWithoutMarkers(l)
}

// SafeFormat implements redact.SafeFormatter.
func (l Location) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("(%s,%d)", l.Page, redact.SafeInt(l.Slot))
}
