// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/redact"
)

// ValueKind is the type of the values stored in an indexed column.
type ValueKind int16

// These constants are part of the page format, and should not be changed.
const (
	ValueKindString  ValueKind = 0
	ValueKindInteger ValueKind = 1
)

// String implements fmt.Stringer.
func (k ValueKind) String() string {
	switch k {
	case ValueKindString:
		return "string"
	case ValueKindInteger:
		return "integer"
	default:
		return fmt.Sprintf("unknown(%d)", int16(k))
	}
}

// SafeFormat implements redact.SafeFormatter.
func (k ValueKind) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(k.String()))
}

// Valid returns true if k is a known value kind.
func (k ValueKind) Valid() bool {
	return k == ValueKindString || k == ValueKindInteger
}

// ParseValueKind parses the string representation of a ValueKind.
func ParseValueKind(s string) (ValueKind, bool) {
	switch s {
	case "string", "str":
		return ValueKindString, true
	case "integer", "int":
		return ValueKindInteger, true
	default:
		return 0, false
	}
}

// Value is a typed attribute value: either a 32-bit integer or a string.
type Value struct {
	kind ValueKind
	i    int32
	s    string
}

// IntValue returns an integer Value.
func IntValue(v int32) Value {
	return Value{kind: ValueKindInteger, i: v}
}

// StringValue returns a string Value.
func StringValue(s string) Value {
	return Value{kind: ValueKindString, s: s}
}

// ParseValue parses s as a value of the given kind.
func ParseValue(kind ValueKind, s string) (Value, error) {
	switch kind {
	case ValueKindInteger:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, err
		}
		return IntValue(int32(v)), nil
	case ValueKindString:
		return StringValue(s), nil
	default:
		return Value{}, ErrInvalidValueKind
	}
}

// Kind returns the kind of the value.
func (v Value) Kind() ValueKind { return v.kind }

// Int returns the integer held by v. It must only be called on integer
// values.
func (v Value) Int() int32 {
	if v.kind != ValueKindInteger {
		panic(fmt.Sprintf("colbitmap: Int called on %s value", v.kind))
	}
	return v.i
}

// Str returns the string held by v. It must only be called on string values.
func (v Value) Str() string {
	if v.kind != ValueKindString {
		panic(fmt.Sprintf("colbitmap: Str called on %s value", v.kind))
	}
	return v.s
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.kind == ValueKindInteger {
		return strconv.FormatInt(int64(v.i), 10)
	}
	return strconv.Quote(v.s)
}

// SafeFormat implements redact.SafeFormatter. Integer values are considered
// safe; strings are user data and are redacted.
func (v Value) SafeFormat(w redact.SafePrinter, _ rune) {
	if v.kind == ValueKindInteger {
		w.Print(redact.SafeInt(v.i))
		return
	}
	w.Print(v.s)
}
