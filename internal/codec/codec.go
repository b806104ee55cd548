// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package codec converts indexed values to and from the byte codes stored in
// bitmap pages.
//
// Integers are shifted into the unsigned domain by subtracting math.MinInt32
// and written as four base-256 digits, most significant first, so that the
// byte-lexicographic order of two codes equals the numeric order of the
// values. Strings are stored one byte per character; the bytes of the string
// are copied verbatim and are not validated.
package codec

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/errors"
)

// IntLen is the length of an integer code.
const IntLen = 4

// EncodeInt returns the code for v.
func EncodeInt(v int32) [IntLen]byte {
	var b [IntLen]byte
	binary.BigEndian.PutUint32(b[:], uint32(int64(v)-math.MinInt32))
	return b
}

// AppendInt appends the code for v to dst.
func AppendInt(dst []byte, v int32) []byte {
	b := EncodeInt(v)
	return append(dst, b[:]...)
}

// DecodeInt decodes an integer code. b must be IntLen bytes long.
func DecodeInt(b []byte) int32 {
	var u uint32
	for i := IntLen - 1; i >= 0; i-- {
		u |= uint32(b[i]) << (8 * uint(IntLen-1-i))
	}
	return int32(int64(u) + math.MinInt32)
}

// EncodeString returns the code for s: one byte per character.
func EncodeString(s string) []byte {
	return []byte(s)
}

// DecodeString decodes a string code.
func DecodeString(b []byte) string {
	return string(b)
}

// EncodedLen returns the length of the code for v.
func EncodedLen(v base.Value) int {
	if v.Kind() == base.ValueKindInteger {
		return IntLen
	}
	return len(v.Str())
}

// Encode returns the code for v.
func Encode(v base.Value) []byte {
	return Append(nil, v)
}

// Append appends the code for v to dst.
func Append(dst []byte, v base.Value) []byte {
	switch v.Kind() {
	case base.ValueKindInteger:
		return AppendInt(dst, v.Int())
	case base.ValueKindString:
		return append(dst, v.Str()...)
	default:
		panic(errors.AssertionFailedf("unknown value kind %s", v.Kind()))
	}
}

// Decode decodes a code of the given kind.
func Decode(kind base.ValueKind, b []byte) (base.Value, error) {
	switch kind {
	case base.ValueKindInteger:
		if len(b) != IntLen {
			return base.Value{}, base.CorruptionErrorf(
				"colbitmap: integer code has length %d", errors.Safe(len(b)))
		}
		return base.IntValue(DecodeInt(b)), nil
	case base.ValueKindString:
		return base.StringValue(DecodeString(b)), nil
	default:
		return base.Value{}, errors.Wrapf(base.ErrInvalidValueKind, "decoding %s code", kind)
	}
}

// Compare compares a code against a scan bound. Only the first
// min(len(code), len(bound)) bytes of each are compared, so a bound shorter
// than the code constrains only the code's prefix. Integer codes and bounds
// have equal lengths, which makes Compare a total order over integers.
func Compare(code, bound []byte) int {
	n := min(len(code), len(bound))
	return bytes.Compare(code[:n], bound[:n])
}
