// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorFS(t *testing.T) {
	fs := NewErrorFS(NewMem(), ErrorFSWrite)
	f, err := fs.Create("a")
	require.NoError(t, err)

	fs.FailAfter(1)
	_, err = f.WriteAt([]byte("foo"), 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("bar"), 3)
	require.True(t, errors.Is(err, ErrInjected))
	require.EqualError(t, f.Sync(), "sync a: injected error")
	// Reads are not affected.
	buf := make([]byte, 3)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "foo", string(buf))
	// Removing a missing file is not an error.
	require.NoError(t, fs.Remove("missing"))

	fs.Disarm()
	_, err = f.WriteAt([]byte("bar"), 3)
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
}
