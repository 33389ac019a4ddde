/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)
	require.NoError(t, w.PutU8(0xAB))
	require.NoError(t, w.PutBool(true))
	require.NoError(t, w.PutU16(0x1234))
	require.NoError(t, w.PutU32(0xDEADBEEF))
	require.NoError(t, w.PutU64(0x0102030405060708))
	require.NoError(t, w.PutI32(-1))
	require.NoError(t, w.PutI64(-123456789))
	require.NoError(t, w.PutString("clkmgr"))
	require.NoError(t, w.PutFixedArray([]byte{1, 2, 3}, 8))

	r := NewReader(w.Bytes())
	u8, err := r.GetU8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), u8)

	b, err := r.GetBool()
	require.NoError(t, err)
	require.True(t, b)

	u16, err := r.GetU16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), u16)

	u32, err := r.GetU32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	u64, err := r.GetU64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), u64)

	i32, err := r.GetI32()
	require.NoError(t, err)
	require.Equal(t, int32(-1), i32)

	i64, err := r.GetI64()
	require.NoError(t, err)
	require.Equal(t, int64(-123456789), i64)

	s, err := r.GetString()
	require.NoError(t, err)
	require.Equal(t, "clkmgr", s)

	fa, err := r.GetFixedArray(8)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, fa)
}

func TestShortBufferFailsWholeMessage(t *testing.T) {
	buf := make([]byte, 2)
	w := NewWriter(buf)
	require.NoError(t, w.PutU8(1))
	require.ErrorIs(t, w.PutU32(1), ErrShortBuffer)

	r := NewReader([]byte{0x01})
	_, err := r.GetU32()
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestStringTooLongRejected(t *testing.T) {
	buf := make([]byte, 16)
	w := NewWriter(buf)
	huge := make([]byte, 0x10000)
	require.Error(t, w.PutString(string(huge)))
}

func TestFixedArrayZeroPads(t *testing.T) {
	buf := make([]byte, 8)
	w := NewWriter(buf)
	require.NoError(t, w.PutFixedArray([]byte("ab"), 8))
	require.Equal(t, []byte{'a', 'b', 0, 0, 0, 0, 0, 0}, w.Bytes())
}
