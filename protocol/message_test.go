// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderWriterRoundTrip(t *testing.T) {
	w := NewWriter()
	w.CString("id")
	w.Uint32(12345)
	w.Int16(1)
	w.Uint32(23)
	w.Int16(4)
	w.Int32(-1)
	w.Int16(0)

	r := NewReader(w.Bytes())

	name, err := r.CString()
	require.NoError(t, err)
	assert.Equal(t, "id", name)

	tableOID, err := r.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(12345), tableOID)

	attrNum, err := r.Int16()
	require.NoError(t, err)
	assert.Equal(t, int16(1), attrNum)

	dataTypeOID, err := r.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(23), dataTypeOID)

	dataTypeSize, err := r.Int16()
	require.NoError(t, err)
	assert.Equal(t, int16(4), dataTypeSize)

	typeMod, err := r.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(-1), typeMod)

	format, err := r.Int16()
	require.NoError(t, err)
	assert.Equal(t, int16(0), format)

	assert.Equal(t, 0, r.Remaining())
}

func TestByteStringRoundTrip(t *testing.T) {
	w := NewWriter()
	w.ByteString([]byte("hello"))
	w.ByteString(nil)
	w.ByteString([]byte("world"))

	r := NewReader(w.Bytes())

	data, ok, err := r.ByteString()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)

	data, ok, err = r.ByteString()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	data, ok, err = r.ByteString()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("world"), data)
}

func TestReaderErrorsOnShortBuffer(t *testing.T) {
	r := NewReader([]byte{0x00, 0x01})
	_, err := r.Uint32()
	assert.Error(t, err)
}

func TestByteStringRejectsInvalidLength(t *testing.T) {
	w := NewWriter()
	w.Int32(-2)
	r := NewReader(w.Bytes())
	_, _, err := r.ByteString()
	assert.Error(t, err)
}
