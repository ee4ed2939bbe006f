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

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMD5PasswordFormat(t *testing.T) {
	salt := [4]byte{0x12, 0x34, 0x56, 0x78}
	got := MD5Password("alice", "s3cret", salt)

	assert.Len(t, got, 35) // "md5" + 32 hex chars
	assert.Equal(t, "md5", got[:3])
}

func TestMD5PasswordIsDeterministic(t *testing.T) {
	salt := [4]byte{1, 2, 3, 4}
	a := MD5Password("alice", "s3cret", salt)
	b := MD5Password("alice", "s3cret", salt)
	assert.Equal(t, a, b)
}

func TestMD5PasswordVariesWithInputs(t *testing.T) {
	salt := [4]byte{1, 2, 3, 4}
	base := MD5Password("alice", "s3cret", salt)

	assert.NotEqual(t, base, MD5Password("bob", "s3cret", salt))
	assert.NotEqual(t, base, MD5Password("alice", "other", salt))
	assert.NotEqual(t, base, MD5Password("alice", "s3cret", [4]byte{5, 6, 7, 8}))
}
