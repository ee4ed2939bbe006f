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
	"crypto/md5" //nolint:gosec // required by the PostgreSQL wire protocol's md5 auth method
	"encoding/hex"
)

// MD5Password computes the response to an AuthenticationMD5Password
// request: "md5" + hex(md5(hex(md5(password+user)) + salt)).
func MD5Password(user, password string, salt [4]byte) string {
	inner := md5Hex(password + user)
	outer := md5Hex(inner + string(salt[:]))
	return "md5" + outer
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // required by the PostgreSQL wire protocol's md5 auth method
	return hex.EncodeToString(sum[:])
}
