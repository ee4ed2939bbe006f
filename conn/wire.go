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

package conn

import (
	"github.com/multigres/pgwireclient/protocol"
)

// parseError turns an ErrorResponse message body into a *SQLError.
func parseError(body []byte) *SQLError {
	r := protocol.NewReader(body)
	e := &SQLError{}

	for r.Remaining() > 0 {
		fieldType, err := r.Byte()
		if err != nil || fieldType == 0 {
			break
		}
		value, err := r.CString()
		if err != nil {
			break
		}
		switch fieldType {
		case protocol.FieldSeverity, protocol.FieldSeverityV:
			e.Severity = value
		case protocol.FieldCode:
			e.Code = value
		case protocol.FieldMessage:
			e.Message = value
		case protocol.FieldDetail:
			e.Detail = value
		case protocol.FieldHint:
			e.Hint = value
		}
	}
	return e
}

// parseNotice turns a NoticeResponse message body into a Notice.
func parseNotice(body []byte) Notice {
	e := parseError(body)
	return Notice{
		Severity: e.Severity,
		Code:     e.Code,
		Message:  e.Message,
		Detail:   e.Detail,
		Hint:     e.Hint,
	}
}
