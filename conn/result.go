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
	"fmt"

	"github.com/multigres/pgwireclient/protocol"
)

// ColumnMetadata describes one column of a result set, taken from a
// RowDescription message.
type ColumnMetadata struct {
	Name          string
	TableOID      uint32
	ColumnAttrNum int16
	DataTypeOID   uint32
	DataTypeSize  int16
	TypeModifier  int32
	Format        int16
}

// Row is one row of result data. A nil entry represents SQL NULL;
// value encoding beyond raw text/binary bytes is out of scope here.
type Row struct {
	Values [][]byte
}

// QueryResult is one statement's worth of output from the simple query
// protocol. A single SimpleQuery call can produce several of these,
// one per semicolon-separated statement in the query string.
type QueryResult struct {
	Columns      []ColumnMetadata
	Rows         []Row
	CommandTag   string
	RowsAffected uint64
}

func parseRowsAffected(tag string) uint64 {
	// Command tags look like "SELECT 5", "INSERT 0 1", "UPDATE 10",
	// "DELETE 3", or have no trailing count at all ("BEGIN", "COMMIT").
	var count, mul uint64
	inNumber := false

	for i := len(tag) - 1; i >= 0; i-- {
		ch := tag[i]
		switch {
		case ch >= '0' && ch <= '9':
			if !inNumber {
				inNumber = true
				count, mul = 0, 1
			}
			count += uint64(ch-'0') * mul
			mul *= 10
		case ch == ' ':
			if inNumber {
				return count
			}
		default:
			if inNumber {
				return count
			}
			return 0
		}
	}
	if inNumber {
		return count
	}
	return 0
}

func parseColumns(body []byte) ([]ColumnMetadata, error) {
	r := protocol.NewReader(body)

	fieldCount, err := r.Int16()
	if err != nil {
		return nil, fmt.Errorf("conn: reading RowDescription field count: %w", err)
	}

	columns := make([]ColumnMetadata, fieldCount)
	for i := range columns {
		col := &columns[i]

		col.Name, err = r.CString()
		if err != nil {
			return nil, fmt.Errorf("conn: reading column name: %w", err)
		}
		if col.TableOID, err = r.Uint32(); err != nil {
			return nil, fmt.Errorf("conn: reading table OID: %w", err)
		}
		if col.ColumnAttrNum, err = r.Int16(); err != nil {
			return nil, fmt.Errorf("conn: reading column attribute number: %w", err)
		}
		if col.DataTypeOID, err = r.Uint32(); err != nil {
			return nil, fmt.Errorf("conn: reading data type OID: %w", err)
		}
		if col.DataTypeSize, err = r.Int16(); err != nil {
			return nil, fmt.Errorf("conn: reading data type size: %w", err)
		}
		if col.TypeModifier, err = r.Int32(); err != nil {
			return nil, fmt.Errorf("conn: reading type modifier: %w", err)
		}
		if col.Format, err = r.Int16(); err != nil {
			return nil, fmt.Errorf("conn: reading format code: %w", err)
		}
	}
	return columns, nil
}

func parseRow(body []byte) (Row, error) {
	r := protocol.NewReader(body)

	count, err := r.Int16()
	if err != nil {
		return Row{}, fmt.Errorf("conn: reading DataRow column count: %w", err)
	}

	row := Row{Values: make([][]byte, count)}
	for i := range row.Values {
		data, ok, err := r.ByteString()
		if err != nil {
			return Row{}, fmt.Errorf("conn: reading DataRow column value: %w", err)
		}
		if ok {
			row.Values[i] = data
		}
	}
	return row, nil
}
