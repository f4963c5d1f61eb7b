// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package sharing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		name    string
		typ     PrimitiveType
		raw     string
		wantErr bool
	}{
		{"long", TypeLong, "42", false},
		{"long negative", TypeLong, "-7", false},
		{"long garbage", TypeLong, "4x", true},
		{"int collapses to long", TypeInt, "2024", false},
		{"double", TypeDouble, "3.25", false},
		{"float collapses to double", TypeFloat, "1.5", false},
		{"double garbage", TypeDouble, "abc", true},
		{"string", TypeString, "anything at all", false},
		{"bool", TypeBoolean, "true", false},
		{"bool garbage", TypeBoolean, "yep", true},
		{"date", TypeDate, "2024-03-01", false},
		{"date garbage", TypeDate, "03/01/2024", true},
		{"timestamp rfc3339", TypeTimestamp, "2024-03-01T10:00:00Z", false},
		{"timestamp spark", TypeTimestamp, "2024-03-01 10:00:00", false},
		{"timestamp garbage", TypeTimestamp, "noonish", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lit, err := ParseLiteral(tt.typ, tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBadCast)

				return
			}
			require.NoError(t, err)
			require.NotNil(t, lit)
		})
	}
}

func TestLiteralCompare(t *testing.T) {
	tests := []struct {
		name string
		typ  PrimitiveType
		a, b string
		want int
	}{
		{"long less", TypeLong, "2", "10", -1},
		{"long equal", TypeLong, "10", "10", 0},
		{"long greater", TypeLong, "11", "10", 1},
		{"string is lexicographic", TypeString, "2", "10", 1},
		{"string equal", TypeString, "eu", "eu", 0},
		{"double", TypeDouble, "2.5", "2.75", -1},
		{"date chronological", TypeDate, "2023-12-31", "2024-01-01", -1},
		{"timestamp chronological", TypeTimestamp, "2024-03-01T10:00:00Z", "2024-03-01 09:00:00", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := require.New(t)
			a, err := ParseLiteral(tt.typ, tt.a)
			assert.NoError(err)
			b, err := ParseLiteral(tt.typ, tt.b)
			assert.NoError(err)

			got := a.Compare(b)
			switch {
			case tt.want < 0:
				assert.Negative(got)
			case tt.want > 0:
				assert.Positive(got)
			default:
				assert.Zero(got)
			}
		})
	}
}
