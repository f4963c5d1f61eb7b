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
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PrimitiveType is the declared logical type of a column, using the Delta
// type names that appear in schemaString.
type PrimitiveType string

const (
	TypeBoolean   PrimitiveType = "boolean"
	TypeInt       PrimitiveType = "integer"
	TypeLong      PrimitiveType = "long"
	TypeFloat     PrimitiveType = "float"
	TypeDouble    PrimitiveType = "double"
	TypeString    PrimitiveType = "string"
	TypeDate      PrimitiveType = "date"
	TypeTimestamp PrimitiveType = "timestamp"
)

// ErrBadCast is returned for literal values that cannot be represented in the
// requested logical type.
var ErrBadCast = errors.New("invalid literal value")

// Literal is a single typed value parsed from a predicate hint or a partition
// value. Comparison is only defined between literals of the same type.
type Literal interface {
	Type() PrimitiveType
	// Compare orders the receiver against other: negative when the receiver
	// sorts first, zero when equal. Comparing across types is a bug; callers
	// must parse both sides with the same declared type.
	Compare(other Literal) int
	String() string
}

type boolLiteral bool

func (boolLiteral) Type() PrimitiveType { return TypeBoolean }
func (b boolLiteral) String() string    { return strconv.FormatBool(bool(b)) }
func (b boolLiteral) Compare(other Literal) int {
	o := other.(boolLiteral)
	switch {
	case bool(b) == bool(o):
		return 0
	case bool(b):
		return 1
	default:
		return -1
	}
}

type int64Literal int64

func (int64Literal) Type() PrimitiveType { return TypeLong }
func (i int64Literal) String() string    { return strconv.FormatInt(int64(i), 10) }
func (i int64Literal) Compare(other Literal) int {
	return cmp.Compare(int64(i), int64(other.(int64Literal)))
}

type float64Literal float64

func (float64Literal) Type() PrimitiveType { return TypeDouble }
func (f float64Literal) String() string    { return strconv.FormatFloat(float64(f), 'g', -1, 64) }
func (f float64Literal) Compare(other Literal) int {
	return cmp.Compare(float64(f), float64(other.(float64Literal)))
}

type stringLiteral string

func (stringLiteral) Type() PrimitiveType { return TypeString }
func (s stringLiteral) String() string    { return string(s) }
func (s stringLiteral) Compare(other Literal) int {
	return strings.Compare(string(s), string(other.(stringLiteral)))
}

type dateLiteral time.Time

func (dateLiteral) Type() PrimitiveType { return TypeDate }
func (d dateLiteral) String() string    { return time.Time(d).Format(time.DateOnly) }
func (d dateLiteral) Compare(other Literal) int {
	return time.Time(d).Compare(time.Time(other.(dateLiteral)))
}

type timestampLiteral time.Time

func (timestampLiteral) Type() PrimitiveType { return TypeTimestamp }
func (t timestampLiteral) String() string    { return time.Time(t).Format(time.RFC3339Nano) }
func (t timestampLiteral) Compare(other Literal) int {
	return time.Time(t).Compare(time.Time(other.(timestampLiteral)))
}

// timestamp layouts accepted for timestamp partition values and literals,
// tried in order. Spark writes partition timestamps without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseLiteral parses the string form of a value using the declared logical
// type of the column it belongs to. Integral types collapse to int64 and
// floating types to float64 so that values and hints compare uniformly.
func ParseLiteral(t PrimitiveType, raw string) (Literal, error) {
	switch t {
	case TypeBoolean:
		v, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrBadCast, raw, t)
		}

		return boolLiteral(v), nil
	case TypeInt, TypeLong:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrBadCast, raw, t)
		}

		return int64Literal(v), nil
	case TypeFloat, TypeDouble:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrBadCast, raw, t)
		}

		return float64Literal(v), nil
	case TypeDate:
		v, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrBadCast, raw, t)
		}

		return dateLiteral(v), nil
	case TypeTimestamp:
		for _, layout := range timestampLayouts {
			if v, err := time.Parse(layout, raw); err == nil {
				return timestampLiteral(v), nil
			}
		}

		return nil, fmt.Errorf("%w: %q as %s", ErrBadCast, raw, t)
	case TypeString:
		return stringLiteral(raw), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrBadCast, t)
	}
}
