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
	"fmt"
	"regexp"
	"strings"
)

// Operation is the comparison operator of a predicate hint.
type Operation int

const (
	OpEQ Operation = iota // Equal
	OpNEQ                 // NotEqual
	OpLT                  // LessThan
	OpLTEQ                // LessThanEqual
	OpGT                  // GreaterThan
	OpGTEQ                // GreaterThanEqual
)

func (op Operation) String() string {
	switch op {
	case OpEQ:
		return "="
	case OpNEQ:
		return "!="
	case OpLT:
		return "<"
	case OpLTEQ:
		return "<="
	case OpGT:
		return ">"
	case OpGTEQ:
		return ">="
	default:
		return "invalid"
	}
}

// holds evaluates the operation for a three-way comparison result.
func (op Operation) holds(cmp int) bool {
	switch op {
	case OpEQ:
		return cmp == 0
	case OpNEQ:
		return cmp != 0
	case OpLT:
		return cmp < 0
	case OpLTEQ:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpGTEQ:
		return cmp >= 0
	default:
		return true
	}
}

// Predicate is one parsed predicate hint of the form `column op literal`.
// The literal is kept in its raw string form; it is typed lazily against the
// declared type of the partition column it is evaluated on.
type Predicate struct {
	Column   string
	Op       Operation
	RawValue string
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %s", p.Column, p.Op, p.RawValue)
}

// Longest operators first so that ">=" does not tokenize as ">" + "=".
var hintPattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_.]*)\s*(>=|<=|!=|<>|==|=|>|<)\s*(.+?)\s*$`)

// ParsePredicate parses a single predicate hint. The returned error means
// the hint could not even be tokenized; callers deciding between rejecting a
// request and ignoring a hint should treat it per their soundness rules.
func ParsePredicate(hint string) (Predicate, error) {
	m := hintPattern.FindStringSubmatch(hint)
	if m == nil {
		return Predicate{}, fmt.Errorf("%w: cannot parse predicate hint %q", ErrBadRequest, hint)
	}

	var op Operation
	switch m[2] {
	case "=", "==":
		op = OpEQ
	case "!=", "<>":
		op = OpNEQ
	case "<":
		op = OpLT
	case "<=":
		op = OpLTEQ
	case ">":
		op = OpGT
	case ">=":
		op = OpGTEQ
	}

	return Predicate{Column: m[1], Op: op, RawValue: unquote(m[3])}, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '\'' && v[len(v)-1] == '\'') || (v[0] == '"' && v[len(v)-1] == '"') {
			return v[1 : len(v)-1]
		}
	}

	return v
}

// Evaluator decides, per file, whether the file's partition values may match
// a conjunction of predicate hints. Predicates are hints, not guarantees:
// a hint that references a non-partition column, fails to parse, or does not
// fit the partition column's declared type is ignored rather than used to
// exclude a file. False positives only cost skip efficiency; a false negative
// would be a protocol violation.
type Evaluator struct {
	meta *Metadata
}

// NewEvaluator builds an evaluator bound to one table metadata snapshot.
func NewEvaluator(meta *Metadata) *Evaluator {
	return &Evaluator{meta: meta}
}

// Matches reports whether a file with the given partition values may satisfy
// every hint. Hints that cannot be applied soundly count as satisfied.
func (e *Evaluator) Matches(partitionValues map[string]string, hints []string) bool {
	for _, hint := range hints {
		if strings.TrimSpace(hint) == "" {
			continue
		}

		pred, err := ParsePredicate(hint)
		if err != nil {
			continue
		}

		if !e.matchesOne(partitionValues, pred) {
			return false
		}
	}

	return true
}

func (e *Evaluator) matchesOne(partitionValues map[string]string, pred Predicate) bool {
	colType, isPartition := e.meta.PartitionType(pred.Column)
	if !isPartition {
		return true
	}

	raw, ok := partitionValues[pred.Column]
	if !ok {
		// The file predates the partition column or carries no value for it.
		return true
	}

	value, err := ParseLiteral(colType, raw)
	if err != nil {
		return true
	}

	hintVal, err := ParseLiteral(colType, pred.RawValue)
	if err != nil {
		// Literal does not fit the declared type; excluding on a mismatched
		// comparison would be unsound.
		return true
	}

	return pred.Op.holds(value.Compare(hintVal))
}
