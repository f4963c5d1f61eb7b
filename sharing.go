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

// Package sharing holds the domain model of a Delta Sharing gateway: shares,
// schemas and tables exposed to recipients, the per-version file entries the
// gateway serves, and the typed literal/predicate machinery used for
// partition-based data skipping.
package sharing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSuchShare is returned when a share does not exist in the catalog.
	ErrNoSuchShare = errors.New("share does not exist")
	// ErrNoSuchSchema is returned when a schema does not exist within a share.
	ErrNoSuchSchema = errors.New("schema does not exist")
	// ErrNoSuchTable is returned when a table does not exist within a schema.
	ErrNoSuchTable = errors.New("table does not exist")

	// ErrBadRequest covers malformed or contradictory request parameters,
	// e.g. specifying both a version and a timestamp for the same query.
	ErrBadRequest = errors.New("bad request")

	// ErrVersionNotFound is returned for timestamp queries that precede the
	// table's first version, and for explicit versions outside history.
	ErrVersionNotFound = fmt.Errorf("%w: version not found", ErrBadRequest)
	// ErrVersionOutOfRange is returned when a change query starts after the
	// table's current version or before retained history.
	ErrVersionOutOfRange = fmt.Errorf("%w: starting version out of range", ErrBadRequest)
	// ErrChangesNotEnabled is returned for change queries against tables that
	// were not configured for change data feed tracking.
	ErrChangesNotEnabled = fmt.Errorf("%w: change data feed is not enabled", ErrBadRequest)

	// ErrUnsupportedReaderFeatures is returned when the negotiated client
	// capabilities do not cover a reader feature the table's data requires.
	ErrUnsupportedReaderFeatures = errors.New("unsupported reader features")
)

// TableFormat is the storage format tag of a shared table.
type TableFormat string

const (
	FormatParquet TableFormat = "parquet"
	FormatDelta   TableFormat = "delta"
)

// ReaderFeature is an opt-in capability a client must declare before the
// server may include data depending on it in a response.
type ReaderFeature string

const (
	FeatureDeletionVectors ReaderFeature = "deletionvectors"
	FeatureColumnMapping   ReaderFeature = "columnmapping"
	FeatureTimestampNTZ    ReaderFeature = "timestampntz"
)

// ParseReaderFeature normalizes a reader feature name. Unknown names are kept
// verbatim (lowercased) so negotiation can still match them by string.
func ParseReaderFeature(s string) ReaderFeature {
	return ReaderFeature(strings.ToLower(strings.TrimSpace(s)))
}

// Share is a named top-level grouping of schemas exposed to a recipient.
type Share struct {
	Name string
	ID   string
	// Inactive shares are hidden from listings and resolve as not-found.
	Active bool
}

// Schema is a named grouping of tables owned by exactly one share.
type Schema struct {
	Name  string
	Share string
}

// Table identifies one shared table and pins its current state.
type Table struct {
	Name   string
	Schema string
	Share  string

	ID             string
	Format         TableFormat
	CurrentVersion int64
	// ChangeDataFeed indicates the table records add/remove history usable
	// for change queries.
	ChangeDataFeed bool
	// ShareAsView is surfaced verbatim on table listings.
	ShareAsView bool
}

// Column is one column of a table's data schema.
type Column struct {
	Name     string
	Type     PrimitiveType
	Nullable bool
}

// Metadata is the canonical metadata snapshot pinned by one table version.
type Metadata struct {
	ID               string
	Name             string
	Description      string
	Format           TableFormat
	Columns          []Column
	PartitionColumns []string
	Configuration    map[string]string
	Version          int64
	// RequiredFeatures lists reader features a client must understand before
	// the gateway may serve this table's data.
	RequiredFeatures []ReaderFeature

	MinReaderVersion int32
	MinWriterVersion int32
}

// PartitionType returns the declared logical type of a partition column and
// whether the column is actually a partition column of this metadata.
func (m *Metadata) PartitionType(name string) (PrimitiveType, bool) {
	part := false
	for _, p := range m.PartitionColumns {
		if p == name {
			part = true

			break
		}
	}
	if !part {
		return TypeString, false
	}

	for _, c := range m.Columns {
		if c.Name == name {
			return c.Type, true
		}
	}

	// Partition column without a schema entry: compare as string.
	return TypeString, true
}

// SchemaString renders the table schema in the Delta struct-type JSON form
// clients expect inside the metaData action.
func (m *Metadata) SchemaString() string {
	type field struct {
		Name     string         `json:"name"`
		Type     string         `json:"type"`
		Nullable bool           `json:"nullable"`
		Metadata map[string]any `json:"metadata"`
	}

	fields := make([]field, 0, len(m.Columns))
	for _, c := range m.Columns {
		fields = append(fields, field{
			Name:     c.Name,
			Type:     string(c.Type),
			Nullable: c.Nullable,
			Metadata: map[string]any{},
		})
	}

	out, err := json.Marshal(struct {
		Type   string  `json:"type"`
		Fields []field `json:"fields"`
	}{Type: "struct", Fields: fields})
	if err != nil {
		return `{"type":"struct","fields":[]}`
	}

	return string(out)
}

// FileStats carries the per-file statistics served alongside each file entry.
type FileStats struct {
	NumRecords int64            `json:"numRecords"`
	MinValues  map[string]any   `json:"minValues,omitempty"`
	MaxValues  map[string]any   `json:"maxValues,omitempty"`
	NullCount  map[string]int64 `json:"nullCount,omitempty"`
}

// JSON renders the statistics in the string form used by delta actions.
func (s *FileStats) JSON() string {
	out, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}

	return string(out)
}

// DeletionVector describes a deletion vector attached to a file entry. Files
// carrying one may only be served to clients that negotiated the
// deletionvectors reader feature.
type DeletionVector struct {
	StorageType    string `json:"storageType"`
	PathOrInlineDv string `json:"pathOrInlineDv"`
	Offset         int32  `json:"offset,omitempty"`
	SizeInBytes    int32  `json:"sizeInBytes"`
	Cardinality    int64  `json:"cardinality"`
}

// FileEntry is one immutable data file assigned to a (table, version) pair.
type FileEntry struct {
	ID              string
	Path            string
	URL             string
	Size            int64
	PartitionValues map[string]string
	Stats           *FileStats
	DeletionVector  *DeletionVector

	// Version and Timestamp record the commit that added the file.
	Version   int64
	Timestamp int64
}

// RequiredFeatures reports the reader features a client must have negotiated
// before this entry may appear in a response.
func (f *FileEntry) RequiredFeatures() []ReaderFeature {
	if f.DeletionVector != nil {
		return []ReaderFeature{FeatureDeletionVectors}
	}

	return nil
}

// ChangeType tags one action of a change data feed response.
type ChangeType int8

const (
	ChangeAdd ChangeType = iota
	ChangeRemove
	ChangeMetadata
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdd:
		return "add"
	case ChangeRemove:
		return "remove"
	case ChangeMetadata:
		return "metaData"
	default:
		return "unknown"
	}
}

// ChangeAction is one entry of a change data feed response, tagged with the
// version and commit timestamp it belongs to. Within a response actions are
// ordered by version ascending, then by intra-version sequence.
type ChangeAction struct {
	Type      ChangeType
	Version   int64
	Timestamp int64
	// Sequence orders actions committed at the same version.
	Sequence int

	// File is set for add/remove actions.
	File *FileEntry
	// Metadata is set for metadata-change actions.
	Metadata *Metadata
}
