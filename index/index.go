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

// Package index holds the per-table version history: which data files belong
// to each version, the metadata snapshot each version pins, and the change
// actions recorded between versions. A Table is immutable once built; new
// versions are appended through the Builder and published as a whole.
package index

import (
	"fmt"
	"slices"
	"time"

	"github.com/delta-io/sharing-go"
)

// Version is one committed version of a table.
type Version struct {
	Number    int64
	Timestamp int64 // commit time, epoch millis

	// Files is the full file set at this version, in commit order. The slice
	// is the canonical deterministic order the planner truncates against.
	Files []sharing.FileEntry
	// Metadata pinned by this version.
	Metadata *sharing.Metadata
	// Changes are the actions committed at this version, ordered by
	// intra-version sequence.
	Changes []sharing.ChangeAction
}

// Table is the file index of one shared table across its retained versions,
// ordered by version ascending. Safe for concurrent readers.
type Table struct {
	versions       []Version
	changeDataFeed bool
}

// Current returns the latest version number. A Table always has at least one
// version; the Builder refuses to build an empty history.
func (t *Table) Current() int64 {
	return t.versions[len(t.versions)-1].Number
}

// Metadata returns the metadata snapshot pinned by the given version.
func (t *Table) Metadata(version int64) (*sharing.Metadata, error) {
	v, err := t.at(version)
	if err != nil {
		return nil, err
	}

	return v.Metadata, nil
}

// FilesAt returns the file entries of the given version, in the index's
// deterministic order. Repeated calls with the same version return the same
// set in the same order. The returned slice is shared and must not be
// mutated by callers.
func (t *Table) FilesAt(version int64) ([]sharing.FileEntry, error) {
	v, err := t.at(version)
	if err != nil {
		return nil, err
	}

	return v.Files, nil
}

// ResolveTimestamp returns the latest version committed at or before ts, or
// sharing.ErrVersionNotFound if no version existed yet.
func (t *Table) ResolveTimestamp(ts time.Time) (int64, error) {
	millis := ts.UnixMilli()
	resolved := int64(-1)
	for _, v := range t.versions {
		if v.Timestamp > millis {
			break
		}
		resolved = v.Number
	}
	if resolved < 0 {
		return 0, fmt.Errorf("%w: no version at or before %s", sharing.ErrVersionNotFound, ts.Format(time.RFC3339))
	}

	return resolved, nil
}

// ChangesSince returns the change actions committed in [startingVersion,
// endingVersion], ordered by version ascending then intra-version sequence.
// A nil endingVersion means the current version.
func (t *Table) ChangesSince(startingVersion int64, endingVersion *int64) ([]sharing.ChangeAction, error) {
	if !t.changeDataFeed {
		return nil, fmt.Errorf("%w for this table", sharing.ErrChangesNotEnabled)
	}

	end := t.Current()
	if endingVersion != nil {
		end = *endingVersion
	}

	if startingVersion > t.Current() {
		return nil, fmt.Errorf("%w: %d is later than current version %d",
			sharing.ErrVersionOutOfRange, startingVersion, t.Current())
	}
	if startingVersion < t.versions[0].Number {
		return nil, fmt.Errorf("%w: %d precedes retained history (earliest %d)",
			sharing.ErrVersionOutOfRange, startingVersion, t.versions[0].Number)
	}
	if end < startingVersion {
		return nil, fmt.Errorf("%w: endingVersion %d precedes startingVersion %d",
			sharing.ErrBadRequest, end, startingVersion)
	}

	var actions []sharing.ChangeAction
	for _, v := range t.versions {
		if v.Number < startingVersion || v.Number > end {
			continue
		}
		actions = append(actions, v.Changes...)
	}

	return actions, nil
}

func (t *Table) at(version int64) (*Version, error) {
	i, ok := slices.BinarySearchFunc(t.versions, version, func(v Version, n int64) int {
		switch {
		case v.Number < n:
			return -1
		case v.Number > n:
			return 1
		default:
			return 0
		}
	})
	if !ok {
		return nil, fmt.Errorf("%w: version %d", sharing.ErrVersionNotFound, version)
	}

	return &t.versions[i], nil
}

// Builder assembles a Table version by version.
type Builder struct {
	table Table
	err   error
}

// NewBuilder starts a table history. cdf enables change data feed queries.
func NewBuilder(cdf bool) *Builder {
	return &Builder{table: Table{changeDataFeed: cdf}}
}

// Version appends a committed version. Versions must be added in strictly
// ascending order; each version carries the full file set visible at that
// version plus the actions committed in it.
func (b *Builder) Version(v Version) *Builder {
	if b.err != nil {
		return b
	}

	if n := len(b.table.versions); n > 0 && v.Number <= b.table.versions[n-1].Number {
		b.err = fmt.Errorf("version %d added out of order (last %d)",
			v.Number, b.table.versions[n-1].Number)

		return b
	}
	if v.Metadata == nil {
		b.err = fmt.Errorf("version %d has no metadata snapshot", v.Number)

		return b
	}

	// Tag sequence numbers and version/timestamp onto actions and files so
	// encoders do not need to look them up again.
	for i := range v.Changes {
		v.Changes[i].Sequence = i
		v.Changes[i].Version = v.Number
		v.Changes[i].Timestamp = v.Timestamp
		if v.Changes[i].File != nil && v.Changes[i].File.Version == 0 {
			v.Changes[i].File.Version = v.Number
			v.Changes[i].File.Timestamp = v.Timestamp
		}
	}
	v.Metadata.Version = v.Number

	b.table.versions = append(b.table.versions, v)

	return b
}

// Build finalizes the table. It fails on an empty history or out-of-order
// versions.
func (b *Builder) Build() (*Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.table.versions) == 0 {
		return nil, fmt.Errorf("table history is empty")
	}

	return &b.table, nil
}
