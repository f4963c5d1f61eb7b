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

// Package plan turns a table query into the concrete set of file entries (or
// change actions) to stream back: it resolves the requested version, applies
// partition-predicate skipping and the limit hint, and pins the metadata the
// response must carry.
package plan

import (
	"fmt"
	"slices"
	"time"

	"github.com/delta-io/sharing-go"
	"github.com/delta-io/sharing-go/index"
)

// Request describes one query against a table snapshot. Version and
// Timestamp are mutually exclusive; with neither set the latest version is
// queried.
type Request struct {
	Version   *int64
	Timestamp *time.Time

	// PredicateHints are conjunctive partition filter hints. Hints that
	// cannot be applied soundly are ignored, never used to exclude files.
	PredicateHints []string
	// LimitHint caps the number of returned files. It is treated as a hard
	// upper bound on the file list, not merely advisory.
	LimitHint *int64
}

// Plan is a resolved query: the version it pinned, that version's metadata,
// and the surviving file entries in the index's deterministic order.
type Plan struct {
	Table    sharing.Table
	Version  int64
	Metadata *sharing.Metadata
	Files    []sharing.FileEntry
}

// RequiredFeatures returns the reader features a client must support to read
// this plan: the table's own requirements plus anything the surviving files
// demand (deletion vectors, for one). Order is deterministic.
func (p *Plan) RequiredFeatures() []sharing.ReaderFeature {
	features := slices.Clone(p.Metadata.RequiredFeatures)
	for _, f := range p.Files {
		for _, feat := range f.RequiredFeatures() {
			if !slices.Contains(features, feat) {
				features = append(features, feat)
			}
		}
	}
	slices.Sort(features)

	return features
}

// Files plans a file query against the table's index.
func Files(table sharing.Table, idx *index.Table, req Request) (*Plan, error) {
	version, err := resolveVersion(idx, req.Version, req.Timestamp)
	if err != nil {
		return nil, err
	}

	meta, err := idx.Metadata(version)
	if err != nil {
		return nil, err
	}

	all, err := idx.FilesAt(version)
	if err != nil {
		return nil, err
	}

	eval := sharing.NewEvaluator(meta)
	files := make([]sharing.FileEntry, 0, len(all))
	for _, f := range all {
		if req.LimitHint != nil && int64(len(files)) >= *req.LimitHint {
			break
		}
		if len(req.PredicateHints) > 0 && !eval.Matches(f.PartitionValues, req.PredicateHints) {
			continue
		}
		files = append(files, f)
	}

	return &Plan{Table: table, Version: version, Metadata: meta, Files: files}, nil
}

// Metadata plans a metadata-only query: same version resolution as Files,
// no file listing.
func Metadata(table sharing.Table, idx *index.Table, version *int64, ts *time.Time) (*Plan, error) {
	resolved, err := resolveVersion(idx, version, ts)
	if err != nil {
		return nil, err
	}

	meta, err := idx.Metadata(resolved)
	if err != nil {
		return nil, err
	}

	return &Plan{Table: table, Version: resolved, Metadata: meta}, nil
}

func resolveVersion(idx *index.Table, version *int64, ts *time.Time) (int64, error) {
	switch {
	case version != nil && ts != nil:
		return 0, fmt.Errorf("%w: version and timestamp are mutually exclusive", sharing.ErrBadRequest)
	case version != nil:
		if *version < 0 {
			return 0, fmt.Errorf("%w: version must be non-negative", sharing.ErrBadRequest)
		}
		// Probe the index so unknown versions fail here, not at metadata time.
		if _, err := idx.Metadata(*version); err != nil {
			return 0, err
		}

		return *version, nil
	case ts != nil:
		return idx.ResolveTimestamp(*ts)
	default:
		return idx.Current(), nil
	}
}

// ChangesRequest describes a change data feed query. Exactly one of
// StartingVersion and StartingTimestamp must be set; the ending bound is
// optional and defaults to the current version.
type ChangesRequest struct {
	StartingVersion   *int64
	StartingTimestamp *time.Time
	EndingVersion     *int64
	EndingTimestamp   *time.Time
}

// ChangesPlan is a resolved change data feed query. Actions are ordered by
// version ascending, then by intra-version sequence.
type ChangesPlan struct {
	Table    sharing.Table
	Metadata *sharing.Metadata
	Changes  []sharing.ChangeAction
}

// Changes plans a change data feed query against the table's index.
func Changes(table sharing.Table, idx *index.Table, req ChangesRequest) (*ChangesPlan, error) {
	var start int64
	switch {
	case req.StartingVersion != nil && req.StartingTimestamp != nil:
		return nil, fmt.Errorf("%w: startingVersion and startingTimestamp are mutually exclusive", sharing.ErrBadRequest)
	case req.StartingVersion != nil:
		start = *req.StartingVersion
	case req.StartingTimestamp != nil:
		v, err := idx.ResolveTimestamp(*req.StartingTimestamp)
		if err != nil {
			return nil, err
		}
		start = v
	default:
		return nil, fmt.Errorf("%w: a starting version or timestamp is required", sharing.ErrBadRequest)
	}

	var end *int64
	switch {
	case req.EndingVersion != nil && req.EndingTimestamp != nil:
		return nil, fmt.Errorf("%w: endingVersion and endingTimestamp are mutually exclusive", sharing.ErrBadRequest)
	case req.EndingVersion != nil:
		end = req.EndingVersion
	case req.EndingTimestamp != nil:
		v, err := idx.ResolveTimestamp(*req.EndingTimestamp)
		if err != nil {
			return nil, err
		}
		end = &v
	}

	changes, err := idx.ChangesSince(start, end)
	if err != nil {
		return nil, err
	}

	meta, err := idx.Metadata(idx.Current())
	if err != nil {
		return nil, err
	}

	return &ChangesPlan{Table: table, Metadata: meta, Changes: changes}, nil
}
