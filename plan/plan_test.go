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

package plan

import (
	"testing"
	"time"

	"github.com/delta-io/sharing-go"
	"github.com/delta-io/sharing-go/index"
	"github.com/stretchr/testify/require"
)

var (
	t1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
)

func testMeta() *sharing.Metadata {
	return &sharing.Metadata{
		ID:     "meta-id",
		Name:   "events",
		Format: sharing.FormatParquet,
		Columns: []sharing.Column{
			{Name: "id", Type: sharing.TypeLong},
			{Name: "region", Type: sharing.TypeString, Nullable: true},
		},
		PartitionColumns: []string{"region"},
		Configuration:    map[string]string{},
		MinReaderVersion: 1,
		MinWriterVersion: 1,
	}
}

func region(r string) map[string]string { return map[string]string{"region": r} }

func testTable(t *testing.T) (sharing.Table, *index.Table) {
	t.Helper()

	v1Files := []sharing.FileEntry{
		{ID: "a", URL: "https://bucket/a", Size: 100, PartitionValues: region("us")},
		{ID: "b", URL: "https://bucket/b", Size: 100, PartitionValues: region("eu")},
		{ID: "c", URL: "https://bucket/c", Size: 100, PartitionValues: region("us")},
	}
	v2Files := append(v1Files,
		sharing.FileEntry{ID: "d", URL: "https://bucket/d", Size: 100, PartitionValues: region("ap")},
		sharing.FileEntry{ID: "e", URL: "https://bucket/e", Size: 100, PartitionValues: region("eu")},
	)

	idx, err := index.NewBuilder(true).
		Version(index.Version{
			Number: 1, Timestamp: t1.UnixMilli(), Metadata: testMeta(), Files: v1Files,
			Changes: []sharing.ChangeAction{
				{Type: sharing.ChangeAdd, File: &v1Files[0]},
				{Type: sharing.ChangeAdd, File: &v1Files[1]},
				{Type: sharing.ChangeAdd, File: &v1Files[2]},
			},
		}).
		Version(index.Version{
			Number: 3, Timestamp: t2.UnixMilli(), Metadata: testMeta(), Files: v2Files,
			Changes: []sharing.ChangeAction{
				{Type: sharing.ChangeAdd, File: &v2Files[3]},
				{Type: sharing.ChangeAdd, File: &v2Files[4]},
			},
		}).
		Build()
	require.NoError(t, err)

	return sharing.Table{
		Name: "events", Schema: "web", Share: "analytics",
		Format: sharing.FormatParquet, ChangeDataFeed: true,
	}, idx
}

func TestFilesLatest(t *testing.T) {
	table, idx := testTable(t)

	p, err := Files(table, idx, Request{})
	require.NoError(t, err)
	require.EqualValues(t, 3, p.Version)
	require.Len(t, p.Files, 5)
	require.EqualValues(t, 3, p.Metadata.Version)
}

func TestFilesExplicitVersionMatchesLatest(t *testing.T) {
	table, idx := testTable(t)

	latest, err := Files(table, idx, Request{})
	require.NoError(t, err)

	v := int64(3)
	pinned, err := Files(table, idx, Request{Version: &v})
	require.NoError(t, err)

	require.Equal(t, latest.Files, pinned.Files)
	require.Equal(t, latest.Metadata, pinned.Metadata)
}

func TestFilesVersionResolution(t *testing.T) {
	table, idx := testTable(t)

	v1 := int64(1)
	p, err := Files(table, idx, Request{Version: &v1})
	require.NoError(t, err)
	require.Len(t, p.Files, 3)

	missing := int64(2)
	_, err = Files(table, idx, Request{Version: &missing})
	require.ErrorIs(t, err, sharing.ErrVersionNotFound)

	neg := int64(-1)
	_, err = Files(table, idx, Request{Version: &neg})
	require.ErrorIs(t, err, sharing.ErrBadRequest)

	ts := t1.Add(time.Hour)
	p, err = Files(table, idx, Request{Timestamp: &ts})
	require.NoError(t, err)
	require.EqualValues(t, 1, p.Version)

	early := t1.Add(-time.Hour)
	_, err = Files(table, idx, Request{Timestamp: &early})
	require.ErrorIs(t, err, sharing.ErrVersionNotFound)

	_, err = Files(table, idx, Request{Version: &v1, Timestamp: &ts})
	require.ErrorIs(t, err, sharing.ErrBadRequest)
}

func TestFilesPredicateSkipping(t *testing.T) {
	table, idx := testTable(t)

	p, err := Files(table, idx, Request{PredicateHints: []string{"region = 'us'"}})
	require.NoError(t, err)
	require.Len(t, p.Files, 2)
	require.Equal(t, "a", p.Files[0].ID)
	require.Equal(t, "c", p.Files[1].ID)

	// Hints that cannot be applied soundly never exclude files.
	p, err = Files(table, idx, Request{PredicateHints: []string{"nonsense hint!!"}})
	require.NoError(t, err)
	require.Len(t, p.Files, 5)
}

func TestFilesLimitHint(t *testing.T) {
	table, idx := testTable(t)

	limit := int64(2)
	first, err := Files(table, idx, Request{LimitHint: &limit})
	require.NoError(t, err)
	require.Len(t, first.Files, 2)

	// Deterministic: the same query returns the same prefix.
	second, err := Files(table, idx, Request{LimitHint: &limit})
	require.NoError(t, err)
	require.Equal(t, first.Files, second.Files)

	zero := int64(0)
	p, err := Files(table, idx, Request{LimitHint: &zero})
	require.NoError(t, err)
	require.Empty(t, p.Files)

	big := int64(100)
	p, err = Files(table, idx, Request{LimitHint: &big})
	require.NoError(t, err)
	require.Len(t, p.Files, 5)
}

func TestRequiredFeatures(t *testing.T) {
	meta := testMeta()
	meta.RequiredFeatures = []sharing.ReaderFeature{sharing.FeatureColumnMapping}

	files := []sharing.FileEntry{{
		ID: "dv", URL: "https://bucket/dv", Size: 10,
		DeletionVector: &sharing.DeletionVector{StorageType: "u", PathOrInlineDv: "x", SizeInBytes: 1, Cardinality: 1},
	}}
	idx, err := index.NewBuilder(false).
		Version(index.Version{Number: 1, Timestamp: t1.UnixMilli(), Metadata: meta, Files: files}).
		Build()
	require.NoError(t, err)

	p, err := Files(sharing.Table{Name: "t"}, idx, Request{})
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]sharing.ReaderFeature{sharing.FeatureColumnMapping, sharing.FeatureDeletionVectors},
		p.RequiredFeatures())
}

func TestMetadataPlan(t *testing.T) {
	table, idx := testTable(t)

	v := int64(1)
	p, err := Metadata(table, idx, &v, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, p.Version)
	require.Empty(t, p.Files)
}

func TestChanges(t *testing.T) {
	table, idx := testTable(t)

	start := int64(1)
	p, err := Changes(table, idx, ChangesRequest{StartingVersion: &start})
	require.NoError(t, err)
	require.Len(t, p.Changes, 5)

	// Ordered by version, then intra-version sequence.
	for i := 1; i < len(p.Changes); i++ {
		prev, cur := p.Changes[i-1], p.Changes[i]
		require.True(t, prev.Version < cur.Version ||
			(prev.Version == cur.Version && prev.Sequence < cur.Sequence))
	}

	start3 := int64(3)
	p, err = Changes(table, idx, ChangesRequest{StartingVersion: &start3})
	require.NoError(t, err)
	require.Len(t, p.Changes, 2)

	end := int64(1)
	p, err = Changes(table, idx, ChangesRequest{StartingVersion: &start, EndingVersion: &end})
	require.NoError(t, err)
	require.Len(t, p.Changes, 3)
}

func TestChangesValidation(t *testing.T) {
	table, idx := testTable(t)

	_, err := Changes(table, idx, ChangesRequest{})
	require.ErrorIs(t, err, sharing.ErrBadRequest)

	start := int64(1)
	ts := t1
	_, err = Changes(table, idx, ChangesRequest{StartingVersion: &start, StartingTimestamp: &ts})
	require.ErrorIs(t, err, sharing.ErrBadRequest)

	late := int64(9)
	_, err = Changes(table, idx, ChangesRequest{StartingVersion: &late})
	require.ErrorIs(t, err, sharing.ErrVersionOutOfRange)

	end := int64(0)
	_, err = Changes(table, idx, ChangesRequest{StartingVersion: &start, EndingVersion: &end})
	require.ErrorIs(t, err, sharing.ErrBadRequest)

	noCDF, err := index.NewBuilder(false).
		Version(index.Version{Number: 1, Timestamp: t1.UnixMilli(), Metadata: testMeta()}).
		Build()
	require.NoError(t, err)
	_, err = Changes(table, noCDF, ChangesRequest{StartingVersion: &start})
	require.ErrorIs(t, err, sharing.ErrChangesNotEnabled)
}
