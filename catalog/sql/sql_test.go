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

package sql

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/delta-io/sharing-go"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cat, err := NewCatalog(context.Background(), db)
	require.NoError(t, err)

	return cat
}

func seedCatalog(t *testing.T, cat *Catalog) {
	t.Helper()
	ctx := context.Background()

	_, err := cat.db.NewInsert().Model(&sqlShare{Name: "sales", ID: "share-1", Active: true}).Exec(ctx)
	require.NoError(t, err)
	_, err = cat.db.NewInsert().Model(&sqlShare{Name: "secret", ID: "share-2", Active: false}).Exec(ctx)
	require.NoError(t, err)

	_, err = cat.db.NewInsert().Model(&sqlSchema{ShareName: "sales", Name: "emea"}).Exec(ctx)
	require.NoError(t, err)

	_, err = cat.db.NewInsert().Model(&sqlTable{
		ShareName: "sales", SchemaName: "emea", Name: "orders",
		ID: "table-1", Format: "parquet", ChangeDataFeed: true,
		ColumnsJSON:    `[{"Name":"id","Type":"long","Nullable":false},{"Name":"region","Type":"string","Nullable":true}]`,
		PartitionsJSON: `["region"]`,
	}).Exec(ctx)
	require.NoError(t, err)

	versions := []sqlVersion{
		{ShareName: "sales", SchemaName: "emea", TableName: "orders", Version: 1,
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ShareName: "sales", SchemaName: "emea", TableName: "orders", Version: 2,
			Timestamp: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	_, err = cat.db.NewInsert().Model(&versions).Exec(ctx)
	require.NoError(t, err)

	files := []sqlFile{
		{ShareName: "sales", SchemaName: "emea", TableName: "orders", FileID: "f1",
			URL: "https://bucket/f1.parquet", Size: 100, AddedAt: 1,
			PartitionsJSON: `{"region":"us"}`, StatsJSON: `{"numRecords":10}`},
		{ShareName: "sales", SchemaName: "emea", TableName: "orders", FileID: "f2",
			URL: "https://bucket/f2.parquet", Size: 200, AddedAt: 1,
			RemovedAt:      sql.NullInt64{Int64: 2, Valid: true},
			PartitionsJSON: `{"region":"eu"}`},
		{ShareName: "sales", SchemaName: "emea", TableName: "orders", FileID: "f3",
			URL: "https://bucket/f3.parquet", Size: 300, AddedAt: 2,
			PartitionsJSON: `{"region":"us"}`},
	}
	_, err = cat.db.NewInsert().Model(&files).Exec(ctx)
	require.NoError(t, err)
}

func TestSQLCatalogRoundTrip(t *testing.T) {
	cat := testCatalog(t)
	ctx := context.Background()

	// Before seeding, the catalog serves the empty snapshot it loaded at
	// construction time.
	page, err := cat.ListShares(ctx, "", 0)
	require.NoError(t, err)
	require.Empty(t, page.Items)

	seedCatalog(t, cat)
	require.NoError(t, cat.Refresh(ctx))

	page, err = cat.ListShares(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "sales", page.Items[0].Name)

	// Inactive shares stay hidden.
	_, err = cat.GetShare(ctx, "secret")
	require.ErrorIs(t, err, sharing.ErrNoSuchShare)

	table, idx, err := cat.LoadTable(ctx, "sales", "emea", "orders")
	require.NoError(t, err)
	require.True(t, table.ChangeDataFeed)
	require.EqualValues(t, 2, table.CurrentVersion)

	// f3 only lands at version 2; f2 is still present at version 1 because
	// its removal happens at version 2.
	files, err := idx.FilesAt(1)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "f1", files[0].ID)
	require.Equal(t, "f2", files[1].ID)

	// f2 was removed at version 2.
	files, err = idx.FilesAt(2)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "f1", files[0].ID)
	require.Equal(t, "f3", files[1].ID)

	// Version numbers and commit timestamps come through the loader intact.
	resolved, err := idx.ResolveTimestamp(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.EqualValues(t, 1, resolved)

	meta, err := idx.Metadata(2)
	require.NoError(t, err)
	require.Equal(t, []string{"region"}, meta.PartitionColumns)
	colType, ok := meta.PartitionType("region")
	require.True(t, ok)
	require.Equal(t, sharing.TypeString, colType)

	changes, err := idx.ChangesSince(2, nil)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, sharing.ChangeRemove, changes[0].Type)
	require.Equal(t, "f2", changes[0].File.ID)
	require.Equal(t, sharing.ChangeAdd, changes[1].Type)
	require.Equal(t, "f3", changes[1].File.ID)
}
