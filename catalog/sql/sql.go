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

// Package sql provides a relational catalog backend. The share/schema/table
// registry and per-table file histories live in SQL tables; Load reads them
// into an immutable snapshot served from memory, and Refresh republishes.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/delta-io/sharing-go"
	"github.com/delta-io/sharing-go/catalog"
	"github.com/delta-io/sharing-go/index"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

const (
	DriverKey = "driver"
	URIKey    = "uri"
)

func init() {
	catalog.Register(string(catalog.SQL), catalog.RegistrarFunc(
		func(ctx context.Context, props catalog.Properties) (catalog.Catalog, error) {
			driver := props.Get(DriverKey, sqliteshim.ShimName)
			uri := props.Get(URIKey, "")
			if uri == "" {
				return nil, errors.New("sql catalog requires a 'uri' property")
			}

			db, err := sql.Open(driver, uri)
			if err != nil {
				return nil, err
			}

			return NewCatalog(ctx, db)
		}))
}

type sqlShare struct {
	bun.BaseModel `bun:"table:shares"`

	Name   string `bun:",pk"`
	ID     string
	Active bool
}

type sqlSchema struct {
	bun.BaseModel `bun:"table:share_schemas"`

	ShareName string `bun:",pk"`
	Name      string `bun:",pk"`
}

type sqlTable struct {
	bun.BaseModel `bun:"table:share_tables"`

	ShareName  string `bun:",pk"`
	SchemaName string `bun:",pk"`
	Name       string `bun:",pk"`

	ID             string
	Format         string
	ChangeDataFeed bool
	ShareAsView    bool
	// ColumnsJSON holds the data schema as a JSON array of
	// {name,type,nullable}; PartitionsJSON the partition column names.
	ColumnsJSON    string `bun:"columns_json"`
	PartitionsJSON string `bun:"partitions_json"`
	FeaturesJSON   string `bun:"features_json"`
}

type sqlVersion struct {
	bun.BaseModel `bun:"table:table_versions"`

	ShareName  string `bun:",pk"`
	SchemaName string `bun:",pk"`
	TableName  string `bun:",pk"`
	Version    int64  `bun:",pk"`
	Timestamp  time.Time
}

type sqlFile struct {
	bun.BaseModel `bun:"table:table_files"`

	ShareName  string `bun:",pk"`
	SchemaName string `bun:",pk"`
	TableName  string `bun:",pk"`
	FileID     string `bun:",pk"`

	Path      string
	URL       string
	Size      int64
	AddedAt   int64
	RemovedAt sql.NullInt64
	// JSON-encoded partition values, statistics and deletion vector.
	PartitionsJSON string `bun:"partitions_json"`
	StatsJSON      string `bun:"stats_json"`
	DVJSON         string `bun:"dv_json"`
}

func withReadTx[R any](ctx context.Context, db *bun.DB, fn func(context.Context, bun.Tx) (R, error)) (result R, err error) {
	err = db.RunInTx(ctx, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx bun.Tx) error {
		result, err = fn(ctx, tx)

		return err
	})

	return
}

// Catalog is a relational-backed catalog. Reads are served from the snapshot
// loaded at construction time (or the last Refresh); the database is only
// touched when refreshing.
type Catalog struct {
	*catalog.MemoryCatalog

	db *bun.DB
}

var _ catalog.Catalog = (*Catalog)(nil)

// NewCatalog wraps the given database handle and loads the initial snapshot.
//
// The environment variable SHARING_SQL_DEBUG can be set to log queries:
// 1 logs only failed queries, 2 logs all queries.
func NewCatalog(ctx context.Context, db *sql.DB) (*Catalog, error) {
	bdb := bun.NewDB(db, sqlitedialect.New())
	bdb.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		bundebug.FromEnv("SHARING_SQL_DEBUG")))

	c := &Catalog{db: bdb}
	if err := c.CreateTables(ctx); err != nil {
		return nil, err
	}

	snap, err := c.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	c.MemoryCatalog = catalog.NewMemoryCatalog(snap)

	return c, nil
}

func (c *Catalog) CatalogType() catalog.Type { return catalog.SQL }

// CreateTables creates the catalog tables if they do not already exist.
func (c *Catalog) CreateTables(ctx context.Context) error {
	for _, model := range []any{
		(*sqlShare)(nil), (*sqlSchema)(nil), (*sqlTable)(nil),
		(*sqlVersion)(nil), (*sqlFile)(nil),
	} {
		if _, err := c.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Refresh reloads the registry from the database and atomically publishes
// the new snapshot. Concurrent readers keep their current snapshot.
func (c *Catalog) Refresh(ctx context.Context) error {
	snap, err := c.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	c.Publish(snap)

	return nil
}

func (c *Catalog) loadSnapshot(ctx context.Context) (*catalog.Snapshot, error) {
	return withReadTx(ctx, c.db, func(ctx context.Context, tx bun.Tx) (*catalog.Snapshot, error) {
		b := catalog.NewSnapshotBuilder()

		var shares []sqlShare
		if err := tx.NewSelect().Model(&shares).Scan(ctx); err != nil {
			return nil, err
		}
		for _, s := range shares {
			b.Share(sharing.Share{Name: s.Name, ID: s.ID, Active: s.Active})
		}

		var schemas []sqlSchema
		if err := tx.NewSelect().Model(&schemas).Scan(ctx); err != nil {
			return nil, err
		}
		for _, s := range schemas {
			b.Schema(sharing.Schema{Name: s.Name, Share: s.ShareName})
		}

		var tables []sqlTable
		if err := tx.NewSelect().Model(&tables).Scan(ctx); err != nil {
			return nil, err
		}
		for _, t := range tables {
			idx, tbl, err := c.loadTable(ctx, tx, t)
			if err != nil {
				return nil, fmt.Errorf("loading table %s.%s.%s: %w",
					t.ShareName, t.SchemaName, t.Name, err)
			}
			b.Table(tbl, idx)
		}

		return b.Build()
	})
}

func (c *Catalog) loadTable(ctx context.Context, tx bun.Tx, t sqlTable) (*index.Table, sharing.Table, error) {
	var columns []sharing.Column
	if t.ColumnsJSON != "" {
		if err := json.Unmarshal([]byte(t.ColumnsJSON), &columns); err != nil {
			return nil, sharing.Table{}, fmt.Errorf("columns_json: %w", err)
		}
	}
	var partitions []string
	if t.PartitionsJSON != "" {
		if err := json.Unmarshal([]byte(t.PartitionsJSON), &partitions); err != nil {
			return nil, sharing.Table{}, fmt.Errorf("partitions_json: %w", err)
		}
	}
	var features []sharing.ReaderFeature
	if t.FeaturesJSON != "" {
		if err := json.Unmarshal([]byte(t.FeaturesJSON), &features); err != nil {
			return nil, sharing.Table{}, fmt.Errorf("features_json: %w", err)
		}
	}

	var versions []sqlVersion
	err := tx.NewSelect().Model(&versions).
		Where("share_name = ?", t.ShareName).
		Where("schema_name = ?", t.SchemaName).
		Where("table_name = ?", t.Name).
		Order("version ASC").
		Scan(ctx)
	if err != nil {
		return nil, sharing.Table{}, err
	}

	var files []sqlFile
	err = tx.NewSelect().Model(&files).
		Where("share_name = ?", t.ShareName).
		Where("schema_name = ?", t.SchemaName).
		Where("table_name = ?", t.Name).
		Order("added_at ASC", "file_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, sharing.Table{}, err
	}

	entries := make([]sharing.FileEntry, 0, len(files))
	removed := make(map[string]int64, len(files))
	versionTime := make(map[int64]int64, len(versions))
	for _, v := range versions {
		versionTime[v.Version] = v.Timestamp.UnixMilli()
	}
	for _, f := range files {
		entry, err := decodeFile(f, versionTime[f.AddedAt])
		if err != nil {
			return nil, sharing.Table{}, fmt.Errorf("file %s: %w", f.FileID, err)
		}
		entries = append(entries, entry)
		if f.RemovedAt.Valid {
			removed[f.FileID] = f.RemovedAt.Int64
		}
	}

	builder := index.NewBuilder(t.ChangeDataFeed)
	for _, v := range versions {
		meta := &sharing.Metadata{
			ID:               t.ID,
			Name:             t.Name,
			Format:           sharing.TableFormat(t.Format),
			Columns:          columns,
			PartitionColumns: partitions,
			Configuration:    map[string]string{},
			RequiredFeatures: features,
			MinReaderVersion: 1,
			MinWriterVersion: 1,
		}

		var (
			visible []sharing.FileEntry
			changes []sharing.ChangeAction
		)
		for i := range entries {
			e := entries[i]
			removedAt, wasRemoved := removed[e.ID]
			if e.Version <= v.Version && (!wasRemoved || removedAt > v.Version) {
				visible = append(visible, e)
			}
			if e.Version == v.Version {
				add := e
				changes = append(changes, sharing.ChangeAction{Type: sharing.ChangeAdd, File: &add})
			}
			if wasRemoved && removedAt == v.Version {
				rm := e
				changes = append(changes, sharing.ChangeAction{Type: sharing.ChangeRemove, File: &rm})
			}
		}

		builder.Version(index.Version{
			Number:    v.Version,
			Timestamp: v.Timestamp.UnixMilli(),
			Files:     visible,
			Metadata:  meta,
			Changes:   changes,
		})
	}

	idx, err := builder.Build()
	if err != nil {
		return nil, sharing.Table{}, err
	}

	return idx, sharing.Table{
		Name:           t.Name,
		Schema:         t.SchemaName,
		Share:          t.ShareName,
		ID:             t.ID,
		Format:         sharing.TableFormat(t.Format),
		ChangeDataFeed: t.ChangeDataFeed,
		ShareAsView:    t.ShareAsView,
	}, nil
}

func decodeFile(f sqlFile, ts int64) (sharing.FileEntry, error) {
	entry := sharing.FileEntry{
		ID:        f.FileID,
		Path:      f.Path,
		URL:       f.URL,
		Size:      f.Size,
		Version:   f.AddedAt,
		Timestamp: ts,
	}
	if entry.URL == "" {
		entry.URL = f.Path
	}

	if f.PartitionsJSON != "" {
		if err := json.Unmarshal([]byte(f.PartitionsJSON), &entry.PartitionValues); err != nil {
			return entry, fmt.Errorf("partitions_json: %w", err)
		}
	}
	if f.StatsJSON != "" {
		entry.Stats = &sharing.FileStats{}
		if err := json.Unmarshal([]byte(f.StatsJSON), entry.Stats); err != nil {
			return entry, fmt.Errorf("stats_json: %w", err)
		}
	}
	if f.DVJSON != "" {
		entry.DeletionVector = &sharing.DeletionVector{}
		if err := json.Unmarshal([]byte(f.DVJSON), entry.DeletionVector); err != nil {
			return entry, fmt.Errorf("dv_json: %w", err)
		}
	}

	return entry, nil
}
