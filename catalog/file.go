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

package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/delta-io/sharing-go"
	"github.com/delta-io/sharing-go/index"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

func init() {
	Register(string(File), RegistrarFunc(func(ctx context.Context, props Properties) (Catalog, error) {
		path := props.Get("path", "")
		if path == "" {
			return nil, fmt.Errorf("file catalog requires a 'path' property")
		}

		return LoadFileCatalog(path)
	}))
}

// seedDoc is the YAML document format of the file catalog backend: the full
// share/schema/table tree plus per-table file histories.
type seedDoc struct {
	Shares []seedShare `yaml:"shares"`
}

type seedShare struct {
	Name    string       `yaml:"name"`
	ID      string       `yaml:"id"`
	Active  *bool        `yaml:"active"`
	Schemas []seedSchema `yaml:"schemas"`
}

type seedSchema struct {
	Name   string      `yaml:"name"`
	Tables []seedTable `yaml:"tables"`
}

type seedTable struct {
	Name             string          `yaml:"name"`
	ID               string          `yaml:"id"`
	Format           string          `yaml:"format"`
	ChangeDataFeed   bool            `yaml:"changeDataFeed"`
	ShareAsView      bool            `yaml:"shareAsView"`
	Columns          []seedColumn    `yaml:"columns"`
	PartitionColumns []string        `yaml:"partitionColumns"`
	RequiredFeatures []string        `yaml:"requiredFeatures"`
	Versions         []seedVersion   `yaml:"versions"`
	Files            []seedFileEntry `yaml:"files"`
}

type seedColumn struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable *bool  `yaml:"nullable"`
}

type seedVersion struct {
	Version   int64     `yaml:"version"`
	Timestamp time.Time `yaml:"timestamp"`
}

type seedFileEntry struct {
	ID              string            `yaml:"id"`
	Path            string            `yaml:"path"`
	URL             string            `yaml:"url"`
	Size            int64             `yaml:"size"`
	AddedAt         int64             `yaml:"addedAt"`
	RemovedAt       *int64            `yaml:"removedAt"`
	PartitionValues map[string]string `yaml:"partitionValues"`
	Stats           *seedStats        `yaml:"stats"`
	DeletionVector  *seedDV           `yaml:"deletionVector"`
}

type seedStats struct {
	NumRecords int64            `yaml:"numRecords"`
	MinValues  map[string]any   `yaml:"minValues"`
	MaxValues  map[string]any   `yaml:"maxValues"`
	NullCount  map[string]int64 `yaml:"nullCount"`
}

type seedDV struct {
	StorageType    string `yaml:"storageType"`
	PathOrInlineDv string `yaml:"pathOrInlineDv"`
	Offset         int32  `yaml:"offset"`
	SizeInBytes    int32  `yaml:"sizeInBytes"`
	Cardinality    int64  `yaml:"cardinality"`
}

// LoadFileCatalog reads a YAML seed file into an in-memory catalog. The seed
// describes each table's files with the version that added (and optionally
// removed) them; version file sets and change actions are derived from that.
func LoadFileCatalog(path string) (*MemoryCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog seed: %w", err)
	}

	snap, err := ParseSeed(raw)
	if err != nil {
		return nil, err
	}

	return NewMemoryCatalog(snap), nil
}

// ParseSeed builds a snapshot from a YAML seed document.
func ParseSeed(raw []byte) (*Snapshot, error) {
	var doc seedDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog seed: %w", err)
	}

	b := NewSnapshotBuilder()
	for _, sh := range doc.Shares {
		active := true
		if sh.Active != nil {
			active = *sh.Active
		}
		id := sh.ID
		if id == "" {
			id = uuid.NewString()
		}
		b.Share(sharing.Share{Name: sh.Name, ID: id, Active: active})

		for _, sc := range sh.Schemas {
			b.Schema(sharing.Schema{Name: sc.Name, Share: sh.Name})

			for _, tb := range sc.Tables {
				idx, table, err := buildSeedTable(sh.Name, sc.Name, tb)
				if err != nil {
					return nil, fmt.Errorf("table %s.%s.%s: %w", sh.Name, sc.Name, tb.Name, err)
				}
				b.Table(table, idx)
			}
		}
	}

	return b.Build()
}

func buildSeedTable(share, schema string, tb seedTable) (*index.Table, sharing.Table, error) {
	format := sharing.TableFormat(tb.Format)
	if format == "" {
		format = sharing.FormatParquet
	}

	id := tb.ID
	if id == "" {
		id = uuid.NewString()
	}

	columns := make([]sharing.Column, 0, len(tb.Columns))
	for _, c := range tb.Columns {
		nullable := true
		if c.Nullable != nil {
			nullable = *c.Nullable
		}
		columns = append(columns, sharing.Column{
			Name:     c.Name,
			Type:     sharing.PrimitiveType(c.Type),
			Nullable: nullable,
		})
	}

	features := make([]sharing.ReaderFeature, 0, len(tb.RequiredFeatures))
	for _, f := range tb.RequiredFeatures {
		features = append(features, sharing.ParseReaderFeature(f))
	}

	versions := tb.Versions
	if len(versions) == 0 {
		versions = []seedVersion{{Version: 0, Timestamp: time.Now().UTC()}}
	}

	versionTimes := make(map[int64]time.Time, len(versions))
	for _, v := range versions {
		versionTimes[v.Version] = v.Timestamp
	}

	builder := index.NewBuilder(tb.ChangeDataFeed)
	for _, v := range versions {
		meta := &sharing.Metadata{
			ID:               id,
			Name:             tb.Name,
			Format:           format,
			Columns:          columns,
			PartitionColumns: tb.PartitionColumns,
			Configuration:    map[string]string{},
			RequiredFeatures: features,
			MinReaderVersion: 1,
			MinWriterVersion: 1,
		}

		var (
			files   []sharing.FileEntry
			changes []sharing.ChangeAction
		)
		for _, f := range tb.Files {
			addedTime := v.Timestamp
			if ts, ok := versionTimes[f.AddedAt]; ok {
				addedTime = ts
			}
			entry, err := seedEntry(f, addedTime)
			if err != nil {
				return nil, sharing.Table{}, err
			}

			removed := f.RemovedAt != nil && *f.RemovedAt <= v.Version
			if f.AddedAt <= v.Version && !removed {
				files = append(files, entry)
			}
			if f.AddedAt == v.Version {
				e := entry
				changes = append(changes, sharing.ChangeAction{Type: sharing.ChangeAdd, File: &e})
			}
			if f.RemovedAt != nil && *f.RemovedAt == v.Version {
				e := entry
				changes = append(changes, sharing.ChangeAction{Type: sharing.ChangeRemove, File: &e})
			}
		}

		builder.Version(index.Version{
			Number:    v.Version,
			Timestamp: v.Timestamp.UnixMilli(),
			Files:     files,
			Metadata:  meta,
			Changes:   changes,
		})
	}

	idx, err := builder.Build()
	if err != nil {
		return nil, sharing.Table{}, err
	}

	return idx, sharing.Table{
		Name:           tb.Name,
		Schema:         schema,
		Share:          share,
		ID:             id,
		Format:         format,
		ChangeDataFeed: tb.ChangeDataFeed,
		ShareAsView:    tb.ShareAsView,
	}, nil
}

func seedEntry(f seedFileEntry, ts time.Time) (sharing.FileEntry, error) {
	if f.ID == "" && f.Path == "" {
		return sharing.FileEntry{}, fmt.Errorf("file entry needs an id or a path")
	}

	id := f.ID
	if id == "" {
		id = f.Path
	}
	url := f.URL
	if url == "" {
		url = f.Path
	}

	entry := sharing.FileEntry{
		ID:              id,
		Path:            f.Path,
		URL:             url,
		Size:            f.Size,
		PartitionValues: f.PartitionValues,
		Version:         f.AddedAt,
		Timestamp:       ts.UnixMilli(),
	}
	if f.Stats != nil {
		entry.Stats = &sharing.FileStats{
			NumRecords: f.Stats.NumRecords,
			MinValues:  f.Stats.MinValues,
			MaxValues:  f.Stats.MaxValues,
			NullCount:  f.Stats.NullCount,
		}
	}
	if f.DeletionVector != nil {
		entry.DeletionVector = &sharing.DeletionVector{
			StorageType:    f.DeletionVector.StorageType,
			PathOrInlineDv: f.DeletionVector.PathOrInlineDv,
			Offset:         f.DeletionVector.Offset,
			SizeInBytes:    f.DeletionVector.SizeInBytes,
			Cardinality:    f.DeletionVector.Cardinality,
		}
	}

	return entry, nil
}
