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
	"slices"
	"strings"
	"sync/atomic"

	"github.com/delta-io/sharing-go"
	"github.com/delta-io/sharing-go/index"
)

// Snapshot is one immutable view of the catalog. Requests hold a snapshot
// for their whole lifetime, so a refresh can never tear a listing.
type Snapshot struct {
	shares  []sharing.Share             // active shares, sorted by name
	schemas map[string][]sharing.Schema // share -> schemas sorted by name
	tables  map[string][]sharing.Table  // share/schema -> tables sorted by name
	indexes map[string]*index.Table     // share/schema/table -> file index
}

func key(parts ...string) string { return strings.Join(parts, "\x1f") }

func init() {
	// The memory backend starts empty; content arrives through Publish.
	Register(string(Memory), RegistrarFunc(func(context.Context, Properties) (Catalog, error) {
		snap, err := NewSnapshotBuilder().Build()
		if err != nil {
			return nil, err
		}

		return NewMemoryCatalog(snap), nil
	}))
}

// SnapshotBuilder assembles a catalog snapshot. Ordering is applied at
// build time; insertion order does not matter.
type SnapshotBuilder struct {
	shares  map[string]sharing.Share
	schemas map[string]sharing.Schema
	tables  map[string]sharing.Table
	indexes map[string]*index.Table
	err     error
}

func NewSnapshotBuilder() *SnapshotBuilder {
	return &SnapshotBuilder{
		shares:  map[string]sharing.Share{},
		schemas: map[string]sharing.Schema{},
		tables:  map[string]sharing.Table{},
		indexes: map[string]*index.Table{},
	}
}

func (b *SnapshotBuilder) Share(s sharing.Share) *SnapshotBuilder {
	b.shares[s.Name] = s

	return b
}

func (b *SnapshotBuilder) Schema(s sharing.Schema) *SnapshotBuilder {
	if b.err == nil {
		if _, ok := b.shares[s.Share]; !ok {
			b.err = fmt.Errorf("schema %s references unknown share %s", s.Name, s.Share)

			return b
		}
	}
	b.schemas[key(s.Share, s.Name)] = s

	return b
}

func (b *SnapshotBuilder) Table(t sharing.Table, idx *index.Table) *SnapshotBuilder {
	if b.err == nil {
		if _, ok := b.schemas[key(t.Share, t.Schema)]; !ok {
			b.err = fmt.Errorf("table %s references unknown schema %s.%s", t.Name, t.Share, t.Schema)

			return b
		}
		if idx == nil {
			b.err = fmt.Errorf("table %s.%s.%s has no file index", t.Share, t.Schema, t.Name)

			return b
		}
	}

	t.CurrentVersion = idx.Current()
	b.tables[key(t.Share, t.Schema, t.Name)] = t
	b.indexes[key(t.Share, t.Schema, t.Name)] = idx

	return b
}

func (b *SnapshotBuilder) Build() (*Snapshot, error) {
	if b.err != nil {
		return nil, b.err
	}

	snap := &Snapshot{
		schemas: map[string][]sharing.Schema{},
		tables:  map[string][]sharing.Table{},
		indexes: b.indexes,
	}

	for _, s := range b.shares {
		if !s.Active {
			continue
		}
		snap.shares = append(snap.shares, s)
	}
	slices.SortFunc(snap.shares, func(a, b sharing.Share) int {
		return strings.Compare(a.Name, b.Name)
	})

	for _, s := range b.schemas {
		snap.schemas[s.Share] = append(snap.schemas[s.Share], s)
	}
	for _, list := range snap.schemas {
		slices.SortFunc(list, func(a, b sharing.Schema) int {
			return strings.Compare(a.Name, b.Name)
		})
	}

	for _, t := range b.tables {
		snap.tables[key(t.Share, t.Schema)] = append(snap.tables[key(t.Share, t.Schema)], t)
	}
	for _, list := range snap.tables {
		slices.SortFunc(list, func(a, b sharing.Table) int {
			return strings.Compare(a.Name, b.Name)
		})
	}

	return snap, nil
}

// MemoryCatalog serves from an in-memory snapshot swapped atomically on
// refresh. It backs the "memory" catalog type and is the publication point
// for loaders (file seeds, SQL) that assemble snapshots elsewhere.
type MemoryCatalog struct {
	snap atomic.Pointer[Snapshot]
}

var _ Catalog = (*MemoryCatalog)(nil)

// NewMemoryCatalog creates a catalog serving the given snapshot.
func NewMemoryCatalog(snap *Snapshot) *MemoryCatalog {
	c := &MemoryCatalog{}
	c.snap.Store(snap)

	return c
}

// Publish atomically replaces the served snapshot. In-flight requests keep
// reading the snapshot they started with.
func (c *MemoryCatalog) Publish(snap *Snapshot) { c.snap.Store(snap) }

func (c *MemoryCatalog) CatalogType() Type { return Memory }

func (c *MemoryCatalog) ListShares(_ context.Context, pageToken string, maxResults int) (Page[sharing.Share], error) {
	return paginate(c.snap.Load().shares, pageToken, maxResults), nil
}

func (c *MemoryCatalog) GetShare(_ context.Context, name string) (sharing.Share, error) {
	return c.snap.Load().getShare(name)
}

func (s *Snapshot) getShare(name string) (sharing.Share, error) {
	i, ok := slices.BinarySearchFunc(s.shares, name, func(sh sharing.Share, n string) int {
		return strings.Compare(sh.Name, n)
	})
	if !ok {
		return sharing.Share{}, fmt.Errorf("%w: %s", sharing.ErrNoSuchShare, name)
	}

	return s.shares[i], nil
}

func (c *MemoryCatalog) ListSchemas(_ context.Context, share, pageToken string, maxResults int) (Page[sharing.Schema], error) {
	snap := c.snap.Load()
	if _, err := snap.getShare(share); err != nil {
		return Page[sharing.Schema]{}, err
	}

	return paginate(snap.schemas[share], pageToken, maxResults), nil
}

func (c *MemoryCatalog) ListTables(_ context.Context, share, schema, pageToken string, maxResults int) (Page[sharing.Table], error) {
	snap := c.snap.Load()
	if _, err := snap.getShare(share); err != nil {
		return Page[sharing.Table]{}, err
	}
	if !snap.hasSchema(share, schema) {
		return Page[sharing.Table]{}, fmt.Errorf("%w: %s in share %s", sharing.ErrNoSuchSchema, schema, share)
	}

	return paginate(snap.tables[key(share, schema)], pageToken, maxResults), nil
}

func (s *Snapshot) hasSchema(share, schema string) bool {
	return slices.ContainsFunc(s.schemas[share], func(sc sharing.Schema) bool {
		return sc.Name == schema
	})
}

func (c *MemoryCatalog) ListAllTables(_ context.Context, share, pageToken string, maxResults int) (Page[sharing.Table], error) {
	snap := c.snap.Load()
	if _, err := snap.getShare(share); err != nil {
		return Page[sharing.Table]{}, err
	}

	var all []sharing.Table
	for _, schema := range snap.schemas[share] {
		all = append(all, snap.tables[key(share, schema.Name)]...)
	}

	return paginate(all, pageToken, maxResults), nil
}

func (c *MemoryCatalog) LoadTable(_ context.Context, share, schema, table string) (sharing.Table, *index.Table, error) {
	snap := c.snap.Load()
	if _, err := snap.getShare(share); err != nil {
		return sharing.Table{}, nil, err
	}
	if !snap.hasSchema(share, schema) {
		return sharing.Table{}, nil, fmt.Errorf("%w: %s in share %s", sharing.ErrNoSuchSchema, schema, share)
	}

	k := key(share, schema, table)
	idx, ok := snap.indexes[k]
	if !ok {
		return sharing.Table{}, nil, fmt.Errorf("%w: %s in %s.%s", sharing.ErrNoSuchTable, table, share, schema)
	}

	for _, t := range snap.tables[key(share, schema)] {
		if t.Name == table {
			return t, idx, nil
		}
	}

	return sharing.Table{}, nil, fmt.Errorf("%w: %s in %s.%s", sharing.ErrNoSuchTable, table, share, schema)
}
