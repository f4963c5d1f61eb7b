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

// Package catalog defines the share/schema/table registry the gateway serves
// from, with pluggable backends registered by type.
package catalog

import (
	"context"
	"errors"

	"github.com/delta-io/sharing-go"
	"github.com/delta-io/sharing-go/index"
)

type Type string

const (
	Memory Type = "memory"
	File   Type = "file"
	SQL    Type = "sql"
)

// ErrCatalogNotFound is returned by Load when no backend is registered for
// the requested catalog type.
var ErrCatalogNotFound = errors.New("catalog type not registered")

// Properties is a generic key/value configuration bag for catalog backends.
type Properties map[string]string

// Get returns the value for key, or defVal if the key is absent.
func (p Properties) Get(key, defVal string) string {
	if v, ok := p[key]; ok {
		return v
	}

	return defVal
}

// Page is one page of a listing, with the opaque cursor for the next page.
// An empty NextPageToken means the listing is exhausted.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// Catalog resolves shares, schemas and tables for inbound requests. All
// listings are ordered lexicographically by name and stable across pages
// within one catalog snapshot, so that concurrent pagination converges.
//
// Implementations must be safe for concurrent readers: a request operates on
// an immutable snapshot, and refreshes publish new snapshots atomically.
type Catalog interface {
	// ListShares lists active shares. maxResults <= 0 selects the default
	// page size.
	ListShares(ctx context.Context, pageToken string, maxResults int) (Page[sharing.Share], error)
	// GetShare returns one active share or sharing.ErrNoSuchShare.
	GetShare(ctx context.Context, name string) (sharing.Share, error)
	ListSchemas(ctx context.Context, share, pageToken string, maxResults int) (Page[sharing.Schema], error)
	ListTables(ctx context.Context, share, schema, pageToken string, maxResults int) (Page[sharing.Table], error)
	// ListAllTables lists tables across every schema of a share.
	ListAllTables(ctx context.Context, share, pageToken string, maxResults int) (Page[sharing.Table], error)

	// LoadTable resolves a table reference to its descriptor and file index.
	LoadTable(ctx context.Context, share, schema, table string) (sharing.Table, *index.Table, error)

	CatalogType() Type
}
