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
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type registry map[string]Registrar

func (r registry) getKeys() []string {
	regMutex.Lock()
	defer regMutex.Unlock()

	keys := maps.Keys(r)
	slices.Sort(keys)

	return keys
}

func (r registry) set(catalogType string, reg Registrar) {
	regMutex.Lock()
	defer regMutex.Unlock()
	r[catalogType] = reg
}

func (r registry) get(catalogType string) (Registrar, bool) {
	regMutex.Lock()
	defer regMutex.Unlock()
	reg, ok := r[catalogType]

	return reg, ok
}

func (r registry) remove(catalogType string) {
	regMutex.Lock()
	defer regMutex.Unlock()
	delete(r, catalogType)
}

var (
	regMutex        sync.Mutex
	defaultRegistry = registry{}
)

// Registrar is a factory for creating Catalog instances, used for registering
// backends to use with Load.
type Registrar interface {
	GetCatalog(ctx context.Context, props Properties) (Catalog, error)
}

type RegistrarFunc func(context.Context, Properties) (Catalog, error)

func (f RegistrarFunc) GetCatalog(ctx context.Context, props Properties) (Catalog, error) {
	return f(ctx, props)
}

// Register adds the catalog type to the registry, replacing any previous
// registration for the same type.
func Register(catalogType string, reg Registrar) {
	if reg == nil {
		panic("catalog: Register catalog factory is nil")
	}
	defaultRegistry.set(catalogType, reg)
}

// Unregister removes the requested catalog factory from the registry.
func Unregister(catalogType string) {
	defaultRegistry.remove(catalogType)
}

// GetRegisteredCatalogs returns the registered catalog type names.
func GetRegisteredCatalogs() []string {
	return defaultRegistry.getKeys()
}

// Load creates a catalog of the given type with backend-specific properties:
// "file" expects a "path" to a YAML seed document, "sql" a "driver" and
// "uri" for the backing database.
func Load(ctx context.Context, catalogType string, props Properties) (Catalog, error) {
	reg, ok := defaultRegistry.get(catalogType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, catalogType)
	}

	return reg.GetCatalog(ctx, props)
}
