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

package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/delta-io/sharing-go"
	sio "github.com/delta-io/sharing-go/io"
)

const contentTypeNDJSON = "application/x-ndjson; charset=utf-8"

// Parquet-format action payloads.

type parquetProtocol struct {
	MinReaderVersion int32 `json:"minReaderVersion"`
	MinWriterVersion int32 `json:"minWriterVersion,omitempty"`
}

type formatObject struct {
	Provider string `json:"provider"`
}

type parquetMetadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           formatObject      `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	Version          int64             `json:"version,omitempty"`
}

type parquetFile struct {
	URL                 string             `json:"url"`
	ID                  string             `json:"id"`
	PartitionValues     map[string]string  `json:"partitionValues"`
	Size                int64              `json:"size"`
	Stats               *sharing.FileStats `json:"stats,omitempty"`
	Version             int64              `json:"version,omitempty"`
	Timestamp           int64              `json:"timestamp,omitempty"`
	ExpirationTimestamp int64              `json:"expirationTimestamp,omitempty"`
}

// cdfFile is the add/remove/cdf action payload of a change data feed
// response; unlike parquetFile it always carries version and timestamp.
type cdfFile struct {
	URL                 string             `json:"url"`
	ID                  string             `json:"id"`
	PartitionValues     map[string]string  `json:"partitionValues"`
	Size                int64              `json:"size"`
	Stats               *sharing.FileStats `json:"stats,omitempty"`
	Version             int64              `json:"version"`
	Timestamp           int64              `json:"timestamp"`
	ExpirationTimestamp int64              `json:"expirationTimestamp,omitempty"`
}

// Delta-format wrappers. The payloads mirror delta-kernel single actions.

type deltaProtocol struct {
	MinReaderVersion int32    `json:"minReaderVersion"`
	MinWriterVersion int32    `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
}

type deltaMetadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           formatObject      `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	Version          int64             `json:"version,omitempty"`
}

type deltaAdd struct {
	Path            string                  `json:"path"`
	PartitionValues map[string]string       `json:"partitionValues"`
	Size            int64                   `json:"size"`
	Stats           string                  `json:"stats,omitempty"`
	DeletionVector  *sharing.DeletionVector `json:"deletionVector,omitempty"`
	DataChange      bool                    `json:"dataChange"`
}

type deltaSingleAction struct {
	Add *deltaAdd `json:"add,omitempty"`
}

type deltaFile struct {
	ID                  string            `json:"id"`
	Version             int64             `json:"version,omitempty"`
	Timestamp           int64             `json:"timestamp,omitempty"`
	ExpirationTimestamp int64             `json:"expirationTimestamp,omitempty"`
	DeltaSingleAction   deltaSingleAction `json:"deltaSingleAction"`
}

type endStreamAction struct {
	RefreshToken              string `json:"refreshToken,omitempty"`
	NextPageToken             string `json:"nextPageToken,omitempty"`
	MinURLExpirationTimestamp int64  `json:"minUrlExpirationTimestamp,omitempty"`
	ErrorMessage              string `json:"errorMessage,omitempty"`
}

// line is one NDJSON action line. Exactly one field is set per line.
type line struct {
	Protocol        any              `json:"protocol,omitempty"`
	MetaData        any              `json:"metaData,omitempty"`
	File            any              `json:"file,omitempty"`
	Add             *cdfFile         `json:"add,omitempty"`
	Remove          *cdfFile         `json:"remove,omitempty"`
	EndStreamAction *endStreamAction `json:"endStreamAction,omitempty"`
}

// streamEncoder writes NDJSON action lines, flushing after each one so
// clients see actions as they are planned rather than when the stream ends.
type streamEncoder struct {
	enc     *json.Encoder
	flusher http.Flusher

	// minExpiration tracks the earliest signed-URL expiry seen, surfaced on
	// the endStreamAction line.
	minExpiration int64
}

func newStreamEncoder(w io.Writer) *streamEncoder {
	e := &streamEncoder{enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}

	return e
}

func (e *streamEncoder) write(l line) error {
	if err := e.enc.Encode(l); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}

	return nil
}

func (e *streamEncoder) observeExpiration(ts int64) {
	if ts > 0 && (e.minExpiration == 0 || ts < e.minExpiration) {
		e.minExpiration = ts
	}
}

// writeProtocol emits the protocol line. The metadata endpoint uses the
// reduced form without minWriterVersion; file queries carry both.
func (e *streamEncoder) writeProtocol(format sharing.TableFormat, meta *sharing.Metadata, includeWriter bool) error {
	if format == sharing.FormatDelta {
		features := make([]string, 0, len(meta.RequiredFeatures))
		for _, f := range meta.RequiredFeatures {
			features = append(features, string(f))
		}

		return e.write(line{Protocol: struct {
			DeltaProtocol deltaProtocol `json:"deltaProtocol"`
		}{deltaProtocol{
			MinReaderVersion: meta.MinReaderVersion,
			MinWriterVersion: meta.MinWriterVersion,
			ReaderFeatures:   features,
		}}})
	}

	p := parquetProtocol{MinReaderVersion: meta.MinReaderVersion}
	if includeWriter {
		p.MinWriterVersion = meta.MinWriterVersion
	}

	return e.write(line{Protocol: p})
}

func (e *streamEncoder) writeMetadata(format sharing.TableFormat, meta *sharing.Metadata) error {
	partitions := meta.PartitionColumns
	if partitions == nil {
		partitions = []string{}
	}
	configuration := meta.Configuration
	if configuration == nil {
		configuration = map[string]string{}
	}

	if format == sharing.FormatDelta {
		return e.write(line{MetaData: struct {
			DeltaMetadata deltaMetadata `json:"deltaMetadata"`
		}{deltaMetadata{
			ID:               meta.ID,
			Name:             meta.Name,
			Description:      meta.Description,
			Format:           formatObject{Provider: string(sharing.FormatParquet)},
			SchemaString:     meta.SchemaString(),
			PartitionColumns: partitions,
			Configuration:    configuration,
			Version:          meta.Version,
		}}})
	}

	return e.write(line{MetaData: parquetMetadata{
		ID:               meta.ID,
		Name:             meta.Name,
		Description:      meta.Description,
		Format:           formatObject{Provider: string(sharing.FormatParquet)},
		SchemaString:     meta.SchemaString(),
		PartitionColumns: partitions,
		Configuration:    configuration,
		Version:          meta.Version,
	}})
}

func (e *streamEncoder) writeFile(format sharing.TableFormat, f sharing.FileEntry, signed sio.SignedURL) error {
	e.observeExpiration(signed.ExpirationTimestamp)

	partitions := f.PartitionValues
	if partitions == nil {
		partitions = map[string]string{}
	}

	if format == sharing.FormatDelta {
		var stats string
		if f.Stats != nil {
			stats = f.Stats.JSON()
		}

		return e.write(line{File: deltaFile{
			ID:                  f.ID,
			Version:             f.Version,
			Timestamp:           f.Timestamp,
			ExpirationTimestamp: signed.ExpirationTimestamp,
			DeltaSingleAction: deltaSingleAction{Add: &deltaAdd{
				Path:            signed.URL,
				PartitionValues: partitions,
				Size:            f.Size,
				Stats:           stats,
				DeletionVector:  f.DeletionVector,
				DataChange:      false,
			}},
		}})
	}

	return e.write(line{File: parquetFile{
		URL:                 signed.URL,
		ID:                  f.ID,
		PartitionValues:     partitions,
		Size:                f.Size,
		Stats:               f.Stats,
		Version:             f.Version,
		Timestamp:           f.Timestamp,
		ExpirationTimestamp: signed.ExpirationTimestamp,
	}})
}

func (e *streamEncoder) writeChange(action sharing.ChangeAction, signed sio.SignedURL) error {
	if action.Type == sharing.ChangeMetadata {
		meta := action.Metadata
		partitions := meta.PartitionColumns
		if partitions == nil {
			partitions = []string{}
		}
		configuration := meta.Configuration
		if configuration == nil {
			configuration = map[string]string{}
		}

		return e.write(line{MetaData: parquetMetadata{
			ID:               meta.ID,
			Name:             meta.Name,
			Format:           formatObject{Provider: string(sharing.FormatParquet)},
			SchemaString:     meta.SchemaString(),
			PartitionColumns: partitions,
			Configuration:    configuration,
			Version:          action.Version,
		}})
	}

	e.observeExpiration(signed.ExpirationTimestamp)

	f := action.File
	partitions := f.PartitionValues
	if partitions == nil {
		partitions = map[string]string{}
	}
	payload := &cdfFile{
		URL:                 signed.URL,
		ID:                  f.ID,
		PartitionValues:     partitions,
		Size:                f.Size,
		Stats:               f.Stats,
		Version:             action.Version,
		Timestamp:           action.Timestamp,
		ExpirationTimestamp: signed.ExpirationTimestamp,
	}

	if action.Type == sharing.ChangeRemove {
		return e.write(line{Remove: payload})
	}

	return e.write(line{Add: payload})
}

func (e *streamEncoder) writeEndStream() error {
	return e.write(line{EndStreamAction: &endStreamAction{
		MinURLExpirationTimestamp: e.minExpiration,
	}})
}
