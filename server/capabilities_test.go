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
	"net/http/httptest"
	"testing"

	"github.com/delta-io/sharing-go"
	"github.com/stretchr/testify/require"
)

func capsFor(t *testing.T, header, endStream string) Capabilities {
	t.Helper()

	r := httptest.NewRequest("GET", "/", nil)
	if header != "" {
		r.Header.Set(capabilitiesHeader, header)
	}
	if endStream != "" {
		r.Header.Set(endStreamActionHeader, endStream)
	}

	return ParseCapabilities(r)
}

func TestParseCapabilities(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		formats   []sharing.TableFormat
		features  []sharing.ReaderFeature
		endStream bool
	}{
		{name: "missing header"},
		{
			name:    "parquet only",
			header:  "responseformat=parquet",
			formats: []sharing.TableFormat{sharing.FormatParquet},
		},
		{
			name:    "format list",
			header:  "responseformat=parquet,delta",
			formats: []sharing.TableFormat{sharing.FormatParquet, sharing.FormatDelta},
		},
		{
			name:     "features",
			header:   "responseformat=delta;readerfeatures=deletionvectors,columnmapping",
			formats:  []sharing.TableFormat{sharing.FormatDelta},
			features: []sharing.ReaderFeature{sharing.FeatureDeletionVectors, sharing.FeatureColumnMapping},
		},
		{
			name:      "embedded end stream marker",
			header:    "responseformat=delta;includeendstreamaction=true",
			formats:   []sharing.TableFormat{sharing.FormatDelta},
			endStream: true,
		},
		{
			name:    "case and whitespace tolerated",
			header:  "ResponseFormat = Delta ; ReaderFeatures = DeletionVectors",
			formats: []sharing.TableFormat{sharing.FormatDelta},
			features: []sharing.ReaderFeature{
				sharing.FeatureDeletionVectors,
			},
		},
		{
			name:   "garbage ignored",
			header: "nonsense;;=;responseformat=ogg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := capsFor(t, tt.header, "")
			require.Equal(t, tt.formats, caps.ResponseFormats)
			require.Equal(t, tt.endStream, caps.IncludeEndStreamAction)
			for _, f := range tt.features {
				require.True(t, caps.ReaderFeatures[f], f)
			}
			require.Len(t, caps.ReaderFeatures, len(tt.features))
		})
	}
}

func TestStandaloneEndStreamHeaderWins(t *testing.T) {
	caps := capsFor(t, "includeendstreamaction=true", "false")
	require.False(t, caps.IncludeEndStreamAction)

	caps = capsFor(t, "", "true")
	require.True(t, caps.IncludeEndStreamAction)
}

func TestAcceptsDefaultsToParquet(t *testing.T) {
	caps := capsFor(t, "", "")
	require.True(t, caps.Accepts(sharing.FormatParquet))
	require.False(t, caps.Accepts(sharing.FormatDelta))
}

func TestNegotiate(t *testing.T) {
	parquetTable := sharing.Table{Format: sharing.FormatParquet}
	deltaTable := sharing.Table{Format: sharing.FormatDelta}

	format, err := Negotiate(capsFor(t, "", ""), parquetTable, nil)
	require.NoError(t, err)
	require.Equal(t, sharing.FormatParquet, format)

	// A delta table downgrades to parquet for a legacy client when nothing
	// in the plan demands more.
	format, err = Negotiate(capsFor(t, "", ""), deltaTable, nil)
	require.NoError(t, err)
	require.Equal(t, sharing.FormatParquet, format)

	format, err = Negotiate(capsFor(t, "responseformat=parquet,delta", ""), deltaTable, nil)
	require.NoError(t, err)
	require.Equal(t, sharing.FormatDelta, format)

	// Fail closed: required feature the client never declared.
	_, err = Negotiate(capsFor(t, "responseformat=delta", ""), deltaTable,
		[]sharing.ReaderFeature{sharing.FeatureDeletionVectors})
	require.ErrorIs(t, err, sharing.ErrUnsupportedReaderFeatures)

	format, err = Negotiate(
		capsFor(t, "responseformat=delta;readerfeatures=deletionvectors", ""),
		deltaTable, []sharing.ReaderFeature{sharing.FeatureDeletionVectors})
	require.NoError(t, err)
	require.Equal(t, sharing.FormatDelta, format)
}
