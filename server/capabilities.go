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
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/delta-io/sharing-go"
)

const (
	capabilitiesHeader    = "Delta-Sharing-Capabilities"
	endStreamActionHeader = "Includeendstreamaction"
	tableVersionHeader    = "Delta-Table-Version"

	// capabilitiesValue is advertised on every response.
	capabilitiesValue = "responseformat=parquet,delta"
)

// Capabilities is a client's parsed delta-sharing-capabilities header.
type Capabilities struct {
	// ResponseFormats lists the formats the client accepts, in the order
	// given. Empty means the legacy default, parquet only.
	ResponseFormats []sharing.TableFormat
	// ReaderFeatures the client declared it can handle.
	ReaderFeatures map[sharing.ReaderFeature]bool
	// IncludeEndStreamAction asks for the terminal endStreamAction line.
	IncludeEndStreamAction bool
}

// Accepts reports whether the client listed the given response format.
func (c Capabilities) Accepts(format sharing.TableFormat) bool {
	if len(c.ResponseFormats) == 0 {
		return format == sharing.FormatParquet
	}

	for _, f := range c.ResponseFormats {
		if f == format {
			return true
		}
	}

	return false
}

// ParseCapabilities reads the capability headers of a request. The
// delta-sharing-capabilities value is a semicolon-separated list of
// key=value pairs whose values may be comma-separated lists, e.g.
//
//	responseformat=parquet,delta;readerfeatures=deletionvectors,columnmapping
//
// Unknown keys and unknown feature names are ignored. A standalone
// includeEndStreamAction header takes precedence over the embedded key.
func ParseCapabilities(r *http.Request) Capabilities {
	caps := Capabilities{ReaderFeatures: map[sharing.ReaderFeature]bool{}}

	for _, item := range strings.Split(r.Header.Get(capabilitiesHeader), ";") {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))

		switch key {
		case "responseformat":
			for _, f := range strings.Split(value, ",") {
				switch sharing.TableFormat(strings.ToLower(strings.TrimSpace(f))) {
				case sharing.FormatParquet:
					caps.ResponseFormats = append(caps.ResponseFormats, sharing.FormatParquet)
				case sharing.FormatDelta:
					caps.ResponseFormats = append(caps.ResponseFormats, sharing.FormatDelta)
				}
			}
		case "readerfeatures":
			for _, f := range strings.Split(value, ",") {
				feature := sharing.ParseReaderFeature(f)
				if feature != "" {
					caps.ReaderFeatures[feature] = true
				}
			}
		case "includeendstreamaction":
			if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
				caps.IncludeEndStreamAction = b
			}
		}
	}

	if raw := r.Header.Get(endStreamActionHeader); raw != "" {
		if b, err := strconv.ParseBool(raw); err == nil {
			caps.IncludeEndStreamAction = b
		}
	}

	return caps
}

// Negotiate picks the response format for a table and checks the client
// declared every reader feature the plan requires. The check fails closed:
// a file the client cannot interpret correctly is never silently served.
func Negotiate(caps Capabilities, table sharing.Table, required []sharing.ReaderFeature) (sharing.TableFormat, error) {
	for _, feature := range required {
		if !caps.ReaderFeatures[feature] {
			return "", fmt.Errorf("%w: table requires %s", sharing.ErrUnsupportedReaderFeatures, feature)
		}
	}

	if table.Format == sharing.FormatDelta && caps.Accepts(sharing.FormatDelta) {
		return sharing.FormatDelta, nil
	}

	return sharing.FormatParquet, nil
}
