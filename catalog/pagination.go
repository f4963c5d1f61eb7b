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
	"encoding/base64"
	"strconv"
)

const (
	defaultPageSize = 500
	maxPageSize     = 1000
)

// paginate slices one page out of a snapshot-ordered listing. The page token
// is the base64-encoded offset into the listing; an unknown or corrupt token
// restarts from the beginning rather than failing, matching how permissive
// sharing clients retry listings.
func paginate[T any](items []T, pageToken string, maxResults int) Page[T] {
	limit := maxResults
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset := decodePageToken(pageToken)
	if offset < 0 || offset >= len(items) {
		offset = 0
	}

	end := min(offset+limit, len(items))

	page := Page[T]{Items: items[offset:end]}
	if end < len(items) {
		page.NextPageToken = encodePageToken(end)
	}

	return page
}

func encodePageToken(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodePageToken(token string) int {
	if token == "" {
		return 0
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0
	}

	offset, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}

	return offset
}
