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
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/delta-io/sharing-go"
	"github.com/delta-io/sharing-go/catalog"
	"github.com/delta-io/sharing-go/index"
	sio "github.com/delta-io/sharing-go/io"
	"github.com/delta-io/sharing-go/plan"
)

type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{ErrorCode: code, Message: message})
}

// writeError maps domain errors onto the protocol's error responses. Only
// recognized error chains surface their message; anything else is an opaque
// internal error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sharing.ErrNoSuchShare),
		errors.Is(err, sharing.ErrNoSuchSchema),
		errors.Is(err, sharing.ErrNoSuchTable),
		errors.Is(err, sharing.ErrVersionNotFound):
		writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, sharing.ErrUnsupportedReaderFeatures):
		writeErrorCode(w, http.StatusBadRequest, "UNSUPPORTED_READER_FEATURES", err.Error())
	case errors.Is(err, sharing.ErrBadRequest):
		writeErrorCode(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		s.log.Errorw("internal error", "error", err)
		writeErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

// Listing payloads. IDs are omitted when the catalog did not assign one.

type shareItem struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

type schemaItem struct {
	Name  string `json:"name"`
	Share string `json:"share"`
}

type tableItem struct {
	Name        string `json:"name"`
	Schema      string `json:"schema"`
	Share       string `json:"share"`
	ID          string `json:"id,omitempty"`
	ShareAsView bool   `json:"shareAsView,omitempty"`
}

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

func pageParams(r *http.Request) (token string, maxResults int, err error) {
	q := r.URL.Query()
	token = q.Get("pageToken")

	if raw := q.Get("maxResults"); raw != "" {
		maxResults, err = strconv.Atoi(raw)
		if err != nil || maxResults < 0 {
			return "", 0, fmt.Errorf("%w: invalid maxResults %q", sharing.ErrBadRequest, raw)
		}
	}

	return token, maxResults, nil
}

func (s *Server) listShares(w http.ResponseWriter, r *http.Request) {
	token, maxResults, err := pageParams(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	page, err := s.catalog.ListShares(r.Context(), token, maxResults)
	if err != nil {
		s.writeError(w, err)

		return
	}

	items := make([]shareItem, 0, len(page.Items))
	for _, sh := range page.Items {
		items = append(items, shareItem{Name: sh.Name, ID: sh.ID})
	}
	writeJSON(w, listResponse[shareItem]{Items: items, NextPageToken: page.NextPageToken})
}

func (s *Server) getShare(w http.ResponseWriter, r *http.Request) {
	share, err := s.catalog.GetShare(r.Context(), chi.URLParam(r, "share"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, struct {
		Share shareItem `json:"share"`
	}{shareItem{Name: share.Name, ID: share.ID}})
}

func (s *Server) listSchemas(w http.ResponseWriter, r *http.Request) {
	token, maxResults, err := pageParams(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	page, err := s.catalog.ListSchemas(r.Context(), chi.URLParam(r, "share"), token, maxResults)
	if err != nil {
		s.writeError(w, err)

		return
	}

	items := make([]schemaItem, 0, len(page.Items))
	for _, sc := range page.Items {
		items = append(items, schemaItem{Name: sc.Name, Share: sc.Share})
	}
	writeJSON(w, listResponse[schemaItem]{Items: items, NextPageToken: page.NextPageToken})
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	token, maxResults, err := pageParams(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	page, err := s.catalog.ListTables(r.Context(),
		chi.URLParam(r, "share"), chi.URLParam(r, "schema"), token, maxResults)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeTablePage(w, page)
}

func (s *Server) listAllTables(w http.ResponseWriter, r *http.Request) {
	token, maxResults, err := pageParams(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	page, err := s.catalog.ListAllTables(r.Context(), chi.URLParam(r, "share"), token, maxResults)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeTablePage(w, page)
}

func (s *Server) writeTablePage(w http.ResponseWriter, page catalog.Page[sharing.Table]) {
	items := make([]tableItem, 0, len(page.Items))
	for _, t := range page.Items {
		items = append(items, tableItem{
			Name:        t.Name,
			Schema:      t.Schema,
			Share:       t.Share,
			ID:          t.ID,
			ShareAsView: t.ShareAsView,
		})
	}
	writeJSON(w, listResponse[tableItem]{Items: items, NextPageToken: page.NextPageToken})
}

func (s *Server) loadTable(r *http.Request) (sharing.Table, *index.Table, error) {
	return s.catalog.LoadTable(r.Context(),
		chi.URLParam(r, "share"), chi.URLParam(r, "schema"), chi.URLParam(r, "table"))
}

func (s *Server) tableVersion(w http.ResponseWriter, r *http.Request) {
	_, idx, err := s.loadTable(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	version := idx.Current()
	if raw := r.URL.Query().Get("startingTimestamp"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			s.writeError(w, err)

			return
		}
		version, err = idx.ResolveTimestamp(ts)
		if err != nil {
			s.writeError(w, err)

			return
		}
	}

	w.Header().Set(tableVersionHeader, strconv.FormatInt(version, 10))
	writeJSON(w, struct {
		DeltaTableVersion int64 `json:"deltaTableVersion"`
	}{version})
}

func (s *Server) tableMetadata(w http.ResponseWriter, r *http.Request) {
	table, idx, err := s.loadTable(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	version, ts, err := versionParams(r.URL.Query().Get("version"), r.URL.Query().Get("timestamp"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	p, err := plan.Metadata(table, idx, version, ts)
	if err != nil {
		s.writeError(w, err)

		return
	}

	caps := ParseCapabilities(r)
	format, err := Negotiate(caps, table, p.Metadata.RequiredFeatures)
	if err != nil {
		s.writeError(w, err)

		return
	}

	w.Header().Set(tableVersionHeader, strconv.FormatInt(p.Version, 10))
	w.Header().Set("Content-Type", contentTypeNDJSON)

	enc := newStreamEncoder(w)
	if err := enc.writeProtocol(format, p.Metadata, false); err != nil {
		return
	}
	_ = enc.writeMetadata(format, p.Metadata)
}

type queryBody struct {
	PredicateHints []string `json:"predicateHints"`
	LimitHint      *int64   `json:"limitHint"`
	Version        *int64   `json:"version"`
	Timestamp      *string  `json:"timestamp"`
}

func (s *Server) tableQuery(w http.ResponseWriter, r *http.Request) {
	table, idx, err := s.loadTable(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	var body queryBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, fmt.Errorf("%w: invalid query body: %v", sharing.ErrBadRequest, err))

			return
		}
	}

	req := plan.Request{
		Version:        body.Version,
		PredicateHints: body.PredicateHints,
		LimitHint:      body.LimitHint,
	}
	if body.Timestamp != nil {
		ts, err := parseTimestamp(*body.Timestamp)
		if err != nil {
			s.writeError(w, err)

			return
		}
		req.Timestamp = &ts
	}

	p, err := plan.Files(table, idx, req)
	if err != nil {
		s.writeError(w, err)

		return
	}

	caps := ParseCapabilities(r)
	format, err := Negotiate(caps, table, p.RequiredFeatures())
	if err != nil {
		s.writeError(w, err)

		return
	}

	w.Header().Set(tableVersionHeader, strconv.FormatInt(p.Version, 10))
	if caps.IncludeEndStreamAction {
		w.Header().Set(endStreamActionHeader, "true")
	}
	w.Header().Set("Content-Type", contentTypeNDJSON)

	enc := newStreamEncoder(w)
	if err := enc.writeProtocol(format, p.Metadata, true); err != nil {
		return
	}
	if err := enc.writeMetadata(format, p.Metadata); err != nil {
		return
	}

	for _, f := range p.Files {
		signed, err := s.signer.SignURL(r.Context(), f.URL, s.expiry)
		if err != nil {
			s.log.Errorw("signing file url", "file", f.ID, "error", err)
			s.abortStream(enc, caps, "failed to sign a file url")

			return
		}
		if err := enc.writeFile(format, f, signed); err != nil {
			return
		}
	}

	if caps.IncludeEndStreamAction {
		_ = enc.writeEndStream()
	}
}

func (s *Server) tableChanges(w http.ResponseWriter, r *http.Request) {
	table, idx, err := s.loadTable(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	req, err := changesParams(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	p, err := plan.Changes(table, idx, req)
	if err != nil {
		s.writeError(w, err)

		return
	}

	caps := ParseCapabilities(r)
	if _, err := Negotiate(caps, table, p.Metadata.RequiredFeatures); err != nil {
		s.writeError(w, err)

		return
	}

	w.Header().Set(tableVersionHeader, strconv.FormatInt(idx.Current(), 10))
	w.Header().Set("Content-Type", contentTypeNDJSON)

	enc := newStreamEncoder(w)
	if err := enc.writeProtocol(sharing.FormatParquet, p.Metadata, true); err != nil {
		return
	}
	if err := enc.writeMetadata(sharing.FormatParquet, p.Metadata); err != nil {
		return
	}

	for _, action := range p.Changes {
		var signed sio.SignedURL
		if action.File != nil {
			signed, err = s.signer.SignURL(r.Context(), action.File.URL, s.expiry)
			if err != nil {
				s.log.Errorw("signing file url", "file", action.File.ID, "error", err)
				s.abortStream(enc, caps, "failed to sign a file url")

				return
			}
		}
		if err := enc.writeChange(action, signed); err != nil {
			return
		}
	}

	if caps.IncludeEndStreamAction {
		_ = enc.writeEndStream()
	}
}

// abortStream reports a mid-stream failure. Headers are already sent at this
// point, so the only channel left is an errorMessage on the terminal action.
func (s *Server) abortStream(enc *streamEncoder, caps Capabilities, message string) {
	if caps.IncludeEndStreamAction {
		_ = enc.write(line{EndStreamAction: &endStreamAction{ErrorMessage: message}})
	}
}

func versionParams(rawVersion, rawTimestamp string) (*int64, *time.Time, error) {
	var version *int64
	if rawVersion != "" {
		v, err := strconv.ParseInt(rawVersion, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid version %q", sharing.ErrBadRequest, rawVersion)
		}
		version = &v
	}

	var ts *time.Time
	if rawTimestamp != "" {
		t, err := parseTimestamp(rawTimestamp)
		if err != nil {
			return nil, nil, err
		}
		ts = &t
	}

	return version, ts, nil
}

func changesParams(r *http.Request) (plan.ChangesRequest, error) {
	q := r.URL.Query()
	var req plan.ChangesRequest

	start, _, err := versionParams(q.Get("startingVersion"), "")
	if err != nil {
		return req, err
	}
	req.StartingVersion = start

	end, _, err := versionParams(q.Get("endingVersion"), "")
	if err != nil {
		return req, err
	}
	req.EndingVersion = end

	if raw := q.Get("startingTimestamp"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return req, err
		}
		req.StartingTimestamp = &ts
	}
	if raw := q.Get("endingTimestamp"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return req, err
		}
		req.EndingTimestamp = &ts
	}

	return req, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", sharing.ErrBadRequest, raw)
}
