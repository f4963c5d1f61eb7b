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

// Package io turns the storage URLs of file entries into URLs a recipient can
// fetch directly: s3:// locations are exchanged for presigned HTTPS GETs,
// already-fetchable http(s) URLs pass through unchanged.
package io

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// SignedURL is a fetchable URL plus the epoch-millisecond timestamp after
// which it stops working. ExpirationTimestamp is zero when the URL does not
// expire.
type SignedURL struct {
	URL                 string
	ExpirationTimestamp int64
}

// Signer exchanges a storage URL for one a recipient can fetch.
type Signer interface {
	SignURL(ctx context.Context, rawURL string, expiry time.Duration) (SignedURL, error)
}

// PassthroughSigner returns http(s) URLs unchanged and rejects everything
// else. It is the default when no object store credentials are configured.
type PassthroughSigner struct{}

func (PassthroughSigner) SignURL(_ context.Context, rawURL string, _ time.Duration) (SignedURL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return SignedURL{}, fmt.Errorf("invalid file url %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return SignedURL{}, fmt.Errorf("cannot serve %q without a signer for scheme %q", rawURL, parsed.Scheme)
	}

	return SignedURL{URL: rawURL}, nil
}

// ForScheme builds a signer that dispatches on URL scheme: s3:// URLs go to
// the given object store signer, http(s) URLs pass through.
func ForScheme(s3signer Signer) Signer {
	return schemeSigner{s3: s3signer}
}

type schemeSigner struct {
	s3 Signer
}

func (s schemeSigner) SignURL(ctx context.Context, rawURL string, expiry time.Duration) (SignedURL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return SignedURL{}, fmt.Errorf("invalid file url %q: %w", rawURL, err)
	}

	switch parsed.Scheme {
	case "s3", "s3a", "s3n":
		if s.s3 == nil {
			return SignedURL{}, fmt.Errorf("no s3 signer configured for %q", rawURL)
		}

		return s.s3.SignURL(ctx, rawURL, expiry)
	default:
		return PassthroughSigner{}.SignURL(ctx, rawURL, expiry)
	}
}
