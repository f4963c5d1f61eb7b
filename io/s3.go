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

package io

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Properties understood by NewS3Signer.
const (
	S3Region              = "s3.region"
	S3AccessKeyID         = "s3.access-key-id"
	S3SecretAccessKey     = "s3.secret-access-key"
	S3SessionToken        = "s3.session-token"
	S3EndpointURL         = "s3.endpoint"
	S3ForcePathStyle      = "s3.force-path-style"
	S3SignerDefaultExpiry = "s3.signer.default-expiry"
)

// S3Signer exchanges s3:// locations for presigned HTTPS GET URLs.
type S3Signer struct {
	presign       *s3.PresignClient
	defaultExpiry time.Duration
}

var _ Signer = (*S3Signer)(nil)

// NewS3Signer builds a signer from S3 properties, falling back to the default
// AWS credential chain for anything not set explicitly.
func NewS3Signer(ctx context.Context, props map[string]string) (*S3Signer, error) {
	opts := []func(*config.LoadOptions) error{}
	if region, ok := props[S3Region]; ok {
		opts = append(opts, config.WithRegion(region))
	}
	if accessKey, ok := props[S3AccessKeyID]; ok {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				accessKey, props[S3SecretAccessKey], props[S3SessionToken])))
	}

	awscfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awscfg, func(o *s3.Options) {
		if endpoint, ok := props[S3EndpointURL]; ok {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if forcePath, err := strconv.ParseBool(props[S3ForcePathStyle]); err == nil {
			o.UsePathStyle = forcePath
		}
	})

	expiry := 15 * time.Minute
	if raw, ok := props[S3SignerDefaultExpiry]; ok {
		expiry, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", S3SignerDefaultExpiry, err)
		}
	}

	return &S3Signer{presign: s3.NewPresignClient(client), defaultExpiry: expiry}, nil
}

// SignURL presigns a GET for the given s3:// location. A non-positive expiry
// uses the signer's default.
func (s *S3Signer) SignURL(ctx context.Context, rawURL string, expiry time.Duration) (SignedURL, error) {
	bucket, key, err := splitS3URL(rawURL)
	if err != nil {
		return SignedURL{}, err
	}
	if expiry <= 0 {
		expiry = s.defaultExpiry
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return SignedURL{}, fmt.Errorf("presigning %q: %w", rawURL, err)
	}

	return SignedURL{
		URL:                 req.URL,
		ExpirationTimestamp: time.Now().Add(expiry).UnixMilli(),
	}, nil
}

func splitS3URL(rawURL string) (bucket, key string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 url %q: %w", rawURL, err)
	}
	if parsed.Host == "" || parsed.Path == "" {
		return "", "", fmt.Errorf("s3 url %q needs a bucket and a key", rawURL)
	}

	return parsed.Host, strings.TrimPrefix(parsed.Path, "/"), nil
}
