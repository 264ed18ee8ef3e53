// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// maxVersionBytes bounds the version and checksum endpoint bodies.
const maxVersionBytes = 4 << 10

// Source serves published agent builds.
//
// Object paths are relative and slash-separated, e.g. "version" or
// "1.4.0/x86_64-unknown-linux-musl/NeoAi.zip".
type Source interface {
	// Open returns the object body. Missing objects return ErrNotFound.
	Open(ctx context.Context, relPath string) (io.ReadCloser, error)

	// Location returns a printable address for relPath, used in logs.
	Location(relPath string) string
}

// HTTPClient is the subset of *http.Client used by HTTPSource.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource reads builds from an HTTP(S) update server.
type HTTPSource struct {
	base   *url.URL
	client HTTPClient
}

// NewHTTPSource creates a source rooted at baseURL. A nil client uses
// http.DefaultClient.
func NewHTTPSource(baseURL string, client HTTPClient) (*HTTPSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{base: u, client: client}, nil
}

// Location implements Source.
func (s *HTTPSource) Location(relPath string) string {
	u := *s.base
	u.Path = path.Join(u.Path, relPath)
	return u.String()
}

// Open implements Source.
func (s *HTTPSource) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Location(relPath), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.Location(relPath))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", s.Location(relPath), resp.StatusCode)
	}
	return resp.Body, nil
}

// GCSSource reads builds from a Cloud Storage mirror, addressed as
// gs://bucket/prefix.
type GCSSource struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSource opens a client for a gs:// mirror. credentialsFile may be
// empty to use application default credentials.
func NewGCSSource(ctx context.Context, rawURL, credentialsFile string) (*GCSSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "gs" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, rawURL)
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSSource{
		client: client,
		bucket: u.Host,
		prefix: strings.Trim(u.Path, "/"),
	}, nil
}

func (s *GCSSource) object(relPath string) string {
	if s.prefix == "" {
		return relPath
	}
	return s.prefix + "/" + relPath
}

// Location implements Source.
func (s *GCSSource) Location(relPath string) string {
	return "gs://" + s.bucket + "/" + s.object(relPath)
}

// Open implements Source.
func (s *GCSSource) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object(relPath)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.Location(relPath))
		}
		return nil, err
	}
	return r, nil
}

// Close releases the storage client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}

// SourceOptions configures NewSource.
type SourceOptions struct {
	HTTPClient         HTTPClient
	GCSCredentialsFile string
}

// NewSource picks a Source implementation from the URL scheme.
func NewSource(ctx context.Context, serverURL string, opts SourceOptions) (Source, error) {
	if strings.HasPrefix(serverURL, "gs://") {
		src, err := NewGCSSource(ctx, serverURL, opts.GCSCredentialsFile)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	src, err := NewHTTPSource(serverURL, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// readSmall reads a short text object such as the version or a checksum.
func readSmall(ctx context.Context, src Source, relPath string) (string, error) {
	body, err := src.Open(ctx, relPath)
	if err != nil {
		return "", err
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, maxVersionBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src.Location(relPath), err)
	}
	return strings.TrimSpace(string(data)), nil
}
