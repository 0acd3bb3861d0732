// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package ingest polls remote directories of rotating combat log files
// and drives their lines through the normalizer and sequencer. One
// ingester runs per source; sources fail independently.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/pvpstats/killfeed/internal/config"
)

// ErrSourceDegraded is returned while a source's circuit breaker is open.
var ErrSourceDegraded = errors.New("ingest: source degraded")

// RemoteSource is one remote directory of rotating log files. File names
// carry the rotation timestamp, so lexicographic order is chronological
// order.
type RemoteSource interface {
	// ListFiles returns every log file name, oldest first.
	ListFiles(ctx context.Context) ([]string, error)

	// ReadFrom returns the lines of file strictly after line number
	// after (1-based), up to limit lines.
	ReadFrom(ctx context.Context, file string, after int64, limit int) ([]string, error)
}

// HTTPSource reads a remote log directory over HTTP. The directory index
// is a JSON array of file names; files are fetched whole and sliced by
// line. Fetches are rate limited per source.
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPSource creates an HTTPSource for one configured source.
func NewHTTPSource(src config.SourceConfig, ing config.IngestConfig) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(src.URL, "/"),
		token:   src.Token,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ing.RequestsPerSecond), 1),
	}
}

func (h *HTTPSource) get(ctx context.Context, u string) (*http.Response, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u, resp.StatusCode)
	}
	return resp, nil
}

// ListFiles implements RemoteSource.
func (h *HTTPSource) ListFiles(ctx context.Context) ([]string, error) {
	resp, err := h.get(ctx, h.baseURL+"/")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var files []string
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode file index: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadFrom implements RemoteSource.
func (h *HTTPSource) ReadFrom(ctx context.Context, file string, after int64, limit int) ([]string, error) {
	resp, err := h.get(ctx, h.baseURL+"/"+url.PathEscape(file))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return sliceLines(resp.Body, after, limit)
}

func sliceLines(r io.Reader, after int64, limit int) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []string
	var n int64
	for scanner.Scan() {
		n++
		if n <= after {
			continue
		}
		out = append(out, scanner.Text())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return out, nil
}
