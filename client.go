// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// Client talks JSON over HTTP to a DNS service API endpoint. The zero
// value is not usable; construct instances with [NewClient].
//
// Client only knows how to shape requests and classify responses.
// Typed views over the API collections hang off it: [Client.Zones],
// [Client.RecordSets], and [Client.Quotas].
type Client struct {
	// baseURL locates the service, e.g. "http://127.0.0.1:9001".
	baseURL string

	// prefix is the API version path segment, e.g. "v2".
	prefix string

	// httpClient performs the requests.
	httpClient *http.Client

	// headers are added to every request.
	headers http.Header

	// logger logs request outcomes.
	logger Logger
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying [http.Client]. The default
// is [http.DefaultClient].
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger used to trace requests. The default
// discards everything.
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHeader adds a header to every request, e.g. an auth token or
// the all-projects flag understood by the service.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithPrefix overrides the API version path segment. The default
// is "v2".
func WithPrefix(prefix string) ClientOption {
	return func(c *Client) {
		c.prefix = strings.Trim(prefix, "/")
	}
}

// NewClient creates a [Client] targeting the service at baseURL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     "v2",
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
		logger:     nopLogger{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// NewAdminClient creates a [Client] rooted at the admin prefix, under
// which the service hosts quota management. [Client.Quotas] switches
// prefixes on its own, so this constructor only matters to callers
// shaping admin requests directly through [Client.Request].
func NewAdminClient(baseURL string, options ...ClientOption) *Client {
	return NewClient(baseURL, append([]ClientOption{WithPrefix("admin")}, options...)...)
}

// Zones returns the typed view over the zones collection.
func (c *Client) Zones() *ZoneClient {
	return &ZoneClient{c}
}

// RecordSets returns the typed view over the recordsets nested under
// the given zone.
func (c *Client) RecordSets(zoneID string) *RecordSetClient {
	return &RecordSetClient{c: c, zoneID: zoneID}
}

// Quotas returns the typed view over per-project quotas. The view
// talks to the admin API prefix instead of the versioned one.
func (c *Client) Quotas() *QuotaClient {
	admin := *c
	admin.prefix = "admin"
	return &QuotaClient{&admin}
}

// CreateResource POSTs a document to a collection and decodes the
// resource the service created from it. Both the asynchronous 202 and
// the synchronous 201 answer count as success.
func (c *Client) CreateResource(ctx context.Context, resource string, body any) (Resource, error) {
	return c.Request(ctx, http.MethodPost, resource, "", nil, body,
		http.StatusCreated, http.StatusAccepted)
}

// ShowResource fetches a single resource by identifier.
func (c *Client) ShowResource(ctx context.Context, resource, id string) (Resource, error) {
	return c.Request(ctx, http.MethodGet, resource, id, nil, nil, http.StatusOK)
}

// ListResources fetches a collection listing, optionally narrowed by
// query parameters. The result is the whole response envelope; callers
// extract the embedded list with [Resource.Slice].
func (c *Client) ListResources(ctx context.Context, resource string, params url.Values) (Resource, error) {
	return c.Request(ctx, http.MethodGet, resource, "", params, nil, http.StatusOK)
}

// UpdateResource PATCHes changes into an existing resource. Both the
// synchronous 200 and the asynchronous 202 answer count as success.
func (c *Client) UpdateResource(ctx context.Context, resource, id string, body any) (Resource, error) {
	return c.Request(ctx, http.MethodPatch, resource, id, nil, body,
		http.StatusOK, http.StatusAccepted)
}

// DeleteResource removes a resource by identifier. Both the
// asynchronous 202 and the synchronous 204 answer count as success.
func (c *Client) DeleteResource(ctx context.Context, resource, id string) (Resource, error) {
	return c.Request(ctx, http.MethodDelete, resource, id, nil, nil,
		http.StatusAccepted, http.StatusNoContent)
}

// uri assembles the request URL from the collection path, an optional
// resource identifier, and optional query parameters.
func (c *Client) uri(resource, id string, params url.Values) string {
	var sb strings.Builder
	sb.WriteString(c.baseURL)
	sb.WriteString("/")
	sb.WriteString(c.prefix)
	sb.WriteString("/")
	sb.WriteString(resource)
	if id != "" {
		sb.WriteString("/")
		sb.WriteString(id)
	}
	if len(params) > 0 {
		sb.WriteString("?")
		sb.WriteString(params.Encode())
	}
	return sb.String()
}

// Request performs a single API call and decodes the response.
//
// The resource argument is the collection path relative to the version
// prefix, e.g. "zones" or "zones/{id}/recordsets". A non-empty id is
// appended as one more path segment. A non-nil body is serialized as
// JSON. The expected list enumerates the status codes that count as
// success.
//
// A 404 outside the expected list becomes a [NotFoundError]; any other
// unexpected status becomes a [ServiceError] carrying the response
// body. Transport failures are returned as-is.
func (c *Client) Request(ctx context.Context, method, resource, id string,
	params url.Values, body any, expected ...int) (Resource, error) {
	target := c.uri(resource, id, params)

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("zonetest: cannot serialize request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range c.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debugf("zonetest: %s %s: %d", method, target, resp.StatusCode)

	if !slices.Contains(expected, resp.StatusCode) {
		if resp.StatusCode == http.StatusNotFound {
			return nil, &NotFoundError{Resource: resource, ID: id}
		}
		return nil, &ServiceError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if len(data) <= 0 {
		return nil, nil
	}
	var result Resource
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("zonetest: cannot parse response body: %w", err)
	}
	return result, nil
}
