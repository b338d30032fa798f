// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// apiStub is a canned HTTP handler recording the last request served,
// so tests can assert on the request shape a client produced.
type apiStub struct {
	status int
	body   string

	mu      sync.Mutex
	method  string
	path    string
	query   url.Values
	header  http.Header
	reqBody []byte
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.method = r.Method
	s.path = r.URL.Path
	s.query = r.URL.Query()
	s.header = r.Header.Clone()
	s.reqBody = data
	s.mu.Unlock()
	if s.body != "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(s.status)
	io.WriteString(w, s.body)
}

// last returns a snapshot of the recorded request.
func (s *apiStub) last() (method, path string, query url.Values, header http.Header, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.method, s.path, s.query, s.header, s.reqBody
}

// newAPIStub starts a server answering every request with the given
// canned response and returns the stub plus the base URL.
func newAPIStub(t *testing.T, status int, body string) (*apiStub, string) {
	stub := &apiStub{status: status, body: body}
	ts := httptest.NewServer(stub)
	t.Cleanup(ts.Close)
	return stub, ts.URL
}

func TestClientRequest(t *testing.T) {
	t.Run("success decodes the body", func(t *testing.T) {
		stub, baseURL := newAPIStub(t, http.StatusOK, `{"id": "abc", "status": "ACTIVE"}`)
		client := NewClient(baseURL)

		zone, err := client.Request(context.Background(), http.MethodGet,
			"zones", "abc", nil, nil, http.StatusOK)

		assert.NoError(t, err)
		assert.Equal(t, "abc", zone.ID())
		assert.Equal(t, "ACTIVE", zone.Status())
		method, path, _, header, _ := stub.last()
		assert.Equal(t, http.MethodGet, method)
		assert.Equal(t, "/v2/zones/abc", path)
		assert.Equal(t, "application/json", header.Get("Accept"))
	})

	t.Run("empty body yields a nil resource", func(t *testing.T) {
		_, baseURL := newAPIStub(t, http.StatusNoContent, "")
		client := NewClient(baseURL)

		zone, err := client.Request(context.Background(), http.MethodDelete,
			"zones", "abc", nil, nil, http.StatusNoContent)

		assert.NoError(t, err)
		assert.Nil(t, zone)
	})

	t.Run("serializes the request body as JSON", func(t *testing.T) {
		stub, baseURL := newAPIStub(t, http.StatusAccepted, `{"id": "new"}`)
		client := NewClient(baseURL)

		_, err := client.Request(context.Background(), http.MethodPost, "zones", "",
			nil, Resource{"name": "example.org."}, http.StatusAccepted)

		assert.NoError(t, err)
		_, _, _, header, body := stub.last()
		assert.Equal(t, "application/json", header.Get("Content-Type"))
		assert.Contains(t, string(body), `"name":"example.org."`)
	})

	t.Run("encodes query parameters", func(t *testing.T) {
		stub, baseURL := newAPIStub(t, http.StatusOK, `{"zones": []}`)
		client := NewClient(baseURL)
		params := url.Values{}
		params.Set("name", "example.org.")
		params.Set("limit", "5")

		_, err := client.Request(context.Background(), http.MethodGet,
			"zones", "", params, nil, http.StatusOK)

		assert.NoError(t, err)
		_, _, query, _, _ := stub.last()
		assert.Equal(t, "example.org.", query.Get("name"))
		assert.Equal(t, "5", query.Get("limit"))
	})

	t.Run("attaches configured headers", func(t *testing.T) {
		stub, baseURL := newAPIStub(t, http.StatusOK, `{}`)
		client := NewClient(baseURL, WithHeader("X-Auth-Project-ID", "team-a"))

		_, err := client.Request(context.Background(), http.MethodGet,
			"zones", "", nil, nil, http.StatusOK)

		assert.NoError(t, err)
		_, _, _, header, _ := stub.last()
		assert.Equal(t, "team-a", header.Get("X-Auth-Project-ID"))
	})

	t.Run("404 maps to NotFoundError", func(t *testing.T) {
		_, baseURL := newAPIStub(t, http.StatusNotFound, `{"code": 404, "type": "zone_not_found"}`)
		client := NewClient(baseURL)

		zone, err := client.Request(context.Background(), http.MethodGet,
			"zones", "abc", nil, nil, http.StatusOK)

		assert.Nil(t, zone)
		assert.ErrorIs(t, err, ErrNotFound)
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected a *NotFoundError, got %v", err)
		}
		assert.Equal(t, "zones", notFound.Resource)
		assert.Equal(t, "abc", notFound.ID)
	})

	t.Run("unexpected status maps to ServiceError", func(t *testing.T) {
		_, baseURL := newAPIStub(t, http.StatusConflict, `{"code": 409, "type": "duplicate_zone"}`)
		client := NewClient(baseURL)

		zone, err := client.Request(context.Background(), http.MethodPost, "zones", "",
			nil, Resource{"name": "example.org."}, http.StatusCreated, http.StatusAccepted)

		assert.Nil(t, zone)
		assert.ErrorIs(t, err, ErrService)
		var svcErr *ServiceError
		if !errors.As(err, &svcErr) {
			t.Fatalf("expected a *ServiceError, got %v", err)
		}
		assert.Equal(t, http.StatusConflict, svcErr.StatusCode)
		assert.Contains(t, svcErr.Body, "duplicate_zone")

		// the error names the request that failed
		assert.Equal(t, http.MethodPost, svcErr.Method)
		assert.Equal(t, baseURL+"/v2/zones", svcErr.URL)
	})

	t.Run("explicitly expected 404 is not an error", func(t *testing.T) {
		_, baseURL := newAPIStub(t, http.StatusNotFound, `{"code": 404}`)
		client := NewClient(baseURL)

		doc, err := client.Request(context.Background(), http.MethodGet,
			"zones", "abc", nil, nil, http.StatusNotFound)

		assert.NoError(t, err)
		assert.Equal(t, 404, doc.Int("code"))
	})

	t.Run("unparseable response body is an error", func(t *testing.T) {
		_, baseURL := newAPIStub(t, http.StatusOK, "not json at all")
		client := NewClient(baseURL)

		_, err := client.Request(context.Background(), http.MethodGet,
			"zones", "abc", nil, nil, http.StatusOK)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "cannot parse response body")
	})

	t.Run("transport errors propagate untyped", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close() // deliberately talk to a dead server
		client := NewClient(ts.URL)

		_, err := client.Request(context.Background(), http.MethodGet,
			"zones", "abc", nil, nil, http.StatusOK)

		assert.Error(t, err)
		assert.False(t, errors.Is(err, ErrService))
		assert.False(t, errors.Is(err, ErrNotFound))
	})
}

func TestClientGenericOperations(t *testing.T) {
	// each wrapper picks the right method and success codes; the stub
	// answers 200 with a tiny document, which every operation except
	// Create treats as success
	type testCase struct {
		name       string
		call       func(c *Client) (Resource, error)
		wantMethod string
		wantPath   string
		wantErr    bool
	}

	testCases := []testCase{
		{
			name: "create rejects a plain 200",
			call: func(c *Client) (Resource, error) {
				return c.CreateResource(context.Background(), "zones", Resource{"name": "example.org."})
			},
			wantMethod: http.MethodPost,
			wantPath:   "/v2/zones",
			wantErr:    true,
		},

		{
			name: "show",
			call: func(c *Client) (Resource, error) {
				return c.ShowResource(context.Background(), "zones", "abc")
			},
			wantMethod: http.MethodGet,
			wantPath:   "/v2/zones/abc",
		},

		{
			name: "list",
			call: func(c *Client) (Resource, error) {
				return c.ListResources(context.Background(), "zones", nil)
			},
			wantMethod: http.MethodGet,
			wantPath:   "/v2/zones",
		},

		{
			name: "update",
			call: func(c *Client) (Resource, error) {
				return c.UpdateResource(context.Background(), "zones", "abc", Resource{"ttl": 7200})
			},
			wantMethod: http.MethodPatch,
			wantPath:   "/v2/zones/abc",
		},

		{
			name: "delete rejects a plain 200",
			call: func(c *Client) (Resource, error) {
				return c.DeleteResource(context.Background(), "zones", "abc")
			},
			wantMethod: http.MethodDelete,
			wantPath:   "/v2/zones/abc",
			wantErr:    true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stub, baseURL := newAPIStub(t, http.StatusOK, `{"id": "abc"}`)
			client := NewClient(baseURL)

			_, err := tc.call(client)

			if tc.wantErr {
				assert.ErrorIs(t, err, ErrService)
			} else {
				assert.NoError(t, err)
			}
			method, path, _, _, _ := stub.last()
			assert.Equal(t, tc.wantMethod, method)
			assert.Equal(t, tc.wantPath, path)
		})
	}
}

func TestClientURLShaping(t *testing.T) {
	t.Run("trailing slash on the base URL", func(t *testing.T) {
		stub, baseURL := newAPIStub(t, http.StatusOK, `{}`)
		client := NewClient(baseURL + "/")

		_, err := client.Request(context.Background(), http.MethodGet,
			"zones", "", nil, nil, http.StatusOK)

		assert.NoError(t, err)
		_, path, _, _, _ := stub.last()
		assert.Equal(t, "/v2/zones", path)
	})

	t.Run("prefix override", func(t *testing.T) {
		stub, baseURL := newAPIStub(t, http.StatusOK, `{}`)
		client := NewClient(baseURL, WithPrefix("v1"))

		_, err := client.Request(context.Background(), http.MethodGet,
			"zones", "abc", nil, nil, http.StatusOK)

		assert.NoError(t, err)
		_, path, _, _, _ := stub.last()
		assert.Equal(t, "/v1/zones/abc", path)
	})

	t.Run("admin constructor", func(t *testing.T) {
		stub, baseURL := newAPIStub(t, http.StatusOK, `{}`)
		client := NewAdminClient(baseURL)

		_, err := client.Request(context.Background(), http.MethodGet,
			"quotas", "team-a", nil, nil, http.StatusOK)

		assert.NoError(t, err)
		_, path, _, _, _ := stub.last()
		assert.Equal(t, "/admin/quotas/team-a", path)
	})
}

// countingTransport counts the requests it carries, proving that an
// injected [http.Client] is the one doing the talking.
type countingTransport struct {
	mu    sync.Mutex
	count int
}

func (ct *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ct.mu.Lock()
	ct.count++
	ct.mu.Unlock()
	return http.DefaultTransport.RoundTrip(req)
}

func (ct *countingTransport) total() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.count
}

func TestClientWithHTTPClient(t *testing.T) {
	stub, baseURL := newAPIStub(t, http.StatusOK, `{"id": "abc"}`)
	transport := &countingTransport{}
	client := NewClient(baseURL, WithHTTPClient(&http.Client{Transport: transport}))

	// both a raw request and a typed view ride the injected client
	_, err := client.Request(context.Background(), http.MethodGet,
		"zones", "abc", nil, nil, http.StatusOK)
	assert.NoError(t, err)
	zone, err := client.Zones().Show(context.Background(), "abc")
	assert.NoError(t, err)
	assert.Equal(t, "abc", zone.ID())

	assert.Equal(t, 2, transport.total())
	_, path, _, _, _ := stub.last()
	assert.Equal(t, "/v2/zones/abc", path)
}
