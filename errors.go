// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors. Typed errors returned by this package unwrap to one
// of these, so callers classify failures with [errors.Is] without
// caring about the concrete type.
var (
	// ErrNotFound indicates the service answered 404 for a resource.
	ErrNotFound = errors.New("zonetest: not found")

	// ErrService indicates the service answered with a status code
	// the caller did not expect.
	ErrService = errors.New("zonetest: unexpected service response")

	// ErrTimeout indicates a wait gave up before its condition held.
	ErrTimeout = errors.New("zonetest: timeout")
)

// NotFoundError is returned when the service answers 404. During an
// absence wait this is the success signal rather than a failure.
type NotFoundError struct {
	// Resource is the collection path, e.g. "zones".
	Resource string

	// ID is the identifier that was requested, possibly empty.
	ID string
}

// Error implements error.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("zonetest: %s/%s not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("zonetest: %s not found", e.Resource)
}

// Unwrap maps this error to [ErrNotFound].
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ServiceError is returned when the service answers with a status code
// outside the set the caller expected. The body is carried verbatim
// because the service usually explains itself in JSON and a failing
// test wants that text in front of the reader.
type ServiceError struct {
	// Method is the HTTP method of the failed request, possibly empty.
	Method string

	// URL is the URL of the failed request, possibly empty.
	URL string

	// StatusCode is the HTTP status the service answered with.
	StatusCode int

	// Body is the raw response body.
	Body string
}

// Error implements error.
func (e *ServiceError) Error() string {
	msg := "zonetest: unexpected response"
	if e.Method != "" && e.URL != "" {
		msg += " to " + e.Method + " " + e.URL
	}
	msg += fmt.Sprintf(": %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// Unwrap maps this error to [ErrService].
func (e *ServiceError) Unwrap() error {
	return ErrService
}

// TimeoutError is returned by [Waiter] methods when the awaited
// condition does not hold within the configured timeout.
type TimeoutError struct {
	// Caller is the innermost test function on the stack when the
	// wait started, or empty when no test frame was found.
	Caller string

	// Resource is the collection the watched resource belongs to,
	// e.g. "zones", or empty when the client did not report one.
	Resource string

	// ID identifies the resource that was being watched.
	ID string

	// Target describes what the wait was for, e.g. "status=ACTIVE".
	Target string

	// LastStatus is the most recently observed status, if any.
	LastStatus string

	// LastSeen is the most recently fetched snapshot of the resource,
	// or nil when the wait never saw one.
	LastSeen Resource

	// Timeout is the configured wait budget that ran out.
	Timeout time.Duration

	// Elapsed is the wall time spent before giving up. It is at
	// least the configured timeout and exceeds it by at most one
	// polling interval.
	Elapsed time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	var sb strings.Builder
	if e.Caller != "" {
		fmt.Fprintf(&sb, "(%s) ", e.Caller)
	}
	name := e.ID
	if e.Resource != "" {
		name = e.Resource + "/" + e.ID
	}
	fmt.Fprintf(&sb, "zonetest: resource %s failed to reach %s within the required time (%s)",
		name, e.Target, e.Timeout.Round(time.Millisecond))
	if e.LastStatus != "" {
		fmt.Fprintf(&sb, "; current status: %s", e.LastStatus)
	}
	return sb.String()
}

// Unwrap maps this error to [ErrTimeout].
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// Ignore returns nil when err matches any of kinds per [errors.Is] and
// err unchanged otherwise. Use it to suppress specific failures at a
// single call site, typically a cleanup delete racing the test:
//
//	_, err := zones.Delete(ctx, id)
//	if err := zonetest.Ignore(err, zonetest.ErrNotFound); err != nil {
//		t.Fatal(err)
//	}
func Ignore(err error, kinds ...error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return nil
		}
	}
	return err
}

// Ignoring is the two-value companion of [Ignore]. It adapts a
// (value, error) pair so that errors matching kinds are suppressed and
// the value is zeroed, which composes directly with client calls:
//
//	zone, err := zonetest.Ignoring[zonetest.Resource](zonetest.ErrNotFound)(zones.Show(ctx, id))
func Ignoring[T any](kinds ...error) func(T, error) (T, error) {
	return func(value T, err error) (T, error) {
		if err != nil && Ignore(err, kinds...) == nil {
			var zero T
			return zero, nil
		}
		return value, err
	}
}
