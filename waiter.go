// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"
)

// Shower fetches the current state of one resource. [ZoneClient] and
// [RecordSetClient] implement it; tests substitute fakes.
//
// Show returns a fresh snapshot on every call, a [NotFoundError] when
// the service no longer knows the resource, and any other error
// verbatim. It must not retry: retrying is the [Waiter]'s job.
type Shower interface {
	Show(ctx context.Context, id string) (Resource, error)
}

// ResourceNamer optionally names the collection a [Shower] polls, e.g.
// "zones". The [Waiter] uses it to enrich [TimeoutError] messages; a
// Shower without it still works, only with terser diagnostics.
type ResourceNamer interface {
	ResourceName() string
}

// resourceName reports the collection name of shower, or the empty
// string when shower does not implement [ResourceNamer].
func resourceName(shower Shower) string {
	if namer, ok := shower.(ResourceNamer); ok {
		return namer.ResourceName()
	}
	return ""
}

// Waiter turns the eventual consistency of the DNS service into
// synchronous assertions: it polls a resource at a fixed interval
// until a condition holds or a wall-clock budget runs out.
//
// A Waiter is stateless between calls and safe for concurrent use, but
// each individual wait blocks its calling goroutine for its entire
// duration. There is no internal cancellation machinery: to abort a
// wait early, cancel the context passed to it.
type Waiter struct {
	// Interval is the sleep between consecutive polls.
	Interval time.Duration

	// Timeout is the wall-clock budget of a single wait. The check
	// is "elapsed >= Timeout" once per iteration after fetching, so
	// a failing wait burns between Timeout and Timeout+Interval.
	Timeout time.Duration

	// Logger optionally traces progress. A nil Logger is silent.
	Logger Logger
}

// NewWaiter creates a [Waiter] with the given polling interval and
// wall-clock budget.
func NewWaiter(interval, timeout time.Duration) *Waiter {
	return &Waiter{Interval: interval, Timeout: timeout}
}

// WaitForStatus polls until the resource's status equals status and
// returns the final snapshot. See [Waiter.WaitForCondition] for the
// error contract.
func (w *Waiter) WaitForStatus(ctx context.Context, shower Shower, id, status string) (Resource, error) {
	return w.WaitForCondition(ctx, shower, id, "status="+status, func(r Resource) bool {
		return r.Status() == status
	})
}

// WaitForCondition polls until satisfied reports true for a snapshot
// of the resource, then returns that snapshot. The target string
// describes the condition in log and error messages.
//
// The resource is fetched once before the clock starts, so the budget
// pays for waiting rather than for the first round trip. Any error
// from the fetch, including [NotFoundError], aborts the wait at once.
// When the budget runs out the error is a [TimeoutError].
func (w *Waiter) WaitForCondition(ctx context.Context, shower Shower, id,
	target string, satisfied func(Resource) bool) (Resource, error) {
	logger := loggerOrNop(w.Logger)
	logger.Infof("zonetest: waiting for %s to reach %s", id, target)

	resource, err := shower.Show(ctx, id)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	for !satisfied(resource) {
		if err := sleep(ctx, w.Interval); err != nil {
			return nil, err
		}
		resource, err = shower.Show(ctx, id)
		if err != nil {
			return nil, err
		}
		if satisfied(resource) {
			break
		}
		if elapsed := time.Since(start); elapsed >= w.Timeout {
			logger.Warnf("zonetest: giving up on %s reaching %s", id, target)
			return nil, &TimeoutError{
				Caller:     findTestCaller(),
				Resource:   resourceName(shower),
				ID:         id,
				Target:     target,
				LastStatus: resource.Status(),
				LastSeen:   resource,
				Timeout:    w.Timeout,
				Elapsed:    elapsed,
			}
		}
	}
	logger.Infof("zonetest: %s reached %s", id, target)
	return resource, nil
}

// WaitForAbsence polls until Show answers [NotFoundError], which is
// the success signal here: the resource is gone. Unlike a status wait
// the clock starts before the first poll, and there is no initial
// fetch, so a wait for an already-deleted resource still sleeps one
// interval before noticing.
//
// Errors other than not-found abort the wait at once; when the budget
// runs out the error is a [TimeoutError] whose LastStatus reports what
// the lingering resource looked like.
func (w *Waiter) WaitForAbsence(ctx context.Context, shower Shower, id string) error {
	logger := loggerOrNop(w.Logger)
	logger.Infof("zonetest: waiting for %s to 404", id)

	start := time.Now()
	for {
		if err := sleep(ctx, w.Interval); err != nil {
			return err
		}
		resource, err := shower.Show(ctx, id)
		if errors.Is(err, ErrNotFound) {
			logger.Infof("zonetest: %s is 404ing", id)
			return nil
		}
		if err != nil {
			return err
		}
		if elapsed := time.Since(start); elapsed >= w.Timeout {
			logger.Warnf("zonetest: giving up on %s going away", id)
			return &TimeoutError{
				Caller:     findTestCaller(),
				Resource:   resourceName(shower),
				ID:         id,
				Target:     "404",
				LastStatus: resource.Status(),
				LastSeen:   resource,
				Timeout:    w.Timeout,
				Elapsed:    elapsed,
			}
		}
	}
}

// sleep blocks for the given duration, returning early with the
// context error when ctx is canceled first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// findTestCaller walks the stack for the innermost function defined in
// a _test.go file, so that a [TimeoutError] can name the test that was
// waiting. Returns the empty string when no test frame is found.
func findTestCaller() string {
	pc := make([]uintptr, 32)
	n := runtime.Callers(2, pc[:])
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		if strings.HasSuffix(frame.File, "_test.go") {
			name := frame.Function
			if idx := strings.LastIndex(name, "/"); idx >= 0 {
				name = name[idx+1:]
			}
			if idx := strings.Index(name, "."); idx >= 0 {
				name = name[idx+1:]
			}
			return name
		}
		if !more {
			return ""
		}
	}
}
