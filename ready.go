// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
)

// WaitForEndpoint polls endpoint with jittered backoff until it
// answers any HTTP response, or until timeout elapses. Test suites
// call it once at startup so that zone operations do not race a
// service that is still booting.
//
// Any completed round trip counts as ready regardless of status code:
// readiness means the listener is up, not that the API is happy.
func WaitForEndpoint(ctx context.Context, endpoint string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	retry := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Jitter: true,
	}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		if sleepErr := sleep(ctx, retry.Duration()); sleepErr != nil {
			return fmt.Errorf("zonetest: endpoint %s not ready within %s: %w",
				endpoint, timeout, err)
		}
	}
}
