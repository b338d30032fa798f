// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"context"
	"net/http"
)

// QuotaClient accesses per-project quotas. Obtain instances via
// [Client.Quotas].
//
// Quotas live under the service's admin API prefix rather than the
// versioned one, and changing a foreign project's quotas requires an
// operator token, which callers attach to the parent [Client] with
// [WithHeader].
type QuotaClient struct {
	c *Client
}

var _ ResourceNamer = (*QuotaClient)(nil)

// ResourceName implements [ResourceNamer].
func (q *QuotaClient) ResourceName() string {
	return "quotas"
}

// Show fetches the quotas of a project, e.g. the "zones" and
// "zone_recordsets" limits.
func (q *QuotaClient) Show(ctx context.Context, projectID string) (Resource, error) {
	return q.c.ShowResource(ctx, "quotas", projectID)
}

// Update overrides some quotas of a project and returns the resulting
// full quota set. Unlike zone changes a quota change applies
// synchronously, so only a 200 counts as success.
func (q *QuotaClient) Update(ctx context.Context, projectID string, quotas Resource) (Resource, error) {
	return q.c.Request(ctx, http.MethodPatch, "quotas", projectID, nil, quotas, http.StatusOK)
}

// Reset removes all quota overrides of a project, reverting it to the
// service defaults.
func (q *QuotaClient) Reset(ctx context.Context, projectID string) error {
	_, err := q.c.Request(ctx, http.MethodDelete, "quotas", projectID, nil, nil,
		http.StatusNoContent)
	return err
}
