// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"context"
	"net/http"
	"net/url"
)

// RecordSetClient accesses the recordsets nested under one zone.
// Obtain instances via [Client.RecordSets].
type RecordSetClient struct {
	c      *Client
	zoneID string
}

// Ensure a recordset client can feed the waiter with full diagnostics.
var (
	_ Shower        = (*RecordSetClient)(nil)
	_ ResourceNamer = (*RecordSetClient)(nil)
)

// ResourceName implements [ResourceNamer].
func (r *RecordSetClient) ResourceName() string {
	return "recordsets"
}

// path returns the collection path under the owning zone.
func (r *RecordSetClient) path() string {
	return "zones/" + r.zoneID + "/recordsets"
}

// Create adds a recordset to the zone. The document must carry "name",
// "type", and "records"; like zone changes it starts out PENDING.
func (r *RecordSetClient) Create(ctx context.Context, recordset Resource) (Resource, error) {
	return r.c.CreateResource(ctx, r.path(), recordset)
}

// Show fetches one recordset by ID.
func (r *RecordSetClient) Show(ctx context.Context, id string) (Resource, error) {
	return r.c.ShowResource(ctx, r.path(), id)
}

// List fetches the zone's recordsets, optionally filtered by query
// parameters such as "type".
func (r *RecordSetClient) List(ctx context.Context, params url.Values) ([]Resource, error) {
	body, err := r.c.ListResources(ctx, r.path(), params)
	if err != nil {
		return nil, err
	}
	return body.Slice("recordsets"), nil
}

// Update replaces the mutable fields of a recordset, e.g. "records" or
// "ttl". The service models this as a PUT rather than a PATCH, so the
// call goes through [Client.Request] directly.
func (r *RecordSetClient) Update(ctx context.Context, id string, patch Resource) (Resource, error) {
	return r.c.Request(ctx, http.MethodPut, r.path(), id, nil, patch,
		http.StatusOK, http.StatusAccepted)
}

// Delete asks the service to remove a recordset. As with zones the
// removal is asynchronous.
func (r *RecordSetClient) Delete(ctx context.Context, id string) (Resource, error) {
	return r.c.DeleteResource(ctx, r.path(), id)
}
