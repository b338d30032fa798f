// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"context"
	"net/url"
)

// ZoneClient accesses the zones collection of the service API. Obtain
// instances via [Client.Zones].
type ZoneClient struct {
	c *Client
}

// Ensure a zone client can feed the waiter with full diagnostics.
var (
	_ Shower        = (*ZoneClient)(nil)
	_ ResourceNamer = (*ZoneClient)(nil)
)

// ResourceName implements [ResourceNamer].
func (z *ZoneClient) ResourceName() string {
	return "zones"
}

// Create registers a new zone and returns the service's view of it,
// typically with status PENDING and action CREATE. The zone document
// must at least carry "name" and "email".
func (z *ZoneClient) Create(ctx context.Context, zone Resource) (Resource, error) {
	return z.c.CreateResource(ctx, "zones", zone)
}

// Show fetches one zone by ID.
func (z *ZoneClient) Show(ctx context.Context, id string) (Resource, error) {
	return z.c.ShowResource(ctx, "zones", id)
}

// List fetches zones, optionally filtered by query parameters such as
// "name" or "status". A nil params fetches everything.
func (z *ZoneClient) List(ctx context.Context, params url.Values) ([]Resource, error) {
	body, err := z.c.ListResources(ctx, "zones", params)
	if err != nil {
		return nil, err
	}
	return body.Slice("zones"), nil
}

// Update applies a partial change to a zone, e.g. a new "ttl" or
// "email", and returns the updated view with action UPDATE.
func (z *ZoneClient) Update(ctx context.Context, id string, patch Resource) (Resource, error) {
	return z.c.UpdateResource(ctx, "zones", id, patch)
}

// Delete asks the service to remove a zone. Deletion is asynchronous:
// the returned view carries action DELETE and the zone only disappears
// once the change has propagated, so tests pair this call with
// [Waiter.WaitForAbsence].
func (z *ZoneClient) Delete(ctx context.Context, id string) (Resource, error) {
	return z.c.DeleteResource(ctx, "zones", id)
}
