// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package zonetest contains helpers for writing integration tests
against a DNS zone-management REST API.

Such APIs are eventually consistent: creating a zone returns a
PENDING resource that only later becomes ACTIVE, and deleting one
returns long before the zone actually disappears. This package turns
those asynchronous transitions into synchronous assertions. The
[Client] family issues the REST calls and maps HTTP status codes to
typed errors, and the [Waiter] polls a resource's status at a fixed
interval until it matches a target, the resource vanishes, or a
wall-clock deadline expires.

There is deliberately no retry of transport or service errors here:
a wait either converges, reports [*TimeoutError], or surfaces the
first error it sees. The only error a waiter ever absorbs is the
not-found that [Waiter.WaitForAbsence] is waiting for.

For tests that must also observe the data plane, [QueryClient] and
the query waits poll the authoritative nameservers directly until a
change has propagated. [Fixture] generates the random zone and
recordset documents such tests feed in, and [LoadConfig] wires the
whole suite to a concrete deployment via YAML or the environment.

The package additionally ships the test doubles its own tests use: an
in-memory zone API ([Server]) and an authoritative nameserver
([Nameserver]) speaking UDP or TCP. Their API design is inspired by
net/http/httptest. Like net/http/httptest, we panic when we cannot
create a testing server because, in a test, such a failure should be
loud and obvious.
*/
package zonetest
