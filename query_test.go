// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
)

// publishedZoneSet returns a registry serving example.com with a
// single A record at www.example.com.
func publishedZoneSet() *ZoneSet {
	zones := NewZoneSet()
	zones.SetZone("example.com.", 1)
	zones.AddAddr("www.example.com.", netip.MustParseAddr("10.0.0.1"))
	return zones
}

func TestQueryClientQuery(t *testing.T) {
	zones := publishedZoneSet()
	ns := MustNewNameserver(&net.ListenConfig{}, "127.0.0.1:0", zones)
	defer ns.Close()
	client := NewQueryClient([]string{ns.Address()}, time.Second)
	ctx := context.Background()

	t.Run("address lookup", func(t *testing.T) {
		responses, err := client.Query(ctx, "www.example.com.", dns.TypeA)

		assert.NoError(t, err)
		assert.True(t, len(responses) == 1)
		assert.Equal(t, dns.RcodeSuccess, responses[0].Rcode)
		assert.True(t, responses[0].Authoritative)
		assert.Equal(t, []string{"10.0.0.1"}, collectAddrs(responses[0]))
	})

	t.Run("qualifies relative names", func(t *testing.T) {
		responses, err := client.Query(ctx, "www.example.com", dns.TypeA)

		assert.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.1"}, collectAddrs(responses[0]))
	})

	t.Run("zone apex SOA", func(t *testing.T) {
		responses, err := client.Query(ctx, "example.com.", dns.TypeSOA)

		assert.NoError(t, err)
		assert.True(t, len(responses[0].Answer) == 1)
	})

	t.Run("name outside the authority", func(t *testing.T) {
		responses, err := client.Query(ctx, "www.example.org.", dns.TypeA)

		assert.NoError(t, err)
		assert.Equal(t, dns.RcodeRefused, responses[0].Rcode)
		assert.Empty(t, responses[0].Answer)
	})
}

func TestQueryClientMultipleNameservers(t *testing.T) {
	// two nameservers serving the same registry yield one response each
	zones := publishedZoneSet()
	first := MustNewNameserver(&net.ListenConfig{}, "127.0.0.1:0", zones)
	defer first.Close()
	second := MustNewNameserver(&net.ListenConfig{}, "127.0.0.1:0", zones)
	defer second.Close()
	client := NewQueryClient([]string{first.Address(), second.Address()}, time.Second)

	responses, err := client.Query(context.Background(), "www.example.com.", dns.TypeA)

	assert.NoError(t, err)
	assert.True(t, len(responses) == 2)
	for _, response := range responses {
		assert.Equal(t, []string{"10.0.0.1"}, collectAddrs(response))
	}
}

func TestQueryClientTCP(t *testing.T) {
	zones := publishedZoneSet()
	ns := MustNewTCPNameserver(&net.ListenConfig{}, "127.0.0.1:0", zones)
	defer ns.Close()
	client := NewQueryClient([]string{ns.Address()}, time.Second)
	client.Net = "tcp"

	responses, err := client.Query(context.Background(), "www.example.com.", dns.TypeA)

	assert.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1"}, collectAddrs(responses[0]))
}

func TestQueryClientExchangeFailure(t *testing.T) {
	// an unreachable nameserver aborts the round with an error
	client := NewQueryClient([]string{"127.0.0.1:1"}, 100*time.Millisecond)

	responses, err := client.Query(context.Background(), "www.example.com.", dns.TypeA)

	assert.Error(t, err)
	assert.Nil(t, responses)
}

func TestWaitForQuery(t *testing.T) {
	// the zone shows up on the nameserver only after a propagation
	// delay, like a real deployment settling a change
	zones := NewZoneSet()
	ns := MustNewNameserver(&net.ListenConfig{}, "127.0.0.1:0", zones)
	defer ns.Close()
	client := NewQueryClient([]string{ns.Address()}, time.Second)
	waiter := NewWaiter(10*time.Millisecond, 2*time.Second)
	ctx := context.Background()

	time.AfterFunc(30*time.Millisecond, func() {
		zones.SetZone("example.com.", 1)
		zones.AddAddr("www.example.com.", netip.MustParseAddr("10.0.0.1"))
	})
	assert.NoError(t, waiter.WaitForQuery(ctx, client, "www.example.com.", dns.TypeA))

	// and later the record is withdrawn again
	time.AfterFunc(30*time.Millisecond, func() {
		zones.RemoveName("www.example.com.")
	})
	assert.NoError(t, waiter.WaitForQueryAbsent(ctx, client, "www.example.com.", dns.TypeA))
}

func TestWaitForQueryVacuousWithoutNameservers(t *testing.T) {
	// no nameservers configured means nothing to probe: waits succeed
	// after a single interval
	client := NewQueryClient(nil, time.Second)
	waiter := NewWaiter(25*time.Millisecond, 2*time.Second)
	ctx := context.Background()

	start := time.Now()
	assert.NoError(t, waiter.WaitForQuery(ctx, client, "www.example.com.", dns.TypeA))
	elapsed := time.Since(start)

	assert.True(t, elapsed >= 25*time.Millisecond)
	assert.True(t, elapsed < time.Second)
	assert.NoError(t, waiter.WaitForQueryAbsent(ctx, client, "www.example.com.", dns.TypeA))
}

func TestWaitForQueryTimeout(t *testing.T) {
	zones := publishedZoneSet()
	ns := MustNewNameserver(&net.ListenConfig{}, "127.0.0.1:0", zones)
	defer ns.Close()
	client := NewQueryClient([]string{ns.Address()}, time.Second)
	waiter := NewWaiter(10*time.Millisecond, 50*time.Millisecond)
	ctx := context.Background()

	t.Run("name never published", func(t *testing.T) {
		err := waiter.WaitForQuery(ctx, client, "missing.example.com.", dns.TypeA)

		assert.ErrorIs(t, err, ErrTimeout)
		var timeoutErr *TimeoutError
		if !errors.As(err, &timeoutErr) {
			t.Fatalf("expected a *TimeoutError, got %v", err)
		}
		assert.Equal(t, "missing.example.com.", timeoutErr.ID)
		assert.Equal(t, "A found", timeoutErr.Target)
		assert.True(t, strings.HasPrefix(timeoutErr.Caller, "TestWaitForQueryTimeout"))
		assert.True(t, timeoutErr.Elapsed >= waiter.Timeout)
		assert.Contains(t, err.Error(), "failed to reach A found")
	})

	t.Run("name never withdrawn", func(t *testing.T) {
		err := waiter.WaitForQueryAbsent(ctx, client, "www.example.com.", dns.TypeA)

		assert.ErrorIs(t, err, ErrTimeout)
		var timeoutErr *TimeoutError
		if !errors.As(err, &timeoutErr) {
			t.Fatalf("expected a *TimeoutError, got %v", err)
		}
		assert.Equal(t, "A removed", timeoutErr.Target)
	})
}

func TestWaitForQueryContextCancellation(t *testing.T) {
	client := NewQueryClient([]string{"127.0.0.1:1"}, time.Second)
	waiter := NewWaiter(10*time.Second, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := waiter.WaitForQuery(ctx, client, "www.example.com.", dns.TypeA)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, time.Since(start) < 5*time.Second)
}
