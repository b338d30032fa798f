// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"context"
	"time"

	"github.com/miekg/dns"
)

// QueryClient asks authoritative nameservers about a name directly
// over DNS, bypassing the REST API. Tests use it to observe whether a
// change the API reports as ACTIVE has actually propagated to the
// nameservers serving the zone.
type QueryClient struct {
	// Nameservers are the "host:port" endpoints to query. An empty
	// list makes every propagation wait succeed vacuously.
	Nameservers []string

	// QueryTimeout bounds each individual DNS exchange.
	QueryTimeout time.Duration

	// Net selects the transport, "udp" or "tcp". Empty means "udp".
	Net string

	// Logger optionally traces the queries. A nil Logger is silent.
	Logger Logger
}

// NewQueryClient creates a [QueryClient] for the given nameservers.
func NewQueryClient(nameservers []string, queryTimeout time.Duration) *QueryClient {
	return &QueryClient{Nameservers: nameservers, QueryTimeout: queryTimeout}
}

// Query sends the same question to every nameserver and returns one
// response per nameserver, in [QueryClient.Nameservers] order. The
// question asks for qtype records at name, which is fully qualified on
// the caller's behalf. Recursion is not requested since the targets
// are authoritative.
//
// A failed exchange aborts the whole round: propagation probes against
// unreachable nameservers are a test-environment defect, not a
// condition to wait out.
func (q *QueryClient) Query(ctx context.Context, name string, qtype uint16) ([]*dns.Msg, error) {
	logger := loggerOrNop(q.Logger)
	network := q.Net
	if network == "" {
		network = "udp"
	}
	client := &dns.Client{Net: network, Timeout: q.QueryTimeout}
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(name), qtype)
	query.RecursionDesired = false

	responses := make([]*dns.Msg, 0, len(q.Nameservers))
	for _, nameserver := range q.Nameservers {
		response, _, err := client.ExchangeContext(ctx, query, nameserver)
		if err != nil {
			return nil, err
		}
		logger.Debugf("zonetest: %s %s @ %s: %s, %d answers",
			dns.TypeToString[qtype], dns.Fqdn(name), nameserver,
			dns.RcodeToString[response.Rcode], len(response.Answer))
		responses = append(responses, response)
	}
	return responses, nil
}

// WaitForQuery polls the nameservers until each answers the question
// with at least one record, i.e. the name is visible everywhere.
//
// Like [Waiter.WaitForAbsence] the clock starts before the first poll.
// Exchange failures abort the wait; running out of budget yields a
// [TimeoutError].
func (w *Waiter) WaitForQuery(ctx context.Context, client *QueryClient, name string, qtype uint16) error {
	return w.waitForQuery(ctx, client, name, qtype, true)
}

// WaitForQueryAbsent polls the nameservers until none answers the
// question with records, i.e. the name has been withdrawn everywhere.
func (w *Waiter) WaitForQueryAbsent(ctx context.Context, client *QueryClient, name string, qtype uint16) error {
	return w.waitForQuery(ctx, client, name, qtype, false)
}

func (w *Waiter) waitForQuery(ctx context.Context, client *QueryClient,
	name string, qtype uint16, found bool) error {
	logger := loggerOrNop(w.Logger)
	state := "found"
	if !found {
		state = "removed"
	}
	logger.Infof("zonetest: waiting for %s %s to be %s by the nameservers",
		dns.TypeToString[qtype], name, state)

	start := time.Now()
	for {
		if err := sleep(ctx, w.Interval); err != nil {
			return err
		}
		responses, err := client.Query(ctx, name, qtype)
		if err != nil {
			return err
		}
		good := true
		for _, response := range responses {
			if found != (len(response.Answer) > 0) {
				good = false
				break
			}
		}
		if good {
			logger.Infof("zonetest: %s %s %s by the nameservers",
				dns.TypeToString[qtype], name, state)
			return nil
		}
		if elapsed := time.Since(start); elapsed >= w.Timeout {
			logger.Warnf("zonetest: giving up on %s %s being %s",
				dns.TypeToString[qtype], name, state)
			return &TimeoutError{
				Caller:  findTestCaller(),
				ID:      name,
				Target:  dns.TypeToString[qtype] + " " + state,
				Timeout: w.Timeout,
				Elapsed: elapsed,
			}
		}
	}
}
