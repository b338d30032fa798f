//
// SPDX-License-Identifier: BSD-3-Clause
//
// Adapted from: https://github.com/ooni/netem/blob/608dcbcd82b8eabcb675d482e2ca83cf3a41c27d/dnsserver.go
//

package zonetest

import (
	"context"
	"net"
	"net/netip"
	"sync"

	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
)

// ZoneSet is the mutable zone registry backing a [Nameserver].
//
// Construct using [NewZoneSet]. Tests mutate a ZoneSet while the
// nameserver is running to simulate propagation: publish a zone when
// the API reports it ACTIVE, withdraw it when deletion completes.
type ZoneSet struct {
	mu    sync.Mutex
	zones map[string]uint32
	rrs   map[string][]dns.RR
}

// NewZoneSet constructs an empty [*ZoneSet].
func NewZoneSet() *ZoneSet {
	return &ZoneSet{
		mu:    sync.Mutex{},
		zones: map[string]uint32{},
		rrs:   map[string][]dns.RR{},
	}
}

// zoneSetTTL is the TTL of records synthesized by [*ZoneSet].
const zoneSetTTL = 3600

// SetZone publishes a zone apex with the given SOA serial,
// synthesizing the SOA and NS records an authoritative server would
// carry. Calling it again for the same name replaces them, so a test
// bumps the serial by publishing again.
func (z *ZoneSet) SetZone(name string, serial uint32) {
	name = dns.CanonicalName(name)

	soa := &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    zoneSetTTL,
		},
		Ns:      "ns1." + name,
		Mbox:    "admin." + name,
		Serial:  serial,
		Refresh: 3600,
		Retry:   600,
		Expire:  86400,
		Minttl:  300,
	}
	ns := &dns.NS{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeNS,
			Class:  dns.ClassINET,
			Ttl:    zoneSetTTL,
		},
		Ns: "ns1." + name,
	}

	z.mu.Lock()
	z.zones[name] = serial
	var kept []dns.RR
	for _, rr := range z.rrs[name] {
		if rrtype := rr.Header().Rrtype; rrtype != dns.TypeSOA && rrtype != dns.TypeNS {
			kept = append(kept, rr)
		}
	}
	z.rrs[name] = append(kept, soa, ns)
	z.mu.Unlock()
}

// Serial returns the published SOA serial of a zone apex. A false
// return value indicates the zone is not published.
func (z *ZoneSet) Serial(name string) (uint32, bool) {
	z.mu.Lock()
	serial, found := z.zones[dns.CanonicalName(name)]
	z.mu.Unlock()
	return serial, found
}

// AddAddr adds an address record for the given name, AAAA for IPv6
// addresses and A otherwise. The name should live inside a published
// zone, or queries for it will be refused.
func (z *ZoneSet) AddAddr(name string, addr netip.Addr) {
	name = dns.CanonicalName(name)

	var record dns.RR
	switch addr.Is6() {
	case true:
		record = &dns.AAAA{
			Hdr: dns.RR_Header{
				Name:   name,
				Rrtype: dns.TypeAAAA,
				Class:  dns.ClassINET,
				Ttl:    zoneSetTTL,
			},
			AAAA: addr.AsSlice(),
		}

	default:
		record = &dns.A{
			Hdr: dns.RR_Header{
				Name:   name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    zoneSetTTL,
			},
			A: addr.AsSlice(),
		}
	}

	z.mu.Lock()
	z.rrs[name] = append(z.rrs[name], record)
	z.mu.Unlock()
}

// AddCNAME adds a CNAME record aliasing name to target.
func (z *ZoneSet) AddCNAME(name, target string) {
	name, target = dns.CanonicalName(name), dns.CanonicalName(target)

	record := &dns.CNAME{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeCNAME,
			Class:  dns.ClassINET,
			Ttl:    zoneSetTTL,
		},
		Target: target,
	}

	z.mu.Lock()
	z.rrs[name] = append(z.rrs[name], record)
	z.mu.Unlock()
}

// AddTXT adds a TXT record carrying the given character strings.
func (z *ZoneSet) AddTXT(name string, chunks []string) {
	name = dns.CanonicalName(name)

	record := &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    zoneSetTTL,
		},
		Txt: chunks,
	}

	z.mu.Lock()
	z.rrs[name] = append(z.rrs[name], record)
	z.mu.Unlock()
}

// RemoveName removes all records owned by a single name, leaving the
// rest of the zone alone.
func (z *ZoneSet) RemoveName(name string) {
	z.mu.Lock()
	delete(z.rrs, dns.CanonicalName(name))
	z.mu.Unlock()
}

// RemoveZone withdraws a zone apex and every name below it, after
// which queries inside the zone are refused again.
func (z *ZoneSet) RemoveZone(name string) {
	name = dns.CanonicalName(name)
	z.mu.Lock()
	delete(z.zones, name)
	for owner := range z.rrs {
		if dns.IsSubDomain(name, owner) {
			delete(z.rrs, owner)
		}
	}
	z.mu.Unlock()
}

// Authority returns the apex of the published zone enclosing name. A
// false return value indicates that no published zone encloses it.
func (z *ZoneSet) Authority(name string) (string, bool) {
	name = dns.CanonicalName(name)
	best, found := "", false
	z.mu.Lock()
	for apex := range z.zones {
		if dns.IsSubDomain(apex, name) && len(apex) > len(best) {
			best, found = apex, true
		}
	}
	z.mu.Unlock()
	return best, found
}

// Lookup searches for records of the given type owned by name.
//
// A false return value indicates that the name does not exist while a
// true return value without records indicates that we don't have
// records for the given type.
func (z *ZoneSet) Lookup(name string, qtype uint16) ([]dns.RR, bool) {
	var filtered []dns.RR
	z.mu.Lock()

	records, found := z.rrs[dns.CanonicalName(name)]
	for _, rr := range records {
		if qtype == rr.Header().Rrtype {
			filtered = append(filtered, rr)
		}
	}

	z.mu.Unlock()
	return filtered, found
}

// Respond returns the authoritative [*dns.Msg] response for the given
// [*dns.Msg] query.
func (z *ZoneSet) Respond(query *dns.Msg) *dns.Msg {
	// 1. reject blatantly wrong queries
	if query.Response || len(query.Question) != 1 {
		resp := &dns.Msg{}
		resp.SetRcode(query, dns.RcodeRefused)
		return resp
	}

	q0 := query.Question[0]
	if q0.Qclass != dns.ClassINET {
		resp := &dns.Msg{}
		resp.SetRcode(query, dns.RcodeRefused)
		return resp
	}

	// 2. refuse queries outside the zones we are authoritative for
	apex, ok := z.Authority(q0.Name)
	if !ok {
		resp := &dns.Msg{}
		resp.SetRcode(query, dns.RcodeRefused)
		return resp
	}
	soa, _ := z.Lookup(apex, dns.TypeSOA)

	// 3. lookup with the registry, following CNAME chains
	var cnames []dns.RR
	qName, qType := q0.Name, q0.Qtype
	const maxCNAMEChain = 10
	for range maxCNAMEChain {
		// 3.1. execute the query requested by the user
		records, found := z.Lookup(qName, qType)

		switch {
		// 3.2. the query returned records
		case found && len(records) > 0:
			resp := &dns.Msg{}
			resp.SetReply(query)
			resp.Authoritative = true
			resp.Answer = append(cnames, records...)
			return resp

		// 3.3. no records but the name exists
		case found && len(records) <= 0:
			// 3.3.1. see whether a CNAME lookup could actually help
			records, found := z.Lookup(qName, dns.TypeCNAME)

			switch {
			// 3.3.2. we have at least a CNAME entry
			case found && len(records) >= 1:
				cnames = append(cnames, records...)
				// Type assertion is safe: we specifically queried for TypeCNAME,
				// so Lookup only returns CNAME records.
				qName = records[0].(*dns.CNAME).Target

			// 3.3.3. otherwise, NOERROR (name exists but type not found)
			default:
				resp := &dns.Msg{}
				resp.SetReply(query)
				resp.Authoritative = true
				resp.Ns = soa
				return resp
			}

		// 3.4. otherwise, NXDOMAIN
		default:
			resp := &dns.Msg{}
			resp.SetRcode(query, dns.RcodeNameError)
			resp.Authoritative = true
			resp.Ns = soa
			return resp
		}
	}

	// 3.5. CNAME chain too long: avoid possible loop
	resp := &dns.Msg{}
	resp.SetRcode(query, dns.RcodeServerFailure)
	return resp
}

// zoneSetHandler adapts a [*ZoneSet] to [dns.Handler].
type zoneSetHandler struct {
	zones *ZoneSet
}

// Ensure that [zoneSetHandler] implements [dns.Handler].
var _ dns.Handler = &zoneSetHandler{}

// ServeDNS implements [dns.Handler].
func (h *zoneSetHandler) ServeDNS(rw dns.ResponseWriter, query *dns.Msg) {
	rw.WriteMsg(h.zones.Respond(query))
}

// UDPListenConfig is the [*net.ListenConfig] used by [MustNewNameserver].
type UDPListenConfig interface {
	ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error)
}

// Ensure that [*net.ListenConfig] implements [UDPListenConfig].
var _ UDPListenConfig = &net.ListenConfig{}

// TCPListenConfig is the [*net.ListenConfig] used by [MustNewTCPNameserver].
type TCPListenConfig interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)
}

// Ensure that [*net.ListenConfig] implements [TCPListenConfig].
var _ TCPListenConfig = &net.ListenConfig{}

// MustNewNameserver returns a [*Nameserver] serving the given zones
// over UDP and ready to use.
//
// This method PANICS on failure.
func MustNewNameserver(lc UDPListenConfig, address string, zones *ZoneSet) *Nameserver {
	pconn := runtimex.PanicOnError1(lc.ListenPacket(context.Background(), "udp", address))
	srv := &Nameserver{
		address: pconn.LocalAddr().String(),
		done:    make(chan struct{}),
		srv: &dns.Server{
			PacketConn: pconn,
			Handler:    &zoneSetHandler{zones},
		},
	}
	go func() {
		srv.srv.ActivateAndServe() // in background
		close(srv.done)
	}()
	return srv
}

// MustNewTCPNameserver is like [MustNewNameserver] but serves DNS
// over TCP, which authoritative servers also speak, e.g. for answers
// too large for UDP.
//
// This method PANICS on failure.
func MustNewTCPNameserver(lc TCPListenConfig, address string, zones *ZoneSet) *Nameserver {
	listener := runtimex.PanicOnError1(lc.Listen(context.Background(), "tcp", address))
	srv := &Nameserver{
		address: listener.Addr().String(),
		done:    make(chan struct{}),
		srv: &dns.Server{
			Listener: listener,
			Handler:  &zoneSetHandler{zones},
		},
	}
	go func() {
		srv.srv.ActivateAndServe() // in background
		close(srv.done)
	}()
	return srv
}

// Nameserver is an authoritative DNS server double for testing
// propagation checks against a [*ZoneSet].
type Nameserver struct {
	// address is the address to use.
	address string

	// done is closed when done.
	done chan struct{}

	// srv is the server.
	srv *dns.Server
}

// Address returns the listening address for this server, suitable
// for [QueryClient.Nameservers].
func (srv *Nameserver) Address() string {
	return srv.address
}

// Close closes the socket used by this server.
func (srv *Nameserver) Close() {
	runtimex.PanicOnError0(srv.srv.Shutdown())
	<-srv.done
}
