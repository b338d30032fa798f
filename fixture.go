// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"math/rand/v2"
	"net/netip"
	"strconv"
	"strings"
	"sync"
)

// Fixture generates random but syntactically valid test data: zone
// and recordset documents, addresses, quota overrides. Randomized
// names keep parallel test runs from colliding on the shared service.
//
// A Fixture is not safe for concurrent use; give each test its own.
type Fixture struct {
	rng *rand.Rand
}

// NewFixture returns a [*Fixture] seeded from system entropy.
func NewFixture() *Fixture {
	return &Fixture{rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededFixture returns a [*Fixture] replaying the same sequence
// for the same seed, which helps reproducing a failed run.
func NewSeededFixture(seed uint64) *Fixture {
	return &Fixture{rand.New(rand.NewPCG(seed, seed))}
}

// Name generates a random name, "prefix-123456789" style. An empty
// prefix yields just the random digits.
func (f *Fixture) Name(prefix string) string {
	digits := strconv.Itoa(int(f.rng.Int32N(0x7fffffff) + 1))
	if prefix != "" {
		return prefix + "-" + digits
	}
	return digits
}

// ZoneName generates a random absolute zone name such as
// "testdomain-123456789.com.".
func (f *Fixture) ZoneName(prefix string) string {
	return f.Name(prefix) + ".com."
}

// Email generates a contact address under the given domain, or under
// a random zone name when domain is empty.
func (f *Fixture) Email(domain string) string {
	if domain == "" {
		domain = f.ZoneName("")
	}
	return "example@" + strings.TrimRight(domain, ".")
}

// TTL generates a random TTL between lo and hi inclusive.
func (f *Fixture) TTL(lo, hi int) int {
	return lo + f.rng.IntN(hi-lo+1)
}

// IP generates a random IPv4 address in dotted quad form.
func (f *Fixture) IP() string {
	var raw [4]byte
	for i := range raw {
		raw[i] = byte(f.rng.UintN(256))
	}
	return netip.AddrFrom4(raw).String()
}

// IPv6 generates a random IPv6 address in compact form.
func (f *Fixture) IPv6() string {
	var raw [16]byte
	for i := range raw {
		raw[i] = byte(f.rng.UintN(256))
	}
	return netip.AddrFrom16(raw).String()
}

// Zone generates a random zone document ready for [ZoneClient.Create].
func (f *Fixture) Zone() Resource {
	name := f.ZoneName("testdomain")
	return Resource{
		"name":        name,
		"email":       "admin@" + strings.TrimRight(name, "."),
		"ttl":         f.TTL(1200, 8400),
		"description": f.Name("description"),
	}
}

// RecordSet generates a random recordset document of the given type
// under zoneName, with a single random IPv4 record. The typed
// variants below replace the records with type-appropriate data.
func (f *Fixture) RecordSet(rtype, zoneName string) Resource {
	return Resource{
		"type":    rtype,
		"name":    f.Name(rtype) + "." + zoneName,
		"records": []string{f.IP()},
		"ttl":     f.TTL(1200, 8400),
	}
}

// ARecordSet generates a random A recordset under zoneName.
func (f *Fixture) ARecordSet(zoneName string) Resource {
	return f.RecordSet("A", zoneName)
}

// AAAARecordSet generates a random AAAA recordset under zoneName.
func (f *Fixture) AAAARecordSet(zoneName string) Resource {
	recordset := f.RecordSet("AAAA", zoneName)
	recordset["records"] = []string{f.IPv6()}
	return recordset
}

// CNAMERecordSet generates a random CNAME recordset under zoneName,
// aliasing to the zone apex.
func (f *Fixture) CNAMERecordSet(zoneName string) Resource {
	recordset := f.RecordSet("CNAME", zoneName)
	recordset["records"] = []string{zoneName}
	return recordset
}

// MXRecordSet generates a random MX recordset under zoneName.
func (f *Fixture) MXRecordSet(zoneName string) Resource {
	preference := f.rng.IntN(65536)
	host := f.Name("mail") + "." + zoneName
	recordset := f.RecordSet("MX", zoneName)
	recordset["records"] = []string{strconv.Itoa(preference) + " " + host}
	return recordset
}

// SPFRecordSet generates a random SPF recordset under zoneName.
func (f *Fixture) SPFRecordSet(zoneName string) Resource {
	recordset := f.RecordSet("SPF", zoneName)
	recordset["records"] = []string{"v=spf1 +all"}
	return recordset
}

// TXTRecordSet generates a random TXT recordset under zoneName.
func (f *Fixture) TXTRecordSet(zoneName string) Resource {
	recordset := f.RecordSet("TXT", zoneName)
	recordset["records"] = []string{"v=spf1 +all"}
	return recordset
}

// SRVRecordSet generates a random SRV recordset for _sip._tcp under
// zoneName.
func (f *Fixture) SRVRecordSet(zoneName string) Resource {
	target := f.Name("") + "." + zoneName
	recordset := f.RecordSet("SRV", zoneName)
	recordset["name"] = "_sip._tcp." + zoneName
	recordset["records"] = []string{"10 0 8080 " + target}
	return recordset
}

// SSHFPRecordSet generates a random SSHFP recordset under zoneName.
func (f *Fixture) SSHFPRecordSet(zoneName string) Resource {
	recordset := f.RecordSet("SSHFP", zoneName)
	recordset["records"] = []string{"2 1 123456789abcdef67890123456789abcdef67890"}
	return recordset
}

// NSRecordSet generates a wildcard NS recordset delegating
// "*.zoneName" to ns.example.com.
func (f *Fixture) NSRecordSet(zoneName string) Resource {
	recordset := f.RecordSet("NS", zoneName)
	recordset["name"] = "*." + zoneName
	recordset["records"] = []string{"ns.example.com."}
	return recordset
}

// Quotas generates a random quota override document.
func (f *Fixture) Quotas() Resource {
	limit := func() int { return 100 + f.rng.IntN(999900) }
	return Resource{
		"zones":             limit(),
		"zone_records":      limit(),
		"zone_recordsets":   limit(),
		"recordset_records": limit(),
	}
}

// ZoneFile generates a small RFC 1035 zone file, e.g. for import
// tests. An empty name or a zero ttl gets a random value.
func (f *Fixture) ZoneFile(name string, ttl int) string {
	if name == "" {
		name = f.ZoneName("")
	}
	if ttl == 0 {
		ttl = f.TTL(1200, 8400)
	}
	const base = "$ORIGIN &\n& # IN SOA ns.& nsadmin.& # # # # #\n" +
		"& # IN NS ns.&\n& # IN MX 10 mail.&\nns.& 360 IN A 1.0.0.1"
	out := strings.ReplaceAll(base, "&", name)
	return strings.ReplaceAll(out, "#", strconv.Itoa(ttl))
}

// The package-level generators below share a process-wide [Fixture]
// behind a mutex, for tests that do not care about seeding.

var (
	defaultFixtureMu sync.Mutex
	defaultFixture   = NewFixture()
)

// RandomZoneName generates a random absolute zone name using the
// process-wide [Fixture].
func RandomZoneName(prefix string) string {
	defaultFixtureMu.Lock()
	defer defaultFixtureMu.Unlock()
	return defaultFixture.ZoneName(prefix)
}

// RandomZone generates a random zone document using the process-wide
// [Fixture].
func RandomZone() Resource {
	defaultFixtureMu.Lock()
	defer defaultFixtureMu.Unlock()
	return defaultFixture.Zone()
}

// RandomRecordSet generates a random recordset document of the given
// type under zoneName using the process-wide [Fixture].
func RandomRecordSet(rtype, zoneName string) Resource {
	defaultFixtureMu.Lock()
	defer defaultFixtureMu.Unlock()
	return defaultFixture.RecordSet(rtype, zoneName)
}

// RandomQuotas generates a random quota override document using the
// process-wide [Fixture].
func RandomQuotas() Resource {
	defaultFixtureMu.Lock()
	defer defaultFixtureMu.Unlock()
	return defaultFixture.Quotas()
}
