// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/miekg/dns"
)

// Statuses and actions reported by the service for zones and
// recordsets.
const (
	StatusPending = "PENDING"
	StatusActive  = "ACTIVE"
	StatusError   = "ERROR"

	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionNone   = "NONE"
)

// ServerConfig configures a [Server].
type ServerConfig struct {
	// PropagationDelay is how long every zone and recordset change
	// stays PENDING before settling. Zero settles changes as soon
	// as they are next observed, which suits smoke tests; waiter
	// tests set a small nonzero delay to force real polling.
	PropagationDelay time.Duration

	// Zones optionally receives each settled change, so that a
	// [Nameserver] backed by the same [*ZoneSet] serves what the
	// API reports as ACTIVE.
	Zones *ZoneSet

	// Logger optionally traces requests. A nil Logger is silent.
	Logger Logger
}

// Server is an in-process double of the DNS service REST API,
// sufficient for exercising clients and waiters without a real
// deployment. It simulates eventual consistency: every change is
// first reported PENDING and only settles after the configured
// propagation delay. A zone whose deletion is in flight still answers
// reads but refuses further changes.
//
// Construct using [MustNewServer]; call [Server.Close] when done.
type Server struct {
	cfg    *ServerConfig
	logger Logger
	ts     *httptest.Server

	mu     sync.Mutex
	zones  map[string]*fakeZone
	quotas map[string]Resource
	timers []*time.Timer
}

// MustNewServer returns a [*Server] listening on a local port.
//
// This method PANICS on failure.
func MustNewServer(config *ServerConfig) *Server {
	if config == nil {
		config = &ServerConfig{}
	}
	srv := &Server{
		cfg:    config,
		logger: loggerOrNop(config.Logger),
		ts:     nil,
		mu:     sync.Mutex{},
		zones:  map[string]*fakeZone{},
		quotas: map[string]Resource{},
		timers: nil,
	}
	srv.ts = httptest.NewServer(srv.router())
	return srv
}

// URL returns the base URL of the server, suitable for [NewClient].
func (s *Server) URL() string {
	return s.ts.URL
}

// Client returns a [*Client] already pointing at this server.
func (s *Server) Client(options ...ClientOption) *Client {
	return NewClient(s.ts.URL, options...)
}

// Close shuts the server down and cancels pending settle timers.
func (s *Server) Close() {
	s.mu.Lock()
	for _, timer := range s.timers {
		timer.Stop()
	}
	s.timers = nil
	s.mu.Unlock()
	s.ts.Close()
}

// FailZone forces a zone into the ERROR status, abandoning whatever
// change is in flight and withdrawing the zone from the nameservers.
// It reports whether the zone exists. Tests reach for it to exercise
// the failure handling that a healthy double never triggers.
func (s *Server) FailZone(zoneID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	zone, found := s.getZone(zoneID)
	if !found {
		return false
	}
	zone.action = ActionNone
	zone.doc["status"] = StatusError
	zone.doc["action"] = ActionNone
	if zs := s.cfg.Zones; zs != nil {
		name := zone.doc.String("name")
		s.schedule(func() { zs.RemoveZone(name) })
	}
	return true
}

// router assembles the API surface the clients in this package speak.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Route("/v2/zones", func(r chi.Router) {
		r.Post("/", s.createZone)
		r.Get("/", s.listZones)
		r.Route("/{zoneID}", func(r chi.Router) {
			r.Get("/", s.showZone)
			r.Patch("/", s.updateZone)
			r.Delete("/", s.deleteZone)
			r.Route("/recordsets", func(r chi.Router) {
				r.Post("/", s.createRecordSet)
				r.Get("/", s.listRecordSets)
				r.Get("/{recordsetID}", s.showRecordSet)
				r.Put("/{recordsetID}", s.updateRecordSet)
				r.Delete("/{recordsetID}", s.deleteRecordSet)
			})
		})
	})
	r.Route("/admin/quotas/{projectID}", func(r chi.Router) {
		r.Get("/", s.showQuotas)
		r.Patch("/", s.updateQuotas)
		r.Delete("/", s.resetQuotas)
	})
	return r
}

// logRequests traces each request through the configured [Logger].
// Handlers never answer 5xx on purpose, so those get the error level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if ww.Status() >= http.StatusInternalServerError {
			s.logger.Errorf("zonetest: server: %s %s: %d", r.Method, r.URL.Path, ww.Status())
			return
		}
		s.logger.Debugf("zonetest: server: %s %s: %d", r.Method, r.URL.Path, ww.Status())
	})
}

// pendingDoc is a resource document whose status and action settle
// after a wall-clock transition instant, the way an eventually
// consistent service converges.
type pendingDoc struct {
	doc          Resource
	action       string
	transitionAt time.Time
}

// begin records a change: the document turns PENDING with the given
// action and settles once delay elapses.
func (p *pendingDoc) begin(action string, delay time.Duration) {
	p.action = action
	p.transitionAt = time.Now().Add(delay)
	p.doc["status"] = StatusPending
	p.doc["action"] = action
}

// settle folds wall-clock time into the document. The return value
// reports whether a deletion completed, in which case the document no
// longer exists.
func (p *pendingDoc) settle(now time.Time) (gone bool) {
	if p.action == ActionNone {
		return false
	}
	if now.Before(p.transitionAt) {
		return false
	}
	if p.action == ActionDelete {
		return true
	}
	p.action = ActionNone
	p.doc["status"] = StatusActive
	p.doc["action"] = ActionNone
	return false
}

// fakeZone is the server-side state of one zone.
type fakeZone struct {
	pendingDoc
	recordsets map[string]*pendingDoc
}

// schedule runs fn once the propagation delay elapses, immediately
// when there is none. Requires s.mu to be held.
func (s *Server) schedule(fn func()) {
	if s.cfg.PropagationDelay <= 0 {
		fn()
		return
	}
	s.timers = append(s.timers, time.AfterFunc(s.cfg.PropagationDelay, fn))
}

// getZone returns a live zone, purging it when a completed deletion is
// observed. Requires s.mu to be held.
func (s *Server) getZone(id string) (*fakeZone, bool) {
	zone, found := s.zones[id]
	if !found {
		return nil, false
	}
	if zone.settle(time.Now()) {
		delete(s.zones, id)
		return nil, false
	}
	return zone, true
}

// requestProject attributes a request to a project.
func requestProject(r *http.Request) string {
	if project := r.Header.Get("X-Auth-Project-ID"); project != "" {
		return project
	}
	return "default"
}

// defaultQuotas are the service defaults before any override.
var defaultQuotas = Resource{
	"zones":             10,
	"zone_recordsets":   500,
	"zone_records":      500,
	"recordset_records": 20,
	"api_export_size":   1000,
}

// quotaLimit returns the effective limit of one quota for a project.
// Requires s.mu to be held.
func (s *Server) quotaLimit(project, key string) int {
	if overrides, found := s.quotas[project]; found {
		if _, present := overrides[key]; present {
			return overrides.Int(key)
		}
	}
	return defaultQuotas.Int(key)
}

func (s *Server) createZone(w http.ResponseWriter, r *http.Request) {
	request, ok := readDoc(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_object")
		return
	}
	name, email := request.String("name"), request.String("email")
	if !dns.IsFqdn(name) || email == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_object")
		return
	}
	project := requestProject(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. reject duplicates and enforce the zones quota
	count := 0
	for id := range s.zones {
		zone, found := s.getZone(id)
		if !found {
			continue
		}
		if zone.doc.String("name") == name {
			s.writeError(w, http.StatusConflict, "duplicate_zone")
			return
		}
		if zone.doc.String("project_id") == project {
			count++
		}
	}
	if count >= s.quotaLimit(project, "zones") {
		s.writeError(w, http.StatusRequestEntityTooLarge, "over_quota")
		return
	}

	// 2. register the zone as a pending CREATE
	now := time.Now().UTC()
	zone := &fakeZone{
		pendingDoc: pendingDoc{
			doc: Resource{
				"id":         uuid.NewString(),
				"name":       name,
				"email":      email,
				"ttl":        3600,
				"serial":     int(now.Unix()),
				"type":       "PRIMARY",
				"project_id": project,
				"version":    1,
				"created_at": now.Format(time.RFC3339),
			},
		},
		recordsets: map[string]*pendingDoc{},
	}
	if ttl := request.Int("ttl"); ttl > 0 {
		zone.doc["ttl"] = ttl
	}
	if description, found := request["description"]; found {
		zone.doc["description"] = description
	}
	zone.begin(ActionCreate, s.cfg.PropagationDelay)
	s.zones[zone.doc.ID()] = zone

	// 3. publish to the nameservers when the change settles
	if zs := s.cfg.Zones; zs != nil {
		serial := uint32(zone.doc.Int("serial"))
		s.schedule(func() { zs.SetZone(name, serial) })
	}

	s.writeJSON(w, http.StatusAccepted, zone.doc)
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Resource, 0, len(s.zones))
	for id := range s.zones {
		zone, found := s.getZone(id)
		if !found {
			continue
		}
		if name := query.Get("name"); name != "" && zone.doc.String("name") != name {
			continue
		}
		if status := query.Get("status"); status != "" && zone.doc.Status() != status {
			continue
		}
		out = append(out, zone.doc)
	}
	slices.SortFunc(out, func(a, b Resource) int {
		return strings.Compare(a.String("name"), b.String("name"))
	})
	s.writeJSON(w, http.StatusOK, Resource{
		"zones":    out,
		"metadata": Resource{"total_count": len(out)},
	})
}

func (s *Server) showZone(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zone, found := s.getZone(chi.URLParam(r, "zoneID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	s.writeJSON(w, http.StatusOK, zone.doc)
}

func (s *Server) updateZone(w http.ResponseWriter, r *http.Request) {
	patch, ok := readDoc(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_object")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	zone, found := s.getZone(chi.URLParam(r, "zoneID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}

	// a pending deletion must not be overwritten by a fresh change
	if zone.action == ActionDelete {
		s.writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	for _, key := range []string{"email", "description"} {
		if value, present := patch[key]; present {
			zone.doc[key] = value
		}
	}
	if ttl := patch.Int("ttl"); ttl > 0 {
		zone.doc["ttl"] = ttl
	}
	now := time.Now().UTC()
	zone.doc["serial"] = int(now.Unix())
	zone.doc["version"] = zone.doc.Int("version") + 1
	zone.doc["updated_at"] = now.Format(time.RFC3339)
	zone.begin(ActionUpdate, s.cfg.PropagationDelay)

	if zs := s.cfg.Zones; zs != nil {
		name, serial := zone.doc.String("name"), uint32(zone.doc.Int("serial"))
		s.schedule(func() { zs.SetZone(name, serial) })
	}

	s.writeJSON(w, http.StatusAccepted, zone.doc)
}

func (s *Server) deleteZone(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zone, found := s.getZone(chi.URLParam(r, "zoneID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	zone.begin(ActionDelete, s.cfg.PropagationDelay)

	if zs := s.cfg.Zones; zs != nil {
		name := zone.doc.String("name")
		s.schedule(func() { zs.RemoveZone(name) })
	}

	s.writeJSON(w, http.StatusAccepted, zone.doc)
}

func (s *Server) createRecordSet(w http.ResponseWriter, r *http.Request) {
	request, ok := readDoc(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_object")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	zone, found := s.getZone(chi.URLParam(r, "zoneID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	if zone.action == ActionDelete {
		s.writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	zoneName := zone.doc.String("name")
	name := request.String("name")
	rtype := strings.ToUpper(request.String("type"))
	records := request.Strings("records")
	if !dns.IsFqdn(name) || !dns.IsSubDomain(zoneName, name) || rtype == "" || len(records) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_object")
		return
	}
	project := zone.doc.String("project_id")
	if len(zone.recordsets) >= s.quotaLimit(project, "zone_recordsets") {
		s.writeError(w, http.StatusRequestEntityTooLarge, "over_quota")
		return
	}
	if len(records) > s.quotaLimit(project, "recordset_records") {
		s.writeError(w, http.StatusRequestEntityTooLarge, "over_quota")
		return
	}

	now := time.Now().UTC()
	recordset := &pendingDoc{
		doc: Resource{
			"id":         uuid.NewString(),
			"zone_id":    zone.doc.ID(),
			"zone_name":  zoneName,
			"name":       name,
			"type":       rtype,
			"ttl":        zone.doc.Int("ttl"),
			"records":    records,
			"version":    1,
			"created_at": now.Format(time.RFC3339),
		},
	}
	if ttl := request.Int("ttl"); ttl > 0 {
		recordset.doc["ttl"] = ttl
	}
	recordset.begin(ActionCreate, s.cfg.PropagationDelay)
	zone.recordsets[recordset.doc.ID()] = recordset
	zone.doc["serial"] = int(now.Unix())

	if zs := s.cfg.Zones; zs != nil {
		serial := uint32(zone.doc.Int("serial"))
		s.schedule(func() { publishRecordSet(zs, zoneName, serial, name, rtype, records) })
	}

	s.writeJSON(w, http.StatusAccepted, recordset.doc)
}

func (s *Server) listRecordSets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	s.mu.Lock()
	defer s.mu.Unlock()
	zone, found := s.getZone(chi.URLParam(r, "zoneID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	out := make([]Resource, 0, len(zone.recordsets))
	for id, recordset := range zone.recordsets {
		if recordset.settle(time.Now()) {
			delete(zone.recordsets, id)
			continue
		}
		if rtype := query.Get("type"); rtype != "" && recordset.doc.String("type") != rtype {
			continue
		}
		out = append(out, recordset.doc)
	}
	slices.SortFunc(out, func(a, b Resource) int {
		return strings.Compare(a.String("name"), b.String("name"))
	})
	s.writeJSON(w, http.StatusOK, Resource{
		"recordsets": out,
		"metadata":   Resource{"total_count": len(out)},
	})
}

// getRecordSet returns a live recordset, purging it when a completed
// deletion is observed. Requires s.mu to be held.
func (z *fakeZone) getRecordSet(id string) (*pendingDoc, bool) {
	recordset, found := z.recordsets[id]
	if !found {
		return nil, false
	}
	if recordset.settle(time.Now()) {
		delete(z.recordsets, id)
		return nil, false
	}
	return recordset, true
}

func (s *Server) showRecordSet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zone, found := s.getZone(chi.URLParam(r, "zoneID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	recordset, found := zone.getRecordSet(chi.URLParam(r, "recordsetID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "recordset_not_found")
		return
	}
	s.writeJSON(w, http.StatusOK, recordset.doc)
}

func (s *Server) updateRecordSet(w http.ResponseWriter, r *http.Request) {
	patch, ok := readDoc(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_object")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	zone, found := s.getZone(chi.URLParam(r, "zoneID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	if zone.action == ActionDelete {
		s.writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	recordset, found := zone.getRecordSet(chi.URLParam(r, "recordsetID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "recordset_not_found")
		return
	}

	if records := patch.Strings("records"); len(records) > 0 {
		project := zone.doc.String("project_id")
		if len(records) > s.quotaLimit(project, "recordset_records") {
			s.writeError(w, http.StatusRequestEntityTooLarge, "over_quota")
			return
		}
		recordset.doc["records"] = records
	}
	if ttl := patch.Int("ttl"); ttl > 0 {
		recordset.doc["ttl"] = ttl
	}
	now := time.Now().UTC()
	recordset.doc["version"] = recordset.doc.Int("version") + 1
	recordset.doc["updated_at"] = now.Format(time.RFC3339)
	recordset.begin(ActionUpdate, s.cfg.PropagationDelay)
	zone.doc["serial"] = int(now.Unix())

	if zs := s.cfg.Zones; zs != nil {
		zoneName := zone.doc.String("name")
		serial := uint32(zone.doc.Int("serial"))
		name := recordset.doc.String("name")
		rtype := recordset.doc.String("type")
		records := recordset.doc.Strings("records")
		s.schedule(func() { publishRecordSet(zs, zoneName, serial, name, rtype, records) })
	}

	s.writeJSON(w, http.StatusAccepted, recordset.doc)
}

func (s *Server) deleteRecordSet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zone, found := s.getZone(chi.URLParam(r, "zoneID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	if zone.action == ActionDelete {
		s.writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	recordset, found := zone.getRecordSet(chi.URLParam(r, "recordsetID"))
	if !found {
		s.writeError(w, http.StatusNotFound, "recordset_not_found")
		return
	}
	recordset.begin(ActionDelete, s.cfg.PropagationDelay)
	now := time.Now().UTC()
	zone.doc["serial"] = int(now.Unix())

	if zs := s.cfg.Zones; zs != nil {
		zoneName := zone.doc.String("name")
		serial := uint32(zone.doc.Int("serial"))
		name := recordset.doc.String("name")
		s.schedule(func() {
			zs.RemoveName(name)
			zs.SetZone(zoneName, serial)
		})
	}

	s.writeJSON(w, http.StatusAccepted, recordset.doc)
}

// publishRecordSet mirrors a settled recordset change into the zone
// registry feeding the nameserver double. Record types the registry
// cannot express are published as a serial bump only.
func publishRecordSet(zs *ZoneSet, zoneName string, serial uint32,
	name, rtype string, records []string) {
	zs.RemoveName(name)
	switch rtype {
	case "A", "AAAA":
		for _, record := range records {
			if addr, err := netip.ParseAddr(record); err == nil {
				zs.AddAddr(name, addr)
			}
		}
	case "CNAME":
		for _, record := range records {
			zs.AddCNAME(name, record)
		}
	case "TXT":
		zs.AddTXT(name, records)
	}
	zs.SetZone(zoneName, serial)
}

func (s *Server) showQuotas(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "projectID")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, s.effectiveQuotas(project))
}

func (s *Server) updateQuotas(w http.ResponseWriter, r *http.Request) {
	patch, ok := readDoc(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid_object")
		return
	}
	project := chi.URLParam(r, "projectID")

	s.mu.Lock()
	defer s.mu.Unlock()
	overrides, found := s.quotas[project]
	if !found {
		overrides = Resource{}
		s.quotas[project] = overrides
	}
	for key := range defaultQuotas {
		if _, present := patch[key]; present {
			overrides[key] = patch.Int(key)
		}
	}
	s.writeJSON(w, http.StatusOK, s.effectiveQuotas(project))
}

func (s *Server) resetQuotas(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.quotas, chi.URLParam(r, "projectID"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// effectiveQuotas overlays a project's overrides on the defaults.
// Requires s.mu to be held.
func (s *Server) effectiveQuotas(project string) Resource {
	out := Resource{}
	for key, value := range defaultQuotas {
		out[key] = value
	}
	for key, value := range s.quotas[project] {
		out[key] = value
	}
	return out
}

// readDoc decodes a JSON request body.
func readDoc(r *http.Request) (Resource, bool) {
	var doc Resource
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		return nil, false
	}
	return doc, true
}

// writeJSON writes a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	data := runtimex.PanicOnError1(json.Marshal(body))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError writes the JSON error document the service emits, e.g.
// {"code": 404, "type": "zone_not_found"}.
func (s *Server) writeError(w http.ResponseWriter, status int, kind string) {
	s.writeJSON(w, status, Resource{"code": status, "type": kind})
}
