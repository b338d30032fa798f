// SPDX-License-Identifier: GPL-3.0-or-later

package zonetest

// Resource is a decoded JSON document returned by the DNS service. We
// deliberately keep it schemaless: tests poke at whichever fields they
// care about and the service remains free to grow new ones without
// breaking anybody.
type Resource map[string]any

// ID returns the "id" field, or the empty string when absent.
func (r Resource) ID() string {
	return r.String("id")
}

// Status returns the "status" field, or the empty string when absent.
func (r Resource) Status() string {
	return r.String("status")
}

// String returns the named field as a string. Absent fields and
// fields of another type yield the empty string.
func (r Resource) String(key string) string {
	value, _ := r[key].(string)
	return value
}

// Int returns the named field as an int. JSON decoding produces
// float64 for numbers, so both float64 and int are accepted; anything
// else yields zero.
func (r Resource) Int(key string) int {
	switch value := r[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return 0
	}
}

// Strings returns the named field as a slice of strings, e.g. the
// "records" of a recordset. JSON decoding produces []any, while
// documents built in process carry []string; both are accepted and
// non-string elements are skipped.
func (r Resource) Strings(key string) []string {
	switch items := r[key].(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Slice returns the named field as a slice of resources, e.g. the
// "zones" of a list response. Non-object elements are skipped.
func (r Resource) Slice(key string) []Resource {
	switch items := r[key].(type) {
	case []Resource:
		return items
	case []any:
		out := make([]Resource, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				out = append(out, Resource(m))
			}
		}
		return out
	default:
		return nil
	}
}
