// Package redact produces field-scoped views of credential metadata. It is
// the single place recipient-visible documents are narrowed, so access rules
// stay uniform across the HTTP API and the orchestrator.
package redact

import "slices"

// Filter returns the subset of metadata limited to the allowed fields.
// Allowed names with no matching key are ignored; the input map is never
// mutated. A nil or empty allow list yields an empty view, not the full
// document.
func Filter(metadata map[string]string, allowed []string) map[string]string {
	out := make(map[string]string, len(allowed))
	for _, field := range allowed {
		if v, ok := metadata[field]; ok {
			out[field] = v
		}
	}
	return out
}

// Fields lists the keys of a metadata document in sorted order.
func Fields(metadata map[string]string) []string {
	out := make([]string, 0, len(metadata))
	for k := range metadata {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Remove returns a copy of the metadata without the named field.
func Remove(metadata map[string]string, field string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if k == field {
			continue
		}
		out[k] = v
	}
	return out
}
