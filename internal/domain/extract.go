package domain

import "strings"

// containerKeys are probed in order when the payload is a keyed structure
// rather than a top-level list.
var containerKeys = []string{"situationsRecords", "incidencias", "features", "data"}

// ExtractRecords pulls the incident record list out of a decoded payload.
// A top-level list yields its object-typed elements; a keyed structure yields
// the objects of the first container key holding a list. Anything else yields
// an empty slice.
func ExtractRecords(payload any) []RawRecord {
	switch v := payload.(type) {
	case []any:
		return objectsOf(v)
	case map[string]any:
		for _, key := range containerKeys {
			if list, ok := v[key].([]any); ok {
				return objectsOf(list)
			}
		}
	}
	return nil
}

func objectsOf(items []any) []RawRecord {
	records := make([]RawRecord, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			records = append(records, RawRecord(obj))
		}
	}
	return records
}

// Targets is the source/type/cause signature a record must carry to count as
// a V16 beacon sighting.
type Targets struct {
	Source string
	Kind   string
	Cause  string
}

// IsCandidate reports whether the record matches the target signature.
// Comparison is whitespace-trimmed and case-insensitive.
func (r RawRecord) IsCandidate(t Targets) bool {
	return matches(r.SourceTag(), t.Source) &&
		matches(r.Kind(), t.Kind) &&
		matches(r.Cause(), t.Cause)
}

// FilterCandidates keeps only the records matching the target signature.
func FilterCandidates(records []RawRecord, t Targets) []RawRecord {
	candidates := make([]RawRecord, 0, len(records))
	for _, r := range records {
		if r.IsCandidate(t) {
			candidates = append(candidates, r)
		}
	}
	return candidates
}

func matches(value, target string) bool {
	return strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(target))
}
