package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Normalize converts a filtered raw record into a canonical Event. The second
// return is false when no finite coordinate pair could be resolved; such
// records are dropped, not errors. now must be UTC and becomes LastSeen;
// FirstSeen is the upstream start timestamp when present and not in the
// future, otherwise now. loc interprets upstream timestamps without an
// offset; pass nil for UTC.
func Normalize(raw RawRecord, now time.Time, loc *time.Location) (Event, bool) {
	lat, lon, ok := resolveCoordinates(raw)
	if !ok {
		return Event{}, false
	}

	firstSeen := now
	if started, ok := ParseTimestamp(raw.StartedAt(), loc); ok {
		if started = started.UTC(); started.Before(now) {
			firstSeen = started
		}
	}

	return Event{
		ID:           eventKey(raw, lat, lon),
		Latitude:     lat,
		Longitude:    lon,
		Cause:        raw.Cause(),
		Kind:         raw.Kind(),
		Road:         raw.Road(),
		KM:           raw.KM(),
		Province:     raw.Province(),
		Municipality: raw.Municipality(),
		Source:       raw.SourceTag(),
		FirstSeen:    firstSeen,
		LastSeen:     now,
		Raw:          raw,
		Status:       StatusActive,
	}, true
}

// eventKey resolves the stable identity: the explicit upstream id when
// present, otherwise a SHA-256 fingerprint of coordinates (5 decimals) and
// the descriptive fields. Deterministic IDs re-recognize the same physical
// incident across polls and make downstream upserts idempotent.
func eventKey(raw RawRecord, lat, lon float64) string {
	if id := raw.ExplicitID(); id != "" {
		return id
	}
	fingerprint := fmt.Sprintf("%.5f|%.5f|%s|%s|%s|%s",
		lat, lon, raw.Road(), raw.KM(), raw.Cause(), raw.Kind())
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

// resolveCoordinates tries embedded geometry first, then flat fields.
// Geometry coordinates are lon,lat ordered (GeoJSON convention); flat fields
// are lat and lon under their own keys. The two orders are intentional.
func resolveCoordinates(raw RawRecord) (lat, lon float64, ok bool) {
	geometry := raw["geometria"]
	if geometry == nil {
		geometry = raw["geometry"]
	}
	if s, isString := geometry.(string); isString {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			geometry = parsed
		} else {
			geometry = nil
		}
	}
	if geom, isMap := geometry.(map[string]any); isMap {
		if lat, lon, ok = geometryPoint(geom); ok {
			return lat, lon, true
		}
	}

	lat, latOK := toFloat(firstValue(raw, "lat", "latitud", "latitude"))
	lon, lonOK := toFloat(firstValue(raw, "lon", "longitud", "longitude"))
	if latOK && lonOK && finite(lat) && finite(lon) {
		return lat, lon, true
	}
	return 0, 0, false
}

func geometryPoint(geom map[string]any) (lat, lon float64, ok bool) {
	coords, _ := geom["coordinates"].([]any)
	switch geom["type"] {
	case "Point":
		return coordinatePair(coords)
	case "LineString", "MultiPoint":
		if len(coords) > 0 {
			if first, isList := coords[0].([]any); isList {
				return coordinatePair(first)
			}
		}
	}
	return 0, 0, false
}

// coordinatePair reads a lon,lat pair, returning lat,lon.
func coordinatePair(coords []any) (lat, lon float64, ok bool) {
	if len(coords) < 2 {
		return 0, 0, false
	}
	lon, lonOK := toFloat(coords[0])
	lat, latOK := toFloat(coords[1])
	if !lonOK || !latOK || !finite(lat) || !finite(lon) {
		return 0, 0, false
	}
	return lat, lon, true
}

func firstValue(raw RawRecord, keys ...string) any {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// timestampLayouts accepted for upstream values carrying no UTC offset.
// Offset-carrying values (including a trailing Z) are matched by RFC 3339.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp leniently parses an ISO-8601-like timestamp. A trailing Z is
// UTC; a value without an offset is interpreted in loc (UTC when loc is nil).
// Empty or unparsable input returns false, which callers treat as "no
// timestamp", not an error.
func ParseTimestamp(value string, loc *time.Location) (time.Time, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return t, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
