package domain

import (
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a tracked event.
type Status string

const (
	// StatusActive marks an event confirmed by a recent poll.
	StatusActive Status = "active"
	// StatusLost marks an event no longer reported upstream, pending GC.
	StatusLost Status = "lost"
)

// RawRecord is a loosely typed upstream incident record as decoded from JSON.
// It is consumed only by the fallback-chain readers below and never leaves
// the normalization layer except as audit payload on Event.Raw.
type RawRecord map[string]any

// Event is the canonical tracked V16 beacon sighting. JSON field names follow
// the upstream (Spanish) vocabulary served to API consumers.
type Event struct {
	ID           string    `json:"id"`
	Latitude     float64   `json:"latitud"`
	Longitude    float64   `json:"longitud"`
	Cause        string    `json:"causa"`
	Kind         string    `json:"tipo"`
	Road         string    `json:"carretera"`
	KM           string    `json:"km"`
	Province     string    `json:"provincia"`
	Municipality string    `json:"municipio"`
	Source       string    `json:"fuente"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Raw          RawRecord `json:"raw,omitempty"`
	Status       Status    `json:"estado"`
}

// WithoutRaw returns a copy of the event with the audit payload stripped,
// for external exposure.
func (e Event) WithoutRaw() Event {
	e.Raw = nil
	return e
}

// firstString returns the first non-empty trimmed string among the given
// keys. Numeric and boolean values are stringified; null counts as absent.
func (r RawRecord) firstString(keys ...string) string {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(stringify(v)); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Fallback chains observed across eTraffic payload versions.

// SourceTag reads the declaring source of the record.
func (r RawRecord) SourceTag() string { return r.firstString("fuente") }

// Kind reads the incident type.
func (r RawRecord) Kind() string {
	return r.firstString("subtipoVialidad", "tipo", "tipoIncidencia")
}

// Cause reads the incident cause.
func (r RawRecord) Cause() string {
	return r.firstString("subcausa", "causa", "causaIncidencia")
}

// Road reads the road name.
func (r RawRecord) Road() string { return r.firstString("carretera", "via", "road") }

// KM reads the kilometre point marker.
func (r RawRecord) KM() string {
	return r.firstString("pkIni", "pkFin", "pk", "pK", "puntoKilometrico")
}

// Province reads the province name.
func (r RawRecord) Province() string {
	return r.firstString("provinciaIni", "provincia", "province")
}

// Municipality reads the municipality name.
func (r RawRecord) Municipality() string {
	return r.firstString("municipioIni", "municipio", "poblacion")
}

// ExplicitID reads the upstream identifier, if any.
func (r RawRecord) ExplicitID() string { return r.firstString("id") }

// SituationID reads the upstream situation identifier used by the durable
// backend, falling back through its historical aliases.
func (r RawRecord) SituationID() string {
	return r.firstString("situationId", "situation_id", "id")
}

// StartedAt reads the raw incident start timestamp, unparsed.
func (r RawRecord) StartedAt() string {
	return r.firstString("fechaInicio", "fecha_inicio")
}
