package elastic

import (
	"encoding/json"
	"time"

	"github.com/Joboufra/v16-tracker-ingestor/internal/domain"
)

// document is the persisted shape of an event.
type document struct {
	Estado      string           `json:"estado"`
	Latitud     float64          `json:"latitud"`
	Longitud    float64          `json:"longitud"`
	Ubicacion   geoPoint         `json:"ubicacion"`
	Carretera   string           `json:"carretera"`
	KM          string           `json:"km"`
	Causa       string           `json:"causa"`
	Tipo        string           `json:"tipo"`
	Provincia   string           `json:"provincia"`
	Municipio   string           `json:"municipio"`
	SituationID string           `json:"situationId"`
	Fuente      string           `json:"fuente"`
	FirstSeen   string           `json:"first_seen"`
	LastSeen    string           `json:"last_seen"`
	LostAt      *string          `json:"lost_at"`
	Raw         domain.RawRecord `json:"raw"`
}

type geoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func composeDocument(event domain.Event, lostAt *time.Time) document {
	situationID := event.ID
	if event.Raw != nil {
		if id := event.Raw.SituationID(); id != "" {
			situationID = id
		}
	}
	doc := document{
		Estado:      string(event.Status),
		Latitud:     event.Latitude,
		Longitud:    event.Longitude,
		Ubicacion:   geoPoint{Lat: event.Latitude, Lon: event.Longitude},
		Carretera:   event.Road,
		KM:          event.KM,
		Causa:       event.Cause,
		Tipo:        event.Kind,
		Provincia:   event.Province,
		Municipio:   event.Municipality,
		SituationID: situationID,
		Fuente:      event.Source,
		FirstSeen:   event.FirstSeen.Format(time.RFC3339),
		LastSeen:    event.LastSeen.Format(time.RFC3339),
		Raw:         event.Raw,
	}
	if lostAt != nil {
		s := lostAt.Format(time.RFC3339)
		doc.LostAt = &s
	}
	return doc
}

// parseDocument rebuilds an event from a persisted document. Documents with
// unusable coordinates or timestamps are skipped, matching the normalizer's
// drop-don't-fail policy.
func parseDocument(id string, source json.RawMessage) (domain.Event, bool) {
	var doc struct {
		Estado    string           `json:"estado"`
		Latitud   *float64         `json:"latitud"`
		Longitud  *float64         `json:"longitud"`
		Ubicacion *geoPoint        `json:"ubicacion"`
		Carretera string           `json:"carretera"`
		KM        string           `json:"km"`
		Causa     string           `json:"causa"`
		Tipo      string           `json:"tipo"`
		Provincia string           `json:"provincia"`
		Municipio string           `json:"municipio"`
		Fuente    string           `json:"fuente"`
		FirstSeen string           `json:"first_seen"`
		LastSeen  string           `json:"last_seen"`
		Raw       domain.RawRecord `json:"raw"`
	}
	if err := json.Unmarshal(source, &doc); err != nil {
		return domain.Event{}, false
	}

	var lat, lon float64
	switch {
	case doc.Latitud != nil && doc.Longitud != nil:
		lat, lon = *doc.Latitud, *doc.Longitud
	case doc.Ubicacion != nil:
		lat, lon = doc.Ubicacion.Lat, doc.Ubicacion.Lon
	default:
		return domain.Event{}, false
	}

	firstSeen, okFirst := domain.ParseTimestamp(doc.FirstSeen, nil)
	lastSeen, okLast := domain.ParseTimestamp(doc.LastSeen, nil)
	if !okFirst || !okLast {
		return domain.Event{}, false
	}

	status := domain.Status(doc.Estado)
	if status != domain.StatusActive && status != domain.StatusLost {
		status = domain.StatusActive
	}

	return domain.Event{
		ID:           id,
		Latitude:     lat,
		Longitude:    lon,
		Cause:        doc.Causa,
		Kind:         doc.Tipo,
		Road:         doc.Carretera,
		KM:           doc.KM,
		Province:     doc.Provincia,
		Municipality: doc.Municipio,
		Source:       doc.Fuente,
		FirstSeen:    firstSeen.UTC(),
		LastSeen:     lastSeen.UTC(),
		Raw:          doc.Raw,
		Status:       status,
	}, true
}
