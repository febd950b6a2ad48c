package elastic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joboufra/v16-tracker-ingestor/internal/config"
	"github.com/Joboufra/v16-tracker-ingestor/internal/domain"
)

// fakeElastic is a minimal Elasticsearch lookalike. The official client
// refuses to talk to servers that do not identify themselves via the
// X-Elastic-Product header, so every response carries it.
type fakeElastic struct {
	indexExists   bool
	mappingBody   []byte
	reconcileBody []byte
	bulkBody      []byte
	searchHits    string
}

func (f *fakeElastic) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodHead:
			if f.indexExists {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut:
			f.mappingBody, _ = io.ReadAll(r.Body)
			f.indexExists = true
			w.Write([]byte(`{"acknowledged":true}`))
		case strings.HasSuffix(r.URL.Path, "/_update_by_query"):
			f.reconcileBody, _ = io.ReadAll(r.Body)
			w.Write([]byte(`{"updated":1}`))
		case strings.HasSuffix(r.URL.Path, "/_search"):
			w.Write([]byte(f.searchHits))
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			f.bulkBody, _ = io.ReadAll(r.Body)
			w.Write([]byte(`{"errors":false,"items":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newFakeClient(t *testing.T, fake *fakeElastic) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		ElasticURL:            srv.URL,
		ElasticIndex:          "v16-events",
		ElasticBootstrapLimit: 100,
		StaleAfter:            3 * time.Minute,
	}
	c, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func sampleEvent(id string, seen time.Time) domain.Event {
	return domain.Event{
		ID:        id,
		Latitude:  40.4,
		Longitude: -3.7,
		Cause:     "Vehículo detenido",
		Kind:      "Advertencia",
		Road:      "A-5",
		Source:    "DGT3.0",
		FirstSeen: seen,
		LastSeen:  seen,
		Status:    domain.StatusActive,
		Raw:       domain.RawRecord{"situationId": "S-999"},
	}
}

func TestNew_CreatesMissingIndex(t *testing.T) {
	fake := &fakeElastic{}
	newFakeClient(t, fake)

	require.NotEmpty(t, fake.mappingBody, "a missing index must be created at startup")
	var mapping map[string]any
	require.NoError(t, json.Unmarshal(fake.mappingBody, &mapping))
	properties := mapping["mappings"].(map[string]any)["properties"].(map[string]any)
	assert.Contains(t, properties, "ubicacion")
	assert.Contains(t, properties, "estado")
}

func TestNew_KeepsExistingIndex(t *testing.T) {
	fake := &fakeElastic{indexExists: true}
	newFakeClient(t, fake)

	assert.Empty(t, fake.mappingBody, "an existing index must not be recreated")
}

func TestBootstrap(t *testing.T) {
	fake := &fakeElastic{
		indexExists: true,
		searchHits: `{"hits":{"hits":[
			{"_id":"evt-1","_source":{"estado":"active","latitud":40.4,"longitud":-3.7,
				"carretera":"A-5","causa":"Vehículo detenido","tipo":"Advertencia","fuente":"DGT3.0",
				"first_seen":"2024-11-20T08:00:00Z","last_seen":"2024-11-20T08:30:00Z"}},
			{"_id":"evt-2","_source":{"estado":"lost","ubicacion":{"lat":41.0,"lon":-2.0},
				"first_seen":"2024-11-19T10:00:00Z","last_seen":"2024-11-19T11:00:00Z"}},
			{"_id":"evt-bad","_source":{"estado":"active","first_seen":"2024-11-20T08:00:00Z","last_seen":"2024-11-20T08:30:00Z"}}
		]}}`,
	}
	c := newFakeClient(t, fake)

	now := time.Date(2024, 11, 20, 9, 0, 0, 0, time.UTC)
	restored, err := c.Bootstrap(context.Background(), now)

	require.NoError(t, err)
	require.Len(t, restored, 2, "a document without coordinates is skipped")

	active := restored["evt-1"]
	assert.Equal(t, domain.StatusActive, active.Status)
	assert.Equal(t, "A-5", active.Road)
	assert.Equal(t, time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC), active.FirstSeen)

	lost := restored["evt-2"]
	assert.Equal(t, domain.StatusLost, lost.Status)
	assert.Equal(t, 41.0, lost.Latitude, "geo_point is the coordinate fallback")

	// Stale-active documents are flipped to lost on the backend before the load.
	require.NotEmpty(t, fake.reconcileBody)
	var reconcile map[string]any
	require.NoError(t, json.Unmarshal(fake.reconcileBody, &reconcile))
	script := reconcile["script"].(map[string]any)
	assert.Contains(t, script["source"], "estado='lost'")
	assert.Contains(t, string(fake.reconcileBody), `"last_seen":{"lt":"2024-11-20T08:57:00Z"}`)
}

func TestPersist(t *testing.T) {
	fake := &fakeElastic{indexExists: true}
	c := newFakeClient(t, fake)

	seen := time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC)
	lostAt := seen.Add(5 * time.Minute)
	lostEvent := sampleEvent("evt-2", seen)
	lostEvent.Status = domain.StatusLost

	err := c.Persist(context.Background(), []domain.Event{sampleEvent("evt-1", seen)}, []domain.Event{lostEvent}, lostAt)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(fake.bulkBody)), "\n")
	require.Len(t, lines, 4, "one meta and one doc line per event")

	var meta map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &meta))
	assert.Equal(t, "evt-1", meta["update"]["_id"])
	assert.Equal(t, "v16-events", meta["update"]["_index"])

	var action struct {
		Doc         document `json:"doc"`
		DocAsUpsert bool     `json:"doc_as_upsert"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &action))
	assert.True(t, action.DocAsUpsert)
	assert.Equal(t, "active", action.Doc.Estado)
	assert.Equal(t, "S-999", action.Doc.SituationID)
	assert.Equal(t, 40.4, action.Doc.Ubicacion.Lat)
	assert.Nil(t, action.Doc.LostAt)

	require.NoError(t, json.Unmarshal([]byte(lines[3]), &action))
	assert.Equal(t, "lost", action.Doc.Estado)
	require.NotNil(t, action.Doc.LostAt)
	assert.Equal(t, "2024-11-20T08:05:00Z", *action.Doc.LostAt)
}

func TestPersist_EmptyBatchesSkipTheRequest(t *testing.T) {
	fake := &fakeElastic{indexExists: true}
	c := newFakeClient(t, fake)

	require.NoError(t, c.Persist(context.Background(), nil, nil, time.Now()))
	assert.Empty(t, fake.bulkBody)
}

func TestParseDocument(t *testing.T) {
	t.Run("unknown status defaults to active", func(t *testing.T) {
		evt, ok := parseDocument("evt-1", json.RawMessage(
			`{"estado":"weird","latitud":40.4,"longitud":-3.7,"first_seen":"2024-11-20T08:00:00Z","last_seen":"2024-11-20T08:30:00Z"}`))
		require.True(t, ok)
		assert.Equal(t, domain.StatusActive, evt.Status)
	})

	t.Run("unusable timestamps skip the document", func(t *testing.T) {
		_, ok := parseDocument("evt-1", json.RawMessage(
			`{"estado":"active","latitud":40.4,"longitud":-3.7,"first_seen":"","last_seen":""}`))
		assert.False(t, ok)
	})

	t.Run("malformed source skips the document", func(t *testing.T) {
		_, ok := parseDocument("evt-1", json.RawMessage(`not json`))
		assert.False(t, ok)
	})
}
