// Package elastic implements the Persistence Sync collaborator on
// Elasticsearch: cold-start bootstrap and best-effort write-through of event
// batches. The in-memory store stays authoritative for the running process;
// every failure here is logged by the caller, never propagated further.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/Joboufra/v16-tracker-ingestor/internal/config"
	"github.com/Joboufra/v16-tracker-ingestor/internal/domain"
)

// indexMapping mirrors the event document shape. raw is stored but not
// indexed; ubicacion duplicates the coordinates as a geo_point for map
// queries by other consumers of the index.
const indexMapping = `{
  "mappings": {
    "properties": {
      "estado": {"type": "keyword"},
      "carretera": {"type": "keyword"},
      "km": {"type": "keyword"},
      "causa": {"type": "keyword"},
      "tipo": {"type": "keyword"},
      "provincia": {"type": "keyword"},
      "municipio": {"type": "keyword"},
      "situationId": {"type": "keyword"},
      "fuente": {"type": "keyword"},
      "first_seen": {"type": "date"},
      "last_seen": {"type": "date"},
      "lost_at": {"type": "date"},
      "latitud": {"type": "double"},
      "longitud": {"type": "double"},
      "ubicacion": {"type": "geo_point"},
      "raw": {"type": "object", "enabled": false}
    }
  }
}`

// Client owns the Elasticsearch connection and the event index.
type Client struct {
	es             *elasticsearch.Client
	transport      *http.Transport
	index          string
	bootstrapLimit int
	staleAfter     time.Duration
	logger         *slog.Logger
}

// New connects to Elasticsearch, verifies it responds, and ensures the event
// index exists. The caller decides whether a nil client (backend disabled) or
// a connection error should be tolerated.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{}
	escfg := elasticsearch.Config{
		Addresses: []string{cfg.ElasticURL},
		Transport: transport,
	}
	if cfg.ElasticAPIKey != "" {
		escfg.APIKey = cfg.ElasticAPIKey
	} else if cfg.ElasticUsername != "" {
		escfg.Username = cfg.ElasticUsername
		escfg.Password = cfg.ElasticPassword
	}

	es, err := elasticsearch.NewClient(escfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	c := &Client{
		es:             es,
		transport:      transport,
		index:          cfg.ElasticIndex,
		bootstrapLimit: cfg.ElasticBootstrapLimit,
		staleAfter:     cfg.StaleAfter,
		logger:         logger,
	}

	res, err := es.Ping(es.Ping.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ping elasticsearch: %w", err)
	}
	drain(res.Body)
	if res.IsError() {
		return nil, fmt.Errorf("ping elasticsearch: status %s", res.Status())
	}

	if err := c.ensureIndex(ctx); err != nil {
		return nil, err
	}
	logger.Info("elasticsearch connection established", "index", c.index)
	return c, nil
}

// Name identifies this sink in logs and metrics.
func (c *Client) Name() string { return "elasticsearch" }

// Close releases pooled connections.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

func (c *Client) ensureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", c.index, err)
	}
	drain(res.Body)
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %s: status %s", c.index, res.Status())
	}

	created, err := c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", c.index, err)
	}
	drain(created.Body)
	if created.IsError() {
		return fmt.Errorf("create index %s: status %s", c.index, created.Status())
	}
	c.logger.Info("elasticsearch index created", "index", c.index)
	return nil
}

// Bootstrap restores the event map for a cold start: previously-active
// documents whose last_seen is already stale are first marked lost on the
// backend side, then the most recent documents are loaded. Returns an empty
// map rather than failing the start when the backend misbehaves partially.
func (c *Client) Bootstrap(ctx context.Context, now time.Time) (map[string]domain.Event, error) {
	if err := c.reconcileLost(ctx, now); err != nil {
		c.logger.Warn("could not reconcile lost events on backend", "error", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithSize(c.bootstrapLimit),
		c.es.Search.WithSort("last_seen:desc"),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search %s: status %s", c.index, res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string          `json:"_id"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	restored := make(map[string]domain.Event, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		if event, ok := parseDocument(hit.ID, hit.Source); ok {
			restored[event.ID] = event
		}
	}
	c.logger.Info("events restored from elasticsearch", "count", len(restored))
	return restored, nil
}

func (c *Client) reconcileLost(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-c.staleAfter)
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{"term": map[string]any{"estado": string(domain.StatusActive)}},
					map[string]any{"range": map[string]any{"last_seen": map[string]any{"lt": cutoff.Format(time.RFC3339)}}},
				},
			},
		},
		"script": map[string]any{
			"source": "ctx._source.estado='lost'; ctx._source.lost_at=params.lost_at;",
			"lang":   "painless",
			"params": map[string]any{"lost_at": now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return err
	}

	res, err := c.es.UpdateByQuery([]string{c.index},
		c.es.UpdateByQuery.WithContext(ctx),
		c.es.UpdateByQuery.WithBody(bytes.NewReader(body)),
		c.es.UpdateByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return err
	}
	drain(res.Body)
	if res.IsError() {
		return fmt.Errorf("update_by_query: status %s", res.Status())
	}
	return nil
}

// Persist upserts the cycle's active and newly-lost events in one bulk
// request. lostAt stamps the lost documents.
func (c *Client) Persist(ctx context.Context, active, lost []domain.Event, lostAt time.Time) error {
	var buf bytes.Buffer
	for _, event := range active {
		if err := appendUpsert(&buf, c.index, event, nil); err != nil {
			return err
		}
	}
	for _, event := range lost {
		if err := appendUpsert(&buf, c.index, event, &lostAt); err != nil {
			return err
		}
	}
	if buf.Len() == 0 {
		return nil
	}

	res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk upsert: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk upsert: status %s", res.Status())
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []json.RawMessage
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err == nil && result.Errors {
		c.logger.Warn("bulk upsert reported item errors", "actions", len(active)+len(lost))
	}
	return nil
}

func appendUpsert(buf *bytes.Buffer, index string, event domain.Event, lostAt *time.Time) error {
	meta := map[string]any{"update": map[string]any{"_index": index, "_id": event.ID}}
	metaLine, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("serialize bulk meta: %w", err)
	}
	docLine, err := json.Marshal(map[string]any{
		"doc":           composeDocument(event, lostAt),
		"doc_as_upsert": true,
	})
	if err != nil {
		return fmt.Errorf("serialize event %s: %w", event.ID, err)
	}
	buf.Write(metaLine)
	buf.WriteByte('\n')
	buf.Write(docLine)
	buf.WriteByte('\n')
	return nil
}

func drain(body io.ReadCloser) {
	if body != nil {
		io.Copy(io.Discard, body) //nolint:errcheck // connection reuse only
		body.Close()
	}
}
