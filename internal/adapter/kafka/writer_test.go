package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joboufra/v16-tracker-ingestor/internal/domain"
)

func TestMessage(t *testing.T) {
	seen := time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC)
	event := domain.Event{
		ID:        "evt-1",
		Latitude:  40.4,
		Longitude: -3.7,
		Cause:     "Vehículo detenido",
		Kind:      "Advertencia",
		Source:    "DGT3.0",
		FirstSeen: seen,
		LastSeen:  seen,
		Status:    domain.StatusActive,
	}

	t.Run("active upsert", func(t *testing.T) {
		msg, err := Message(event, nil)
		require.NoError(t, err)

		assert.Equal(t, "evt-1", string(msg.Key), "keyed by identity for topic compaction")
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, "estado", msg.Headers[0].Key)
		assert.Equal(t, "active", string(msg.Headers[0].Value))

		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &payload))
		assert.Equal(t, "Vehículo detenido", payload["causa"])
		assert.Equal(t, "active", payload["estado"])
		assert.Equal(t, 40.4, payload["latitud"])
	})

	t.Run("lost transition carries lost_at", func(t *testing.T) {
		lost := event
		lost.Status = domain.StatusLost
		lostAt := seen.Add(5 * time.Minute)

		msg, err := Message(lost, &lostAt)
		require.NoError(t, err)

		require.Len(t, msg.Headers, 2)
		assert.Equal(t, "lost", string(msg.Headers[0].Value))
		assert.Equal(t, "lost_at", msg.Headers[1].Key)
		assert.Equal(t, "2024-11-20T08:05:00Z", string(msg.Headers[1].Value))
	})
}
