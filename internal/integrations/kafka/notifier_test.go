package kafka

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turbolytics/csvimport/internal/catalog"
	"github.com/turbolytics/csvimport/internal/jobs"
)

func TestParseURL(t *testing.T) {
	u, err := url.Parse("kafka://broker-1:9092,broker-2:9092/import-jobs?acks=1&linger.ms=5")
	require.NoError(t, err)

	topic, config, err := ParseURL(u)
	require.NoError(t, err)
	assert.Equal(t, "import-jobs", topic)
	assert.Equal(t, "broker-1:9092,broker-2:9092", config["bootstrap.servers"])
	assert.Equal(t, "1", config["acks"])
	assert.Equal(t, "5", config["linger.ms"])
}

func TestParseURL_Invalid(t *testing.T) {
	for _, raw := range []string{"kafka://broker:9092", "kafka:///topic"} {
		t.Run(raw, func(t *testing.T) {
			u, err := url.Parse(raw)
			require.NoError(t, err)
			_, _, err = ParseURL(u)
			assert.Error(t, err)
		})
	}
}

func TestNewMessage(t *testing.T) {
	rep := catalog.New()
	rep.AddProcessed("orders.csv", 5)
	rep.Errorf("Error inserting batch: boom")
	rep.Complete(false)
	summary := rep.Summary()

	job := jobs.Job{ID: "abc", Status: "failed", StartTime: time.Unix(0, 0).UTC(), Result: &summary}
	bs, err := json.Marshal(NewMessage(job))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(bs, &decoded))
	assert.Equal(t, "abc", decoded["job_id"])
	assert.Equal(t, "failed", decoded["status"])
	assert.Equal(t, map[string]any{"orders.csv": float64(5)}, decoded["row_counts"])
	assert.Equal(t, []any{"Error inserting batch: boom"}, decoded["errors"])
}

func TestNotifier_NotConnected(t *testing.T) {
	u, _ := url.Parse("kafka://broker:9092/import-jobs")
	n, err := NewNotifier(u, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, n.Notify(context.Background(), jobs.Job{ID: "x"}))
}
