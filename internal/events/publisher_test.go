package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	added []*redis.XAddArgs
	err   error
}

func (f *fakeRedis) XAdd(_ context.Context, args *redis.XAddArgs) *redis.StringCmd {
	f.added = append(f.added, args)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1-0", nil)
}

func (f *fakeRedis) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishWritesStreamEntry(t *testing.T) {
	fake := &fakeRedis{}
	pub := NewPublisher(fake, "scraper:jobs", testLogger())

	pub.JobCompleted(context.Background(), JobEvent{
		JobID:    "job-1",
		Adapter:  "Grahams",
		Products: 42,
		Artifact: "Grahams_2025-03-14_10.30.xlsx",
	})

	require.Len(t, fake.added, 1)
	args := fake.added[0]
	assert.Equal(t, "scraper:jobs", args.Stream)
	assert.Equal(t, TypeJobCompleted, args.Values.(map[string]interface{})["event_type"])
	assert.Equal(t, "job-1", args.Values.(map[string]interface{})["job_id"])

	var ev JobEvent
	data := args.Values.(map[string]interface{})["data"].(string)
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, 42, ev.Products)
	assert.Equal(t, "Grahams", ev.Adapter)
}

func TestPublishErrorIsSwallowed(t *testing.T) {
	fake := &fakeRedis{err: errors.New("down")}
	pub := NewPublisher(fake, "scraper:jobs", testLogger())

	// Must not panic or propagate.
	pub.JobFailed(context.Background(), JobEvent{JobID: "job-2", Error: "nav timeout"})
	assert.Len(t, fake.added, 1)
}

func TestNilPublisherDropsEvents(t *testing.T) {
	var pub *Publisher
	pub.JobStarted(context.Background(), JobEvent{JobID: "job-3"})
}
