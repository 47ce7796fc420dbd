package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

func newTestPublisher(t *testing.T, topics ...string) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	for _, id := range topics {
		_, err := client.CreateTopic(ctx, id)
		require.NoError(t, err)
	}

	pub := New(client, "discovery-completed")
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

func TestPublishCompletionEvent(t *testing.T) {
	t.Parallel()

	pub, srv := newTestPublisher(t, "discovery-completed")
	event := crawler.CompletionEvent{
		TaskID:          "task-1",
		Seed:            "https://example.com/",
		Mode:            crawler.ModeFull,
		Total:           12,
		MaxDepthReached: 3,
		BlobURI:         "gs://bucket/discoveries/task-1/abc.json",
		FinishedAt:      time.Unix(1700000000, 0).UTC(),
	}

	id, err := pub.Publish(context.Background(), "", event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventTypeCompleted, msgs[0].Attributes["event_type"])
	assert.Equal(t, "task-1", msgs[0].Attributes["task_id"])

	var decoded crawler.CompletionEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, event, decoded)
}

func TestPublishExplicitTopic(t *testing.T) {
	t.Parallel()

	pub, srv := newTestPublisher(t, "other-topic")
	_, err := pub.Publish(context.Background(), "other-topic", map[string]int{"n": 1})
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"n":1}`, string(msgs[0].Data))
	assert.Empty(t, msgs[0].Attributes["event_type"])
}

func TestPublishMissingTopicFails(t *testing.T) {
	t.Parallel()

	pub, _ := newTestPublisher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := pub.Publish(ctx, "does-not-exist", "x")
	require.Error(t, err)
}

func TestPublishUnconfigured(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "t", "x")
	require.Error(t, err)
	require.NoError(t, pub.Close())

	_, err = New(nil, "").Publish(context.Background(), "", "x")
	require.Error(t, err)
}

func TestPublishUnmarshalable(t *testing.T) {
	t.Parallel()

	pub, _ := newTestPublisher(t, "discovery-completed")
	_, err := pub.Publish(context.Background(), "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
