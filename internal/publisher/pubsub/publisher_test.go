package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "ticks")
	require.NoError(t, err)

	pub := NewWithClient(client)
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

func TestPublishWritesJSONMessage(t *testing.T) {
	t.Parallel()

	pub, srv := newTestPublisher(t)
	id, err := pub.Publish(context.Background(), "ticks", map[string]string{"reason": "continue", "jobId": "job-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].ID)

	var got map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "job-1", got["jobId"])
}

func TestPublishRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub, _ := newTestPublisher(t)
	_, err := pub.Publish(context.Background(), "", "payload")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "ticks", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	_, err = (&Publisher{}).Publish(context.Background(), "ticks", "x")
	require.ErrorContains(t, err, "not configured")
}
