package pubsub_test

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

	publisher "github.com/JakeFAU/storia-seo-ops/internal/publisher/pubsub"
)

func TestPublisherPublishesJSON(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "storia", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.CreateTopic(ctx, "site-rebuild")
	require.NoError(t, err)

	pub := publisher.New(client, "seoops")
	defer pub.Close()

	id, err := pub.Publish(ctx, "site-rebuild", map[string]string{"run_id": "r1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "r1", decoded["run_id"])
	require.Equal(t, "seoops", msgs[0].Attributes["source"])
	require.Equal(t, "site-rebuild", msgs[0].Attributes["event"])
}

func TestPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := publisher.New(nil, "").Publish(context.Background(), "site-rebuild", nil)
	require.Error(t, err)
}
