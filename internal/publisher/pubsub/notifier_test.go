package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

func fakeServerOptions(srv *pstest.Server) []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

func TestNotifyPublishesSummary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "fis-project", fakeServerOptions(srv)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	topic, err := client.CreateTopic(ctx, "fis-runs")
	require.NoError(t, err)

	n := NewWithTopic(topic)
	id, err := n.Notify(ctx, scrape.RunSummary{RunID: "run-9", Athletes: 7, Succeeded: 6, Failed: 1, Forbidden: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, n.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "run-9", msgs[0].Attributes["run_id"])
	assert.Equal(t, "1", msgs[0].Attributes["forbidden"])

	var got scrape.RunSummary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, 6, got.Succeeded)
}

func TestNewDialsConfiguredTopic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	_, err := New(ctx, Config{})
	require.Error(t, err)

	n, err := New(ctx, Config{ProjectID: "fis-project", Topic: "missing"}, fakeServerOptions(srv)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	_, err = n.Notify(ctx, scrape.RunSummary{RunID: "run-1"})
	assert.Error(t, err, "publishing to a topic that does not exist fails")
}

func TestNotifyWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := (&Notifier{}).Notify(context.Background(), scrape.RunSummary{})
	assert.ErrorContains(t, err, "not configured")
}
