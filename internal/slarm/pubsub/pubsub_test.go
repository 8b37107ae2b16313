package pubsub_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slarm-iot/slarm/internal/slarm/pubsub"
	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

func TestMemory_PublishSubscribe(t *testing.T) {
	b := pubsub.NewMemory()
	ctx := context.Background()

	var got []string
	require.NoError(t, b.Subscribe(pubsub.DefaultTopic, func(topic string, p []byte) {
		assert.Equal(t, pubsub.DefaultTopic, topic)
		got = append(got, string(p))
	}))

	assert.True(t, errors.Is(b.Publish(ctx, pubsub.DefaultTopic, []byte("x")), pubsub.ErrNotConnected))

	require.NoError(t, b.Connect(ctx))
	assert.True(t, b.Connected())
	require.NoError(t, b.Publish(ctx, pubsub.DefaultTopic, []byte("[door,door_state,locked]")))
	require.NoError(t, b.Publish(ctx, "other/topic", []byte("ignored")))

	assert.Equal(t, []string{"[door,door_state,locked]"}, got)

	require.NoError(t, b.Close())
	assert.False(t, b.Connected())
}

func TestMemory_ClampsPayload(t *testing.T) {
	b := pubsub.NewMemory()
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	var n int
	require.NoError(t, b.Subscribe("t", func(_ string, p []byte) { n = len(p) }))
	require.NoError(t, b.Publish(ctx, "t", []byte(strings.Repeat("a", 1000))))
	assert.Equal(t, wire.PayloadCap-1, n)
}

func TestNew_Kinds(t *testing.T) {
	for kind, want := range map[string]any{
		"":       &pubsub.MQTT{},
		"mqtt":   &pubsub.MQTT{},
		"nats":   &pubsub.NATS{},
		"memory": &pubsub.Memory{},
	} {
		b, err := pubsub.New(pubsub.Config{Kind: kind, URL: "tcp://127.0.0.1:1883"}, nil)
		require.NoError(t, err, kind)
		assert.IsType(t, want, b, kind)
		assert.False(t, b.Connected(), kind)
	}

	_, err := pubsub.New(pubsub.Config{Kind: "kafka"}, nil)
	assert.True(t, errors.Is(err, pubsub.ErrUnknownKind))
}

func TestMQTT_SubscribeBeforeConnectIsDeferred(t *testing.T) {
	b := pubsub.NewMQTT(pubsub.Config{URL: "tcp://127.0.0.1:1883"}, nil)
	require.NoError(t, b.Subscribe(pubsub.DefaultTopic, func(string, []byte) {}))
	assert.True(t, errors.Is(b.Publish(context.Background(), "t", nil), pubsub.ErrNotConnected))
}
