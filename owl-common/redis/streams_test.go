package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublishToStream_StringifiesValues(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	id, err := PublishToStream(ctx, client, "s1", 0, map[string]interface{}{
		"name":   "t1",
		"count":  3,
		"online": true,
		"meta":   map[string]any{"unit": "c"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := ReadRange(ctx, client, "s1", "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "t1", msgs[0].Values["name"])
	assert.Equal(t, "3", msgs[0].Values["count"])
	assert.Equal(t, "true", msgs[0].Values["online"])
	assert.JSONEq(t, `{"unit":"c"}`, msgs[0].Values["meta"].(string))
}

func TestPublishJSONToStream_WrapsData(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	_, err := PublishJSONToStream(ctx, client, "events", 100, "device_status", map[string]any{"device_uid": "dev_1"})
	require.NoError(t, err)

	msgs, err := ReadRange(ctx, client, "events", "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "device_status", msgs[0].Values["type"])

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &data))
	assert.Equal(t, "dev_1", data["device_uid"])
}

func TestReadRange_EmptyStream(t *testing.T) {
	client := setupTestRedis(t)

	msgs, err := ReadRange(context.Background(), client, "missing", "-", "+", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
