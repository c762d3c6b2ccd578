package publisher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olxmonitor/internal/listing"
)

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 0})
	defer client.Close()

	// Test if Redis is available
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Redis is not available, skipping test")
	}

	const stream = "test_scrape_progress"
	client.Del(ctx, stream)

	pub := NewRedisPublisher(ctx, "localhost:6379", 0, stream, 100)
	defer pub.Close()

	event := listing.Progress{
		Type:            "progress",
		CurrentPage:     3,
		TotalPages:      10,
		PageItems:       40,
		CumulativeItems: 120,
		ProgressPercent: 30,
		PageCompleted:   true,
	}
	require.NoError(t, pub.PublishProgress(event))

	messages, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, messages, 1)

	var got listing.Progress
	payload, ok := messages[0].Values["progress"].(string)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(payload), &got))
	assert.Equal(t, event, got)

	assert.NoError(t, pub.TrimStream())
	client.Del(ctx, stream)
}
