package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFabricPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	f := NewMemoryFabric(nil)
	require.NoError(t, f.Connect(ctx))
	assert.True(t, f.IsConnected())

	var mu sync.Mutex
	var received []string

	subID, err := f.Subscribe(ctx, TopicTaskProgress, func(topic string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, string(payload))
	})
	require.NoError(t, err)

	require.NoError(t, f.Publish(ctx, TopicTaskProgress, []byte("hello")))

	mu.Lock()
	assert.Equal(t, []string{"hello"}, received)
	mu.Unlock()

	require.NoError(t, f.Unsubscribe(ctx, TopicTaskProgress, subID))
	require.NoError(t, f.Publish(ctx, TopicTaskProgress, []byte("world")))

	mu.Lock()
	assert.Len(t, received, 1, "unsubscribed handler must not receive further messages")
	mu.Unlock()
}

func TestMemoryFabricPublishWithNoSubscribersIsANoop(t *testing.T) {
	f := NewMemoryFabric(nil)
	err := f.Publish(context.Background(), "nobody/listening", []byte("x"))
	assert.NoError(t, err)
}

func TestPublishProgressMarshalsPayload(t *testing.T) {
	ctx := context.Background()
	f := NewMemoryFabric(nil)

	var gotTopic string
	var gotPayload []byte
	_, err := f.Subscribe(ctx, TopicTaskProgress, func(topic string, payload []byte) {
		gotTopic, gotPayload = topic, payload
	})
	require.NoError(t, err)

	msg := ProgressMessage{TaskID: "t1", StepIndex: 2, TotalSteps: 10, Percentage: 20, Timestamp: time.Now()}
	require.NoError(t, PublishProgress(ctx, f, TopicTaskProgress, msg))

	assert.Equal(t, TopicTaskProgress, gotTopic)
	assert.Contains(t, string(gotPayload), "\"task_id\":\"t1\"")
}
