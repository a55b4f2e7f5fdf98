package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	"github.com/teesha-ghevariya/to-do/domain/events"
)

type fakePutEvents struct {
	calls  []*eventbridge.PutEventsInput
	failAt int // 1-based call that reports one failed entry, 0 for never
	err    error
}

func (f *fakePutEvents) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	out := &eventbridge.PutEventsOutput{Entries: make([]types.PutEventsResultEntry, len(in.Entries))}
	if len(f.calls) == f.failAt {
		out.FailedEntryCount = 1
		out.Entries[0].ErrorCode = aws.String("InternalFailure")
	}
	return out, nil
}

func createdEvents(n int) []events.DomainEvent {
	out := make([]events.DomainEvent, n)
	for i := range out {
		out[i] = events.NewNodeCreated(valueobjects.NewNodeID(), valueobjects.NodeID{}, "task", nil, time.Now())
	}
	return out
}

func TestEventBridgePublisher_ChunksAndMapsEntries(t *testing.T) {
	fake := &fakePutEvents{}
	p := NewEventBridgePublisher(fake, "outliner-bus", zap.NewNop())

	require.NoError(t, p.PublishBatch(context.Background(), createdEvents(23)))
	require.Len(t, fake.calls, 3)
	assert.Len(t, fake.calls[0].Entries, 10)
	assert.Len(t, fake.calls[2].Entries, 3)

	entry := fake.calls[0].Entries[0]
	assert.Equal(t, "outliner-bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, EventSource, aws.ToString(entry.Source))
	assert.Equal(t, events.TypeNodeCreated, aws.ToString(entry.DetailType))

	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, "task", detail["content"])
	assert.Nil(t, detail["parent_id"])
}

func TestEventBridgePublisher_Failures(t *testing.T) {
	fake := &fakePutEvents{failAt: 2}
	p := NewEventBridgePublisher(fake, "bus", zap.NewNop())
	err := p.PublishBatch(context.Background(), createdEvents(15))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 events failed")

	fake = &fakePutEvents{err: errors.New("throttled")}
	p = NewEventBridgePublisher(fake, "bus", zap.NewNop())
	assert.Error(t, p.Publish(context.Background(), createdEvents(1)[0]))

	assert.NoError(t, p.PublishBatch(context.Background(), nil))
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.PublishBatch(context.Background(), createdEvents(2)))
	entries := logs.FilterMessage("Domain event").All()
	require.Len(t, entries, 2)
	assert.Equal(t, events.TypeNodeCreated, entries[0].ContextMap()["eventType"])
}
