package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"voxmeet/pkg/model"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func (m *MockChannel) Close() error {
	return nil
}

func TestEvent_RoutingKeyAndDecode(t *testing.T) {
	seg := model.Segment{ID: "s1", ChunkID: "c1", StartTime: 1000, EndTime: 2000, Text: "hi"}

	ev, err := NewEvent("m1", EventSegmentReady, seg)
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "meeting.segment_ready.m1", ev.RoutingKey())

	var decoded model.Segment
	require.NoError(t, ev.Decode(&decoded))
	assert.Equal(t, seg, decoded)
}

func TestRabbitMQ_PublishEvent(t *testing.T) {
	ch := new(MockChannel)
	r := newRabbitMQ(ch)

	ev, err := NewEvent("m1", EventChunkFailed, ChunkFailure{ChunkID: "c1", Error: "timeout"})
	require.NoError(t, err)

	ch.On("PublishWithContext", mock.Anything, ExchangeName, "meeting.chunk_failed.m1", false, false,
		mock.MatchedBy(func(msg amqp.Publishing) bool {
			var got Event
			if err := json.Unmarshal(msg.Body, &got); err != nil {
				return false
			}
			return msg.ContentType == "application/json" &&
				msg.DeliveryMode == amqp.Persistent &&
				msg.MessageId == ev.ID &&
				got.Type == EventChunkFailed
		})).Return(nil)

	require.NoError(t, r.PublishEvent(context.Background(), ev))
	ch.AssertExpectations(t)
}

func TestRabbitMQ_PublishEventError(t *testing.T) {
	ch := new(MockChannel)
	r := newRabbitMQ(ch)

	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("channel closed"))

	ev, err := NewEvent("m1", EventProgress, Progress{Completed: 1, Total: 2})
	require.NoError(t, err)

	err = r.PublishEvent(context.Background(), ev)
	assert.ErrorContains(t, err, "channel closed")
}

func TestRabbitMQ_NotConnected(t *testing.T) {
	r := newRabbitMQ(new(MockChannel))

	assert.Error(t, r.Subscribe("q", BindAll))
	assert.Error(t, r.Consume(context.Background(), "q", nil))
}
