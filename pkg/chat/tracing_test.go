package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingService(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := newTestService(t, WithGreeting(false))
	traced := NewTracingService(svc, tp)

	sess, err := traced.JoinChatRooms(context.Background(), JoinRequest{Rooms: []string{"lobby"}, User: "alice"})
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	require.NoError(t, traced.SendChatMessage(context.Background(), "lobby", "hi", "alice"))
	assert.ErrorIs(t, traced.SendChatMessage(context.Background(), "bad room", "hi", "alice"), ErrRoomResolution)

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "chat.JoinChatRooms", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "chat.SendChatMessage", spans[1].Name())
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
	assert.Equal(t, codes.Error, spans[2].Status().Code)
	assert.NotEmpty(t, spans[2].Events())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "alice", attrs["chat.user"])
	assert.Equal(t, sess.ConnID(), attrs["chat.conn_id"])
}
