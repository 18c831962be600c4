package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handleIDs(handles []*Handle) []string {
	ids := make([]string, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.ConnID)
	}
	return ids
}

func TestRegistryJoinLeave(t *testing.T) {
	r := NewRegistry()
	sink := NewSink(1, nil)

	assert.True(t, r.Join("chat_a", NewHandle("c1", "chat_a", sink)))
	assert.True(t, r.Join("chat_b", NewHandle("c1", "chat_b", sink)))
	assert.True(t, r.Join("chat_a", NewHandle("c2", "chat_a", sink)))

	assert.ElementsMatch(t, []string{"c1", "c2"}, handleIDs(r.Snapshot("chat_a")))
	assert.Equal(t, 2, r.Rooms())
	assert.Equal(t, []RoomID{"chat_a", "chat_b"}, r.ConnRooms("c1"))

	assert.True(t, r.Leave("chat_a", "c1"))
	assert.Equal(t, []string{"c2"}, handleIDs(r.Snapshot("chat_a")))
	assert.Equal(t, []RoomID{"chat_b"}, r.ConnRooms("c1"))
}

func TestRegistryIdempotent(t *testing.T) {
	r := NewRegistry()
	sink := NewSink(1, nil)
	h := NewHandle("c1", "chat_a", sink)

	assert.True(t, r.Join("chat_a", h))
	assert.False(t, r.Join("chat_a", h))
	assert.False(t, r.Join("chat_a", NewHandle("c1", "chat_a", sink)))
	assert.Equal(t, 1, r.Members("chat_a"))
	assert.Len(t, r.Snapshot("chat_a"), 1)

	assert.True(t, r.Leave("chat_a", "c1"))
	assert.False(t, r.Leave("chat_a", "c1"))
	assert.False(t, r.Leave("chat_missing", "c1"))
	assert.Empty(t, r.Snapshot("chat_a"))
	assert.Equal(t, 0, r.Rooms())
}

func TestRegistryLeaveAll(t *testing.T) {
	r := NewRegistry()
	sink := NewSink(1, nil)
	for _, room := range []RoomID{"chat_a", "chat_b", "chat_c"} {
		r.Join(room, NewHandle("c1", room, sink))
	}
	r.Join("chat_a", NewHandle("c2", "chat_a", sink))

	left := r.LeaveAll("c1")
	assert.Equal(t, []RoomID{"chat_a", "chat_b", "chat_c"}, left)
	assert.Empty(t, r.ConnRooms("c1"))
	assert.Equal(t, []string{"c2"}, handleIDs(r.Snapshot("chat_a")))
	assert.Equal(t, 1, r.Rooms())
	assert.Empty(t, r.LeaveAll("c1"))
}

func TestRegistryFanout(t *testing.T) {
	r := NewRegistry()
	fast := NewSink(4, nil)
	full := NewSink(1, nil)
	closed := NewSink(1, nil)
	closed.close()

	r.Join("chat_a", NewHandle("fast", "chat_a", fast))
	r.Join("chat_a", NewHandle("full", "chat_a", full))
	r.Join("chat_a", NewHandle("closed", "chat_a", closed))
	require.NoError(t, full.push(NewEnvelope("chat_a", "x", "filler")))

	delivered, failures := r.fanout("chat_a", NewEnvelope("chat_a", "u", "hi"))
	assert.Equal(t, 1, delivered)
	require.Len(t, failures, 2)

	errs := map[string]error{}
	for _, f := range failures {
		errs[f.handle.ConnID] = f.err
	}
	assert.ErrorIs(t, errs["full"], ErrSinkFull)
	assert.ErrorIs(t, errs["closed"], ErrSinkClosed)
	assert.Equal(t, "hi", (<-fast.C()).Payload)

	delivered, failures = r.fanout("chat_none", NewEnvelope("chat_none", "u", "hi"))
	assert.Zero(t, delivered)
	assert.Empty(t, failures)
}

// 房间在成员频繁进出、被反复清理和重建时，稳定成员始终可见
func TestRegistryMembershipUnderChurn(t *testing.T) {
	r := NewRegistry()
	sink := NewSink(1, nil)
	const room RoomID = "chat_churn"

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("churn-%d", i)
			for {
				select {
				case <-stop:
					return
				default:
				}
				r.Join(room, NewHandle(id, room, sink))
				r.Leave(room, id)
			}
		}(i)
	}

	for range 200 {
		r.Join(room, NewHandle("stable", room, sink))
		for range 10 {
			assert.Contains(t, handleIDs(r.Snapshot(room)), "stable")
		}
		r.Leave(room, "stable")
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 0, r.Members(room))
	assert.Equal(t, 0, r.Rooms())
}
