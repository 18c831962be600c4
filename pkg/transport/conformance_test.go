package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/qichat/pkg/chat"
)

// cluster 在一组节点上运行的聊天服务，每个节点模拟一个进程
type cluster struct {
	t      *testing.T
	nodes  []*chat.Service
	settle time.Duration // 订阅在代理端生效所需的时间
}

func newCluster(t *testing.T, n int, settle time.Duration, newNode func(t *testing.T) chat.Transport, opts ...chat.Option) *cluster {
	t.Helper()
	c := &cluster{t: t, settle: settle}
	for i := range n {
		b := chat.NewBroadcaster(chat.NewRegistry(), chat.WithTransport(newNode(t)))
		svc, err := chat.NewService(b, append([]chat.Option{chat.WithNodeID(fmt.Sprintf("node-%d", i))}, opts...)...)
		require.NoError(t, err)
		t.Cleanup(func() {
			svc.Close()
			assert.NoError(t, b.Close())
		})
		c.nodes = append(c.nodes, svc)
	}
	return c
}

func (c *cluster) join(node int, user string, rooms ...string) *chat.Session {
	c.t.Helper()
	sess, err := c.nodes[node].JoinChatRooms(context.Background(), chat.JoinRequest{Rooms: rooms, User: user})
	require.NoError(c.t, err)
	c.t.Cleanup(sess.Close)
	if c.settle > 0 {
		time.Sleep(c.settle)
	}
	return sess
}

func (c *cluster) send(node int, room, message, sender string) {
	c.t.Helper()
	require.NoError(c.t, c.nodes[node].SendChatMessage(context.Background(), room, message, sender))
}

func recvWithin(t *testing.T, sess *chat.Session, d time.Duration) chat.ChatRoomMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	msg, err := sess.Recv(ctx)
	require.NoError(t, err)
	return msg
}

func assertSilent(t *testing.T, sess *chat.Session, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	_, err := sess.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// runConformance 所有传输实现都必须满足的行为
func runConformance(t *testing.T, settle time.Duration, newNode func(t *testing.T) chat.Transport) {
	wait := time.Second + 10*settle

	t.Run("cross node delivery", func(t *testing.T) {
		c := newCluster(t, 2, settle, newNode, chat.WithGreeting(false))
		b := c.join(1, "bob", "lobby")
		a := c.join(0, "alice", "elsewhere")

		c.send(0, "lobby", "hi", "alice")

		msg := recvWithin(t, b, wait)
		assert.Equal(t, chat.ChatRoomMessage{RoomName: "chat_lobby", CurrentUser: "bob", Sender: "alice", Message: "hi"}, msg)
		assertSilent(t, a, 50*time.Millisecond+settle)
	})

	t.Run("self delivery once", func(t *testing.T) {
		c := newCluster(t, 2, settle, newNode, chat.WithGreeting(false))
		a := c.join(0, "alice", "lobby")
		b := c.join(1, "bob", "lobby")

		c.send(0, "lobby", "hi", "alice")

		assert.Equal(t, "hi", recvWithin(t, a, wait).Message)
		assert.Equal(t, "hi", recvWithin(t, b, wait).Message)
		assertSilent(t, a, 50*time.Millisecond+settle)
	})

	t.Run("greeting reaches other nodes", func(t *testing.T) {
		c := newCluster(t, 2, settle, newNode)
		a := c.join(0, "alice", "lobby")
		assert.Contains(t, recvWithin(t, a, wait).Message, "alice")

		c.join(1, "bob", "lobby")
		msg := recvWithin(t, a, wait)
		assert.Contains(t, msg.Message, "Hello my name is bob!")
		assert.Contains(t, msg.Message, "node: node-1")
	})

	t.Run("per room total order", func(t *testing.T) {
		const perNode = 30
		c := newCluster(t, 3, settle, newNode, chat.WithGreeting(false))
		subs := []*chat.Session{
			c.join(0, "s0", "lobby"),
			c.join(1, "s1", "lobby"),
			c.join(2, "s2", "lobby", "side"),
		}

		var wg sync.WaitGroup
		for node := range c.nodes {
			wg.Add(1)
			go func(node int) {
				defer wg.Done()
				for i := range perNode {
					assert.NoError(t, c.nodes[node].SendChatMessage(context.Background(), "lobby", fmt.Sprintf("%d-%d", node, i), "x"))
				}
			}(node)
		}
		wg.Wait()

		var sequences [][]string
		for _, sub := range subs {
			var seq []string
			for range len(c.nodes) * perNode {
				seq = append(seq, recvWithin(t, sub, wait).Message)
			}
			sequences = append(sequences, seq)
		}
		assert.Equal(t, sequences[0], sequences[1])
		assert.Equal(t, sequences[0], sequences[2])
	})

	t.Run("closed session stops receiving", func(t *testing.T) {
		c := newCluster(t, 2, settle, newNode, chat.WithGreeting(false))
		gone := c.join(1, "gone", "lobby")
		stay := c.join(1, "stay", "lobby")

		gone.Close()
		c.send(0, "lobby", "after", "alice")

		assert.Equal(t, "after", recvWithin(t, stay, wait).Message)
		_, err := gone.Recv(context.Background())
		assert.ErrorIs(t, err, chat.ErrSessionClosed)
	})

	t.Run("last member releases group", func(t *testing.T) {
		c := newCluster(t, 2, settle, newNode, chat.WithGreeting(false))
		a := c.join(0, "alice", "a")
		b := c.join(1, "bob", "a", "b")

		require.NoError(t, b.Leave(context.Background(), "a"))
		time.Sleep(settle)
		c.send(0, "a", "only alice", "x")
		c.send(0, "b", "only bob", "x")

		assert.Equal(t, "only alice", recvWithin(t, a, wait).Message)
		assert.Equal(t, "only bob", recvWithin(t, b, wait).Message)
		assertSilent(t, b, 50*time.Millisecond+settle)
	})
}
