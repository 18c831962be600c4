package ws

import (
	"github.com/tokmz/qichat/pkg/chat"
)

// registerChatHandlers 注册 join / send / leave 帧处理器
func (m *Manager) registerChatHandlers() {
	_ = m.router.Register(FrameJoin, m.handleJoin)
	_ = m.router.Register(FrameSend, m.handleSend)
	_ = m.router.Register(FrameLeave, m.handleLeave)
}

// handleJoin 首次 join 创建会话，之后的 join 在同一会话上追加房间
func (m *Manager) handleJoin(c *Client, f *InboundFrame) error {
	user := c.user
	if user == "" {
		user = f.User
	}

	c.mu.Lock()
	sess := c.session
	if sess != nil && sess.State() != chat.SessionClosed {
		c.mu.Unlock()
		if err := sess.Join(c.Context(), f.Rooms...); err != nil {
			return err
		}
	} else {
		if user == "" {
			c.mu.Unlock()
			return ErrUserRequired
		}
		var err error
		sess, err = m.chat.JoinChatRooms(c.Context(), chat.JoinRequest{
			Rooms:  f.Rooms,
			User:   user,
			ConnID: c.id,
		})
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.attach(sess)
		c.mu.Unlock()
	}

	return c.reply(f.RequestID, JoinAck{
		ConnID: sess.ConnID(),
		User:   sess.User(),
		Rooms:  roomNames(sess.Rooms()),
	})
}

// handleSend 发布消息，无需先加入房间
func (m *Manager) handleSend(c *Client, f *InboundFrame) error {
	if f.Room == "" {
		return ErrRoomRequired
	}

	sender := c.user
	if sender == "" {
		if sess, ok := c.Session(); ok {
			sender = sess.User()
		}
	}

	if err := m.chat.SendChatMessage(c.Context(), f.Room, f.Message, sender); err != nil {
		return err
	}
	return c.reply(f.RequestID, nil)
}

// handleLeave 指定房间时离开这些房间，否则结束会话
func (m *Manager) handleLeave(c *Client, f *InboundFrame) error {
	sess, ok := c.Session()
	if !ok {
		return ErrNotJoined
	}

	if len(f.Rooms) == 0 {
		c.detach()
		return c.reply(f.RequestID, JoinAck{ConnID: c.id, User: sess.User(), Rooms: []string{}})
	}

	if err := sess.Leave(c.Context(), f.Rooms...); err != nil {
		return err
	}
	return c.reply(f.RequestID, JoinAck{
		ConnID: sess.ConnID(),
		User:   sess.User(),
		Rooms:  roomNames(sess.Rooms()),
	})
}
