package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/errors"
	"github.com/tokmz/qichat/pkg/ws"
)

// UserHeader 携带发送者身份的请求头
const UserHeader = "X-User"

var (
	ErrUserRequired = errors.New(4201, 400, "server: X-User header is required", nil)
	ErrBadRequest   = errors.New(4202, 400, "server: invalid request body", nil)
	ErrTooLarge     = errors.New(4204, 413, "server: message too large", nil)
)

// PublishRequest 发布请求体
type PublishRequest struct {
	Message string `json:"message"`
}

// PublishResult 发布结果
type PublishResult struct {
	Room   string `json:"room"`
	Sender string `json:"sender"`
}

// RoomInfo 房间在本节点的成员情况
type RoomInfo struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

// Stats 节点运行状态
type Stats struct {
	Node        string                `json:"node"`
	Transport   string                `json:"transport"`
	Distributed bool                  `json:"distributed"`
	Sessions    int                   `json:"sessions"`
	Rooms       int                   `json:"rooms"`
	Connections int                   `json:"connections"`
	Chat        *chat.MetricsSnapshot `json:"chat,omitempty"`
	Gateway     *ws.GatewaySnapshot   `json:"gateway,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ok(c, gin.H{"status": "ok"})
}

func (s *Server) handlePublish(c *gin.Context) {
	sender := c.GetHeader(UserHeader)
	if sender == "" {
		fail(c, ErrUserRequired)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxMessageBytes)
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, ErrTooLarge)
			return
		}
		fail(c, ErrBadRequest.WithError(err))
		return
	}

	room := c.Param("room")
	if err := s.svc.SendChatMessage(c.Request.Context(), room, req.Message, sender); err != nil {
		fail(c, err)
		return
	}
	ok(c, PublishResult{Room: room, Sender: sender})
}

func (s *Server) handleRoom(c *gin.Context) {
	room, err := chat.ResolveRoom(c.Param("room"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, RoomInfo{
		Room:    room.Name(),
		Members: s.svc.Broadcaster().Registry().Members(room),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	b := s.svc.Broadcaster()
	stats := Stats{
		Node:        s.node,
		Transport:   s.transport,
		Distributed: b.Distributed(),
		Sessions:    s.svc.SessionCount(),
		Rooms:       b.Registry().Rooms(),
		Connections: s.gateway.ClientCount(),
	}
	if s.chatMetrics != nil {
		snap := s.chatMetrics.Snapshot()
		stats.Chat = &snap
	}
	if s.gatewayMetrics != nil {
		snap := s.gatewayMetrics.Snapshot()
		stats.Gateway = &snap
	}
	ok(c, stats)
}

// handleWS 升级为 WebSocket，请求头或 user 查询参数中的用户视为已认证
func (s *Server) handleWS(c *gin.Context) {
	user := c.GetHeader(UserHeader)
	if user == "" {
		user = c.Query("user")
	}
	// 失败时响应已由网关写回
	_ = s.gateway.HandleUpgrade(c.Writer, c.Request, ws.WithUser(user))
}
