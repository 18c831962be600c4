package ws

import (
	"encoding/json"
	"time"

	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/errors"
)

// FrameType 帧类型
type FrameType string

const (
	// 客户端 -> 服务端
	FrameJoin  FrameType = "join"
	FrameSend  FrameType = "send"
	FrameLeave FrameType = "leave"

	// 服务端 -> 客户端
	FrameMessage FrameType = "message"
	FrameAck     FrameType = "ack"
	FrameError   FrameType = "error"
)

// InboundFrame 客户端发来的帧
//
//	{"type":"join","rooms":["lobby"],"user":"alice"}
//	{"type":"send","room":"lobby","message":"hi"}
//	{"type":"leave"}
type InboundFrame struct {
	Type      FrameType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`

	// join / leave
	Rooms []string `json:"rooms,omitempty"`
	User  string   `json:"user,omitempty"`

	// send
	Room    string `json:"room,omitempty"`
	Message string `json:"message,omitempty"`
}

// OutboundFrame 发往客户端的帧
type OutboundFrame struct {
	Type      FrameType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Data      any       `json:"data,omitempty"`

	// 仅 error 帧
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	TraceID   string `json:"trace_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// JoinAck join 帧的确认数据
type JoinAck struct {
	ConnID string   `json:"conn_id"`
	User   string   `json:"user"`
	Rooms  []string `json:"rooms"`
}

// NewMessageFrame 聊天消息帧
func NewMessageFrame(msg chat.ChatRoomMessage) *OutboundFrame {
	return &OutboundFrame{
		Type:      FrameMessage,
		Data:      msg,
		Timestamp: time.Now().Unix(),
	}
}

// NewAckFrame 确认帧
func NewAckFrame(requestID string, data any) *OutboundFrame {
	return &OutboundFrame{
		Type:      FrameAck,
		RequestID: requestID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

// NewErrorFrame 错误帧，错误码取自 errors.CodeOf
func NewErrorFrame(requestID string, err error) *OutboundFrame {
	return &OutboundFrame{
		Type:      FrameError,
		RequestID: requestID,
		Code:      errors.CodeOf(err),
		Message:   err.Error(),
		Timestamp: time.Now().Unix(),
	}
}

// decodeFrame 解析入站帧
func decodeFrame(data []byte) (*InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, ErrInvalidFrame.WithError(err)
	}
	if frame.Type == "" {
		return nil, ErrInvalidFrame.WithMessage("ws: frame type is required")
	}
	return &frame, nil
}

func roomNames(rooms []chat.RoomID) []string {
	names := make([]string, len(rooms))
	for i, r := range rooms {
		names[i] = r.Name()
	}
	return names
}
