package chat

// EventKind 事件类型
type EventKind string

// EventChat 聊天消息
const EventChat EventKind = "chat.message"

// Envelope 一条待广播的消息，构造后不可变
type Envelope struct {
	Room    RoomID    `json:"room_id"`
	Sender  string    `json:"sender"`
	Payload string    `json:"message"`
	Kind    EventKind `json:"type"`
}

// NewEnvelope 创建聊天消息
func NewEnvelope(room RoomID, sender, payload string) Envelope {
	return Envelope{
		Room:    room,
		Sender:  sender,
		Payload: payload,
		Kind:    EventChat,
	}
}

// ChatRoomMessage 会话向客户端产出的消息
// RoomName 为房间 ID，CurrentUser 为接收会话的用户
type ChatRoomMessage struct {
	RoomName    string `json:"room_name"`
	CurrentUser string `json:"current_user"`
	Sender      string `json:"sender,omitempty"`
	Message     string `json:"message"`
}
