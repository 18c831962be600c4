package transport

import (
	"encoding/json"

	"github.com/tokmz/qichat/pkg/chat"
)

// Codec 消息编解码接口
type Codec interface {
	Encode(env chat.Envelope) ([]byte, error)
	Decode(data []byte) (chat.Envelope, error)
}

// JSONCodec JSON 编解码器（默认）
type JSONCodec struct{}

// Encode 编码
func (JSONCodec) Encode(env chat.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, ErrCodec.WithError(err)
	}
	return data, nil
}

// Decode 解码
func (JSONCodec) Decode(data []byte) (chat.Envelope, error) {
	var env chat.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return chat.Envelope{}, ErrCodec.WithError(err)
	}
	if env.Room == "" {
		return chat.Envelope{}, ErrCodec.WithMessage("transport codec failed: envelope without room")
	}
	return env, nil
}
