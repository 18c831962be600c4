package logger

import "context"

type contextKey string

const (
	connIDKey contextKey = "conn_id"
	roomKey   contextKey = "room"
	userKey   contextKey = "user"
)

// WithConnID 在 Context 中记录连接 ID，带 Context 的日志方法会自动输出
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey, connID)
}

// WithRoom 在 Context 中记录房间
func WithRoom(ctx context.Context, room string) context.Context {
	return context.WithValue(ctx, roomKey, room)
}

// WithUser 在 Context 中记录用户
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// ConnIDFrom 读取 Context 中的连接 ID
func ConnIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(connIDKey).(string)
	return v
}

// UserFrom 读取 Context 中的用户
func UserFrom(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}
