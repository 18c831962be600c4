package chat

import (
	"fmt"
	"strings"
	"unicode"
)

// RoomPrefix 房间名到房间 ID 的固定命名空间前缀
const RoomPrefix = "chat_"

// MaxRoomNameLen 房间名最大字节数
const MaxRoomNameLen = 128

// RoomID 房间标识，由房间名确定性派生
type RoomID string

// String 实现 fmt.Stringer
func (r RoomID) String() string {
	return string(r)
}

// Name 返回派生前的房间名
func (r RoomID) Name() string {
	return strings.TrimPrefix(string(r), RoomPrefix)
}

// ResolveRoom 将房间名解析为 RoomID
// 相同的名字总是得到相同的 ID，不同的名字不会冲突
func ResolveRoom(name string) (RoomID, error) {
	if name == "" {
		return "", ErrRoomResolution.WithError(fmt.Errorf("empty room name"))
	}
	if len(name) > MaxRoomNameLen {
		return "", ErrRoomResolution.WithError(fmt.Errorf("room name longer than %d bytes", MaxRoomNameLen))
	}
	for _, r := range name {
		// * ? [ ] 在 Redis 模式订阅和 AMQP 路由键中有特殊含义
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune("*?[]", r) {
			return "", ErrRoomResolution.WithError(fmt.Errorf("room name %q contains %q", name, r))
		}
	}
	return RoomID(RoomPrefix + name), nil
}

// ResolveRooms 解析一组房间名，全部成功或全部失败
// 重复的房间名只保留第一次出现的位置
func ResolveRooms(names []string) ([]RoomID, error) {
	if len(names) == 0 {
		return nil, ErrEmptyRooms
	}

	rooms := make([]RoomID, 0, len(names))
	seen := make(map[RoomID]struct{}, len(names))
	var invalid []string
	for _, name := range names {
		room, err := ResolveRoom(name)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("%q", name))
			continue
		}
		if _, ok := seen[room]; ok {
			continue
		}
		seen[room] = struct{}{}
		rooms = append(rooms, room)
	}

	if len(invalid) > 0 {
		return nil, ErrRoomResolution.WithError(fmt.Errorf("invalid rooms: %s", strings.Join(invalid, ", ")))
	}
	return rooms, nil
}
