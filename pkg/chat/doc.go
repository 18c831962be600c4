// Package chat implements room-based publish/subscribe messaging.
//
// Clients join named rooms through a Service and receive every message
// published to those rooms afterwards, in the same order as every other
// subscriber of the room. Delivery is at-most-once and never blocks the
// publisher: each session owns a bounded Sink, and a full or closed sink
// drops the message for that session only.
//
// Basic usage:
//
//	b := chat.NewBroadcaster(chat.NewRegistry())
//	svc, err := chat.NewService(b, chat.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer svc.Close()
//
//	sess, err := svc.JoinChatRooms(ctx, chat.JoinRequest{Rooms: []string{"lobby"}, User: "alice"})
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	go svc.SendChatMessage(ctx, "lobby", "hi", "bob")
//	for msg := range sess.Messages(ctx) {
//		fmt.Println(msg.RoomName, msg.CurrentUser, msg.Message)
//	}
//
// Passing WithTransport to NewBroadcaster spreads rooms across processes.
// Every message, including the publisher's own, then reaches local
// subscribers through the transport so that all processes observe one
// order per room. See package transport for Redis, AMQP, Kafka and
// in-memory implementations.
package chat
