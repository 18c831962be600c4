// Package ws is the WebSocket gateway of qichat. Each connection owns at
// most one chat session; frames are JSON objects dispatched by their "type".
//
// # Frames
//
// Client to server:
//
//	{"type":"join","rooms":["lobby","news"],"user":"alice","request_id":"1"}
//	{"type":"send","room":"lobby","message":"hi","request_id":"2"}
//	{"type":"leave","rooms":["news"]}   // leave some rooms
//	{"type":"leave"}                    // end the session
//
// Server to client:
//
//	{"type":"message","data":{"room_name":"chat_lobby","current_user":"alice","sender":"bob","message":"hi"}}
//	{"type":"ack","request_id":"1","data":{"conn_id":"...","user":"alice","rooms":["lobby","news"]}}
//	{"type":"error","request_id":"2","code":4001,"message":"chat: invalid room name: ..."}
//
// Chat messages go through a bounded queue and are dropped when the client
// cannot keep up. Acks and errors use a separate queue that is written first.
//
// # Usage
//
//	svc, _ := chat.NewService(chat.NewBroadcaster(chat.NewRegistry()))
//	mgr, err := ws.NewManager(svc,
//	    ws.WithMaxConnections(10000),
//	    ws.WithCheckOriginWhitelist([]string{"https://example.com"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = mgr.Use(ws.TracingMiddleware(), ws.LoggingMiddleware(log))
//
//	r.GET("/ws", func(c *gin.Context) {
//	    _ = mgr.HandleUpgrade(c.Writer, c.Request, ws.WithUser(c.GetHeader("X-User")))
//	})
//
//	defer mgr.Shutdown(ctx)
package ws
