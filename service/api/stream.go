package api

import (
	"encoding/json"
	"time"

	"PPChatSync/logger"
	"PPChatSync/module/chat/view"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval  = 25 * time.Second
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	maxReadBytes  = 512
	maxConnsPerID = 8
)

// streamFrame 每次订阅回调推一整帧视图
type streamFrame struct {
	ConversationID string                 `json:"conversation_id"`
	Messages       []view.RenderedMessage `json:"messages"`
	Roster         []view.RosterEntry     `json:"roster"`
}

// handleStream 1) 成员校验 2) 升级 WebSocket 3) 订阅会话视图 4) 写协程推帧 + 心跳，读协程只收 pong/close
func (s *Server) handleStream(c *gin.Context) {
	cl := s.clientsFor(c)
	convID := c.Param("id")
	if _, err := s.requireMember(c.Request.Context(), convID, cl.uid); err != nil {
		writeErr(c, err)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写过错误响应
		logger.Warn("[ws] upgrade failed", zap.String("user", cl.uid), zap.Error(err))
		return
	}
	conn := newStreamConn(cl.uid, convID, ws)
	s.conns.add(conn)
	defer s.conns.remove(conn)

	syncer := view.NewSynchronizer(s.deps.Store, cl.msgs,
		view.WithWindow(s.deps.Window),
		view.WithProfiles(s.deps.Profiles),
		view.WithOnEnded(conn.shutdown), // 会话被解散/拆除
	)
	sub, err := syncer.SubscribeToConversation(c.Request.Context(), convID, cl.uid,
		func(msgs []view.RenderedMessage, roster []view.RosterEntry) {
			frame, err := json.Marshal(streamFrame{ConversationID: convID, Messages: msgs, Roster: roster})
			if err != nil {
				logger.Error("[ws] encode frame", zap.Error(err))
				return
			}
			conn.push(frame)
			// 被移出群后不再推送
			if len(roster) > 0 && !inRoster(roster, cl.uid) {
				conn.shutdown()
			}
		})
	if err != nil {
		logger.Warn("[ws] subscribe failed", zap.String("conversation_id", convID), zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	defer sub.Close()

	logger.Info("[ws] stream open", zap.String("conn", conn.ConnID), zap.String("user", cl.uid), zap.String("conversation_id", convID))
	go readPump(conn)
	writePump(conn)
	logger.Info("[ws] stream closed", zap.String("conn", conn.ConnID), zap.String("user", cl.uid))
}

func inRoster(roster []view.RosterEntry, uid string) bool {
	for _, r := range roster {
		if r.UserID == uid {
			return true
		}
	}
	return false
}

// readPump 客户端不发业务帧；读到错误（含对端 close）即收尾
func readPump(conn *streamConn) {
	defer conn.shutdown()
	conn.WS.SetReadLimit(maxReadBytes)
	_ = conn.WS.SetReadDeadline(time.Now().Add(pongWait))
	conn.WS.SetPongHandler(func(string) error {
		return conn.WS.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.WS.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("[ws] read", zap.String("conn", conn.ConnID), zap.Error(err))
			}
			return
		}
	}
}

// writePump 唯一的写协程：发帧、定时 ping，退出时统一发 Close 并关闭底层连接
func writePump(conn *streamConn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.WS.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WS.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.WS.Close()
	}()
	for {
		select {
		case <-conn.done:
			return
		case frame := <-conn.send:
			_ = conn.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WS.WriteMessage(websocket.TextMessage, frame); err != nil {
				conn.shutdown()
				return
			}
		case <-ticker.C:
			if err := conn.WS.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.shutdown()
				return
			}
		}
	}
}
