package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"realtime-board/internal/auth"
	"realtime-board/internal/board"
	"realtime-board/internal/middleware"
	"realtime-board/internal/room"
	"realtime-board/internal/service"
)

// BoardWSHandler 보드 실시간 WebSocket 핸들러
type BoardWSHandler struct {
	hub          *room.Hub
	users        *service.UserService
	writeTimeout time.Duration
}

// NewBoardWSHandler BoardWSHandler 생성
func NewBoardWSHandler(hub *room.Hub, users *service.UserService, writeTimeout time.Duration) *BoardWSHandler {
	return &BoardWSHandler{hub: hub, users: users, writeTimeout: writeTimeout}
}

// Upgrade runs after the auth and membership middleware and stores what the
// connection needs before the protocol switch.
func (h *BoardWSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	name := claims.Email
	if user, err := h.users.GetUser(c.UserContext(), claims.UserID); err == nil {
		name = user.DisplayName()
	}

	c.Locals("boardID", middleware.BoardID(c))
	c.Locals("userID", claims.UserID)
	c.Locals("displayName", name)
	c.Locals("session", c.Query("session"))
	return c.Next()
}

// HandleWebSocket joins the board's room and feeds it every client message
// until the connection closes.
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	boardID, ok1 := c.Locals("boardID").(string)
	userID, ok2 := c.Locals("userID").(string)
	name, _ := c.Locals("displayName").(string)
	session, _ := c.Locals("session").(string)

	if !ok1 || !ok2 || boardID == "" {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"invalid session"}`))
		c.Close()
		return
	}

	peer := room.NewWebSocketPeer(c, h.writeTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	rm, connID, err := h.hub.Join(ctx, boardID, userID, session, peer, board.Presence{Name: name})
	cancel()
	if errors.Is(err, room.ErrRoomOwnedElsewhere) {
		// 다른 인스턴스가 Room을 호스팅 중 (클라이언트가 재연결로 재시도)
		log.Warnf("[BoardWS] Join refused: %v", err)
		peer.Send(&room.Message{Type: room.MsgError, Error: err.Error()})
		c.Close()
		return
	}
	if err != nil {
		log.WithError(err).Errorf("[BoardWS] Join failed: board=%s user=%s", boardID, userID)
		peer.Send(&room.Message{Type: room.MsgError, Error: "failed to join board"})
		c.Close()
		return
	}

	log.Infof("[BoardWS] Connected: board=%s user=%s conn=%d", boardID, userID, connID)

	// 연결 해제 시 정리
	defer func() {
		rm.Leave(connID)
		c.Close()
		log.Infof("[BoardWS] Disconnected: board=%s user=%s conn=%d", boardID, userID, connID)
	}()

	// 메시지 수신 루프
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			break
		}

		msg, err := room.Decode(data)
		if err != nil {
			peer.Send(&room.Message{Type: room.MsgError, Error: "malformed message"})
			continue
		}

		err = rm.Handle(connID, msg)
		switch {
		case err == nil:
		case errors.Is(err, room.ErrUnknownMessageType):
			peer.Send(&room.Message{Type: room.MsgError, Error: err.Error()})
		default:
			// room closed or connection swept
			return
		}
	}
}
