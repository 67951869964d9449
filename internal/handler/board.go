package handler

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"realtime-board/internal/auth"
	"realtime-board/internal/board"
	"realtime-board/internal/middleware"
	"realtime-board/internal/presence"
	"realtime-board/internal/room"
	"realtime-board/internal/service"
)

// ParticipantLister lists who is connected to a board across all servers.
type ParticipantLister interface {
	ListPresence(ctx context.Context, boardID string) ([]presence.Data, error)
}

// BoardHandler 보드 핸들러
type BoardHandler struct {
	boards       *service.BoardService
	hub          *room.Hub
	participants ParticipantLister
}

// NewBoardHandler BoardHandler 생성. participants가 nil이면 이 서버의 연결만
// 조회한다.
func NewBoardHandler(boards *service.BoardService, hub *room.Hub, participants ParticipantLister) *BoardHandler {
	return &BoardHandler{boards: boards, hub: hub, participants: participants}
}

// CreateBoardRequest 보드 생성 요청
type CreateBoardRequest struct {
	Name string `json:"name"`
}

// RenameBoardRequest 보드 이름 변경 요청
type RenameBoardRequest struct {
	Name string `json:"name"`
}

// AddMemberRequest 멤버 추가 요청
type AddMemberRequest struct {
	Email string `json:"email"`
}

// JoinBoardRequest 공유 링크 참여 요청
type JoinBoardRequest struct {
	SecretID string `json:"secret_id"`
}

// ListBoards 내 보드 목록
func (h *BoardHandler) ListBoards(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	boards, err := h.boards.BoardsForUser(c.UserContext(), claims.UserID)
	if err != nil {
		log.WithError(err).Error("[Board] List failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch boards",
		})
	}

	return c.JSON(fiber.Map{
		"boards": boards,
		"total":  len(boards),
	})
}

// CreateBoard 보드 생성 (생성자는 Owner)
func (h *BoardHandler) CreateBoard(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req CreateBoardRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	b, err := h.boards.CreateBoard(c.UserContext(), claims.UserID, req.Name)
	if err != nil {
		log.WithError(err).Error("[Board] Create failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create board",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(b)
}

// GetBoard 보드 조회 (마지막 열람 시각 갱신)
func (h *BoardHandler) GetBoard(c *fiber.Ctx) error {
	boardID := middleware.BoardID(c)

	b, err := h.boards.GetBoard(c.UserContext(), boardID)
	if errors.Is(err, service.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	if err := h.boards.TouchLastOpened(c.UserContext(), boardID); err != nil {
		log.WithError(err).Warnf("[Board] Touch last opened failed: %s", boardID)
	}

	return c.JSON(b)
}

// RenameBoard 보드 이름 변경. 열린 Room과 저장된 문서에 모두 반영
func (h *BoardHandler) RenameBoard(c *fiber.Ctx) error {
	boardID := middleware.BoardID(c)

	var req RenameBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = service.DefaultBoardName
	}

	if err := h.boards.UpdateName(c.UserContext(), boardID, name); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to rename board"})
	}

	if err := h.hub.Rename(c.UserContext(), boardID, name); err != nil {
		log.WithError(err).Warnf("[Board] Document rename failed: %s", boardID)
	}

	return c.JSON(fiber.Map{"name": name})
}

// GetMembers 보드 멤버 목록
func (h *BoardHandler) GetMembers(c *fiber.Ctx) error {
	members, err := h.boards.Members(c.UserContext(), middleware.BoardID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch members"})
	}
	return c.JSON(fiber.Map{
		"members": members,
		"total":   len(members),
	})
}

// AddMember 이메일로 멤버 추가 (Editor)
func (h *BoardHandler) AddMember(c *fiber.Ctx) error {
	var req AddMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid email address"})
	}

	user, err := h.boards.AddMember(c.UserContext(), middleware.BoardID(c), req.Email)
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found."})
	case errors.Is(err, service.ErrAlreadyMember):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to add member"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": `User "` + user.Email + `" added to board.`,
		"user":    newUserResponse(user),
	})
}

// GetShareLink 공유용 secretId 조회
func (h *BoardHandler) GetShareLink(c *fiber.Ctx) error {
	b, err := h.boards.GetBoard(c.UserContext(), middleware.BoardID(c))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
	}
	return c.JSON(fiber.Map{
		"board_id":  b.ID,
		"secret_id": b.SecretID,
	})
}

// JoinBoard 공유 링크로 보드 참여
func (h *BoardHandler) JoinBoard(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req JoinBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	err = h.boards.JoinWithSecret(c.UserContext(), c.Params("id"), claims.UserID, req.SecretID)
	if errors.Is(err, service.ErrNotFound) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "invalid share link"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to join board"})
	}
	return c.JSON(fiber.Map{"message": "joined"})
}

// DeleteBoard 보드 삭제 (Owner 전용). Room을 닫기 전에 모든 클라이언트에
// 알린다.
func (h *BoardHandler) DeleteBoard(c *fiber.Ctx) error {
	boardID := middleware.BoardID(c)
	ctx := c.UserContext()

	if err := h.boards.DeleteBoard(ctx, boardID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to delete board"})
	}

	if err := h.hub.BroadcastEvent(ctx, boardID, board.Event{Type: board.EventBoardDeleted}); err != nil {
		log.WithError(err).Warnf("[Board] Delete event failed: %s", boardID)
	}
	if err := h.hub.DeleteRoom(ctx, boardID); err != nil {
		log.WithError(err).Warnf("[Board] Delete room failed: %s", boardID)
	}

	return c.JSON(fiber.Map{"message": "board deleted"})
}

// GetParticipants 현재 접속 중인 참가자 목록
func (h *BoardHandler) GetParticipants(c *fiber.Ctx) error {
	boardID := middleware.BoardID(c)

	if h.participants != nil {
		list, err := h.participants.ListPresence(c.UserContext(), boardID)
		if err == nil {
			return c.JSON(fiber.Map{"participants": list, "total": len(list)})
		}
		log.WithError(err).Warnf("[Board] Presence lookup failed, using local room: %s", boardID)
	}

	list := []presence.Data{}
	if rm, ok := h.hub.Room(boardID); ok {
		for _, p := range rm.Participants() {
			list = append(list, presence.Data{Participant: p, Color: board.Color(p.ConnectionID)})
		}
	}
	return c.JSON(fiber.Map{"participants": list, "total": len(list)})
}
