package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"realtime-board/internal/auth"
)

// MemberChecker answers board membership questions.
type MemberChecker interface {
	CanEdit(ctx context.Context, boardID, userID string) (bool, error)
	IsOwner(ctx context.Context, boardID, userID string) (bool, error)
}

// BoardMiddleware 보드 권한 미들웨어
type BoardMiddleware struct {
	members MemberChecker
}

// NewBoardMiddleware BoardMiddleware 생성
func NewBoardMiddleware(members MemberChecker) *BoardMiddleware {
	return &BoardMiddleware{members: members}
}

// BoardID returns the board id stored by RequireMember or RequireOwner.
func BoardID(c *fiber.Ctx) string {
	id, _ := c.Locals("boardID").(string)
	return id
}

// RequireMember 보드 멤버(Owner 또는 Editor) 필수
func (m *BoardMiddleware) RequireMember() fiber.Handler {
	return m.require(m.members.CanEdit, "not a board member")
}

// RequireOwner 보드 소유자 필수
func (m *BoardMiddleware) RequireOwner() fiber.Handler {
	return m.require(m.members.IsOwner, "only the board owner can do this")
}

func (m *BoardMiddleware) require(check func(ctx context.Context, boardID, userID string) (bool, error), denied string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := auth.GetClaimsFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		boardID := c.Params("id")
		if boardID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "board ID is required",
			})
		}

		ok, err := check(c.UserContext(), boardID, claims.UserID)
		if err != nil {
			log.WithError(err).Errorf("[Board] Permission check failed: board=%s user=%s", boardID, claims.UserID)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "permission check failed",
			})
		}
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": denied,
			})
		}

		// 보드 ID를 컨텍스트에 저장
		c.Locals("boardID", boardID)
		return c.Next()
	}
}
