package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"realtime-board/internal/auth"
	"realtime-board/internal/service"
)

const searchLimit = 10

// UserHandler 유저 핸들러
type UserHandler struct {
	users *service.UserService
}

// NewUserHandler UserHandler 생성
func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// SearchUsersResponse 유저 검색 응답
type SearchUsersResponse struct {
	Users []UserResponse `json:"users"`
	Total int            `json:"total"`
}

// SearchUsers 유저 검색 (이름 또는 이메일). 보드 멤버 추가에 사용
func (h *UserHandler) SearchUsers(c *fiber.Ctx) error {
	// 현재 로그인한 사용자 정보
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	// 검색어 가져오기
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "search query is required",
		})
	}

	// 최소 2글자 이상
	if len(query) < 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "search query must be at least 2 characters",
		})
	}

	users, err := h.users.SearchUsers(c.UserContext(), claims.UserID, query, searchLimit)
	if err != nil {
		log.WithError(err).Error("[User] Search failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to search users",
		})
	}

	// 응답 변환
	responses := make([]UserResponse, len(users))
	for i := range users {
		responses[i] = newUserResponse(&users[i])
	}

	return c.JSON(SearchUsersResponse{
		Users: responses,
		Total: len(responses),
	})
}
