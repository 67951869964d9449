package handler

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"realtime-board/internal/auth"
	"realtime-board/internal/model"
	"realtime-board/internal/service"
)

const minPasswordLength = 6

// AuthHandler 인증 핸들러
type AuthHandler struct {
	users        *service.UserService
	jwtManager   *auth.JWTManager
	secureCookie bool
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(users *service.UserService, jwtManager *auth.JWTManager, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		users:        users,
		jwtManager:   jwtManager,
		secureCookie: secureCookie,
	}
}

// RegisterRequest 회원가입 요청
type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// LoginRequest 로그인 요청
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse 인증 응답
type AuthResponse struct {
	User        UserResponse `json:"user"`
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
}

// UserResponse 사용자 응답
type UserResponse struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name,omitempty"`
}

func newUserResponse(u *model.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Name: u.Name}
}

func validateCredentials(email, password string) string {
	if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
		return "invalid email address"
	}
	if len(password) < minPasswordLength {
		return "password must be at least 6 characters"
	}
	return ""
}

// Register 이메일/비밀번호 회원가입
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if msg := validateCredentials(req.Email, req.Password); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}
	if req.ConfirmPassword != req.Password {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "passwords do not match",
		})
	}

	user, err := h.users.CreateUser(c.UserContext(), req.Email, req.Password, req.Name)
	if errors.Is(err, service.ErrEmailTaken) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "user already exists",
		})
	}
	if err != nil {
		log.WithError(err).Error("[Auth] Register failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create user",
		})
	}

	return h.issue(c, fiber.StatusCreated, user)
}

// Login 이메일/비밀번호 로그인
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if msg := validateCredentials(req.Email, req.Password); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	user, err := h.users.Authenticate(c.UserContext(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid email or password",
		})
	}
	if err != nil {
		log.WithError(err).Error("[Auth] Login failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	return h.issue(c, fiber.StatusOK, user)
}

// issue JWT 발급 후 HTTP-Only 쿠키 설정
func (h *AuthHandler) issue(c *fiber.Ctx, status int, user *model.User) error {
	name := ""
	if user.Name != nil {
		name = *user.Name
	}
	accessToken, err := h.jwtManager.GenerateAccessToken(user.ID, user.Email, name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	expiry := h.jwtManager.AccessExpiry()
	c.Cookie(&fiber.Cookie{
		Name:     auth.AccessTokenCookie,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(expiry / time.Second),
		Secure:   h.secureCookie,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return c.Status(status).JSON(AuthResponse{
		User:        newUserResponse(user),
		AccessToken: accessToken,
		ExpiresIn:   int64(expiry / time.Second),
	})
}

// Logout 로그아웃
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	// 액세스 토큰 쿠키 삭제
	c.Cookie(&fiber.Cookie{
		Name:     auth.AccessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.secureCookie,
		HTTPOnly: true,
	})

	return c.JSON(fiber.Map{
		"message": "logged out successfully",
	})
}

// GetMe 현재 사용자 정보
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	user, err := h.users.GetUser(c.UserContext(), claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "user not found",
		})
	}

	return c.JSON(newUserResponse(user))
}
