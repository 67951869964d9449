package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"realtime-board/internal/auth"
	"realtime-board/internal/model"
)

// UserService 사용자/인증 관련 비즈니스 로직
type UserService struct {
	db *gorm.DB
}

// NewUserService UserService 생성
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser 사용자와 비밀번호 해시를 한 트랜잭션으로 생성
func (s *UserService) CreateUser(ctx context.Context, email, password, name string) (*model.User, error) {
	email = normalizeEmail(email)

	exists, err := s.UserExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hash, salt, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{Email: email}
	if name = strings.TrimSpace(name); name != "" {
		user.Name = &name
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(&model.Password{UserID: user.ID, Hash: hash, Salt: salt}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate 이메일/비밀번호 확인
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Preload("Password").Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if user.Password == nil || !auth.VerifyPassword(password, user.Password.Hash, user.Password.Salt) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// UserExists 이메일 중복 확인
func (s *UserService) UserExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", normalizeEmail(email)).Count(&count).Error
	return count > 0, err
}

// GetUser ID로 사용자 조회
func (s *UserService) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchUsers 이름 또는 이메일로 사용자 검색 (본인 제외, 최대 limit명)
func (s *UserService) SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]model.User, error) {
	pattern := "%" + strings.ToLower(query) + "%"

	var users []model.User
	err := s.db.WithContext(ctx).
		Where("id != ?", excludeID).
		Where("LOWER(name) LIKE ? OR email LIKE ?", pattern, pattern).
		Order("email ASC").
		Limit(limit).
		Find(&users).Error
	return users, err
}
