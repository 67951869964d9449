package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"realtime-board/internal/model"
)

// MemberService 보드 멤버십/권한 관련 비즈니스 로직
type MemberService struct {
	db *gorm.DB
}

// NewMemberService MemberService 생성
func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db}
}

// GetRole 보드에서 사용자의 역할 조회 (없으면 ErrNotFound)
func (s *MemberService) GetRole(ctx context.Context, boardID, userID string) (model.Role, error) {
	var role model.BoardRole
	err := s.db.WithContext(ctx).
		Where("board_id = ? AND user_id = ?", boardID, userID).
		First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return role.Role, nil
}

// CanEdit 보드 편집 가능 여부 확인. Owner와 Editor 모두 전체 권한을 가진다.
func (s *MemberService) CanEdit(ctx context.Context, boardID, userID string) (bool, error) {
	role, err := s.GetRole(ctx, boardID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role.Valid(), nil
}

// IsOwner 보드 소유자 여부 확인
func (s *MemberService) IsOwner(ctx context.Context, boardID, userID string) (bool, error) {
	role, err := s.GetRole(ctx, boardID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role == model.RoleOwner, nil
}
