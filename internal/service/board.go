package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"realtime-board/internal/board"
	"realtime-board/internal/model"
)

// DefaultBoardName 새 보드 기본 이름
const DefaultBoardName = "Untitled"

// BoardService 보드/멤버 관련 비즈니스 로직
//
// 보드마다 마지막으로 저장된 문서도 보관해서 문서 캐시가 비어 있어도 Room을
// 복원할 수 있다.
type BoardService struct {
	db *gorm.DB
}

// NewBoardService BoardService 생성
func NewBoardService(db *gorm.DB) *BoardService {
	return &BoardService{db: db}
}

// BoardSummary 보드 목록 항목
type BoardSummary struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Role         model.Role `json:"role"`
	LastOpenedAt *time.Time `json:"last_opened_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Member 보드 멤버 정보
type Member struct {
	BoardRoleID string     `json:"board_role_id"`
	UserID      string     `json:"user_id"`
	Email       string     `json:"email"`
	Name        *string    `json:"name,omitempty"`
	Role        model.Role `json:"role"`
	AddedAt     time.Time  `json:"added_at"`
}

// CreateBoard 보드와 소유자 역할을 한 트랜잭션으로 생성
func (s *BoardService) CreateBoard(ctx context.Context, userID, name string) (*model.Board, error) {
	if name = strings.TrimSpace(name); name == "" {
		name = DefaultBoardName
	}

	b := &model.Board{Name: name}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(b).Error; err != nil {
			return err
		}
		return tx.Create(&model.BoardRole{
			BoardID: b.ID,
			UserID:  userID,
			Role:    model.RoleOwner,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}
	return b, nil
}

// BoardsForUser 사용자가 속한 모든 보드
func (s *BoardService) BoardsForUser(ctx context.Context, userID string) ([]BoardSummary, error) {
	var roles []model.BoardRole
	err := s.db.WithContext(ctx).
		Preload("Board").
		Where("user_id = ?", userID).
		Order("added_at ASC").
		Find(&roles).Error
	if err != nil {
		return nil, err
	}

	boards := make([]BoardSummary, 0, len(roles))
	for _, r := range roles {
		boards = append(boards, BoardSummary{
			ID:           r.Board.ID,
			Name:         r.Board.Name,
			Role:         r.Role,
			LastOpenedAt: r.Board.LastOpenedAt,
			CreatedAt:    r.Board.CreatedAt,
		})
	}
	return boards, nil
}

// GetBoard ID로 보드 조회
func (s *BoardService) GetBoard(ctx context.Context, id string) (*model.Board, error) {
	var b model.Board
	err := s.db.WithContext(ctx).Omit("document").First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// TouchLastOpened 마지막 열람 시각 갱신
func (s *BoardService) TouchLastOpened(ctx context.Context, id string) error {
	return s.updateColumn(ctx, id, "last_opened_at", time.Now())
}

// UpdateName 보드 이름 변경. Room은 이름 변경 debounce 후 호출
func (s *BoardService) UpdateName(ctx context.Context, id, name string) error {
	if name = strings.TrimSpace(name); name == "" {
		name = DefaultBoardName
	}
	return s.updateColumn(ctx, id, "name", name)
}

func (s *BoardService) updateColumn(ctx context.Context, id, column string, value any) error {
	res := s.db.WithContext(ctx).Model(&model.Board{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember 이메일로 사용자를 Editor로 추가
func (s *BoardService) AddMember(ctx context.Context, boardID, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.addRole(ctx, boardID, user.ID, model.RoleEditor); err != nil {
		return nil, err
	}
	return &user, nil
}

// JoinWithSecret 공유 링크의 secretId가 맞으면 Editor로 추가. 기존 멤버의
// 역할은 유지
func (s *BoardService) JoinWithSecret(ctx context.Context, boardID, userID, secretID string) error {
	ok, err := s.CheckSecret(ctx, boardID, secretID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	err = s.addRole(ctx, boardID, userID, model.RoleEditor)
	if errors.Is(err, ErrAlreadyMember) {
		return nil
	}
	return err
}

func (s *BoardService) addRole(ctx context.Context, boardID, userID string, role model.Role) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.BoardRole{}).
		Where("board_id = ? AND user_id = ?", boardID, userID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrAlreadyMember
	}

	return s.db.WithContext(ctx).Create(&model.BoardRole{
		BoardID: boardID,
		UserID:  userID,
		Role:    role,
	}).Error
}

// Members 보드 멤버 목록 (추가된 순서)
func (s *BoardService) Members(ctx context.Context, boardID string) ([]Member, error) {
	var roles []model.BoardRole
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("board_id = ?", boardID).
		Order("added_at ASC").
		Find(&roles).Error
	if err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(roles))
	for _, r := range roles {
		members = append(members, Member{
			BoardRoleID: r.ID,
			UserID:      r.UserID,
			Email:       r.User.Email,
			Name:        r.User.Name,
			Role:        r.Role,
			AddedAt:     r.AddedAt,
		})
	}
	return members, nil
}

// DeleteBoard 보드와 모든 역할 삭제
func (s *BoardService) DeleteBoard(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("board_id = ?", id).Delete(&model.BoardRole{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Board{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CheckSecret 공유 링크 secretId 확인
func (s *BoardService) CheckSecret(ctx context.Context, boardID, secretID string) (bool, error) {
	if secretID == "" {
		return false, nil
	}
	b, err := s.GetBoard(ctx, boardID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.SecretID == secretID, nil
}

// =============================================================================
// Document snapshots
// =============================================================================

// LoadDocument returns the saved document of a board. A board that was never
// saved gets an empty document carrying its name; an unknown board gives nil.
func (s *BoardService) LoadDocument(ctx context.Context, boardID string) (*board.Document, error) {
	var b model.Board
	err := s.db.WithContext(ctx).First(&b, "id = ?", boardID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if b.Document == nil || *b.Document == "" {
		return board.NewDocument(b.Name), nil
	}

	var doc board.Document
	if err := json.Unmarshal([]byte(*b.Document), &doc); err != nil {
		return nil, fmt.Errorf("decode board %s document: %w", boardID, err)
	}
	if doc.Cards == nil {
		doc.Cards = []board.Card{}
	}
	if doc.ZOrder == nil {
		doc.ZOrder = []string{}
	}
	// 이름은 boards.name 컬럼이 기준
	doc.Name = b.Name
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("board %s document: %w", boardID, err)
	}
	return &doc, nil
}

// SaveDocument stores the document snapshot. The name column is left to
// UpdateName, so a stale snapshot cannot undo a rename.
func (s *BoardService) SaveDocument(ctx context.Context, boardID string, doc *board.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	snapshot := string(data)

	// 보드가 이미 삭제된 경우 조용히 무시
	return s.db.WithContext(ctx).Model(&model.Board{}).
		Where("id = ?", boardID).
		Update("document", snapshot).Error
}

// DeleteDocument clears the saved document.
func (s *BoardService) DeleteDocument(ctx context.Context, boardID string) error {
	return s.db.WithContext(ctx).Model(&model.Board{}).
		Where("id = ?", boardID).
		Update("document", nil).Error
}

// =============================================================================
// Maintenance
// =============================================================================

// RepairOwners gives every board without an owner a new one: its longest
// standing member is promoted. It returns the number of boards repaired.
func (s *BoardService) RepairOwners(ctx context.Context) (int, error) {
	repaired := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var orphans []string
		err := tx.Model(&model.Board{}).
			Where("id NOT IN (?)", tx.Model(&model.BoardRole{}).Select("board_id").Where("role = ?", model.RoleOwner)).
			Pluck("id", &orphans).Error
		if err != nil {
			return err
		}

		for _, boardID := range orphans {
			var first model.BoardRole
			err := tx.Where("board_id = ?", boardID).Order("added_at ASC").First(&first).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := tx.Model(&first).Update("role", model.RoleOwner).Error; err != nil {
				return err
			}
			repaired++
		}
		return nil
	})
	return repaired, err
}

// ClearDocuments drops every saved document snapshot. Board names are kept.
func (s *BoardService) ClearDocuments(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Board{}).
		Where("document IS NOT NULL").
		Update("document", nil)
	return res.RowsAffected, res.Error
}
