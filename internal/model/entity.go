package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 사용자
type User struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      *string   `gorm:"type:varchar(100)" json:"name,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Password   *Password   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	BoardRoles []BoardRole `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"board_roles,omitempty"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// DisplayName returns the name, or the email when no name is set.
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return u.Email
}

// Password 비밀번호 해시 (pbkdf2-sha256)
type Password struct {
	UserID string `gorm:"type:varchar(36);primaryKey" json:"-"`
	Hash   string `gorm:"type:varchar(128);not null" json:"-"`
	Salt   string `gorm:"type:varchar(32);not null" json:"-"`
}

func (Password) TableName() string {
	return "passwords"
}

// Board 보드
type Board struct {
	ID           string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string     `gorm:"type:varchar(200);not null;default:'Untitled'" json:"name"`
	SecretID     string     `gorm:"type:varchar(36);not null" json:"-"`
	Document     *string    `gorm:"type:text" json:"-"` // 마지막으로 저장된 문서 스냅샷 (JSON)
	LastOpenedAt *time.Time `json:"last_opened_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Roles []BoardRole `gorm:"foreignKey:BoardID;constraint:OnDelete:CASCADE" json:"roles,omitempty"`
}

func (Board) TableName() string {
	return "boards"
}

func (b *Board) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.SecretID == "" {
		b.SecretID = uuid.NewString()
	}
	return nil
}

// BoardRole 보드 멤버 역할
type BoardRole struct {
	ID      string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	BoardID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_board_user" json:"board_id"`
	UserID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_board_user" json:"user_id"`
	Role    Role      `gorm:"type:varchar(20);not null" json:"role"`
	AddedAt time.Time `gorm:"autoCreateTime" json:"added_at"`

	// Relations
	Board Board `gorm:"foreignKey:BoardID" json:"board,omitempty"`
	User  User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (BoardRole) TableName() string {
	return "board_roles"
}

func (r *BoardRole) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
