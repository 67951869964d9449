package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"realtime-board/internal/board"
	"realtime-board/internal/database"
	"realtime-board/internal/model"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(sqlite.Open("file::memory:"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func createUser(t *testing.T, users *UserService, email string) *model.User {
	t.Helper()
	u, err := users.CreateUser(context.Background(), email, "password123", "")
	require.NoError(t, err)
	return u
}

func TestUserService(t *testing.T) {
	ctx := context.Background()
	users := NewUserService(setupDB(t))

	u, err := users.CreateUser(ctx, " Ada@Example.com ", "password123", "Ada")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, "Ada", u.DisplayName())

	_, err = users.CreateUser(ctx, "ada@example.com", "other", "")
	assert.ErrorIs(t, err, ErrEmailTaken)

	exists, err := users.UserExists(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := users.Authenticate(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = users.Authenticate(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = users.Authenticate(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = users.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestBoardLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	users := NewUserService(db)
	boards := NewBoardService(db)
	members := NewMemberService(db)

	owner := createUser(t, users, "owner@example.com")
	editor := createUser(t, users, "editor@example.com")
	stranger := createUser(t, users, "stranger@example.com")

	b, err := boards.CreateBoard(ctx, owner.ID, "  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultBoardName, b.Name)
	assert.NotEmpty(t, b.SecretID)

	isOwner, err := members.IsOwner(ctx, b.ID, owner.ID)
	require.NoError(t, err)
	assert.True(t, isOwner)

	_, err = boards.AddMember(ctx, b.ID, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	added, err := boards.AddMember(ctx, b.ID, "Editor@example.com")
	require.NoError(t, err)
	assert.Equal(t, editor.ID, added.ID)
	_, err = boards.AddMember(ctx, b.ID, "editor@example.com")
	assert.ErrorIs(t, err, ErrAlreadyMember)

	canEdit, err := members.CanEdit(ctx, b.ID, editor.ID)
	require.NoError(t, err)
	assert.True(t, canEdit)
	isOwner, err = members.IsOwner(ctx, b.ID, editor.ID)
	require.NoError(t, err)
	assert.False(t, isOwner)

	canEdit, err = members.CanEdit(ctx, b.ID, stranger.ID)
	require.NoError(t, err)
	assert.False(t, canEdit)

	list, err := boards.Members(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.RoleOwner, list[0].Role)
	assert.Equal(t, "editor@example.com", list[1].Email)

	summaries, err := boards.BoardsForUser(ctx, editor.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, model.RoleEditor, summaries[0].Role)
	assert.Nil(t, summaries[0].LastOpenedAt)

	require.NoError(t, boards.TouchLastOpened(ctx, b.ID))
	require.NoError(t, boards.UpdateName(ctx, b.ID, "Roadmap"))
	got, err := boards.GetBoard(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", got.Name)
	assert.NotNil(t, got.LastOpenedAt)

	assert.ErrorIs(t, boards.UpdateName(ctx, "missing", "x"), ErrNotFound)

	require.NoError(t, boards.DeleteBoard(ctx, b.ID))
	_, err = boards.GetBoard(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	canEdit, err = members.CanEdit(ctx, b.ID, owner.ID)
	require.NoError(t, err)
	assert.False(t, canEdit)
	assert.ErrorIs(t, boards.DeleteBoard(ctx, b.ID), ErrNotFound)
}

func TestJoinWithSecret(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	users := NewUserService(db)
	boards := NewBoardService(db)
	members := NewMemberService(db)

	owner := createUser(t, users, "owner@example.com")
	guest := createUser(t, users, "guest@example.com")
	b, err := boards.CreateBoard(ctx, owner.ID, "Shared")
	require.NoError(t, err)

	assert.ErrorIs(t, boards.JoinWithSecret(ctx, b.ID, guest.ID, "wrong"), ErrNotFound)
	require.NoError(t, boards.JoinWithSecret(ctx, b.ID, guest.ID, b.SecretID))
	require.NoError(t, boards.JoinWithSecret(ctx, b.ID, guest.ID, b.SecretID))
	require.NoError(t, boards.JoinWithSecret(ctx, b.ID, owner.ID, b.SecretID))

	role, err := members.GetRole(ctx, b.ID, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleEditor, role)
	role, err = members.GetRole(ctx, b.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleOwner, role)
}

func TestBoardDocuments(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	users := NewUserService(db)
	boards := NewBoardService(db)

	owner := createUser(t, users, "owner@example.com")
	b, err := boards.CreateBoard(ctx, owner.ID, "Sprint")
	require.NoError(t, err)

	doc, err := boards.LoadDocument(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, doc)

	doc, err = boards.LoadDocument(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, board.NewDocument("Sprint"), doc)

	tx := board.NewTx(doc)
	board.CreateCard(tx, "c1", board.Point{X: 100, Y: 100}, board.DefaultDimensions)
	board.SetBoardName(tx, "Sprint 2")
	require.NoError(t, boards.SaveDocument(ctx, b.ID, doc))

	// the name column only changes through UpdateName
	got, err := boards.GetBoard(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sprint", got.Name)

	loaded, err := boards.LoadDocument(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Cards, loaded.Cards)
	assert.Equal(t, "Sprint", loaded.Name)

	require.NoError(t, boards.UpdateName(ctx, b.ID, "Sprint 2"))
	loaded, err = boards.LoadDocument(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sprint 2", loaded.Name)

	require.NoError(t, boards.DeleteDocument(ctx, b.ID))
	loaded, err = boards.LoadDocument(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Cards)
	assert.Equal(t, "Sprint 2", loaded.Name)
}

func TestMaintenance(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	users := NewUserService(db)
	boards := NewBoardService(db)
	members := NewMemberService(db)

	owner := createUser(t, users, "owner@example.com")
	editor := createUser(t, users, "editor@example.com")

	orphaned, err := boards.CreateBoard(ctx, owner.ID, "Orphaned")
	require.NoError(t, err)
	_, err = boards.AddMember(ctx, orphaned.ID, editor.Email)
	require.NoError(t, err)
	require.NoError(t, db.Where("board_id = ? AND user_id = ?", orphaned.ID, owner.ID).Delete(&model.BoardRole{}).Error)

	healthy, err := boards.CreateBoard(ctx, owner.ID, "Healthy")
	require.NoError(t, err)

	repaired, err := boards.RepairOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	isOwner, err := members.IsOwner(ctx, orphaned.ID, editor.ID)
	require.NoError(t, err)
	assert.True(t, isOwner)

	repaired, err = boards.RepairOwners(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)

	require.NoError(t, boards.SaveDocument(ctx, healthy.ID, board.NewDocument("Healthy")))
	cleared, err := boards.ClearDocuments(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared)

	doc, err := boards.LoadDocument(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, "Healthy", doc.Name)
}
