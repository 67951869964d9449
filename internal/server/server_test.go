package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"realtime-board/internal/board"
	"realtime-board/internal/cache"
	"realtime-board/internal/config"
	"realtime-board/internal/database"
	"realtime-board/internal/room"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: ":0", InstanceID: "test"},
		CORS: config.CORSConfig{
			AllowOrigins: "http://localhost:3000",
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		},
		Auth: config.AuthConfig{
			JWTSecret:         "test-secret",
			AccessTokenExpiry: time.Hour,
		},
		Board: config.BoardConfig{
			DefaultName:          board.DefaultName,
			NameDebounce:         10 * time.Millisecond,
			DocumentSaveDebounce: 10 * time.Millisecond,
			PresenceTimeout:      time.Second,
			SweepInterval:        time.Second,
			HeartbeatInterval:    250 * time.Millisecond,
			CardWidth:            200,
			CardHeight:           200,
			MinCardSize:          100,
		},
		LogLevel: "error",
	}
}

func setupServer(t *testing.T) *Server {
	t.Helper()
	return setupServerWith(t, nil)
}

func setupServerWith(t *testing.T, redisClient *cache.RedisClient) *Server {
	t.Helper()

	db, err := database.Open(sqlite.Open("file::memory:"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	srv := New(testConfig(), db, redisClient)
	srv.SetupRoutes()
	t.Cleanup(srv.Hub().Shutdown)
	return srv
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

type account struct {
	id    string
	token string
}

func register(t *testing.T, app *fiber.App, email string) account {
	t.Helper()
	status, body := call(t, app, http.MethodPost, "/auth/register", "", fiber.Map{
		"email":            email,
		"password":         "password123",
		"confirm_password": "password123",
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	user := body["user"].(map[string]any)
	return account{id: user["id"].(string), token: body["access_token"].(string)}
}

func recvUntil(t *testing.T, conn *room.LocalConn, typ room.MessageType) *room.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		msg, err := conn.Recv(ctx)
		require.NoError(t, err)
		if msg.Type == typ {
			return msg
		}
	}
}

func TestAuthRoutes(t *testing.T) {
	app := setupServer(t).App()

	ada := register(t, app, "ada@example.com")
	assert.NotEmpty(t, ada.token)

	tests := []struct {
		name   string
		path   string
		body   fiber.Map
		status int
	}{
		{"duplicate email", "/auth/register", fiber.Map{"email": "ada@example.com", "password": "password123", "confirm_password": "password123"}, fiber.StatusConflict},
		{"short password", "/auth/register", fiber.Map{"email": "bob@example.com", "password": "123", "confirm_password": "123"}, fiber.StatusBadRequest},
		{"passwords differ", "/auth/register", fiber.Map{"email": "bob@example.com", "password": "password123", "confirm_password": "password321"}, fiber.StatusBadRequest},
		{"bad email", "/auth/register", fiber.Map{"email": "not-an-email", "password": "password123", "confirm_password": "password123"}, fiber.StatusBadRequest},
		{"login", "/auth/login", fiber.Map{"email": "ada@example.com", "password": "password123"}, fiber.StatusOK},
		{"wrong password", "/auth/login", fiber.Map{"email": "ada@example.com", "password": "password000"}, fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := call(t, app, http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, tt.status, status)
		})
	}

	status, body := call(t, app, http.MethodGet, "/auth/me", ada.token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ada@example.com", body["email"])

	status, _ = call(t, app, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestUserSearch(t *testing.T) {
	app := setupServer(t).App()

	ada := register(t, app, "ada@example.com")
	register(t, app, "adam@example.com")
	register(t, app, "grace@example.com")

	status, body := call(t, app, http.MethodGet, "/api/users/search?q=ad", ada.token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])
	users := body["users"].([]any)
	assert.Equal(t, "adam@example.com", users[0].(map[string]any)["email"])

	status, _ = call(t, app, http.MethodGet, "/api/users/search?q=a", ada.token, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = call(t, app, http.MethodGet, "/api/users/search?q=ada", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestBoardRoutes(t *testing.T) {
	srv := setupServer(t)
	app := srv.App()

	owner := register(t, app, "owner@example.com")
	editor := register(t, app, "editor@example.com")
	stranger := register(t, app, "stranger@example.com")

	status, body := call(t, app, http.MethodPost, "/api/boards/", owner.token, fiber.Map{"name": "Sprint"})
	require.Equal(t, fiber.StatusCreated, status, body)
	boardID := body["id"].(string)

	status, body = call(t, app, http.MethodGet, "/api/boards/", owner.token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	status, _ = call(t, app, http.MethodGet, "/api/boards/"+boardID, stranger.token, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	// a live room picks up REST renames
	conn, err := srv.Hub().ConnectLocal(context.Background(), boardID, owner.id, board.Presence{})
	require.NoError(t, err)
	initMsg := recvUntil(t, conn, room.MsgInit)
	assert.Equal(t, "Sprint", initMsg.Document.Name)

	status, body = call(t, app, http.MethodPut, "/api/boards/"+boardID+"/name", owner.token, fiber.Map{"name": "  Retro  "})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Retro", body["name"])

	patch := recvUntil(t, conn, room.MsgPatch)
	assert.Zero(t, patch.ConnectionID)
	assert.Equal(t, "Retro", conn.Room().Document().Name)

	status, body = call(t, app, http.MethodGet, "/api/boards/"+boardID+"/participants", owner.token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	status, _ = call(t, app, http.MethodPost, "/api/boards/"+boardID+"/members", owner.token, fiber.Map{"email": "editor@example.com"})
	assert.Equal(t, fiber.StatusCreated, status)
	status, _ = call(t, app, http.MethodPost, "/api/boards/"+boardID+"/members", owner.token, fiber.Map{"email": "nobody@example.com"})
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = call(t, app, http.MethodGet, "/api/boards/"+boardID+"/members", editor.token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 2, body["total"])

	status, body = call(t, app, http.MethodGet, "/api/boards/"+boardID+"/share", owner.token, nil)
	require.Equal(t, fiber.StatusOK, status)
	secret := body["secret_id"].(string)

	status, _ = call(t, app, http.MethodPost, "/api/boards/"+boardID+"/join", stranger.token, fiber.Map{"secret_id": "guess"})
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = call(t, app, http.MethodPost, "/api/boards/"+boardID+"/join", stranger.token, fiber.Map{"secret_id": secret})
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = call(t, app, http.MethodGet, "/api/boards/"+boardID, stranger.token, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = call(t, app, http.MethodDelete, "/api/boards/"+boardID, editor.token, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = call(t, app, http.MethodDelete, "/api/boards/"+boardID, owner.token, nil)
	require.Equal(t, fiber.StatusOK, status)

	ev := recvUntil(t, conn, room.MsgEvent)
	assert.Equal(t, board.EventBoardDeleted, ev.Event.Type)
	assert.Zero(t, srv.Hub().RoomCount())

	status, _ = call(t, app, http.MethodGet, "/api/boards/"+boardID, owner.token, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestHealthRoutes(t *testing.T) {
	app := setupServer(t).App()

	status, body := call(t, app, http.MethodGet, "/health", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "not_configured", checks["redis"].(map[string]any)["status"])

	status, body = call(t, app, http.MethodGet, "/api/settings", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 200, body["card_width"])
	assert.EqualValues(t, 100, body["min_card_size"])
	assert.EqualValues(t, 250, body["heartbeat_interval_ms"])

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRenameWhileBoardIsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	redisClient := cache.NewRedisClientFrom(rdb)

	srv := setupServerWith(t, redisClient)
	app := srv.App()
	ctx := context.Background()
	owner := register(t, app, "owner@example.com")

	status, body := call(t, app, http.MethodPost, "/api/boards/", owner.token, fiber.Map{"name": "Old"})
	require.Equal(t, fiber.StatusCreated, status, body)
	boardID := body["id"].(string)

	// open the board, add a card, close it: the document is cached and saved
	addCard := func() *room.Message {
		conn, err := srv.Hub().ConnectLocal(ctx, boardID, owner.id, board.Presence{})
		require.NoError(t, err)
		initMsg := recvUntil(t, conn, room.MsgInit)

		tx := board.NewTx(conn.Room().Document())
		board.CreateCard(tx, board.NewCardID(), board.Point{X: 100, Y: 100}, board.DefaultDimensions)
		require.NoError(t, conn.Send(&room.Message{Type: room.MsgPatch, ClientSeq: 1, Patch: tx.Patch()}))
		recvUntil(t, conn, room.MsgPatch)
		require.NoError(t, conn.Close())
		return initMsg
	}
	assert.Equal(t, "Old", addCard().Document.Name)
	require.Zero(t, srv.Hub().RoomCount())
	require.True(t, mr.Exists("room:"+boardID+":document"))

	status, _ = call(t, app, http.MethodPut, "/api/boards/"+boardID+"/name", owner.token, fiber.Map{"name": "New"})
	require.Equal(t, fiber.StatusOK, status)

	cached, err := redisClient.LoadDocument(ctx, boardID)
	require.NoError(t, err)
	assert.Equal(t, "New", cached.Name)

	// reopening and editing again keeps the new name everywhere
	initMsg := addCard()
	assert.Equal(t, "New", initMsg.Document.Name)
	assert.Len(t, initMsg.Document.Cards, 1)

	status, body = call(t, app, http.MethodGet, "/api/boards/"+boardID, owner.token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "New", body["name"])

	cached, err = redisClient.LoadDocument(ctx, boardID)
	require.NoError(t, err)
	assert.Equal(t, "New", cached.Name)
	assert.Len(t, cached.Cards, 2)
	assert.False(t, mr.Exists("room:"+boardID+":owner"))
}
