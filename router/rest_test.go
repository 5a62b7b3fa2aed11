package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/api"
	"dm-service/controller"
	"dm-service/database"
	"dm-service/identity"
	"dm-service/messenger"
	"dm-service/middleware"
)

type memRefresh struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *memRefresh) Save(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[id] = token
	return nil
}

func (m *memRefresh) Get(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[id], nil
}

type countAll struct {
	mu sync.Mutex
	n  map[string]int64
}

func (c *countAll) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[key]++
	return c.n[key], window, nil
}

type harness struct {
	t   *testing.T
	app *fiber.App
}

func newHarness(t *testing.T, rateLimit int) *harness {
	t.Helper()
	t.Setenv("JWT_ACCESS_KEY", "access-secret")
	t.Setenv("JWT_REFRESH_KEY", "refresh-secret")

	db := testDB(t)
	enforcer, err := casbin.NewEnforcer("../config/rbac_model.conf")
	require.NoError(t, err)
	require.NoError(t, database.SeedPolicies(enforcer))

	users := identity.NewStore(db)
	svc := messenger.NewService(db, users, zerolog.Nop())

	app := fiber.New(fiber.Config{StrictRouting: true})
	Rest(app, Handlers{
		Auth:       controller.NewAuth(db, &memRefresh{tokens: map[string]string{}}, enforcer),
		User:       controller.NewUser(db, users),
		Messenger:  controller.NewMessenger(svc),
		RBAC:       middleware.RBAC(enforcer),
		Limiter:    &countAll{n: map[string]int64{}},
		RateLimit:  rateLimit,
		RateWindow: time.Minute,
	})
	return &harness{t: t, app: app}
}

func (h *harness) do(method, path, token string, body any) (int, api.Response) {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.app.Test(req, 5000)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var out api.Response
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	require.NoError(h.t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func (h *harness) signup(username string) (uint, string) {
	h.t.Helper()
	code, resp := h.do("POST", "/v1/auth/signup", "", controller.AuthSignupInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct horse",
	})
	require.Equal(h.t, fiber.StatusCreated, code)
	var profile api.Participant
	require.NoError(h.t, json.Unmarshal(resp.Data, &profile))

	code, resp = h.do("POST", "/v1/auth/signin", "", api.SigninInput{Login: username, Password: "correct horse"})
	require.Equal(h.t, fiber.StatusOK, code)
	var tokens api.Tokens
	require.NoError(h.t, json.Unmarshal(resp.Data, &tokens))
	require.False(h.t, tokens.OTP)
	return profile.ID, tokens.Access
}

func decode[T any](t *testing.T, resp api.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}

func TestConversationFlow(t *testing.T) {
	h := newHarness(t, 0)
	aliceID, alice := h.signup("alice")
	bobID, bob := h.signup("bob")
	_, mallory := h.signup("mallory")

	code, resp := h.do("POST", "/v1/conversations", alice, api.CreateConversationInput{OtherUserID: bobID})
	require.Equal(t, fiber.StatusCreated, code)
	conv := decode[api.Conversation](t, resp)
	assert.True(t, conv.Created)

	code, resp = h.do("POST", "/v1/conversations", bob, api.CreateConversationInput{OtherUserID: aliceID})
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, conv.ID, decode[api.Conversation](t, resp).ID)

	code, resp = h.do("POST", "/v1/conversations/"+conv.ID, alice, api.SendMessageInput{Content: "hi"})
	require.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, "hi", decode[api.Message](t, resp).Content)
	code, _ = h.do("POST", "/v1/conversations/"+conv.ID, bob, api.SendMessageInput{Content: "hello"})
	require.Equal(t, fiber.StatusCreated, code)

	code, resp = h.do("GET", "/v1/conversations/"+conv.ID, alice, nil)
	require.Equal(t, fiber.StatusOK, code)
	msgs := decode[[]api.Message](t, resp)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.True(t, msgs[1].IsRead)

	code, resp = h.do("GET", "/v1/conversations", bob, nil)
	require.Equal(t, fiber.StatusOK, code)
	list := decode[[]api.ConversationSummary](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, aliceID, list[0].OtherParticipant.ID)
	assert.Equal(t, "alice", list[0].OtherParticipant.Name)
	assert.NotNil(t, list[0].LastMessageAt)
	assert.Equal(t, 1, list[0].UnreadCount)

	t.Run("outsider is forbidden", func(t *testing.T) {
		code, _ := h.do("GET", "/v1/conversations/"+conv.ID, mallory, nil)
		assert.Equal(t, fiber.StatusForbidden, code)
		code, _ = h.do("POST", "/v1/conversations/"+conv.ID, mallory, api.SendMessageInput{Content: "hi"})
		assert.Equal(t, fiber.StatusForbidden, code)
		code, _ = h.do("GET", "/v1/conversations/not-a-uuid", mallory, nil)
		assert.Equal(t, fiber.StatusForbidden, code)
	})

	t.Run("validation errors", func(t *testing.T) {
		code, _ := h.do("POST", "/v1/conversations/"+conv.ID, alice, api.SendMessageInput{Content: "   "})
		assert.Equal(t, fiber.StatusBadRequest, code)
		code, _ = h.do("POST", "/v1/conversations", alice, api.CreateConversationInput{OtherUserID: aliceID})
		assert.Equal(t, fiber.StatusBadRequest, code)
		code, _ = h.do("POST", "/v1/conversations", alice, api.CreateConversationInput{OtherUserID: 9999})
		assert.Equal(t, fiber.StatusBadRequest, code)
		code, _ = h.do("POST", "/v1/conversations", alice, map[string]any{})
		assert.Equal(t, fiber.StatusBadRequest, code)
	})

	t.Run("requires a token", func(t *testing.T) {
		code, _ := h.do("GET", "/v1/conversations", "", nil)
		assert.Equal(t, fiber.StatusBadRequest, code)
		code, _ = h.do("GET", "/v1/conversations", "garbage", nil)
		assert.Equal(t, fiber.StatusUnauthorized, code)
	})

	t.Run("public profile", func(t *testing.T) {
		code, resp := h.do("GET", "/v1/users/"+uintString(bobID), alice, nil)
		require.Equal(t, fiber.StatusOK, code)
		assert.Equal(t, "bob", decode[api.Participant](t, resp).Name)
		code, _ = h.do("GET", "/v1/users/9999", alice, nil)
		assert.Equal(t, fiber.StatusNotFound, code)
	})
}

func TestAuthFlow(t *testing.T) {
	h := newHarness(t, 0)
	_, access := h.signup("carol")

	code, _ := h.do("POST", "/v1/auth/signup", "", controller.AuthSignupInput{
		Username: "carol", Email: "other@example.com", Password: "correct horse",
	})
	assert.Equal(t, fiber.StatusBadRequest, code, "username taken")

	code, _ = h.do("POST", "/v1/auth/signin", "", api.SigninInput{Login: "carol", Password: "wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, resp := h.do("POST", "/v1/auth/signin", "", api.SigninInput{Login: "carol@example.com", Password: "correct horse"})
	require.Equal(t, fiber.StatusOK, code)
	tokens := decode[api.Tokens](t, resp)

	code, resp = h.do("POST", "/v1/auth/token/renew", "", controller.AuthRenewTokenInput{RefreshToken: tokens.Refresh})
	require.Equal(t, fiber.StatusOK, code)
	renewed := decode[api.Tokens](t, resp)
	assert.NotEmpty(t, renewed.Access)

	code, _ = h.do("GET", "/v1/user/profile", access, nil)
	assert.Equal(t, fiber.StatusOK, code)
}

func TestConversationRateLimit(t *testing.T) {
	h := newHarness(t, 2)
	_, alice := h.signup("alice")

	for i := 0; i < 2; i++ {
		code, _ := h.do("GET", "/v1/conversations", alice, nil)
		require.Equal(t, fiber.StatusOK, code)
	}
	code, _ := h.do("GET", "/v1/conversations", alice, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, code)
}
