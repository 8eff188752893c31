package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIRouter(env *testEnv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandler(env.service, nil)

	api := router.Group("/api/v1")
	api.POST("/auth/login", h.Login)
	api.POST("/auth/register", h.Register)

	protected := api.Group("", env.resolver.RequireBearer(), RequireActiveUser())
	protected.GET("/auth/me", h.Me)
	protected.GET("/users/:id", h.GetUser)

	admin := protected.Group("", RequireSuperuserAPI())
	admin.GET("/users", h.ListUsers)
	admin.PUT("/users/:id", h.UpdateUser)
	return router
}

func doJSON(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doLoginForm(router *gin.Engine, username, password string) *httptest.ResponseRecorder {
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func loginToken(t *testing.T, router *gin.Engine, username, password string) string {
	t.Helper()
	rec := doLoginForm(router, username, password)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAPIRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)
	router := newAPIRouter(env)

	rec := doJSON(router, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "alice@example.com",
		"username": "alice",
		"password": "Secretpw1!",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	registered := decodeBody(t, rec)
	assert.Equal(t, "alice", registered["username"])
	assert.NotContains(t, registered, "hashed_password")

	login := doLoginForm(router, "alice", "Secretpw1!")
	require.Equal(t, http.StatusOK, login.Code)
	var token TokenResponse
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &token))
	assert.Equal(t, "bearer", token.TokenType)
	assert.Equal(t, 1800, token.ExpiresIn)

	me := doJSON(router, http.MethodGet, "/api/v1/auth/me", nil, token.AccessToken)
	require.Equal(t, http.StatusOK, me.Code)
	profile := decodeBody(t, me)
	assert.Equal(t, "alice", profile["username"])
	assert.Equal(t, "alice@example.com", profile["email"])
	assert.NotContains(t, profile, "hashed_password")
	assert.NotContains(t, me.Body.String(), "$2a$")
}

func TestAPILoginAcceptsJSON(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice", "Secretpw1!", true, false)
	router := newAPIRouter(env)

	rec := doJSON(router, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "alice",
		"password": "Secretpw1!",
	}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	router := newAPIRouter(env)

	body := map[string]string{"email": "bob@example.com", "username": "bob", "password": "Secretpw1!"}
	require.Equal(t, http.StatusOK, doJSON(router, http.MethodPost, "/api/v1/auth/register", body, "").Code)

	body["username"] = "bobby"
	rec := doJSON(router, http.MethodPost, "/api/v1/auth/register", body, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "DUPLICATE_IDENTITY", resp["code"])
	assert.Equal(t, "A user with this email already exists.", resp["message"])
}

func TestAPIRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	router := newAPIRouter(env)

	rec := doJSON(router, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "not-an-email",
		"username": "ab",
		"password": "short",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["code"])
}

func TestAPILoginFailuresHaveIdenticalShape(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice", "Secretpw1!", true, false)
	router := newAPIRouter(env)

	wrongPassword := doLoginForm(router, "alice", "nope-nope")
	unknownUser := doLoginForm(router, "mallory", "nope-nope")

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, wrongPassword.Code, unknownUser.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String())
	assert.Equal(t, "Bearer", wrongPassword.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "Incorrect username or password", decodeBody(t, wrongPassword)["message"])
}

func TestAPILoginMissingFields(t *testing.T) {
	env := newTestEnv(t)
	router := newAPIRouter(env)

	rec := doLoginForm(router, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIMeRequiresBearer(t *testing.T) {
	env := newTestEnv(t)
	router := newAPIRouter(env)

	rec := doJSON(router, http.MethodGet, "/api/v1/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "UNAUTHENTICATED", decodeBody(t, rec)["code"])

	rec = doJSON(router, http.MethodGet, "/api/v1/auth/me", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", decodeBody(t, rec)["code"])
}

func TestAPIInactiveUserRejected(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ivan", "Secretpw1!", true, false)
	router := newAPIRouter(env)
	token := loginToken(t, router, "ivan", "Secretpw1!")

	inactive := false
	_, err := env.service.UpdateUser(context.Background(), user.ID, UpdateParams{IsActive: &inactive})
	require.NoError(t, err)

	rec := doJSON(router, http.MethodGet, "/api/v1/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INACTIVE_ACCOUNT", decodeBody(t, rec)["code"])
}

func TestAPISuperuserGating(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", "Secretpw1!", true, false)
	root := env.createUser(t, "root", "Rootpass1!", true, true)
	router := newAPIRouter(env)

	aliceToken := loginToken(t, router, "alice", "Secretpw1!")
	rootToken := loginToken(t, router, "root", "Rootpass1!")

	rec := doJSON(router, http.MethodGet, "/api/v1/users", nil, aliceToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Not enough permissions", decodeBody(t, rec)["message"])

	rec = doJSON(router, http.MethodGet, "/api/v1/users?limit=10", nil, rootToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = doJSON(router, http.MethodGet, "/api/v1/users?limit=0", nil, rootToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 本人は参照可、他人は管理者のみ
	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodGet, "/api/v1/users/"+alice.ID, nil, aliceToken).Code)
	assert.Equal(t, http.StatusForbidden, doJSON(router, http.MethodGet, "/api/v1/users/"+root.ID, nil, aliceToken).Code)
	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodGet, "/api/v1/users/"+alice.ID, nil, rootToken).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(router, http.MethodGet, "/api/v1/users/missing", nil, rootToken).Code)

	rec = doJSON(router, http.MethodPut, "/api/v1/users/"+alice.ID, map[string]any{"full_name": "Alice A."}, aliceToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(router, http.MethodPut, "/api/v1/users/"+alice.ID, map[string]any{"full_name": "Alice A."}, rootToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice A.", decodeBody(t, rec)["full_name"])
}
