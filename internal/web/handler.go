// Package web はブラウザ向けのページ（Cookie 認証）を提供します。
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"github.com/georgekhananaev/py-fast-stack/internal/auth"
	"github.com/georgekhananaev/py-fast-stack/internal/metrics"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type loginForm struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

type registerForm struct {
	Email    string `form:"email" binding:"required,email"`
	Username string `form:"username" binding:"required,min=3,max=50"`
	Password string `form:"password" binding:"required,min=8,max=72"`
	FullName string `form:"full_name" binding:"max=255"`
}

type profileForm struct {
	FullName string `form:"full_name" binding:"max=255"`
}

type passwordForm struct {
	CurrentPassword    string `form:"current_password" binding:"required"`
	NewPassword        string `form:"new_password" binding:"required,min=8,max=72"`
	ConfirmNewPassword string `form:"confirm_new_password" binding:"required"`
}

// Handler はブラウザ向けページのハンドラーです。
type Handler struct {
	service      *auth.Service
	resolver     *auth.Resolver
	logger       *slog.Logger
	secureCookie bool
}

// NewHandler は Handler を作成します。secureCookie はリリースモードで true にします。
func NewHandler(service *auth.Service, resolver *auth.Resolver, logger *slog.Logger, secureCookie bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:      service,
		resolver:     resolver,
		logger:       logger,
		secureCookie: secureCookie,
	}
}

// Home は GET / のハンドラーです。ログインしていなくても表示できます。
func (h *Handler) Home(c *gin.Context) {
	token, _ := c.Cookie(auth.AccessTokenCookie)
	user := h.resolver.ResolveSession(c.Request.Context(), token)
	h.page(c, http.StatusOK, view{Title: "Home", Page: "home", User: user})
}

// LoginPage は GET /login のハンドラーです。
func (h *Handler) LoginPage(c *gin.Context) {
	h.page(c, http.StatusOK, view{Title: "Login", Page: "login"})
}

// Login は POST /login のハンドラーです。成功時は Cookie を設定して /dashboard へ移動します。
func (h *Handler) Login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		h.page(c, http.StatusBadRequest, view{
			Title: "Login",
			Page:  "login",
			Error: "Username and password are required",
			Form:  map[string]string{"username": form.Username},
		})
		return
	}

	session, err := h.service.Login(c.Request.Context(), form.Username, form.Password)
	if err != nil {
		metrics.RecordLogin(string(auth.TransportCookie), auth.LoginOutcome(err))
		status, message := http.StatusUnauthorized, "Invalid username or password"
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
		case errors.Is(err, auth.ErrInactiveAccount):
			message = "Inactive account"
		default:
			h.logger.ErrorContext(c.Request.Context(), "web login failed", "error", err)
			status, message = http.StatusInternalServerError, "Something went wrong. Please try again."
		}
		h.page(c, status, view{
			Title: "Login",
			Page:  "login",
			Error: message,
			Form:  map[string]string{"username": form.Username},
		})
		return
	}

	metrics.RecordLogin(string(auth.TransportCookie), metrics.OutcomeSuccess)
	auth.SetAccessCookie(c, session.Token, session.ExpiresIn, h.secureCookie)
	c.Redirect(http.StatusFound, "/dashboard")
}

// RegisterPage は GET /register のハンドラーです。
func (h *Handler) RegisterPage(c *gin.Context) {
	h.page(c, http.StatusOK, view{Title: "Register", Page: "register"})
}

// Register は POST /register のハンドラーです。登録後はそのままログイン状態にします。
func (h *Handler) Register(c *gin.Context) {
	var form registerForm
	bindErr := c.ShouldBind(&form)
	filled := map[string]string{
		"email":     form.Email,
		"username":  form.Username,
		"full_name": form.FullName,
	}
	if bindErr != nil {
		h.page(c, http.StatusBadRequest, view{
			Title: "Register",
			Page:  "register",
			Error: "Please provide a valid email, a username of 3-50 characters and a password of 8-72 characters",
			Form:  filled,
		})
		return
	}

	user, err := h.service.Register(c.Request.Context(), auth.RegisterParams{
		Email:    form.Email,
		Username: form.Username,
		Password: form.Password,
		FullName: form.FullName,
	})
	if err != nil {
		status, message := http.StatusBadRequest, ""
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			message = "Email already registered"
		case errors.Is(err, auth.ErrDuplicateUsername):
			message = "Username already taken"
		case errors.Is(err, auth.ErrDuplicateIdentity):
			message = "Email or username already registered"
		default:
			h.logger.ErrorContext(c.Request.Context(), "web registration failed", "error", err)
			status, message = http.StatusInternalServerError, "Something went wrong. Please try again."
		}
		h.page(c, status, view{Title: "Register", Page: "register", Error: message, Form: filled})
		return
	}

	session, err := h.service.Issue(user)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "failed to issue token after registration", "error", err)
		c.Redirect(http.StatusFound, "/login")
		return
	}
	auth.SetAccessCookie(c, session.Token, session.ExpiresIn, h.secureCookie)
	c.Redirect(http.StatusFound, "/dashboard")
}

// Logout は GET /logout のハンドラーです。Cookie を破棄するだけでサーバー側の状態は持ちません。
func (h *Handler) Logout(c *gin.Context) {
	auth.ClearAccessCookie(c, h.secureCookie)
	c.Redirect(http.StatusFound, "/")
}

// Dashboard は GET /dashboard のハンドラーです。
func (h *Handler) Dashboard(c *gin.Context) {
	h.page(c, http.StatusOK, view{Title: "Dashboard", Page: "dashboard", User: auth.CurrentUser(c)})
}

// Profile は GET /profile のハンドラーです。
func (h *Handler) Profile(c *gin.Context) {
	h.page(c, http.StatusOK, view{Title: "Profile", Page: "profile", User: auth.CurrentUser(c)})
}

// UpdateProfile は POST /profile/update のハンドラーです。本人の表示名のみ変更できます。
func (h *Handler) UpdateProfile(c *gin.Context) {
	user := auth.CurrentUser(c)
	var form profileForm
	if err := c.ShouldBind(&form); err != nil {
		h.page(c, http.StatusBadRequest, view{Title: "Profile", Page: "profile", User: user, Error: "Full name is too long"})
		return
	}

	if _, err := h.service.UpdateUser(c.Request.Context(), user.ID, auth.UpdateParams{FullName: &form.FullName}); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "profile update failed", "user_id", user.ID, "error", err)
		h.page(c, http.StatusInternalServerError, view{Title: "Profile", Page: "profile", User: user, Error: "Could not update profile"})
		return
	}
	h.flash(c, "Profile updated successfully")
	c.Redirect(http.StatusFound, "/profile")
}

// ChangePassword は POST /profile/password のハンドラーです。
func (h *Handler) ChangePassword(c *gin.Context) {
	user := auth.CurrentUser(c)
	var form passwordForm
	if err := c.ShouldBind(&form); err != nil {
		h.page(c, http.StatusBadRequest, view{
			Title: "Profile",
			Page:  "profile",
			User:  user,
			Error: "New password must be 8-72 characters",
		})
		return
	}

	err := h.service.ChangePassword(c.Request.Context(), user, form.CurrentPassword, form.NewPassword, form.ConfirmNewPassword)
	if err != nil {
		status, message := http.StatusBadRequest, ""
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			message = authErr.Message
		} else {
			h.logger.ErrorContext(c.Request.Context(), "password change failed", "user_id", user.ID, "error", err)
			status, message = http.StatusInternalServerError, "Could not change password"
		}
		h.page(c, status, view{Title: "Profile", Page: "profile", User: user, Error: message})
		return
	}
	h.flash(c, "Password changed successfully")
	c.Redirect(http.StatusFound, "/profile")
}

// Users は GET /admin/users のハンドラーです（管理者のみ）。
func (h *Handler) Users(c *gin.Context) {
	pageNum := queryInt(c, "page", 1)
	if pageNum < 1 {
		pageNum = 1
	}
	limit := queryInt(c, "limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	// 次ページの有無を判定するため 1 件多く取得する
	list, err := h.service.ListUsers(c.Request.Context(), (pageNum-1)*limit, limit+1)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "failed to list users", "error", err)
		h.page(c, http.StatusInternalServerError, view{Title: "Users", Page: "users", User: auth.CurrentUser(c), Error: "Could not load users"})
		return
	}
	v := view{
		Title:   "Users",
		Page:    "users",
		User:    auth.CurrentUser(c),
		Users:   list,
		PageNum: pageNum,
		Limit:   limit,
	}
	if len(list) > limit {
		v.Users = list[:limit]
		v.NextPage = pageNum + 1
	}
	if pageNum > 1 {
		v.PrevPage = pageNum - 1
	}
	h.page(c, http.StatusOK, v)
}

// page は CSRF トークンとフラッシュメッセージを付けてページを描画します。
func (h *Handler) page(c *gin.Context, status int, v view) {
	token, err := csrfToken(c)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "failed to prepare csrf token", "error", err)
	}
	v.CSRFToken = token
	v.Flashes = h.flashes(c)
	renderPage(c, status, v)
}

func (h *Handler) flash(c *gin.Context, message string) {
	session := sessions.Default(c)
	session.AddFlash(message)
	if err := session.Save(); err != nil {
		h.logger.WarnContext(c.Request.Context(), "failed to save flash message", "error", err)
	}
}

func (h *Handler) flashes(c *gin.Context) []string {
	session := sessions.Default(c)
	raw := session.Flashes()
	if len(raw) == 0 {
		return nil
	}
	if err := session.Save(); err != nil {
		h.logger.WarnContext(c.Request.Context(), "failed to clear flash messages", "error", err)
	}
	messages := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			messages = append(messages, s)
		}
	}
	return messages
}

func renderPage(c *gin.Context, status int, v view) {
	c.Render(status, render.HTML{Template: pageTemplate, Name: "page", Data: v})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
