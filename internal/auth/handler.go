package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/georgekhananaev/py-fast-stack/internal/metrics"
	"github.com/georgekhananaev/py-fast-stack/internal/users"
)

const maxListLimit = 10000

// LoginRequest は /auth/login の入力です。OAuth2 のパスワードフォームと JSON の両方を受け付けます。
type LoginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// RegisterRequest は /auth/register の入力です。
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	FullName string `json:"full_name" binding:"max=255"`
}

// TokenResponse はトークン発行時のレスポンスです。
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// UpdateUserRequest は PUT /users/:id の入力です。省略したフィールドは変更しません。
type UpdateUserRequest struct {
	Email       *string `json:"email" binding:"omitempty,email"`
	Username    *string `json:"username" binding:"omitempty,min=3,max=50"`
	FullName    *string `json:"full_name" binding:"omitempty,max=255"`
	Password    *string `json:"password" binding:"omitempty,min=8,max=72"`
	IsActive    *bool   `json:"is_active"`
	IsSuperuser *bool   `json:"is_superuser"`
}

// Handler は /api/v1 配下の認証・ユーザー API をまとめます。
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Login は POST /auth/login のハンドラーです。
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username and password are required",
		})
		return
	}

	session, err := h.service.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		metrics.RecordLogin(string(TransportBearer), LoginOutcome(err))
		h.respond(c, err)
		return
	}
	metrics.RecordLogin(string(TransportBearer), metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, tokenResponse(session))
}

// Register は POST /auth/register のハンドラーです。
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": err.Error(),
		})
		return
	}

	user, err := h.service.Register(c.Request.Context(), RegisterParams{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		h.respond(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Me は GET /auth/me のハンドラーです。
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, CurrentUser(c))
}

// ListUsers は GET /users のハンドラーです（管理者のみ）。
func (h *Handler) ListUsers(c *gin.Context) {
	skip, err := queryInt(c, "skip", 0)
	if err != nil || skip < 0 {
		invalidQuery(c, "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil || limit <= 0 || limit > maxListLimit {
		invalidQuery(c, "limit must be between 1 and 10000")
		return
	}

	list, err := h.service.ListUsers(c.Request.Context(), skip, limit)
	if err != nil {
		h.respond(c, err)
		return
	}
	if list == nil {
		list = []users.User{}
	}
	c.JSON(http.StatusOK, list)
}

// GetUser は GET /users/:id のハンドラーです。本人以外は管理者のみ参照できます。
func (h *Handler) GetUser(c *gin.Context) {
	current := CurrentUser(c)
	id := c.Param("id")
	if current.ID == id {
		c.JSON(http.StatusOK, current)
		return
	}
	if err := RequireSuperuser(current); err != nil {
		h.respond(c, err)
		return
	}
	user, err := h.service.GetUser(c.Request.Context(), id)
	if err != nil {
		h.respond(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateUser は PUT /users/:id のハンドラーです（管理者のみ）。
func (h *Handler) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": err.Error(),
		})
		return
	}

	user, err := h.service.UpdateUser(c.Request.Context(), c.Param("id"), UpdateParams{
		Email:       req.Email,
		Username:    req.Username,
		FullName:    req.FullName,
		Password:    req.Password,
		IsActive:    req.IsActive,
		IsSuperuser: req.IsSuperuser,
	})
	if err != nil {
		h.respond(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) respond(c *gin.Context, err error) {
	if statusOf(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	respondWithError(c, err)
}

func tokenResponse(session *Session) TokenResponse {
	return TokenResponse{
		AccessToken: session.Token,
		TokenType:   "bearer",
		ExpiresIn:   int(session.ExpiresIn.Seconds()),
	}
}

// LoginOutcome はメトリクス用にエラーを分類します。
func LoginOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return metrics.OutcomeInvalidCredentials
	case errors.Is(err, ErrInactiveAccount):
		return metrics.OutcomeInactive
	default:
		return metrics.OutcomeError
	}
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func invalidQuery(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_INPUT",
		"message": message,
	})
}
