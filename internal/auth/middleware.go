package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/georgekhananaev/py-fast-stack/internal/users"
)

// ContextUserKey は、ハンドラー間で解決済みユーザーを共有するためのキーです。
const ContextUserKey = "auth.user"

// CurrentUser はミドルウェアが設定したユーザーを返します。
func CurrentUser(c *gin.Context) *users.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*users.User)
	return user
}

// RequireBearer は Authorization ヘッダーからユーザーを解決する API 用ミドルウェアです。
// 失敗時は 401 と WWW-Authenticate: Bearer を返します。
func (r *Resolver) RequireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := r.ResolveBearer(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			var authErr *Error
			if !errors.As(err, &authErr) {
				r.logger.ErrorContext(c.Request.Context(), "bearer resolution failed", "error", err)
			}
			respondWithError(c, err)
			return
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// RequireActiveUser は解決済みユーザーが有効であることを要求します。
func RequireActiveUser() gin.HandlerFunc {
	return requireAPI(RequireActive)
}

// RequireSuperuserAPI は管理者であることを要求します。権限不足は 403 です。
func RequireSuperuserAPI() gin.HandlerFunc {
	return requireAPI(RequireSuperuser)
}

func requireAPI(check func(*users.User) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := check(CurrentUser(c)); err != nil {
			respondWithError(c, err)
			return
		}
		c.Next()
	}
}

// RequireWebUser は Cookie からユーザーを解決するブラウザ向けミドルウェアです。
// 未ログインの場合は /login へリダイレクトします。
func (r *Resolver) RequireWebUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(AccessTokenCookie)
		user := r.ResolveSession(c.Request.Context(), token)
		if user == nil {
			c.Redirect(http.StatusSeeOther, "/login")
			c.Abort()
			return
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// RequireWebSuperuser は RequireWebUser の後段で管理者を要求します。
// 権限不足の場合は /dashboard へ戻します。
func RequireWebSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := RequireSuperuser(CurrentUser(c)); err != nil {
			target := "/dashboard"
			if CurrentUser(c) == nil {
				target = "/login"
			}
			c.Redirect(http.StatusSeeOther, target)
			c.Abort()
			return
		}
		c.Next()
	}
}
