package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// AccessTokenCookie はブラウザ向けにトークンを運ぶ Cookie 名です。
const AccessTokenCookie = "access_token"

// SetAccessCookie はトークンを HttpOnly / SameSite=Lax の Cookie として設定します。
// Max-Age はトークンの有効期間（秒）と一致させます。
func SetAccessCookie(c *gin.Context, token string, ttl time.Duration, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessTokenCookie, token, int(ttl.Seconds()), "/", "", secure, true)
}

// ClearAccessCookie は Cookie を即時失効させます。サーバー側で無効化する状態はありません。
func ClearAccessCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessTokenCookie, "", -1, "/", "", secure, true)
}
