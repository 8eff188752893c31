// Package auth は認証・認可機能を提供します。
//
// パスワードのハッシュ化、署名付きトークンの発行と検証、Bearer ヘッダー／Cookie からの
// ユーザー解決、ロール判定、ログイン・登録処理をまとめています。
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error は認証処理の結果として呼び出し元へ返すエラーです。
// Code は機械可読な識別子、Message はクライアントへそのまま返せる文言です。
type Error struct {
	Code    string
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is は Code が一致し、target が Field を指定していればそれも一致する場合に true を返します。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Field == "" || t.Field == e.Field)
}

var (
	// ErrInvalidCredentials はユーザー名・パスワードの不一致です。どちらが誤りでも同じ値を返します。
	ErrInvalidCredentials = &Error{Code: "INVALID_CREDENTIALS", Message: "Incorrect username or password"}
	// ErrInactiveAccount は無効化されたアカウントです。
	ErrInactiveAccount = &Error{Code: "INACTIVE_ACCOUNT", Message: "Inactive user"}
	// ErrTokenInvalid は形式不正・署名不一致・期限切れのトークンです。
	ErrTokenInvalid = &Error{Code: "TOKEN_INVALID", Message: "Could not validate credentials"}
	// ErrUnauthenticated は資格情報が送られていない場合です。
	ErrUnauthenticated = &Error{Code: "UNAUTHENTICATED", Message: "Not authenticated"}
	// ErrForbidden は認証済みだが権限が不足している場合です。
	ErrForbidden = &Error{Code: "FORBIDDEN", Message: "Not enough permissions"}
	// ErrDuplicateIdentity は登録時の重複です。email / username の区別は Field で行います。
	ErrDuplicateIdentity = &Error{Code: "DUPLICATE_IDENTITY", Message: "A user with this identity already exists."}
	// ErrDuplicateEmail は email の重複です。
	ErrDuplicateEmail = &Error{Code: "DUPLICATE_IDENTITY", Field: "email", Message: "A user with this email already exists."}
	// ErrDuplicateUsername は username の重複です。
	ErrDuplicateUsername = &Error{Code: "DUPLICATE_IDENTITY", Field: "username", Message: "A user with this username already exists."}
	// ErrPasswordTooLong は bcrypt が扱えない長さのパスワードです。
	ErrPasswordTooLong = &Error{Code: "INVALID_INPUT", Field: "password", Message: "password must be at most 72 bytes"}
	// ErrUserNotFound は指定されたユーザーが存在しない場合です。
	ErrUserNotFound = &Error{Code: "USER_NOT_FOUND", Message: "User not found"}
)

// statusFor は API 向けの HTTP ステータスを返します。
func statusFor(e *Error) int {
	switch e.Code {
	case ErrInvalidCredentials.Code, ErrInactiveAccount.Code, ErrTokenInvalid.Code, ErrUnauthenticated.Code:
		return http.StatusUnauthorized
	case ErrForbidden.Code:
		return http.StatusForbidden
	case ErrUserNotFound.Code:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// statusOf は任意のエラーに対応する HTTP ステータスを返します。
func statusOf(err error) int {
	var authErr *Error
	switch {
	case errors.As(err, &authErr):
		return statusFor(authErr)
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError はエラーを API の JSON レスポンスに変換します。
func respondWithError(c *gin.Context, err error) {
	status := statusOf(err)
	var authErr *Error
	switch {
	case errors.As(err, &authErr):
		if status == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", "Bearer")
		}
		c.AbortWithStatusJSON(status, gin.H{
			"code":    authErr.Code,
			"message": authErr.Message,
		})
	case status == http.StatusRequestTimeout:
		c.AbortWithStatusJSON(status, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "request was canceled",
		})
	default:
		c.AbortWithStatusJSON(status, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "Internal Server Error",
		})
	}
}
