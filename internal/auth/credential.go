package auth

import "strings"

// Transport は資格情報の運搬経路です。
type Transport string

const (
	TransportBearer Transport = "bearer"
	TransportCookie Transport = "cookie"
)

// Credential は経路に依存しない形に正規化したトークンです。
type Credential struct {
	Token     string
	Transport Transport
}

// BearerCredential は "Authorization: Bearer <token>" ヘッダー値からトークンを取り出します。
// スキーム名の大文字小文字は区別しません。
func BearerCredential(header string) (Credential, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return Credential{}, false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return Credential{}, false
	}
	return Credential{Token: token, Transport: TransportBearer}, true
}

// CookieCredential は Cookie 値からトークンを取り出します。
func CookieCredential(value string) (Credential, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Credential{}, false
	}
	return Credential{Token: value, Transport: TransportCookie}, true
}
