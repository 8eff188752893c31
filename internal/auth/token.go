package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL は ttl 未指定時のトークン有効期間です。
const DefaultTokenTTL = 30 * time.Minute

// TokenCodec は subject と有効期限を含む署名付きトークンを発行・検証します。
// 秘密鍵は生成後に変更しません。
type TokenCodec struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenCodec は TokenCodec を作成します。algorithm は HS256 / HS384 / HS512 のいずれかです。
func NewTokenCodec(secret []byte, algorithm string, ttl time.Duration, now func() time.Time) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm: %q", algorithm)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	key := make([]byte, len(secret))
	copy(key, secret)

	return &TokenCodec{
		secret: key,
		method: method,
		ttl:    ttl,
		now:    now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithStrictDecoding(),
			jwt.WithTimeFunc(now),
		),
	}, nil
}

// TTL は既定の有効期間を返します。
func (tc *TokenCodec) TTL() time.Duration {
	return tc.ttl
}

// Issue は subject 向けのトークンを発行します。ttl が 0 以下なら既定値を使います。
func (tc *TokenCodec) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is empty")
	}
	if ttl <= 0 {
		ttl = tc.ttl
	}
	now := tc.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(tc.method, claims).SignedString(tc.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証して subject を返します。
// 署名不一致・期限切れ（現在時刻 >= 期限）・形式不正はすべて ErrTokenInvalid になります。
// 返すエラーは詳細を含みますが、errors.Is(err, ErrTokenInvalid) は常に true です。
func (tc *TokenCodec) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrTokenInvalid
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := tc.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return tc.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}
