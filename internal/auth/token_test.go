package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, clock *fakeClock) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(testSecret, "HS256", 30*time.Minute, clock.Now)
	require.NoError(t, err)
	return codec
}

func TestTokenCodecRoundTrip(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())

	token, err := codec.Issue("alice", 0)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	subject, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestTokenCodecDefaultTTL(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)

	token, err := codec.Issue("alice", 0)
	require.NoError(t, err)

	clock.Advance(30*time.Minute - time.Second)
	_, err = codec.Verify(token)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodecExpiredTokenIsInvalid(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)

	token, err := codec.Issue("alice", time.Minute)
	require.NoError(t, err)

	// 期限ちょうどで無効
	clock.Advance(time.Minute)
	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	clock.Advance(time.Hour)
	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodecTamperedSignature(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())
	token, err := codec.Issue("alice", 0)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)

	for bit := 0; bit < 8; bit++ {
		flipped := make([]byte, len(sig))
		copy(flipped, sig)
		flipped[len(flipped)/2] ^= 1 << bit
		tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(flipped)

		_, err := codec.Verify(tampered)
		assert.ErrorIs(t, err, ErrTokenInvalid, "bit %d", bit)
	}
}

func TestTokenCodecTamperedPayload(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())
	token, err := codec.Issue("alice", 0)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forged := strings.Replace(string(payload), `"alice"`, `"admin"`, 1)
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(forged)) + "." + parts[2]

	_, err = codec.Verify(tampered)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodecWrongSecret(t *testing.T) {
	clock := newFakeClock()
	issuer := newTestCodec(t, clock)
	other, err := NewTokenCodec([]byte("another-secret-another-secret-00"), "HS256", 0, clock.Now)
	require.NoError(t, err)

	token, err := issuer.Issue("alice", 0)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodecMalformed(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())
	for _, token := range []string{"", "abc", "a.b.c", "a.b", "...", "eyJhbGciOiJIUzI1NiJ9.!!!.sig"} {
		_, err := codec.Verify(token)
		assert.ErrorIs(t, err, ErrTokenInvalid, "token %q", token)
	}
}

func TestTokenCodecPinsAlgorithm(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		IssuedAt:  jwt.NewNumericDate(clock.Now()),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	require.NoError(t, err)
	_, err = codec.Verify(hs512)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = codec.Verify(none)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodecRequiresExpiry(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNewTokenCodecValidation(t *testing.T) {
	_, err := NewTokenCodec(nil, "HS256", 0, nil)
	assert.Error(t, err)

	_, err = NewTokenCodec(testSecret, "RS256", 0, nil)
	assert.Error(t, err)

	_, err = NewTokenCodec(testSecret, "none", 0, nil)
	assert.Error(t, err)

	codec, err := NewTokenCodec(testSecret, "HS384", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenTTL, codec.TTL())

	_, err = codec.Issue("", 0)
	assert.Error(t, err)
}

func TestTokenErrorsCollapseToOneKind(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	token, err := codec.Issue("alice", time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	_, expiredErr := codec.Verify(token)
	_, malformedErr := codec.Verify("garbage")

	var a, b *Error
	require.True(t, errors.As(expiredErr, &a))
	require.True(t, errors.As(malformedErr, &b))
	assert.Equal(t, a.Code, b.Code)
	assert.Equal(t, a.Message, b.Message)
}
